package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/async"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/export"
	"github.com/joseph-ayodele/csf-extractor/internal/pipeline"
	"github.com/joseph-ayodele/csf-extractor/internal/repository"
)

// fakeRunner echoes one row per document and records the session it saw.
type fakeRunner struct {
	sess *pipeline.Session
	docs []entity.Document
}

func (f *fakeRunner) ProcessBatch(_ context.Context, sess *pipeline.Session, docs []entity.Document) (entity.Batch, error) {
	if sess == nil || !sess.Authenticated {
		return entity.Batch{}, common.ErrUnauthorized
	}
	f.sess, f.docs = sess, docs
	b := entity.Batch{RunID: sess.ID, Operator: sess.Operator, StartedAt: sess.StartedAt, FinishedAt: time.Now()}
	for _, d := range docs {
		row := entity.NewReportRow(d.Filename)
		row.Fields.Set(constants.FieldRFC, "ACM010101AB1")
		row.Method = constants.MethodPDFText
		b.Rows = append(b.Rows, row)
	}
	return b, nil
}

type fakeRuns struct {
	run *repository.Run
}

func (f fakeRuns) GetRun(_ context.Context, id uuid.UUID) (*repository.Run, error) {
	if f.run == nil || f.run.ID != id {
		return nil, common.NewAppError("NOT_FOUND", "run", common.ErrNotFound)
	}
	return f.run, nil
}

type fakePinger struct{ err error }

func (f fakePinger) HealthCheck(context.Context, time.Duration) error { return f.err }

func uploadRequest(t *testing.T, files map[string]string, order ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range order {
		part, err := mw.CreateFormFile(formFiles, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newGate(t *testing.T, key string) *Gate {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	g, err := NewGate(string(hash), nil)
	require.NoError(t, err)
	return g
}

func TestHealthz(t *testing.T) {
	srv := New(nil, &fakeRunner{}, export.NewService(nil))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	srv = New(nil, &fakeRunner{}, export.NewService(nil), WithPinger(fakePinger{err: errors.New("db down")}))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBatch_ReturnsWorkbookInUploadOrder(t *testing.T) {
	runner := &fakeRunner{}
	srv := New(nil, runner, export.NewService(nil))

	req := uploadRequest(t, map[string]string{"b.pdf": "%PDF-b", "a.pdf": "%PDF-a", "Constancia José.pdf": "%PDF-j"},
		"b.pdf", "Constancia José.pdf", "a.pdf")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mimeXLSX, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Lector_")
	assert.Equal(t, runner.sess.ID.String(), rec.Header().Get("X-Run-ID"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.RowsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "b.pdf", rows[1][0])
	assert.Equal(t, "Constancia José.pdf", rows[2][0])
	assert.Equal(t, "a.pdf", rows[3][0])

	require.Len(t, runner.docs, 3)
	assert.Equal(t, "upload:Constancia_Jose.pdf", runner.docs[1].SourcePath)
	assert.Equal(t, []byte("%PDF-a"), runner.docs[2].Data)
}

func TestBatch_JSONWhenAccepted(t *testing.T) {
	srv := New(nil, &fakeRunner{}, export.NewService(nil))
	req := uploadRequest(t, map[string]string{"a.pdf": "x"}, "a.pdf")
	req.Header.Set("Accept", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var rep struct {
		Rows []map[string]string `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.Len(t, rep.Rows, 1)
	assert.Equal(t, "a.pdf", rep.Rows[0][constants.FilenameColumn])
	assert.Equal(t, "ACM010101AB1", rep.Rows[0]["RFC"])
}

func TestBatch_RejectsBadUploads(t *testing.T) {
	srv := New(nil, &fakeRunner{}, export.NewService(nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, map[string]string{"scan.png": "x"}, "scan.png"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewBufferString("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatch_UploadLimit(t *testing.T) {
	srv := New(nil, &fakeRunner{}, export.NewService(nil), WithMaxUploadMB(1))
	big := string(bytes.Repeat([]byte("x"), 2<<20))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, map[string]string{"big.pdf": big}, "big.pdf"))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestGate(t *testing.T) {
	runner := &fakeRunner{}
	srv := New(nil, runner, export.NewService(nil), WithGate(newGate(t, "s3cret")))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, map[string]string{"a.pdf": "x"}, "a.pdf"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	assert.Nil(t, runner.sess)

	req := uploadRequest(t, map[string]string{"a.pdf": "x"}, "a.pdf")
	req.Header.Set(HeaderAccessKey, "wrong")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = uploadRequest(t, map[string]string{"a.pdf": "x"}, "a.pdf")
	req.Header.Set(HeaderAccessKey, "s3cret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, runner.sess)
	assert.Equal(t, "http", runner.sess.Operator)

	req = uploadRequest(t, map[string]string{"a.pdf": "x"}, "a.pdf")
	req.SetBasicAuth("maria", "s3cret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "maria", runner.sess.Operator)
	assert.True(t, runner.sess.Authenticated)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")
}

func TestNewGate_RejectsPlainText(t *testing.T) {
	_, err := NewGate("not-a-hash", nil)
	assert.Error(t, err)
}

func TestRuns(t *testing.T) {
	id := uuid.New()
	row := entity.FailedRow("x.pdf", errors.New("boom"))
	runs := fakeRuns{run: &repository.Run{ID: id, Status: constants.RunStatusFailed, Rows: []entity.ReportRow{row}}}

	srv := New(nil, &fakeRunner{}, export.NewService(nil), WithRuns(runs))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id.String()+"?format=json", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FAILED", rec.Header().Get("X-Run-Status"))
	assert.Contains(t, rec.Body.String(), "x.pdf")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	srv = New(nil, &fakeRunner{}, export.NewService(nil))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeQueue struct {
	jobs []async.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job async.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func TestBatch_Async(t *testing.T) {
	q := &fakeQueue{}
	runner := &fakeRunner{}
	srv := New(nil, runner, export.NewService(nil), WithQueue(q), WithRuns(fakeRuns{}))

	req := uploadRequest(t, map[string]string{"a.pdf": "x", "b.pdf": "y"}, "a.pdf", "b.pdf")
	req.URL.RawQuery = "async=true"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Nil(t, runner.sess, "nothing runs inline")

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	require.Len(t, job.Docs, 2)
	assert.Equal(t, "b.pdf", job.Docs[1].Filename)
	assert.Equal(t, "/api/v1/runs/"+job.Session.ID.String(), rec.Header().Get("Location"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, job.Session.ID.String(), body["run_id"])

	req = uploadRequest(t, map[string]string{"a.pdf": "x"}, "a.pdf")
	req.Header.Set("Prefer", "respond-async")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, q.jobs, 2)
}

func TestBatch_AsyncUnavailable(t *testing.T) {
	srv := New(nil, &fakeRunner{}, export.NewService(nil))
	req := uploadRequest(t, map[string]string{"a.pdf": "x"}, "a.pdf")
	req.URL.RawQuery = "async=1"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	q := &fakeQueue{err: common.NewAppError("UNAVAILABLE", "queue is shutting down", common.ErrUnavailable)}
	srv = New(nil, &fakeRunner{}, export.NewService(nil), WithQueue(q), WithRuns(fakeRuns{}))
	req = uploadRequest(t, map[string]string{"a.pdf": "x"}, "a.pdf")
	req.URL.RawQuery = "async=1"
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeHealth(ctx, lis, nil) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("health server did not stop")
	}
}
