package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/csf-extractor/internal/async"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/export"
	"github.com/joseph-ayodele/csf-extractor/internal/ingest"
	"github.com/joseph-ayodele/csf-extractor/internal/pipeline"
	"github.com/joseph-ayodele/csf-extractor/internal/utils"
)

const (
	formFiles = "files"
	mimeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeJSON  = "application/json"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.HealthCheck(r.Context(), 2*time.Second); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/v1/batches
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	log := common.LoggerFromContext(r.Context(), s.logger)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit)})
			return
		}
		writeError(w, common.NewAppError("INVALID_INPUT", "multipart form expected", fmt.Errorf("%w: %w", common.ErrInvalidInput, err)))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[formFiles]
	if len(headers) == 0 {
		writeError(w, common.NewAppError("INVALID_INPUT", fmt.Sprintf("no %q parts in upload", formFiles), common.ErrInvalidInput))
		return
	}

	docs := make([]entity.Document, 0, len(headers))
	for _, fh := range headers {
		name := uploadName(fh.Filename)
		if !ingest.AllowedExt(path.Ext(name)) {
			writeError(w, common.NewAppError("INVALID_INPUT", fmt.Sprintf("unsupported file %q", name), common.ErrInvalidInput))
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeError(w, fmt.Errorf("open upload %s: %w", name, err))
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, fmt.Errorf("read upload %s: %w", name, err))
			return
		}
		doc := ingest.NewDocument(name, data)
		doc.SourcePath = "upload:" + utils.SanitizeFilename(name)
		docs = append(docs, doc)
	}

	sess := SessionFromContext(r.Context())
	if wantsAsync(r) {
		s.enqueue(w, r, sess, docs)
		return
	}
	batch, err := s.runner.ProcessBatch(r.Context(), sess, docs)
	if err != nil {
		log.Error("http.batch.failed", "error", err)
		writeError(w, err)
		return
	}
	s.writeReport(w, r, batch)
}

// enqueue answers 202 with the run id; the report is served by handleRun
// once a worker has recorded it.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, sess *pipeline.Session, docs []entity.Document) {
	log := common.LoggerFromContext(r.Context(), s.logger)
	if s.queue == nil || s.runs == nil {
		writeError(w, common.NewAppError("INVALID_INPUT", "background processing needs a run store", common.ErrInvalidInput))
		return
	}
	if sess == nil || !sess.Authenticated {
		writeError(w, common.NewAppError("UNAUTHORIZED", "no authenticated session", common.ErrUnauthorized))
		return
	}
	job := async.Job{Session: sess, Docs: docs, SubmittedAt: time.Now()}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		log.Error("http.batch.enqueue_failed", "error", err)
		writeError(w, err)
		return
	}
	loc := "/api/v1/runs/" + sess.ID.String()
	w.Header().Set("Location", loc)
	w.Header().Set("X-Run-ID", sess.ID.String())
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": sess.ID.String(), "files": len(docs), "location": loc})
}

// GET /api/v1/runs/{id}
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, common.NewAppError("NOT_FOUND", "run history is disabled", common.ErrNotFound))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, common.NewAppError("INVALID_INPUT", "run id must be a UUID", common.ErrInvalidInput))
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Run-Status", string(run.Status))
	s.writeReport(w, r, run.Batch())
}

// writeReport answers with JSON when the client asks for it, xlsx otherwise.
func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, batch entity.Batch) {
	w.Header().Set("X-Run-ID", batch.RunID.String())
	if wantsJSON(r) {
		data, err := s.reports.WriteJSON(batch)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", mimeJSON)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	data, err := s.reports.WriteXLSX(batch)
	if err != nil {
		writeError(w, err)
		return
	}
	name := export.ReportFilename(s.reportPrefix, batch.StartedAt)
	w.Header().Set("Content-Type", mimeXLSX)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func wantsAsync(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("async")) {
	case "1", "true", "yes":
		return true
	}
	for _, pref := range strings.Split(r.Header.Get("Prefer"), ",") {
		if strings.EqualFold(strings.TrimSpace(pref), "respond-async") {
			return true
		}
	}
	return false
}

func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == mimeJSON {
			return true
		}
	}
	return false
}

// uploadName keeps the client's base name, composed, so report rows match
// what the user uploaded.
func uploadName(raw string) string {
	name := path.Base(strings.ReplaceAll(raw, "\\", "/"))
	name = utils.NFC(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return "document.pdf"
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", mimeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := common.HTTPStatus(err)
	msg := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
