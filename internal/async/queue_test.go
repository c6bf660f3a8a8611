package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/pipeline"
)

type fakeRunner struct {
	mu    sync.Mutex
	seen  map[string]int
	delay time.Duration
	err   error
}

func (f *fakeRunner) ProcessBatch(ctx context.Context, sess *pipeline.Session, docs []entity.Document) (entity.Batch, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return entity.Batch{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]int{}
	}
	f.seen[sess.ID.String()] = len(docs)
	b := entity.Batch{RunID: sess.ID, StartedAt: time.Now()}
	for _, d := range docs {
		b.Rows = append(b.Rows, entity.NewReportRow(d.Filename))
	}
	return b, f.err
}

func job(files ...string) Job {
	docs := make([]entity.Document, 0, len(files))
	for _, f := range files {
		docs = append(docs, entity.NewTextDocument(f, "RFC: X"))
	}
	return Job{Session: pipeline.LocalSession("tester"), Docs: docs}
}

func TestBatchQueue_ProcessesEveryJobBeforeShutdownReturns(t *testing.T) {
	runner := &fakeRunner{delay: 10 * time.Millisecond}
	q := NewBatchQueue(runner, nil, WithWorkers(2), WithQueueSize(1))

	jobs := []Job{job("a.pdf"), job("b.pdf", "c.pdf"), job("d.pdf")}
	for _, j := range jobs {
		require.NoError(t, q.Enqueue(context.Background(), j))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.seen, 3)
	assert.Equal(t, 2, runner.seen[jobs[1].Session.ID.String()])
}

func TestBatchQueue_OnDoneReportsErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	var (
		mu   sync.Mutex
		errs []error
	)
	q := NewBatchQueue(runner, nil, WithOnDone(func(_ Job, _ entity.Batch, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))
	require.NoError(t, q.Enqueue(context.Background(), job("a.pdf")))
	q.Shutdown(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "boom")
}

func TestBatchQueue_RejectsAfterShutdown(t *testing.T) {
	q := NewBatchQueue(&fakeRunner{}, nil)
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), job("a.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnavailable)
}

func TestBatchQueue_RequiresSession(t *testing.T) {
	q := NewBatchQueue(&fakeRunner{}, nil)
	defer q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{})
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestBatchQueue_ProcessTimeout(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	done := make(chan error, 1)
	q := NewBatchQueue(runner, nil, WithProcessTimeout(20*time.Millisecond), WithOnDone(func(_ Job, _ entity.Batch, err error) {
		done <- err
	}))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), job("slow.pdf")))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not time out")
	}
}

// gatedRunner blocks every batch until release is closed.
type gatedRunner struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedRunner) ProcessBatch(_ context.Context, sess *pipeline.Session, _ []entity.Document) (entity.Batch, error) {
	g.started <- struct{}{}
	<-g.release
	return entity.Batch{RunID: sess.ID}, nil
}

func TestBatchQueue_ShutdownWakesBlockedEnqueue(t *testing.T) {
	runner := &gatedRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
	q := NewBatchQueue(runner, nil, WithWorkers(1), WithQueueSize(1))
	defer close(runner.release)

	require.NoError(t, q.Enqueue(context.Background(), job("a.pdf")))
	<-runner.started
	require.NoError(t, q.Enqueue(context.Background(), job("b.pdf")))

	blocked := make(chan error, 1)
	go func() { blocked <- q.Enqueue(context.Background(), job("c.pdf")) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	returned := make(chan struct{})
	go func() {
		q.Shutdown(ctx)
		close(returned)
	}()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, common.ErrUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue stayed blocked after shutdown")
	}
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown ignored its context")
	}
}
