package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/async"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/export"
	"github.com/joseph-ayodele/csf-extractor/internal/pipeline"
	"github.com/joseph-ayodele/csf-extractor/internal/repository"
)

// BatchRunner is the orchestrator the upload handler feeds.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, sess *pipeline.Session, docs []entity.Document) (entity.Batch, error)
}

// RunReader serves stored runs.
type RunReader interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*repository.Run, error)
}

// Enqueuer accepts batches for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, job async.Job) error
}

// Pinger reports dependency health for /healthz.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Server is the HTTP upload surface.
type Server struct {
	logger       *slog.Logger
	runner       BatchRunner
	reports      *export.Service
	runs         RunReader
	queue        Enqueuer
	pinger       Pinger
	gate         *Gate
	maxUpload    int64
	reportPrefix string
	router       chi.Router
}

type Option func(*Server)

func WithRuns(r RunReader) Option      { return func(s *Server) { s.runs = r } }
func WithQueue(q Enqueuer) Option      { return func(s *Server) { s.queue = q } }
func WithPinger(p Pinger) Option       { return func(s *Server) { s.pinger = p } }
func WithGate(g *Gate) Option          { return func(s *Server) { s.gate = g } }
func WithReportPrefix(p string) Option { return func(s *Server) { s.reportPrefix = p } }

// WithMaxUploadMB caps the request body of an upload.
func WithMaxUploadMB(mb int) Option {
	return func(s *Server) {
		if mb > 0 {
			s.maxUpload = int64(mb) << 20
		}
	}
}

func New(logger *slog.Logger, runner BatchRunner, reports *export.Service, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:       logger,
		runner:       runner,
		reports:      reports,
		maxUpload:    64 << 20,
		reportPrefix: constants.ReportPrefix,
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.gate.Middleware)
		r.Post("/api/v1/batches", s.handleBatch)
		r.Get("/api/v1/runs/{id}", s.handleRun)
	})
	return r
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http serving", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// requestLogger logs one line per request through slog and stores the
// request id and a tagged logger on the context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		log := s.logger.With("request_id", reqID)
		ctx := common.WithLogger(common.WithRequestID(r.Context(), reqID), log)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds())
	})
}
