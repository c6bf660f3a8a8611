package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/link"
)

// Processor runs documents through text location, link detection and field extraction.
type Processor struct {
	Logger *slog.Logger
	Text   TextSource
	Parse  FieldParser

	remote        RemoteExtractor
	limiter       *rate.Limiter
	localFallback bool
	recorder      RunRecorder
}

type Option func(*Processor)

// WithRemote enables the verification page path.
func WithRemote(r RemoteExtractor) Option {
	return func(p *Processor) {
		p.remote = r
	}
}

// WithRemoteInterval spaces consecutive remote lookups by at least d.
func WithRemoteInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithLocalFallback also parses the PDF text when a remote lookup failed
// after resolving some fields; the local result replaces the partial one.
// A lookup that resolved nothing always falls back.
func WithLocalFallback(on bool) Option {
	return func(p *Processor) {
		p.localFallback = on
	}
}

func WithRecorder(r RunRecorder) Option {
	return func(p *Processor) {
		p.recorder = r
	}
}

func NewProcessor(logger *slog.Logger, text TextSource, parse FieldParser, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{Logger: logger, Text: text, Parse: parse}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessBatch produces exactly one row per document, in input order.
// A failing document yields an error row; it never aborts the batch.
func (p *Processor) ProcessBatch(ctx context.Context, sess *Session, docs []entity.Document) (entity.Batch, error) {
	if sess == nil || !sess.Authenticated {
		return entity.Batch{}, common.NewAppError("UNAUTHORIZED", "batch requires an authenticated session", common.ErrUnauthorized)
	}

	batch := entity.Batch{
		RunID:     sess.ID,
		Operator:  sess.Operator,
		StartedAt: time.Now(),
		Rows:      make([]entity.ReportRow, 0, len(docs)),
	}
	ctx = common.WithRunID(ctx, sess.ID.String())
	p.Logger.Info("processor.batch.start", "run_id", sess.ID, "operator", sess.Operator, "files", len(docs))
	if p.recorder != nil {
		if err := p.recorder.StartRun(ctx, sess.ID, sess.Operator, len(docs), batch.StartedAt); err != nil {
			p.Logger.Warn("processor.batch.record_failed", "run_id", sess.ID, "error", err)
		}
	}

	for _, doc := range docs {
		batch.Rows = append(batch.Rows, p.ProcessDocument(ctx, doc))
	}
	batch.FinishedAt = time.Now()

	p.Logger.Info("processor.batch.done",
		"run_id", sess.ID,
		"processed", len(batch.Rows),
		"failures", batch.Failures(),
		"elapsed", batch.FinishedAt.Sub(batch.StartedAt))

	if p.recorder != nil {
		if err := p.recorder.RecordBatch(ctx, batch); err != nil {
			p.Logger.Warn("processor.batch.record_failed", "run_id", sess.ID, "error", err)
		}
	}
	return batch, nil
}

// ProcessDocument extracts one row. Panics are converted into an error row.
func (p *Processor) ProcessDocument(ctx context.Context, doc entity.Document) (row entity.ReportRow) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error("processor.file.panic", "file", doc.Filename, "panic", r)
			row = entity.FailedRow(doc.Filename, fmt.Errorf("%w: panic: %v", common.ErrInternal, r))
		}
		row.Duration = time.Since(start)
	}()

	row = entity.NewReportRow(doc.Filename)

	pages, err := p.Text.Pages(ctx, doc)
	if err != nil {
		p.Logger.Error("processor.text.failed", "file", doc.Filename, "error", err)
		return entity.FailedRow(doc.Filename, err)
	}

	if url, page, ok := link.FindInPages(pages); ok {
		row.VerificationURL = url
		p.Logger.Debug("processor.link.found", "file", doc.Filename, "page", page, "url", url)
		if p.remote != nil {
			if done := p.runRemote(ctx, doc, &row); done {
				return row
			}
		}
	}

	return p.runLocal(ctx, doc, pages, row)
}

// runRemote fills row from the verification page. It reports false when the
// caller should continue with local parsing.
func (p *Processor) runRemote(ctx context.Context, doc entity.Document, row *entity.ReportRow) bool {
	row.Method = constants.MethodRemote

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			row.Err = err.Error()
			p.Logger.Warn("processor.remote.throttle_failed", "file", doc.Filename, "error", err)
			return true
		}
	}

	fields, err := p.remote.Scrape(ctx, row.VerificationURL)
	row.Fields = fields
	if err == nil {
		p.Logger.Info("processor.remote.ok", "file", doc.Filename, "resolved", fields.Resolved())
		return true
	}

	row.Err = err.Error()
	p.Logger.Warn("processor.remote.failed", "file", doc.Filename, "resolved", fields.Resolved(), "error", err)
	if fields.Resolved() == 0 || p.localFallback {
		p.Logger.Info("processor.remote.fallback_local", "file", doc.Filename, "resolved", fields.Resolved())
		return false
	}
	return true
}

func (p *Processor) runLocal(ctx context.Context, doc entity.Document, pages []string, row entity.ReportRow) entity.ReportRow {
	res, err := p.Text.ExtractFromPages(ctx, doc, pages)
	if err != nil {
		p.Logger.Error("processor.ocr.failed", "file", doc.Filename, "error", err)
		failed := entity.FailedRow(doc.Filename, err)
		failed.VerificationURL = row.VerificationURL
		return failed
	}
	p.Logger.Info("processor.ocr.ok",
		"file", doc.Filename,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(res.Text),
		"duration", res.Duration)

	row.Fields = p.Parse.Extract(res.Text)
	row.Method = res.Method
	row.Err = ""
	p.Logger.Info("processor.parse.ok", "file", doc.Filename, "resolved", row.Fields.Resolved())
	return row
}
