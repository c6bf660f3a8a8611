package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/ocr"
)

// TextSource produces page text for a document, falling back to OCR when no page carries any.
type TextSource interface {
	Pages(ctx context.Context, doc entity.Document) ([]string, error)
	ExtractFromPages(ctx context.Context, doc entity.Document, pages []string) (ocr.ExtractionResult, error)
}

// FieldParser turns certificate text into the field map.
type FieldParser interface {
	Extract(text string) entity.FieldMap
}

// RemoteExtractor reads the fields from the verification page at url.
type RemoteExtractor interface {
	Scrape(ctx context.Context, url string) (entity.FieldMap, error)
}

// RunRecorder persists batch runs: a RUNNING record when the batch starts,
// then the rows and final status.
type RunRecorder interface {
	StartRun(ctx context.Context, runID uuid.UUID, operator string, files int, startedAt time.Time) error
	RecordBatch(ctx context.Context, batch entity.Batch) error
}
