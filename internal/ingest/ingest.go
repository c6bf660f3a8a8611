package ingest

import (
	"context"

	"github.com/joseph-ayodele/csf-extractor/internal/entity"
)

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string
	Deduplicated bool // same bytes already seen in this load
	HashHex      string
	FileExt      string
	Err          string
}

// DirStats summarizes a load.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Source yields the documents of one batch, in a stable order.
type Source interface {
	Load(ctx context.Context) ([]entity.Document, []IngestionResult, DirStats, error)
}

// Sink stores a finished report and returns where it went.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}
