package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
)

// FSSource reads certificates from the local filesystem: either every
// allowed file under Root, or an explicit list of Paths.
type FSSource struct {
	Root       string
	Paths      []string
	Recursive  bool
	SkipHidden bool

	logger *slog.Logger
}

func NewFSSource(root string, recursive, skipHidden bool, logger *slog.Logger) *FSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSSource{Root: root, Recursive: recursive, SkipHidden: skipHidden, logger: logger}
}

// NewPathsSource loads exactly the given files, in the given order.
func NewPathsSource(paths []string, logger *slog.Logger) *FSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSSource{Paths: paths, logger: logger}
}

// Load returns one document per matched file. A file that cannot be read is
// still returned, without data, so that it surfaces as an error row.
func (s *FSSource) Load(ctx context.Context) ([]entity.Document, []IngestionResult, DirStats, error) {
	if len(s.Paths) > 0 {
		return s.loadPaths(ctx, s.Paths)
	}
	if strings.TrimSpace(s.Root) == "" {
		return nil, nil, DirStats{}, errors.New("root_path is required")
	}

	var paths []string
	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if d.IsDir() {
			if path == s.Root {
				return nil
			}
			if !s.Recursive || (s.SkipHidden && IsHidden(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.SkipHidden && IsHidden(path) {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, results, stats, fmt.Errorf("walk: %w", err)
	}

	docs, loaded, loadStats, err := s.loadPaths(ctx, paths)
	stats.Matched += loadStats.Matched
	stats.Succeeded += loadStats.Succeeded
	stats.Deduplicated += loadStats.Deduplicated
	stats.Failed += loadStats.Failed
	return docs, append(results, loaded...), stats, err
}

func (s *FSSource) loadPaths(ctx context.Context, paths []string) ([]entity.Document, []IngestionResult, DirStats, error) {
	var (
		docs    []entity.Document
		results []IngestionResult
		stats   DirStats
		seen    = map[string]struct{}{}
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return docs, results, stats, err
		}
		stats.Matched++
		name := filepath.Base(path)
		ext := constants.NormalizeExt(filepath.Ext(path))

		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error("ingest.read.failed", "path", path, "error", err)
			results = append(results, IngestionResult{SourcePath: path, FileExt: ext, Err: err.Error()})
			stats.Failed++
			doc := entity.Document{Filename: name, SourcePath: path}
			docs = append(docs, doc)
			continue
		}

		doc := NewDocument(name, data)
		doc.SourcePath = path
		docs = append(docs, doc)

		r := IngestionResult{SourcePath: path, HashHex: doc.HashHex, FileExt: ext}
		if _, dup := seen[doc.HashHex]; dup {
			r.Deduplicated = true
			stats.Deduplicated++
		}
		seen[doc.HashHex] = struct{}{}
		results = append(results, r)
		stats.Succeeded++
	}
	s.logger.Info("ingest.load.ok", "files", len(docs), "failed", stats.Failed, "duplicates", stats.Deduplicated)
	return docs, results, stats, nil
}
