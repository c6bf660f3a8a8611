package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/export"
	"github.com/joseph-ayodele/csf-extractor/internal/ingest"
)

type reportTarget struct {
	dir    string
	prefix string
	json   bool
	sink   ingest.Sink // when set, reports are uploaded instead of written to dir
}

// writeReports stores the workbook (and the JSON rendition when asked) and
// returns where each one went.
func (a *app) writeReports(ctx context.Context, batch entity.Batch, t reportTarget) ([]string, error) {
	var out []string
	xlsxName := export.ReportFilename(t.prefix, batch.StartedAt)

	if t.sink == nil {
		path, err := a.reports.SaveXLSX(t.dir, t.prefix, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, path)
	} else {
		data, err := a.reports.WriteXLSX(batch)
		if err != nil {
			return nil, err
		}
		dest, err := t.sink.Put(ctx, xlsxName, data)
		if err != nil {
			return nil, err
		}
		out = append(out, dest)
	}

	if !t.json {
		return out, nil
	}
	data, err := a.reports.WriteJSON(batch)
	if err != nil {
		return out, err
	}
	jsonName := strings.TrimSuffix(xlsxName, ".xlsx") + ".json"
	if t.sink != nil {
		dest, err := t.sink.Put(ctx, jsonName, data)
		if err != nil {
			return out, err
		}
		return append(out, dest), nil
	}
	path := filepath.Join(t.dir, jsonName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return out, fmt.Errorf("write json report: %w", err)
	}
	return append(out, path), nil
}
