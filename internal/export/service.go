package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/utils"
)

const (
	RowsSheet    = "Constancias"
	DetailsSheet = "Procesamiento"

	maxErrorCell = 500
)

var detailHeaders = []string{
	constants.FilenameColumn,
	"Método",
	"URL de verificación",
	"Error",
	"Duración (ms)",
}

// Service renders batches as spreadsheet and JSON reports.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ReportFilename names a workbook after the run start, e.g. Lector_2024-05-01_13-45.xlsx.
func ReportFilename(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = constants.ReportPrefix
	}
	return fmt.Sprintf("%s_%s.xlsx", prefix, t.Format(constants.ReportTimeLayout))
}

// WriteXLSX returns the workbook bytes: one header row, then one row per
// document in batch order. Processing details go on a second sheet.
func (s *Service) WriteXLSX(batch entity.Batch) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", RowsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(DetailsSheet); err != nil {
		return nil, fmt.Errorf("details sheet: %w", err)
	}
	activeIndex, _ := f.GetSheetIndex(RowsSheet)
	f.SetActiveSheet(activeIndex)

	if err := writeRow(f, RowsSheet, 1, entity.ReportHeaders()); err != nil {
		return nil, err
	}
	if err := writeRow(f, DetailsSheet, 1, detailHeaders); err != nil {
		return nil, err
	}

	for i, r := range batch.Rows {
		row := i + 2
		if err := writeRow(f, RowsSheet, row, r.Cells()); err != nil {
			return nil, err
		}
		details := []string{
			r.Filename,
			string(r.Method),
			r.VerificationURL,
			utils.Truncate(r.Err, maxErrorCell),
			fmt.Sprintf("%d", r.Duration.Milliseconds()),
		}
		if err := writeRow(f, DetailsSheet, row, details); err != nil {
			return nil, err
		}
	}

	_ = f.SetColWidth(RowsSheet, "A", "A", 32)
	_ = f.SetColWidth(RowsSheet, "B", "C", 40)
	_ = f.SetColWidth(RowsSheet, "D", "M", 22)
	_ = f.SetColWidth(DetailsSheet, "A", "A", 32)
	_ = f.SetColWidth(DetailsSheet, "C", "D", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"run_id", batch.RunID.String(),
		"rows", len(batch.Rows),
		"failures", batch.Failures(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// SaveXLSX writes the workbook into dir and returns its path.
func (s *Service) SaveXLSX(dir, prefix string, batch entity.Batch) (string, error) {
	data, err := s.WriteXLSX(batch)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report dir: %w", err)
	}
	path := filepath.Join(dir, ReportFilename(prefix, batch.StartedAt))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return fmt.Errorf("%s row %d: %w", sheet, row, err)
	}
	return nil
}
