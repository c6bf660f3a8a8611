package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
)

// rfcPattern accepts a tax ID or the not-found sentinel.
var rfcPattern = `^([A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{2,3}|` + constants.NotFound + `)$`

var (
	rowSchemaOnce sync.Once
	rowSchema     *jsonschema.Schema
	rowSchemaErr  error
)

// RowSchemaMap describes one report row: every column present as a string,
// nothing else, RFC shaped like a tax ID.
func RowSchemaMap() map[string]any {
	props := map[string]any{
		constants.FilenameColumn: map[string]any{"type": "string", "minLength": 1},
	}
	required := []string{constants.FilenameColumn}
	for _, f := range constants.AllFields() {
		prop := map[string]any{"type": "string", "minLength": 1}
		if f == constants.FieldRFC {
			prop["pattern"] = rfcPattern
		}
		props[f.Key()] = prop
		required = append(required, f.Key())
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func compiledRowSchema() (*jsonschema.Schema, error) {
	rowSchemaOnce.Do(func() {
		b, err := json.Marshal(RowSchemaMap())
		if err != nil {
			rowSchemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("row.json", bytes.NewReader(b)); err != nil {
			rowSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		rowSchema, rowSchemaErr = compiler.Compile("row.json")
		if rowSchemaErr != nil {
			rowSchemaErr = fmt.Errorf("compile schema: %w", rowSchemaErr)
		}
	})
	return rowSchema, rowSchemaErr
}

// ValidateRowJSON checks one serialized row.
func ValidateRowJSON(data []byte) error {
	schema, err := compiledRowSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal row: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return common.NewAppError("VALIDATION_ERROR", "row does not match schema", fmt.Errorf("%w: %w", common.ErrValidation, err))
	}
	return nil
}

// ValidateRows serializes and checks every row, reporting the first mismatch.
func ValidateRows(rows []entity.ReportRow) error {
	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal row %d: %w", i, err)
		}
		if err := ValidateRowJSON(data); err != nil {
			return fmt.Errorf("row %d (%s): %w", i, r.Filename, err)
		}
	}
	return nil
}

// Report is the JSON rendition of a batch.
type Report struct {
	RunID      string             `json:"run_id"`
	Operator   string             `json:"operator,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Rows       []entity.ReportRow `json:"rows"`
	Details    []Detail           `json:"details"`
}

// Detail carries per-file processing information kept out of the row columns.
type Detail struct {
	Filename        string `json:"file"`
	Method          string `json:"method"`
	VerificationURL string `json:"verification_url,omitempty"`
	Error           string `json:"error,omitempty"`
	DurationMS      int64  `json:"duration_ms"`
}

// WriteJSON validates the rows and renders the batch as indented JSON.
func (s *Service) WriteJSON(batch entity.Batch) ([]byte, error) {
	if err := ValidateRows(batch.Rows); err != nil {
		return nil, err
	}
	rep := Report{
		RunID:      batch.RunID.String(),
		Operator:   batch.Operator,
		StartedAt:  batch.StartedAt,
		FinishedAt: batch.FinishedAt,
		Rows:       batch.Rows,
		Details:    make([]Detail, 0, len(batch.Rows)),
	}
	if rep.Rows == nil {
		rep.Rows = []entity.ReportRow{}
	}
	for _, r := range batch.Rows {
		rep.Details = append(rep.Details, Detail{
			Filename:        r.Filename,
			Method:          string(r.Method),
			VerificationURL: r.VerificationURL,
			Error:           r.Err,
			DurationMS:      r.Duration.Milliseconds(),
		})
	}
	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json write: %w", err)
	}
	s.logger.Info("export.json.ok", "run_id", rep.RunID, "rows", len(rep.Rows))
	return out, nil
}
