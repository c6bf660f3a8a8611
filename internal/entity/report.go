package entity

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/csf-extractor/constants"
)

// ReportRow is one processed document.
type ReportRow struct {
	Filename        string
	Fields          FieldMap
	Method          constants.Method
	VerificationURL string
	Err             string
	Duration        time.Duration
}

// NewReportRow returns a fully unresolved row for filename.
func NewReportRow(filename string) ReportRow {
	return ReportRow{Filename: filename, Fields: NewFieldMap()}
}

// FailedRow returns an all-sentinel row carrying err.
func FailedRow(filename string, err error) ReportRow {
	row := NewReportRow(filename)
	row.Method = constants.MethodFailed
	if err != nil {
		row.Err = err.Error()
	}
	return row
}

// Failed reports whether the row records an error.
func (r ReportRow) Failed() bool {
	return r.Err != ""
}

// Cells lists filename followed by every field value, in report order.
func (r ReportRow) Cells() []string {
	return append([]string{r.Filename}, r.Fields.Values()...)
}

// MarshalJSON writes {"Archivo": filename, <fields...>} in report order.
func (r ReportRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writePair(&buf, constants.FilenameColumn, r.Filename); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	if err := r.Fields.writeMembers(&buf); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ReportHeaders lists the report columns.
func ReportHeaders() []string {
	return append([]string{constants.FilenameColumn}, constants.FieldKeys()...)
}

// Batch is the outcome of one orchestrator run.
type Batch struct {
	RunID      uuid.UUID
	Operator   string
	StartedAt  time.Time
	FinishedAt time.Time
	Rows       []ReportRow
}

// Failures counts error rows.
func (b Batch) Failures() int {
	n := 0
	for _, r := range b.Rows {
		if r.Failed() {
			n++
		}
	}
	return n
}
