package constants

// Method records which path produced a row.
type Method string

// Stable values (stored as-is in the run store).
const (
	MethodRemote    Method = "REMOTE"     // verification page scrape
	MethodPDFText   Method = "PDF_TEXT"   // embedded text layer
	MethodPDFOCR    Method = "PDF_OCR"    // rasterized + OCR
	MethodPlainText Method = "PLAIN_TEXT" // document arrived as text
	MethodFailed    Method = "FAILED"     // error row
)

// RunStatus is the lifecycle of a persisted batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)
