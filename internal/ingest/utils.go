package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
)

// AllowedExt checks if a file extension is in the allowed set.
func AllowedExt(ext string) bool {
	return constants.IsAllowedExt(ext)
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// NewDocument wraps file contents, treating .txt as already extracted text.
func NewDocument(name string, data []byte) entity.Document {
	if constants.NormalizeExt(filepath.Ext(name)) == "txt" {
		return entity.NewTextDocument(name, string(data))
	}
	return entity.NewPDFDocument(name, data)
}
