package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Document is one certificate to extract: a filename plus either already
// extracted text or the raw PDF bytes.
type Document struct {
	Filename   string
	Data       []byte
	Text       string
	SourcePath string // local path or object name, informational
	HashHex    string // sha256 of Data
}

// NewPDFDocument wraps raw PDF bytes.
func NewPDFDocument(filename string, data []byte) Document {
	sum := sha256.Sum256(data)
	return Document{
		Filename: filename,
		Data:     data,
		HashHex:  hex.EncodeToString(sum[:]),
	}
}

// NewTextDocument wraps text that was extracted elsewhere.
func NewTextDocument(filename, text string) Document {
	sum := sha256.Sum256([]byte(text))
	return Document{
		Filename: filename,
		Text:     text,
		HashHex:  hex.EncodeToString(sum[:]),
	}
}

// HasText reports whether the document arrived as text rather than bytes.
func (d Document) HasText() bool {
	return strings.TrimSpace(d.Text) != ""
}
