package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
)

type Config struct {
	TextBackend string // "native" (default) | "pdftotext"
	Pdftotext   string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm    string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"

	Lang     string // default "spa"
	DPI      int    // rasterization DPI for scanned PDFs, default 300
	MaxPages int    // 0 = no limit

	TessdataDir string
	PSM         int // e.g., 6 is good for uniform block of text
}

func (c Config) withDefaults() Config {
	if c.TextBackend == "" {
		c.TextBackend = "native"
	}
	if c.Pdftotext == "" {
		c.Pdftotext = "pdftotext"
	}
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.Lang == "" {
		c.Lang = "spa"
	}
	if c.DPI <= 0 {
		c.DPI = 300
	}
	return c
}

type ExtractionResult struct {
	Text     string
	Pages    int
	Method   constants.Method
	Language string
	Duration time.Duration
}

// Locator decides between the embedded text layer and OCR.
type Locator struct {
	reader    PageReader
	engine    Engine
	inspector Inspector
	lang      string
	logger    *slog.Logger
}

// NewLocator wires the collaborators chosen by cfg.
func NewLocator(cfg Config, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	runner := NewExecRunner(logger)
	var reader PageReader = NewNativeReader(logger)
	if cfg.TextBackend == "pdftotext" {
		reader = NewPdftotextReader(cfg.Pdftotext, runner)
	}
	return &Locator{
		reader:    reader,
		engine:    NewTesseractEngine(cfg, runner),
		inspector: PDFInspector{},
		lang:      cfg.Lang,
		logger:    logger,
	}
}

// NewLocatorWith builds a Locator from explicit collaborators. A nil
// inspector skips validation.
func NewLocatorWith(reader PageReader, engine Engine, inspector Inspector, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{reader: reader, engine: engine, inspector: inspector, lang: "spa", logger: logger}
}

// Pages returns the embedded text of each page. Text documents come back as
// a single page.
func (l *Locator) Pages(ctx context.Context, doc entity.Document) ([]string, error) {
	if doc.HasText() {
		return []string{doc.Text}, nil
	}
	if l.inspector != nil {
		n, err := l.inspector.Inspect(doc.Data)
		if err != nil {
			return nil, common.MalformedSource(fmt.Sprintf("inspect %s", doc.Filename), err)
		}
		l.logger.Debug("pdf inspected", "file", doc.Filename, "pages", n)
	}
	pages, err := l.reader.ReadPages(ctx, doc.Data)
	if err != nil {
		return nil, common.MalformedSource(fmt.Sprintf("read text layer of %s", doc.Filename), err)
	}
	return pages, nil
}

// HasEmbeddedText reports whether any page has non-blank text.
func HasEmbeddedText(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}

// JoinPages concatenates page text in page order.
func JoinPages(pages []string) string {
	return strings.Join(pages, "\n")
}

// HasEmbeddedText reports whether doc carries a usable text layer.
func (l *Locator) HasEmbeddedText(ctx context.Context, doc entity.Document) (bool, error) {
	pages, err := l.Pages(ctx, doc)
	if err != nil {
		return false, err
	}
	return HasEmbeddedText(pages), nil
}

// ReadEmbeddedText concatenates the text layer of doc.
func (l *Locator) ReadEmbeddedText(ctx context.Context, doc entity.Document) (string, error) {
	pages, err := l.Pages(ctx, doc)
	if err != nil {
		return "", err
	}
	return JoinPages(pages), nil
}

// ReadViaOCR rasterizes and recognizes every page of doc.
func (l *Locator) ReadViaOCR(ctx context.Context, doc entity.Document) (string, error) {
	text, _, err := l.engine.Recognize(ctx, doc.Data)
	if err != nil {
		return "", common.MalformedSource(fmt.Sprintf("ocr %s", doc.Filename), err)
	}
	return text, nil
}

// Extract reads doc and picks the text source.
func (l *Locator) Extract(ctx context.Context, doc entity.Document) (ExtractionResult, error) {
	pages, err := l.Pages(ctx, doc)
	if err != nil {
		return ExtractionResult{}, err
	}
	return l.ExtractFromPages(ctx, doc, pages)
}

// ExtractFromPages prefers the already-read text layer and runs OCR, once,
// only when no page has any text.
func (l *Locator) ExtractFromPages(ctx context.Context, doc entity.Document, pages []string) (ExtractionResult, error) {
	start := time.Now()
	if doc.HasText() {
		return ExtractionResult{
			Text:     doc.Text,
			Pages:    1,
			Method:   constants.MethodPlainText,
			Duration: time.Since(start),
		}, nil
	}
	if HasEmbeddedText(pages) {
		l.logger.Debug("embedded text detected", "file", doc.Filename, "pages", len(pages))
		return ExtractionResult{
			Text:     JoinPages(pages),
			Pages:    len(pages),
			Method:   constants.MethodPDFText,
			Duration: time.Since(start),
		}, nil
	}

	l.logger.Info("no embedded text, running ocr", "file", doc.Filename, "pages", len(pages))
	text, n, err := l.engine.Recognize(ctx, doc.Data)
	if err != nil {
		return ExtractionResult{Method: constants.MethodPDFOCR}, common.MalformedSource(fmt.Sprintf("ocr %s", doc.Filename), err)
	}
	return ExtractionResult{
		Text:     text,
		Pages:    n,
		Method:   constants.MethodPDFOCR,
		Language: l.lang,
		Duration: time.Since(start),
	}, nil
}
