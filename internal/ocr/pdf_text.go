package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageReader reads the embedded text layer of a PDF, one string per page.
type PageReader interface {
	ReadPages(ctx context.Context, data []byte) ([]string, error)
}

// NativeReader decodes the text layer in-process.
type NativeReader struct {
	logger *slog.Logger
}

func NewNativeReader(logger *slog.Logger) *NativeReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeReader{logger: logger}
}

func (r *NativeReader) ReadPages(ctx context.Context, data []byte) (pages []string, err error) {
	// the decoder panics on some malformed streams
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf decode panic: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := reader.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		txt, perr := page.GetPlainText(nil)
		if perr != nil {
			r.logger.Warn("pdf page text failed", "page", i, "error", perr)
			pages = append(pages, "")
			continue
		}
		pages = append(pages, txt)
	}
	return pages, nil
}

// PdftotextReader shells out to poppler's pdftotext.
type PdftotextReader struct {
	bin    string
	runner Runner
}

func NewPdftotextReader(bin string, runner Runner) *PdftotextReader {
	if bin == "" {
		bin = "pdftotext"
	}
	if runner == nil {
		runner = NewExecRunner(nil)
	}
	return &PdftotextReader{bin: bin, runner: runner}
}

func (r *PdftotextReader) ReadPages(ctx context.Context, data []byte) ([]string, error) {
	path, cleanup, err := writeTemp(data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := r.runner.Run(ctx, r.bin, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	return splitPages(string(out)), nil
}

// splitPages splits pdftotext output on form feeds; the trailing feed after
// the last page does not start a new page.
func splitPages(text string) []string {
	text = strings.TrimSuffix(text, "\f")
	return strings.Split(text, "\f")
}

func writeTemp(data []byte) (string, func(), error) {
	dir, err := os.MkdirTemp("", "csf-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}
