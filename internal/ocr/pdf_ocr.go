package ocr

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Engine rasterizes every page of a PDF and recognizes its text.
type Engine interface {
	Recognize(ctx context.Context, data []byte) (text string, pages int, err error)
}

// TesseractEngine renders pages with pdftoppm and reads them with tesseract.
type TesseractEngine struct {
	cfg    Config
	runner Runner
}

func NewTesseractEngine(cfg Config, runner Runner) *TesseractEngine {
	cfg = cfg.withDefaults()
	if runner == nil {
		runner = NewExecRunner(nil)
	}
	return &TesseractEngine{cfg: cfg, runner: runner}
}

// Recognize joins page texts with a form feed, in page order.
func (e *TesseractEngine) Recognize(ctx context.Context, data []byte) (string, int, error) {
	path, cleanup, err := writeTemp(data)
	if err != nil {
		return "", 0, err
	}
	defer cleanup()

	prefix := filepath.Join(filepath.Dir(path), "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", 0, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(errb)))
	}

	// prefix-1.png, prefix-2.png, ... (zero padded when there are more than 9)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, fmt.Errorf("pdftoppm produced no images")
	}

	texts := make([]string, 0, len(matches))
	for _, img := range matches {
		txt, err := e.tesseract(ctx, img)
		if err != nil {
			return "", 0, err
		}
		texts = append(texts, Normalize(txt))
	}
	return strings.Join(texts, "\f"), len(matches), nil
}

func (e *TesseractEngine) tesseract(ctx context.Context, img string) (string, error) {
	args := []string{img, "stdout", "-l", e.cfg.Lang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", e.cfg.PSM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", filepath.Base(img), err, strings.TrimSpace(string(errb)))
	}
	return string(out), nil
}
