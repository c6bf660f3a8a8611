package ocr

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Inspector checks that bytes are a readable PDF and counts its pages.
type Inspector interface {
	Inspect(data []byte) (pages int, err error)
}

// PDFInspector validates with pdfcpu in relaxed mode.
type PDFInspector struct{}

func (PDFInspector) Inspect(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty file")
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx.PageCount, nil
}
