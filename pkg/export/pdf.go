// Package export wraps rendered chart images in other document formats.
package export

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/jung-kurt/gofpdf"
)

// pxToPt converts CSS pixels (96 per inch) to PDF points (72 per inch).
func pxToPt(px float64) float64 {
	return px * 72.0 / 96.0
}

// ChartPDF wraps a rendered PNG in a single-page PDF sized to the image.
func ChartPDF(pngData []byte) ([]byte, error) {
	img, err := png.DecodeConfig(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("invalid PNG: %w", err)
	}

	widthPt := pxToPt(float64(img.Width))
	heightPt := pxToPt(float64(img.Height))

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: widthPt, Ht: heightPt},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("chart", opts, bytes.NewReader(pngData))
	pdf.ImageOptions("chart", 0, 0, widthPt, heightPt, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	out := buf.Bytes()
	if len(out) < 5 || string(out[:5]) != "%PDF-" {
		return nil, fmt.Errorf("output is not a PDF (got %d bytes)", len(out))
	}
	return out, nil
}
