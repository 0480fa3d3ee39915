package export

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func smallPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 124, G: 181, B: 236, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func TestChartPDF(t *testing.T) {
	pdf, err := ChartPDF(smallPNG(t, 96, 48))
	if err != nil {
		t.Fatalf("ChartPDF error: %v", err)
	}
	if !strings.HasPrefix(string(pdf), "%PDF-") {
		t.Error("output does not start with a PDF header")
	}
	if len(pdf) < 100 {
		t.Errorf("suspiciously small PDF: %d bytes", len(pdf))
	}
}

func TestChartPDFRejectsGarbage(t *testing.T) {
	if _, err := ChartPDF([]byte("not a png")); err == nil {
		t.Error("expected error for non-PNG input")
	}
}
