package providers

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR runs OCR in-process. A fresh gosseract client is created per call,
// so one instance can serve concurrent workers.
type TesseractOCR struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewTesseractOCR returns a local OCR provider for the given languages ("eng", "kor", ...).
func NewTesseractOCR(languages []string) *TesseractOCR {
	return &TesseractOCR{languages: languages, clientFactory: gosseract.NewClient}
}

func (t *TesseractOCR) Name() string { return "tesseract" }

// OCR ignores mode; Tesseract only produces plain text.
func (t *TesseractOCR) OCR(ctx context.Context, img image.Image, mode OCRMode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", AsError(OpOCR, t.Name(), err)
	}
	data, err := EncodePNG(img)
	if err != nil {
		return "", AsError(OpOCR, t.Name(), err)
	}

	c := t.clientFactory()
	defer c.Close()
	if len(t.languages) > 0 {
		if err := c.SetLanguage(t.languages...); err != nil {
			return "", AsError(OpOCR, t.Name(), fmt.Errorf("set languages: %w", err))
		}
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return "", AsError(OpOCR, t.Name(), fmt.Errorf("set image: %w", err))
	}
	text, err := c.Text()
	if err != nil {
		return "", AsError(OpOCR, t.Name(), fmt.Errorf("recognize text: %w", err))
	}
	return strings.TrimSpace(text), nil
}
