package services

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/hypro2/document-parser/internal/gcp"
	"github.com/hypro2/document-parser/internal/models"
	"github.com/hypro2/document-parser/internal/providers"
	"golang.org/x/image/draw"
)

// pageDetections is the on-disk shape of one page's detection dump.
type pageDetections struct {
	Page     int              `json:"page"`
	Width    int              `json:"width"`
	Height   int              `json:"height"`
	Elements []models.Element `json:"elements"`
	Error    string           `json:"error,omitempty"`
}

var boxColors = map[models.ElementType]color.RGBA{
	models.ElementText:    {R: 30, G: 120, B: 255, A: 255},
	models.ElementTitle:   {R: 160, G: 40, B: 200, A: 255},
	models.ElementList:    {R: 0, G: 160, B: 160, A: 255},
	models.ElementTable:   {R: 0, G: 170, B: 60, A: 255},
	models.ElementFigure:  {R: 230, G: 60, B: 40, A: 255},
	models.ElementFormula: {R: 240, G: 160, B: 0, A: 255},
	models.ElementCaption: {R: 120, G: 80, B: 40, A: 255},
	models.ElementAbandon: {R: 150, G: 150, B: 150, A: 255},
}

// saveDetections writes detections/page_NNNN.json and a box overlay PNG per page.
func saveDetections(ctx context.Context, sink Sink, pages []models.Page, detected [][]models.Element, errs []error) (string, error) {
	var dir string
	for i, page := range pages {
		b := page.Image.Bounds()
		dump := pageDetections{
			Page:     page.Number(),
			Width:    b.Dx(),
			Height:   b.Dy(),
			Elements: detected[i],
		}
		if errs[i] != nil {
			dump.Error = errs[i].Error()
		}
		data, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal detections for page %d: %w", page.Number(), err)
		}
		uri, err := sink.Write(ctx, fmt.Sprintf("detections/page_%04d.json", page.Number()), "application/json", data)
		if err != nil {
			return "", err
		}
		if dir == "" {
			dir = parentURI(uri)
		}

		overlay, err := providers.EncodePNG(drawOverlay(page.Image, detected[i]))
		if err != nil {
			return "", err
		}
		if _, err := sink.Write(ctx, fmt.Sprintf("detections/page_%04d.png", page.Number()), "image/png", overlay); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// parentURI is the directory holding uri. gs:// URIs keep their scheme
// intact, which path.Dir would not.
func parentURI(uri string) string {
	if gcp.IsGCSURI(uri) {
		return uri[:strings.LastIndex(uri, "/")]
	}
	return filepath.Dir(uri)
}

// drawOverlay copies the page and outlines every element box.
func drawOverlay(page image.Image, elements []models.Element) image.Image {
	b := page.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), page, b.Min, draw.Src)
	for _, el := range elements {
		c, ok := boxColors[el.Type]
		if !ok {
			c = color.RGBA{A: 255}
		}
		outline(dst, el.BBox.Rect(dst.Bounds()), c, 2)
	}
	return dst
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA, width int) {
	if r.Empty() {
		return
	}
	for w := 0; w < width; w++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, r.Min.Y+w, c)
			img.SetRGBA(x, r.Max.Y-1-w, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.SetRGBA(r.Min.X+w, y, c)
			img.SetRGBA(r.Max.X-1-w, y, c)
		}
	}
}
