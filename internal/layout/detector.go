// Package layout detects typed regions (text blocks, tables, figures) on page images.
package layout

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/hypro2/document-parser/internal/models"
	"golang.org/x/image/draw"
)

// Detector returns the elements found on a page in reading order.
type Detector interface {
	Name() string
	// Load prepares the detector. A failure here aborts the run.
	Load(ctx context.Context) error
	Detect(ctx context.Context, page models.Page) ([]models.Element, error)
}

// DetectorError is a detection failure on a single page.
type DetectorError struct {
	Detector string
	Page     int // 1-based
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s failed on page %d: %v", e.Detector, e.Page, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// Options configures detector construction.
type Options struct {
	ServerURL      string
	Weights        string
	FromPretrained bool
	Confidence     float64
	ImageSize      int
}

// New returns the detector registered under name.
func New(name string, opts Options) (Detector, error) {
	switch strings.ToLower(name) {
	case "doclayout-yolo", "yolo":
		return NewHTTPDetector(name, opts)
	case "whole-page", "none":
		return WholePage{}, nil
	default:
		return nil, fmt.Errorf("unsupported detector: %s", name)
	}
}

// Known reports whether name is a registered detector.
func Known(name string) bool {
	switch strings.ToLower(name) {
	case "doclayout-yolo", "yolo", "whole-page", "none":
		return true
	}
	return false
}

// labelTypes maps DocLayout-YOLO DocStructBench classes to element types.
var labelTypes = map[string]models.ElementType{
	"title":           models.ElementTitle,
	"plain text":      models.ElementText,
	"plain_text":      models.ElementText,
	"text":            models.ElementText,
	"list":            models.ElementList,
	"abandon":         models.ElementAbandon,
	"figure":          models.ElementFigure,
	"picture":         models.ElementFigure,
	"figure_caption":  models.ElementCaption,
	"table":           models.ElementTable,
	"table_caption":   models.ElementCaption,
	"table_footnote":  models.ElementCaption,
	"isolate_formula": models.ElementFormula,
	"formula":         models.ElementFormula,
	"formula_caption": models.ElementCaption,
}

// TypeForLabel maps a raw detector class to an element type.
func TypeForLabel(label string) models.ElementType {
	if t, ok := labelTypes[strings.ToLower(strings.TrimSpace(label))]; ok {
		return t
	}
	return models.ElementOther
}

// SortReadingOrder orders boxes top-to-bottom, then left-to-right, and assigns indexes.
func SortReadingOrder(elements []models.Element) {
	sort.SliceStable(elements, func(i, j int) bool {
		a, b := elements[i].BBox, elements[j].BBox
		if a.Y0 != b.Y0 {
			return a.Y0 < b.Y0
		}
		return a.X0 < b.X0
	})
	for i := range elements {
		elements[i].Index = i
	}
}

// minCropSide is the shortest side sent to a provider; smaller crops are upscaled.
const minCropSide = 32

// Crop copies the element's box out of the page image.
func Crop(page image.Image, box models.BBox) image.Image {
	r := box.Rect(page.Bounds())
	if r.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, page, r, draw.Src, nil)

	short := min(r.Dx(), r.Dy())
	if short >= minCropSide {
		return dst
	}
	scale := float64(minCropSide) / float64(short)
	up := image.NewRGBA(image.Rect(0, 0, int(float64(r.Dx())*scale+0.5), int(float64(r.Dy())*scale+0.5)))
	draw.CatmullRom.Scale(up, up.Bounds(), dst, dst.Bounds(), draw.Src, nil)
	return up
}
