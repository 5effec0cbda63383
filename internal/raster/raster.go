// Package raster turns PDF pages into images.
package raster

import (
	"context"
	"fmt"
	"strings"

	"github.com/hypro2/document-parser/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Rasterizer renders selected pages of a PDF.
type Rasterizer interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
	// Rasterize renders the given 1-based page numbers in order.
	Rasterize(ctx context.Context, pdfPath string, pageNumbers []int) ([]models.Page, error)
}

// New returns the rasterizer registered under name.
func New(name string, dpi int) (Rasterizer, error) {
	switch strings.ToLower(name) {
	case "", "pdftoppm", "poppler":
		return NewPoppler(dpi), nil
	case "embedded":
		return NewEmbedded(), nil
	default:
		return nil, fmt.Errorf("unsupported rasterizer: %s", name)
	}
}

// ValidatePDF checks the file in relaxed mode and returns its page count.
func ValidatePDF(pdfPath string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(pdfPath, cfg); err != nil {
		return 0, fmt.Errorf("failed to validate PDF: %w", err)
	}
	n, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// SelectPages resolves a 1-based inclusive range against pageCount. end <= 0
// means the last page; an end past the last page is clamped.
func SelectPages(pageCount, start, end int) ([]int, error) {
	if pageCount <= 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	if start < 1 {
		return nil, fmt.Errorf("page start must be >= 1, got %d", start)
	}
	if end <= 0 || end > pageCount {
		end = pageCount
	}
	if start > pageCount {
		return nil, fmt.Errorf("page start %d is beyond the last page %d", start, pageCount)
	}
	if start > end {
		return nil, fmt.Errorf("page start %d is after page end %d", start, end)
	}
	pages := make([]int, 0, end-start+1)
	for n := start; n <= end; n++ {
		pages = append(pages, n)
	}
	return pages, nil
}
