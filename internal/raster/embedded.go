package raster

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"

	"github.com/hypro2/document-parser/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"
)

// Embedded uses the largest image embedded on each page. It suits scanned PDFs
// where every page is one full-page scan, and needs no external binary.
type Embedded struct{}

func NewEmbedded() *Embedded { return &Embedded{} }

func (e *Embedded) PageCount(_ context.Context, pdfPath string) (int, error) {
	return ValidatePDF(pdfPath)
}

func (e *Embedded) Rasterize(ctx context.Context, pdfPath string, pageNumbers []int) ([]models.Page, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	selected := make([]string, len(pageNumbers))
	for i, n := range pageNumbers {
		selected[i] = strconv.Itoa(n)
	}

	largest := make(map[int]image.Image, len(pageNumbers))
	digest := func(img model.Image, singleImgPerPage bool, maxPageDigits int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		decoded, _, err := image.Decode(img)
		if err != nil {
			// Masks and unsupported filters are not page scans.
			return nil
		}
		if cur, ok := largest[img.PageNr]; !ok || area(decoded) > area(cur) {
			largest[img.PageNr] = decoded
		}
		return nil
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ExtractImages(f, selected, digest, cfg); err != nil {
		return nil, fmt.Errorf("failed to extract page images: %w", err)
	}

	pages := make([]models.Page, 0, len(pageNumbers))
	for _, n := range pageNumbers {
		img, ok := largest[n]
		if !ok {
			return nil, fmt.Errorf("page %d has no embedded image", n)
		}
		pages = append(pages, models.Page{Index: n - 1, Image: img, Source: pdfPath})
	}
	return pages, nil
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}
