package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/hypro2/document-parser/internal/models"
)

// Poppler renders pages with the pdftoppm binary.
type Poppler struct {
	dpi    int
	binary string
}

// NewPoppler returns a rasterizer rendering at dpi (default 144).
func NewPoppler(dpi int) *Poppler {
	if dpi <= 0 {
		dpi = 144
	}
	return &Poppler{dpi: dpi, binary: "pdftoppm"}
}

func (p *Poppler) PageCount(_ context.Context, pdfPath string) (int, error) {
	return ValidatePDF(pdfPath)
}

func (p *Poppler) Rasterize(ctx context.Context, pdfPath string, pageNumbers []int) ([]models.Page, error) {
	tempDir, err := os.MkdirTemp("", "docparser-pages-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	pages := make([]models.Page, 0, len(pageNumbers))
	for _, n := range pageNumbers {
		prefix := filepath.Join(tempDir, fmt.Sprintf("page_%05d", n))
		num := strconv.Itoa(n)
		cmd := exec.CommandContext(ctx, p.binary,
			"-png", "-r", strconv.Itoa(p.dpi),
			"-f", num, "-l", num, "-singlefile",
			pdfPath, prefix)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", n, err, stderr.String())
		}
		img, err := decodePNG(prefix + ".png")
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		pages = append(pages, models.Page{Index: n - 1, Image: img, Source: pdfPath})
	}
	return pages, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rendered page: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return img, nil
}
