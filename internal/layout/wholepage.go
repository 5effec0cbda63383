package layout

import (
	"context"

	"github.com/hypro2/document-parser/internal/models"
)

// WholePage treats every page as a single text element.
type WholePage struct{}

func (WholePage) Name() string { return "whole-page" }

func (WholePage) Load(context.Context) error { return nil }

func (WholePage) Detect(_ context.Context, page models.Page) ([]models.Element, error) {
	b := page.Image.Bounds()
	return []models.Element{{
		Page:  page.Index,
		Index: 0,
		Type:  models.ElementText,
		BBox:  models.BBox{X0: 0, Y0: 0, X1: float64(b.Dx()), Y1: float64(b.Dy())},
		Score: 1,
		Label: "page",
		Image: page.Image,
	}}, nil
}
