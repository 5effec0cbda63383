package services

import "github.com/hypro2/document-parser/internal/models"

// Route decides where a detected element is sent.
//
// Visual elements (tables, figures) prefer the VLM; tables fall back to OCR.
// Text-like elements go to OCR only under the "elements" OCR scope; under the
// "page" scope the whole-page OCR pass already covers them, so they are
// skipped even when the VLM scope is "elements".
func Route(el models.Element, ocrScope, vlmScope string) models.Destination {
	if el.Type == models.ElementAbandon {
		return models.DestinationSkip
	}

	if el.Type.IsVisual() {
		switch {
		case vlmScope == models.ScopeVisuals || vlmScope == models.ScopeElements:
			return models.DestinationVLM
		case el.Type == models.ElementTable && (ocrScope == models.ScopeElements || ocrScope == models.ScopeVisuals):
			return models.DestinationOCR
		default:
			return models.DestinationSkip
		}
	}

	switch {
	case ocrScope == models.ScopeElements:
		return models.DestinationOCR
	case ocrScope == models.ScopePage:
		return models.DestinationSkip
	case vlmScope == models.ScopeElements:
		return models.DestinationVLM
	default:
		return models.DestinationSkip
	}
}

// PageUnits reports which whole-page passes the scopes request.
func PageUnits(ocrScope, vlmScope string) (pageOCR, pageVLM bool) {
	return ocrScope == models.ScopePage, vlmScope == models.ScopePage
}
