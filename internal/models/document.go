package models

import (
	"fmt"
	"image"
	"time"
)

// ElementType tags a region found by the layout detector.
type ElementType string

const (
	ElementText    ElementType = "text"
	ElementTitle   ElementType = "title"
	ElementList    ElementType = "list"
	ElementTable   ElementType = "table"
	ElementFigure  ElementType = "figure"
	ElementFormula ElementType = "formula"
	ElementCaption ElementType = "caption"
	ElementAbandon ElementType = "abandon"
	ElementOther   ElementType = "other"
)

// IsVisual reports whether the element is a table or a figure.
func (t ElementType) IsVisual() bool {
	return t == ElementTable || t == ElementFigure
}

// BBox is an axis-aligned box in page pixel coordinates.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Rect converts the box to an integer rectangle clipped to bounds.
func (b BBox) Rect(bounds image.Rectangle) image.Rectangle {
	r := image.Rect(int(b.X0), int(b.Y0), int(b.X1+0.5), int(b.Y1+0.5))
	return r.Add(bounds.Min).Intersect(bounds)
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.0f,%.0f,%.0f,%.0f]", b.X0, b.Y0, b.X1, b.Y1)
}

// Page is one rasterized page of the source PDF.
type Page struct {
	Index  int // 0-based
	Image  image.Image
	Source string
}

// Number is the 1-based page number used in logs and output.
func (p Page) Number() int { return p.Index + 1 }

// Element is a detected region on exactly one page.
type Element struct {
	Page  int         `json:"page"`
	Index int         `json:"index"`
	Type  ElementType `json:"type"`
	BBox  BBox        `json:"bbox"`
	Score float64     `json:"score"`
	Label string      `json:"label,omitempty"` // raw detector class name
	Image image.Image `json:"-"`
}

// Destination is where the router sends a unit of work.
type Destination string

const (
	DestinationOCR  Destination = "ocr"
	DestinationVLM  Destination = "vlm"
	DestinationSkip Destination = "skip"
)

// ElementResult is the single outcome recorded for an element.
type ElementResult struct {
	Element     Element
	Destination Destination
	Text        string
	Provider    string
	Mode        string
	Err         error
}

// Failed reports whether the element resolved to an error sentinel.
func (r ElementResult) Failed() bool { return r.Err != nil }

// PageResult collects the resolved work for one page.
type PageResult struct {
	Index int
	// PageText is the whole-page OCR output when the OCR scope is "page".
	PageText *ElementResult
	Elements []ElementResult
	// Summary is the whole-page VLM output when the VLM scope is "page".
	Summary *ElementResult
	Err     error
}

// Number is the 1-based page number.
func (p PageResult) Number() int { return p.Index + 1 }

// Document is the ordered set of page results for one PDF.
type Document struct {
	Source string
	Pages  []PageResult
}

// FailedElements counts element and page-level results that carry an error.
func (d *Document) FailedElements() int {
	n := 0
	for _, p := range d.Pages {
		for _, r := range p.Elements {
			if r.Failed() {
				n++
			}
		}
		if p.PageText != nil && p.PageText.Failed() {
			n++
		}
		if p.Summary != nil && p.Summary.Failed() {
			n++
		}
	}
	return n
}

// FailedPages returns the 1-based numbers of pages whose detection failed.
func (d *Document) FailedPages() []int {
	var out []int
	for _, p := range d.Pages {
		if p.Err != nil {
			out = append(out, p.Number())
		}
	}
	return out
}

// Job is the Firestore record tracking one parse run.
type Job struct {
	FileHash         string    `firestore:"fileHash,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	FailedPages      []int     `firestore:"failedPages,omitempty"`
	FailedElements   int       `firestore:"failedElements,omitempty"`
	OutputURI        string    `firestore:"outputUri,omitempty"`
	RunID            string    `firestore:"runId,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}

// Job statuses.
const (
	StatusValidating = "VALIDATING"
	StatusDetecting  = "DETECTING"
	StatusParsing    = "PARSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	// StatusDuplicate is only returned in responses, never stored.
	StatusDuplicate = "DUPLICATE"
)
