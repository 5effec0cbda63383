package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hypro2/document-parser/internal/layout"
	"github.com/hypro2/document-parser/internal/models"
	"github.com/hypro2/document-parser/internal/providers"
)

const pageSeparator = "\n\n---\n\n"

// Assemble renders doc as markdown. Pages appear in index order and elements
// in detection order regardless of the order in which they were processed.
// The "final" style emits clean markdown; "debug" interleaves element metadata
// as HTML comments.
func Assemble(doc *models.Document, style string) string {
	a := assembler{debug: style == models.StyleDebug}
	blocks := make([]string, 0, len(doc.Pages))
	for _, page := range doc.Pages {
		blocks = append(blocks, a.page(page))
	}
	return strings.Join(blocks, pageSeparator) + "\n"
}

type assembler struct {
	debug   bool
	figures int
	tables  int
}

func (a *assembler) page(p models.PageResult) string {
	var parts []string
	if a.debug {
		parts = append(parts, fmt.Sprintf("# Page %d", p.Number()))
	}

	if p.Err != nil {
		if a.debug {
			parts = append(parts, "<!-- page failed -->")
		}
		parts = append(parts, pageFailureMarker(p))
		return strings.Join(parts, "\n\n")
	}

	if p.PageText != nil {
		if a.debug {
			parts = append(parts, a.comment("page-ocr", *p.PageText))
		}
		parts = appendNonEmpty(parts, a.text(*p.PageText))
	}

	for _, r := range p.Elements {
		if a.debug {
			parts = append(parts, a.comment(fmt.Sprintf("element %d", r.Element.Index), r))
		}
		parts = appendNonEmpty(parts, a.element(p, r))
	}

	if p.Summary != nil {
		if a.debug {
			parts = append(parts, a.comment("page-vlm", *p.Summary))
		}
		if p.Summary.Failed() {
			parts = append(parts, failureMarker(*p.Summary))
		} else {
			parts = appendNonEmpty(parts, labeledBlock(fmt.Sprintf("**Page %d summary**", p.Number()), p.Summary.Text))
		}
	}

	return strings.Join(parts, "\n\n")
}

func (a *assembler) element(p models.PageResult, r models.ElementResult) string {
	if r.Destination == models.DestinationSkip {
		return ""
	}
	if r.Failed() {
		return failureMarker(r)
	}

	if r.Destination == models.DestinationVLM && r.Element.Type.IsVisual() {
		var label string
		if r.Element.Type == models.ElementFigure {
			a.figures++
			label = fmt.Sprintf("**Figure %d** (page %d)", a.figures, p.Number())
		} else {
			a.tables++
			label = fmt.Sprintf("**Table %d** (page %d)", a.tables, p.Number())
		}
		return labeledBlock(label, r.Text)
	}

	text := a.text(r)
	if r.Element.Type == models.ElementTitle && text != "" && !strings.HasPrefix(text, "#") {
		return "## " + text
	}
	return text
}

func (a *assembler) text(r models.ElementResult) string {
	if r.Failed() {
		return failureMarker(r)
	}
	return strings.TrimSpace(r.Text)
}

func (a *assembler) comment(label string, r models.ElementResult) string {
	var b strings.Builder
	b.WriteString("<!-- ")
	b.WriteString(label)
	if r.Element.Type != "" {
		fmt.Fprintf(&b, " type=%s bbox=%s score=%.2f", r.Element.Type, r.Element.BBox, r.Element.Score)
	}
	fmt.Fprintf(&b, " dest=%s", r.Destination)
	if r.Provider != "" {
		fmt.Fprintf(&b, " provider=%s", r.Provider)
	}
	if r.Mode != "" {
		fmt.Fprintf(&b, " mode=%s", r.Mode)
	}
	if r.Failed() {
		b.WriteString(" status=failed")
	}
	b.WriteString(" -->")
	return b.String()
}

// labeledBlock renders a captioned blockquote.
func labeledBlock(label, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.WriteString("> ")
	b.WriteString(label)
	b.WriteString("\n>")
	for _, line := range lines {
		b.WriteString("\n>")
		if line != "" {
			b.WriteString(" ")
			b.WriteString(line)
		}
	}
	return b.String()
}

func failureMarker(r models.ElementResult) string {
	op := providers.OpOCR
	if r.Destination == models.DestinationVLM {
		op = providers.OpVLM
	}
	return "**" + providers.AsError(op, r.Provider, r.Err).Error() + "**"
}

func pageFailureMarker(p models.PageResult) string {
	err := p.Err
	var de *layout.DetectorError
	if errors.As(err, &de) {
		err = de.Err
	}
	return fmt.Sprintf("**[Page %d Error: %v]**", p.Number(), err)
}

func appendNonEmpty(parts []string, s string) []string {
	if s == "" {
		return parts
	}
	return append(parts, s)
}
