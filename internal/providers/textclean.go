package providers

import (
	"regexp"
	"strings"
)

var (
	// <|ref|>label<|/ref|><|det|>[[x0, y0, x1, y1]]<|/det|> emitted by grounding OCR models.
	groundingPattern = regexp.MustCompile(`(?s)<\|ref\|>.*?<\|/ref\|>\s*<\|det\|>.*?<\|/det\|>`)
	detPattern       = regexp.MustCompile(`(?s)<\|det\|>.*?<\|/det\|>`)
	refPattern       = regexp.MustCompile(`(?s)<\|ref\|>(.*?)<\|/ref\|>`)
	specialToken     = regexp.MustCompile(`<\|[^|>]*\|>`)
	blankRun         = regexp.MustCompile(`\n{3,}`)
	trailingSpace    = regexp.MustCompile(`[ \t]+\n`)
)

// CleanOCRText strips grounding markup, special tokens and code fences from raw
// OCR model output and normalizes blank lines.
func CleanOCRText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = groundingPattern.ReplaceAllString(s, "")
	s = detPattern.ReplaceAllString(s, "")
	s = refPattern.ReplaceAllString(s, "$1")
	s = specialToken.ReplaceAllString(s, "")

	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
