// Package providers adapts OCR and vision-language model backends to the two
// capabilities the parser needs: page/element OCR and prompted generation.
//
// Every adapter returns a typed *Error on failure. Its message is the bracketed
// literal ("[OCR Error: ...]", "[VLM Error: ...]") that downstream markdown
// renders as a failure marker.
package providers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"regexp"
)

// OCRMode selects the output shape requested from an OCR model.
type OCRMode string

const (
	ModeMarkdown OCRMode = "markdown"
	ModeFree     OCRMode = "free"
)

// Operation names used in error sentinels.
const (
	OpOCR = "OCR"
	OpVLM = "VLM"
)

// OCRModel extracts text from an image.
type OCRModel interface {
	Name() string
	OCR(ctx context.Context, img image.Image, mode OCRMode) (string, error)
}

// VisionModel answers a prompt, optionally conditioned on images.
type VisionModel interface {
	Name() string
	Generate(ctx context.Context, prompt string, images []image.Image) (string, error)
}

// Error is a failed provider call. It is never fatal to a run.
type Error struct {
	Op       string
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s Error: %v]", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func newError(op, provider string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Op: op, Provider: provider, Err: err}
}

// AsError wraps err as a provider error for op unless it already is one.
func AsError(op, provider string, err error) *Error {
	if err == nil {
		return nil
	}
	return newError(op, provider, err)
}

var sentinelPattern = regexp.MustCompile(`(?s)^\s*\[(OCR|VLM) Error: (.*)\]\s*$`)

// CheckSentinel turns a response body that is itself a bracketed error literal
// into an *Error. Some OpenAI-compatible proxies return failures this way with
// a 200 status.
func CheckSentinel(provider, text string) error {
	m := sentinelPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &Error{Op: m[1], Provider: provider, Err: errors.New(m[2])}
}
