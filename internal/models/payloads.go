package models

// These structs define the JSON payloads accepted by the parse entry points
// (CLI, HTTP function) and the response they return.

// Scope values for ParseRequest.OCRScope and ParseRequest.VLMScope.
const (
	ScopeElements = "elements"
	ScopePage     = "page"
	ScopeVisuals  = "visuals"
	ScopeNone     = "none"
)

// Execution modes.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Markdown styles.
const (
	StyleFinal = "final"
	StyleDebug = "debug"
)

// ParseRequest is the full configuration of one parse run.
type ParseRequest struct {
	PDF                string `json:"pdf"`
	OutDir             string `json:"outDir"`
	Detector           string `json:"detector"`
	YoloWeights        string `json:"yoloWeights"`
	YoloFromPretrained bool   `json:"yoloFromPretrained"`
	OCRProvider        string `json:"ocrProvider"`
	OCRScope           string `json:"ocrScope"`
	// PageStart and PageEnd are 1-based and inclusive. PageEnd 0 means the last page.
	PageStart       int    `json:"pageStart"`
	PageEnd         int    `json:"pageEnd"`
	VLMProvider     string `json:"vlmProvider"`
	VLMScope        string `json:"vlmScope"`
	VLMUseImage     bool   `json:"vlmUseImage"`
	ExecutionMode   string `json:"executionMode"`
	ParallelWorkers int    `json:"parallelWorkers"`
	MDStyle         string `json:"mdStyle"`
	SaveDetections  bool   `json:"saveDetections"`
	HTMLOutput      bool   `json:"htmlOutput"`
	ExecutionID     string `json:"executionId,omitempty"`
}

// Normalize fills unset fields with their defaults.
func (r *ParseRequest) Normalize() {
	if r.Detector == "" {
		r.Detector = "doclayout-yolo"
	}
	if r.OCRScope == "" {
		r.OCRScope = ScopeElements
	}
	if r.VLMScope == "" {
		r.VLMScope = ScopeNone
	}
	if r.VLMProvider == "" {
		r.VLMProvider = "none"
	}
	if r.PageStart == 0 {
		r.PageStart = 1
	}
	if r.ExecutionMode == "" {
		r.ExecutionMode = ModeSequential
	}
	if r.ParallelWorkers == 0 {
		r.ParallelWorkers = 4
	}
	if r.MDStyle == "" {
		r.MDStyle = StyleFinal
	}
}

// ParseResponse is returned by every parse entry point.
type ParseResponse struct {
	Status         string `json:"status"`
	RunID          string `json:"runId"`
	OutputURI      string `json:"outputUri"`
	HTMLURI        string `json:"htmlUri,omitempty"`
	DetectionsURI  string `json:"detectionsUri,omitempty"`
	PageCount      int    `json:"pageCount"`
	FailedPages    []int  `json:"failedPages,omitempty"`
	FailedElements int    `json:"failedElements"`
}

// GCSEvent is the payload of a storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
