package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hypro2/document-parser/internal/gcp"
	"github.com/hypro2/document-parser/internal/layout"
	"github.com/hypro2/document-parser/internal/models"
	"github.com/hypro2/document-parser/internal/providers"
)

// ParserConfig holds the environment-level configuration of the parser.
// Per-run options live in models.ParseRequest.
type ParserConfig struct {
	Providers          providers.Settings
	DetectorURL        string
	DetectorConfidence float64
	DetectorImageSize  int
	Rasterizer         string
	DPI                int
	UnitTimeout        time.Duration
	ProjectID          string
	JobCollection      string
	WorkflowID         string
	WorkflowLocation   string
	// SkipDuplicates returns early when a completed job exists for the same file hash.
	SkipDuplicates bool
	// AtomicWrites never overwrites existing gs:// outputs.
	AtomicWrites bool
}

// LoadConfig reads the parser configuration from the environment.
func LoadConfig() (*ParserConfig, error) {
	timeoutSec, err := positiveEnvInt("PROVIDER_TIMEOUT_SEC", 600)
	if err != nil {
		return nil, err
	}
	dpi, err := positiveEnvInt("RASTER_DPI", 144)
	if err != nil {
		return nil, err
	}
	imgsz, err := positiveEnvInt("DETECTOR_IMAGE_SIZE", 1024)
	if err != nil {
		return nil, err
	}
	ocrMaxTokens, err := envInt("OCR_MAX_TOKENS", 4096)
	if err != nil {
		return nil, err
	}
	vlmMaxTokens, err := envInt("VLM_MAX_TOKENS", 512)
	if err != nil {
		return nil, err
	}
	conf, err := envFloat("DETECTOR_CONFIDENCE", 0.2)
	if err != nil {
		return nil, err
	}
	temperature, err := envFloat("VLM_TEMPERATURE", 0.1)
	if err != nil {
		return nil, err
	}

	projectID := gcp.GetEnv("PROJECT_ID", "")
	timeout := time.Duration(timeoutSec) * time.Second

	cfg := &ParserConfig{
		Providers: providers.Settings{
			OpenAIBaseURL:  gcp.GetEnv("OPENAI_BASE_URL", ""),
			OpenAIAPIKey:   gcp.GetEnv("OPENAI_API_KEY", ""),
			OllamaHost:     gcp.GetEnv("OLLAMA_HOST", "http://localhost:11434"),
			OCRModel:       gcp.GetEnv("OCR_MODEL", ""),
			VLMModel:       gcp.GetEnv("VLM_MODEL", ""),
			Timeout:        timeout,
			OCRMaxTokens:   ocrMaxTokens,
			VLMMaxTokens:   vlmMaxTokens,
			VLMTemperature: temperature,
			TesseractLangs: splitList(gcp.GetEnv("TESSERACT_LANGS", "eng")),
			ProjectID:      projectID,
			VertexRegion:   gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		},
		DetectorURL:        gcp.GetEnv("DETECTOR_URL", "http://localhost:8001"),
		DetectorConfidence: conf,
		DetectorImageSize:  imgsz,
		Rasterizer:         gcp.GetEnv("RASTERIZER", "pdftoppm"),
		DPI:                dpi,
		UnitTimeout:        timeout,
		ProjectID:          projectID,
		JobCollection:      gcp.GetEnv("FIRESTORE_COLLECTION", ""),
		WorkflowID:         gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:   gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	return cfg, nil
}

// ValidateRequest checks a normalized request. Every failure is a *ConfigError.
func ValidateRequest(req *models.ParseRequest) error {
	if req.PDF == "" {
		return configErrorf("pdf", "a PDF path must be provided")
	}
	if req.OutDir == "" {
		return configErrorf("outDir", "an output directory must be provided")
	}
	if !layout.Known(req.Detector) {
		return configErrorf("detector", "unsupported detector %q", req.Detector)
	}
	if !validScope(req.OCRScope) {
		return configErrorf("ocrScope", "unsupported scope %q", req.OCRScope)
	}
	if !validScope(req.VLMScope) {
		return configErrorf("vlmScope", "unsupported scope %q", req.VLMScope)
	}
	if !providers.KnownOCR(req.OCRProvider) {
		return configErrorf("ocrProvider", "unsupported OCR provider %q", req.OCRProvider)
	}
	if !providers.KnownVLM(req.VLMProvider) {
		return configErrorf("vlmProvider", "unsupported VLM provider %q", req.VLMProvider)
	}
	if req.OCRScope != models.ScopeNone && providers.IsNone(req.OCRProvider) {
		return configErrorf("ocrProvider", "OCR scope %q requires an OCR provider", req.OCRScope)
	}
	if req.VLMScope != models.ScopeNone && providers.IsNone(req.VLMProvider) {
		return configErrorf("vlmProvider", "VLM scope %q requires a VLM provider", req.VLMScope)
	}
	if req.ExecutionMode != models.ModeSequential && req.ExecutionMode != models.ModeParallel {
		return configErrorf("executionMode", "unsupported execution mode %q", req.ExecutionMode)
	}
	if req.ParallelWorkers < 1 {
		return configErrorf("parallelWorkers", "must be >= 1, got %d", req.ParallelWorkers)
	}
	if req.MDStyle != models.StyleFinal && req.MDStyle != models.StyleDebug {
		return configErrorf("mdStyle", "unsupported markdown style %q", req.MDStyle)
	}
	if req.PageStart < 1 {
		return configErrorf("pageStart", "must be >= 1, got %d", req.PageStart)
	}
	if req.PageEnd < 0 {
		return configErrorf("pageEnd", "must be >= 0, got %d", req.PageEnd)
	}
	if req.PageEnd > 0 && req.PageEnd < req.PageStart {
		return configErrorf("pageEnd", "page end %d is before page start %d", req.PageEnd, req.PageStart)
	}
	return nil
}

func validScope(s string) bool {
	switch s {
	case models.ScopeElements, models.ScopePage, models.ScopeVisuals, models.ScopeNone:
		return true
	}
	return false
}

func envInt(key string, fallback int) (int, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, configErrorf(key, "not an integer: %q", raw)
	}
	return v, nil
}

// positiveEnvInt is envInt for settings where zero or less has no meaning.
func positiveEnvInt(key string, fallback int) (int, error) {
	v, err := envInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, configErrorf(key, "must be > 0, got %d", v)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, configErrorf(key, "not a number: %q", raw)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c ParserConfig) String() string {
	return fmt.Sprintf("rasterizer=%s dpi=%d detectorURL=%s timeout=%s", c.Rasterizer, c.DPI, c.DetectorURL, c.UnitTimeout)
}
