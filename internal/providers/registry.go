package providers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Settings carries endpoint and model configuration for every backend.
type Settings struct {
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	OllamaHost     string
	OCRModel       string // overrides the provider default when set
	VLMModel       string
	Timeout        time.Duration
	OCRMaxTokens   int
	VLMMaxTokens   int
	VLMTemperature float64
	TesseractLangs []string
	ProjectID      string
	VertexRegion   string
}

type chatPreset struct {
	backend string
	model   string
}

var ocrPresets = map[string]chatPreset{
	"deepseek-ollama": {BackendOllama, "deepseek-ocr"},
	"glm-ocr":         {BackendOllama, "glm-ocr"},
	"deepseek-vllm":   {BackendOpenAI, "deepseek-ai/DeepSeek-OCR"},
	"openai-ocr":      {BackendOpenAI, "deepseek-ocr"},
}

var vlmPresets = map[string]chatPreset{
	"vlm-openai": {BackendOpenAI, "gpt-4o-mini"},
	"vlm-ollama": {BackendOllama, "qwen2.5vl"},
}

const defaultGeminiModel = "gemini-1.5-pro"

// IsNone reports whether name disables a provider.
func IsNone(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return n == "" || n == "none"
}

// KnownOCR reports whether name is a registered OCR provider.
func KnownOCR(name string) bool {
	_, ok := ocrPresets[name]
	return ok || name == "tesseract" || IsNone(name)
}

// KnownVLM reports whether name is a registered VLM provider.
func KnownVLM(name string) bool {
	_, ok := vlmPresets[name]
	return ok || name == "vlm-vertex" || IsNone(name)
}

// NewOCR builds the OCR provider registered under name. It returns nil, nil for "none".
func NewOCR(name string, s Settings) (OCRModel, error) {
	if IsNone(name) {
		return nil, nil
	}
	if name == "tesseract" {
		return NewTesseractOCR(s.TesseractLangs), nil
	}
	preset, ok := ocrPresets[name]
	if !ok {
		return nil, fmt.Errorf("unsupported OCR provider: %s", name)
	}
	maxTokens := s.OCRMaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return NewChatModel(ChatConfig{
		Name:        name,
		Backend:     preset.backend,
		Model:       firstNonEmpty(s.OCRModel, preset.model),
		BaseURL:     baseURLFor(preset.backend, s),
		APIKey:      s.OpenAIAPIKey,
		Timeout:     s.Timeout,
		MaxTokens:   maxTokens,
		Temperature: 0.1,
	})
}

// NewVLM builds the VLM provider registered under name. It returns nil, nil for "none".
func NewVLM(ctx context.Context, name string, s Settings) (VisionModel, error) {
	if IsNone(name) {
		return nil, nil
	}
	maxTokens := s.VLMMaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}
	if name == "vlm-vertex" {
		return NewGeminiVLM(ctx, name, s.ProjectID, s.VertexRegion, firstNonEmpty(s.VLMModel, defaultGeminiModel), s.VLMTemperature, maxTokens)
	}
	preset, ok := vlmPresets[name]
	if !ok {
		return nil, fmt.Errorf("unsupported VLM provider: %s", name)
	}
	return NewChatModel(ChatConfig{
		Name:        name,
		Backend:     preset.backend,
		Model:       firstNonEmpty(s.VLMModel, preset.model),
		BaseURL:     baseURLFor(preset.backend, s),
		APIKey:      s.OpenAIAPIKey,
		Timeout:     s.Timeout,
		MaxTokens:   maxTokens,
		Temperature: s.VLMTemperature,
	})
}

func baseURLFor(backend string, s Settings) string {
	if backend == BackendOllama {
		return s.OllamaHost
	}
	return s.OpenAIBaseURL
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
