package providers

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Backends reachable through a chat-completion API.
const (
	BackendOpenAI = "openai" // vLLM, OpenAI or any OpenAI-compatible server
	BackendOllama = "ollama"
)

const (
	markdownOCRPrompt = "<|image|><|grounding|>Convert all text in the image to markdown format."
	freeOCRPrompt     = "<|image|>Extract all text from this image."
)

// ChatConfig configures a chat-completion backed model.
type ChatConfig struct {
	Name        string // registry name reported in provenance
	Backend     string
	Model       string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// ChatModel implements both OCRModel and VisionModel on top of a chat API.
// It holds no per-call state and is safe for concurrent use.
type ChatModel struct {
	name        string
	backend     string
	model       string
	llm         llms.Model
	maxTokens   int
	temperature float64
}

// NewChatModel builds a model client for cfg.Backend.
func NewChatModel(cfg ChatConfig) (*ChatModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name must be provided for provider %s", cfg.Name)
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var (
		llm llms.Model
		err error
	)
	switch cfg.Backend {
	case BackendOpenAI:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		// Self-hosted servers accept any key, but the client requires one.
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "EMPTY"
		}
		opts = append(opts, openai.WithToken(apiKey))
		llm, err = openai.New(opts...)
	case BackendOllama:
		opts := []ollama.Option{
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported chat backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client for %s: %w", cfg.Backend, cfg.Name, err)
	}

	slog.Info("Chat model provider initialized.", "provider", cfg.Name, "backend", cfg.Backend, "model", cfg.Model)
	return &ChatModel{
		name:        cfg.Name,
		backend:     cfg.Backend,
		model:       cfg.Model,
		llm:         llm,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (m *ChatModel) Name() string { return m.name }

// OCR transcribes img and returns cleaned text.
func (m *ChatModel) OCR(ctx context.Context, img image.Image, mode OCRMode) (string, error) {
	prompt := freeOCRPrompt
	if mode == ModeMarkdown {
		prompt = markdownOCRPrompt
	}
	raw, err := m.complete(ctx, prompt, []image.Image{img})
	if err != nil {
		return "", AsError(OpOCR, m.name, err)
	}
	if err := CheckSentinel(m.name, raw); err != nil {
		return "", err
	}
	return CleanOCRText(raw), nil
}

// Generate answers prompt, attaching images before the text part.
func (m *ChatModel) Generate(ctx context.Context, prompt string, images []image.Image) (string, error) {
	out, err := m.complete(ctx, prompt, images)
	if err != nil {
		return "", AsError(OpVLM, m.name, err)
	}
	if err := CheckSentinel(m.name, out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (m *ChatModel) complete(ctx context.Context, prompt string, images []image.Image) (string, error) {
	parts := make([]llms.ContentPart, 0, len(images)+1)
	for _, img := range images {
		data, err := EncodePNG(img)
		if err != nil {
			return "", err
		}
		if m.backend == BackendOpenAI {
			parts = append(parts, llms.ImageURLPart(dataURL(data)))
		} else {
			parts = append(parts, llms.BinaryPart("image/png", data))
		}
	}
	parts = append(parts, llms.TextPart(prompt))

	var callOpts []llms.CallOption
	if m.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(m.maxTokens))
	}
	callOpts = append(callOpts, llms.WithTemperature(m.temperature))

	resp, err := m.llm.GenerateContent(ctx, []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}, callOpts...)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", m.backend, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", m.backend)
	}
	return resp.Choices[0].Content, nil
}
