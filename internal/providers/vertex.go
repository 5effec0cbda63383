package providers

import (
	"context"
	"fmt"
	"image"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/hypro2/document-parser/internal/gcp"
)

// GeminiVLM is a VisionModel served by Vertex AI.
type GeminiVLM struct {
	name   string
	client *gcp.VertexClient
}

// NewGeminiVLM connects to Vertex AI in projectID/region.
func NewGeminiVLM(ctx context.Context, name, projectID, region, model string, temperature float64, maxTokens int) (*GeminiVLM, error) {
	client, err := gcp.NewVertexClient(ctx, projectID, region, model, float32(temperature), int32(maxTokens))
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	return &GeminiVLM{name: name, client: client}, nil
}

func (g *GeminiVLM) Name() string { return g.name }

// Generate sends images followed by the prompt.
func (g *GeminiVLM) Generate(ctx context.Context, prompt string, images []image.Image) (string, error) {
	parts := make([]genai.Part, 0, len(images)+1)
	for _, img := range images {
		data, err := EncodePNG(img)
		if err != nil {
			return "", AsError(OpVLM, g.name, err)
		}
		parts = append(parts, genai.ImageData("png", data))
	}
	parts = append(parts, genai.Text(prompt))

	resp, err := g.client.CaptionModel.GenerateContent(ctx, parts...)
	if err != nil {
		return "", AsError(OpVLM, g.name, fmt.Errorf("failed to generate content from gemini: %w", err))
	}
	text := strings.TrimSpace(gcp.ExtractText(resp))
	text = strings.TrimPrefix(text, "```markdown")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text), nil
}

// Close releases the Vertex client.
func (g *GeminiVLM) Close() error { return g.client.Close() }
