package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Captioning Model Prompts ---
const CaptionSystemPrompt = "You are a document parsing assistant. You describe figures and transcribe tables cropped from scanned documents so that the result can be embedded in a markdown transcript. Accuracy and information preservation are of utmost importance."

// VertexClient holds the pre-configured Gemini models used as a VLM provider.
type VertexClient struct {
	CaptionModel *genai.GenerativeModel
	baseClient   *genai.Client
}

// NewVertexClient creates a client whose caption model uses modelName.
func NewVertexClient(ctx context.Context, projectID, region, modelName string, temperature float32, maxTokens int32) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	captionModel := baseClient.GenerativeModel(modelName)
	captionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(CaptionSystemPrompt)},
	}
	captionModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(temperature),
	}
	if maxTokens > 0 {
		captionModel.GenerationConfig.MaxOutputTokens = genai.Ptr(maxTokens)
	}

	return &VertexClient{
		CaptionModel: captionModel,
		baseClient:   baseClient,
	}, nil
}

// ExtractText concatenates the text parts of the first candidate.
func ExtractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out += string(txt)
		}
	}
	return out
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
