package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.Black)
	return img
}

func chatServer(t *testing.T, content string, inspect func(body string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if inspect != nil {
			inspect(string(body))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "deepseek-ocr",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
}

func newTestChatModel(t *testing.T, url string) *ChatModel {
	t.Helper()
	m, err := NewChatModel(ChatConfig{
		Name:      "openai-ocr",
		Backend:   BackendOpenAI,
		Model:     "deepseek-ocr",
		BaseURL:   url,
		Timeout:   5 * time.Second,
		MaxTokens: 4096,
	})
	if err != nil {
		t.Fatalf("NewChatModel failed: %v", err)
	}
	return m
}

func TestChatModelOCR_CleansOutput(t *testing.T) {
	raw := "<|ref|>text<|/ref|><|det|>[[10, 20, 30, 40]]<|/det|>\nHELLO\n\n\n\nWORLD"
	server := chatServer(t, raw, func(body string) {
		if !strings.Contains(body, "data:image/png;base64,") {
			t.Error("expected the image to be sent as a data URL")
		}
		if !strings.Contains(body, "Convert all text in the image to markdown format.") {
			t.Error("expected the markdown OCR prompt")
		}
	})
	defer server.Close()

	m := newTestChatModel(t, server.URL)
	text, err := m.OCR(context.Background(), testImage(), ModeMarkdown)
	if err != nil {
		t.Fatalf("OCR failed: %v", err)
	}
	if text != "HELLO\n\nWORLD" {
		t.Errorf("unexpected OCR text %q", text)
	}
}

func TestChatModelGenerate_FreePrompt(t *testing.T) {
	server := chatServer(t, "  A chart  ", func(body string) {
		if !strings.Contains(body, "Describe this figure") {
			t.Error("expected caller prompt in request")
		}
	})
	defer server.Close()

	m := newTestChatModel(t, server.URL)
	text, err := m.Generate(context.Background(), "Describe this figure", []image.Image{testImage()})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "A chart" {
		t.Errorf("expected trimmed caption, got %q", text)
	}
}

func TestChatModel_SentinelBodyBecomesError(t *testing.T) {
	server := chatServer(t, "[VLM Error: upstream overloaded]", nil)
	defer server.Close()

	m := newTestChatModel(t, server.URL)
	_, err := m.Generate(context.Background(), "Describe", nil)
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if pe.Op != OpVLM {
		t.Errorf("expected op VLM, got %s", pe.Op)
	}
	if err.Error() != "[VLM Error: upstream overloaded]" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestChatModel_TransportErrorIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "boom"}}`))
	}))
	defer server.Close()

	m := newTestChatModel(t, server.URL)
	_, err := m.OCR(context.Background(), testImage(), ModeFree)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.HasPrefix(err.Error(), "[OCR Error: ") {
		t.Errorf("expected OCR sentinel message, got %q", err.Error())
	}
}

func TestNewChatModel_RejectsUnknownBackend(t *testing.T) {
	if _, err := NewChatModel(ChatConfig{Name: "x", Backend: "grpc", Model: "m"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := NewChatModel(ChatConfig{Name: "x", Backend: BackendOpenAI}); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestChatModelOCR_Ollama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected /api/chat, got %s", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string   `json:"role"`
				Content string   `json:"content"`
				Images  [][]byte `json:"images"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Model != "deepseek-ocr" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			t.Errorf("expected one message with one image, got %+v", req.Messages)
		} else {
			if !bytes.HasPrefix(req.Messages[0].Images[0], []byte("\x89PNG")) {
				t.Error("expected the image to be sent as PNG bytes")
			}
			if !strings.Contains(req.Messages[0].Content, "Convert all text in the image to markdown format.") {
				t.Errorf("expected the markdown OCR prompt, got %q", req.Messages[0].Content)
			}
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		json.NewEncoder(w).Encode(map[string]any{
			"model":      "deepseek-ocr",
			"created_at": "2024-01-01T00:00:00Z",
			"message":    map[string]any{"role": "assistant", "content": "HELLO\n\n\n\nWORLD"},
			"done":       true,
		})
	}))
	defer server.Close()

	m, err := NewChatModel(ChatConfig{
		Name:    "deepseek-ollama",
		Backend: BackendOllama,
		Model:   "deepseek-ocr",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewChatModel failed: %v", err)
	}
	text, err := m.OCR(context.Background(), testImage(), ModeMarkdown)
	if err != nil {
		t.Fatalf("OCR failed: %v", err)
	}
	if text != "HELLO\n\nWORLD" {
		t.Errorf("unexpected OCR text %q", text)
	}
}
