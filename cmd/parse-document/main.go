package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/hypro2/document-parser/internal/models"
	"github.com/hypro2/document-parser/internal/services"
)

var (
	parserInstance *services.ParserFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleParseDocument" is the entry point name configured in GCP.
	functions.HTTP("HandleParseDocument", handleParseDocument)
}

// main is required by the Go Functions Framework.
func main() {}

func newParser(ctx context.Context) (*services.ParserFunction, error) {
	config, err := services.LoadConfig()
	if err != nil {
		return nil, err
	}
	return services.NewParser(ctx, *config)
}

// handleParseDocument parses one PDF described by a JSON ParseRequest body.
func handleParseDocument(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		parserInstance, initErr = newParser(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := parserInstance.Process(r.Context(), &req)
	if err != nil {
		// Already logged with run context inside Process.
		var ce *services.ConfigError
		if errors.As(err, &ce) {
			http.Error(w, "Bad Request: "+ce.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
