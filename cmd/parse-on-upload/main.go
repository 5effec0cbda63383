package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/hypro2/document-parser/internal/gcp"
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

	functions.CloudEvent("ParseOnUpload", parseOnUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func newParser(ctx context.Context) (*services.ParserFunction, error) {
	config, err := services.LoadConfig()
	if err != nil {
		return nil, err
	}
	if config.JobCollection == "" {
		config.JobCollection = "parse-jobs"
	}
	// Storage triggers are delivered at least once.
	config.SkipDuplicates = true
	config.AtomicWrites = true
	return services.NewParser(ctx, *config)
}

// uploadRequest builds the run configuration for an uploaded object from the
// function's environment.
func uploadRequest(e models.GCSEvent, eventID string) (*models.ParseRequest, error) {
	outputBucket := gcp.GetEnv("OUTPUT_BUCKET", "")
	if outputBucket == "" {
		return nil, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	workers, err := strconv.Atoi(gcp.GetEnv("PARALLEL_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid PARALLEL_WORKERS: %w", err)
	}
	stem := strings.TrimSuffix(path.Base(e.Name), path.Ext(e.Name))
	return &models.ParseRequest{
		PDF:                fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name),
		OutDir:             fmt.Sprintf("gs://%s/%s", outputBucket, stem),
		Detector:           gcp.GetEnv("DETECTOR", "doclayout-yolo"),
		YoloWeights:        gcp.GetEnv("YOLO_WEIGHTS", ""),
		YoloFromPretrained: gcp.GetEnv("YOLO_FROM_PRETRAINED", "") == "true",
		OCRProvider:        gcp.GetEnv("OCR_PROVIDER", "deepseek-vllm"),
		OCRScope:           gcp.GetEnv("OCR_SCOPE", models.ScopeElements),
		VLMProvider:        gcp.GetEnv("VLM_PROVIDER", "none"),
		VLMScope:           gcp.GetEnv("VLM_SCOPE", models.ScopeNone),
		VLMUseImage:        gcp.GetEnv("VLM_USE_IMAGE", "true") == "true",
		ExecutionMode:      models.ModeParallel,
		ParallelWorkers:    workers,
		MDStyle:            gcp.GetEnv("MD_STYLE", models.StyleFinal),
		SaveDetections:     gcp.GetEnv("SAVE_DETECTIONS", "") == "true",
		HTMLOutput:         gcp.GetEnv("HTML_OUTPUT", "") == "true",
		ExecutionID:        eventID,
	}, nil
}

// parseOnUpload is the Cloud Function entry point for object-finalized events.
func parseOnUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		parserInstance, initErr = newParser(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	logCtx := slog.With("gcsBucket", gcsEvent.Bucket, "gcsObject", gcsEvent.Name, "eventId", e.ID())

	if !strings.EqualFold(path.Ext(gcsEvent.Name), ".pdf") {
		logCtx.Info("Ignoring non-PDF object.")
		return nil
	}

	req, err := uploadRequest(gcsEvent, e.ID())
	if err != nil {
		logCtx.Error("Failed to build parse request", "error", err)
		return err
	}
	if _, err := parserInstance.Process(ctx, req); err != nil {
		return err
	}
	return nil
}
