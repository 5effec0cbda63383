package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hypro2/document-parser/internal/models"
	"github.com/hypro2/document-parser/internal/services"
	"github.com/joho/godotenv"
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)
}

func parseFlags(args []string) (*models.ParseRequest, error) {
	req := &models.ParseRequest{}
	fs := flag.NewFlagSet("docparser-parse", flag.ContinueOnError)
	fs.StringVar(&req.PDF, "pdf", "", "input PDF path or gs:// URI")
	fs.StringVar(&req.OutDir, "out_dir", "", "output directory or gs:// prefix")
	fs.StringVar(&req.Detector, "detector", "doclayout-yolo", "layout detector: doclayout-yolo, whole-page")
	fs.StringVar(&req.YoloWeights, "yolo-weights", "", "detector weights path or hub repo")
	fs.BoolVar(&req.YoloFromPretrained, "yolo-from-pretrained", false, "load weights from a pretrained hub repo")
	fs.StringVar(&req.OCRProvider, "ocr-provider", "deepseek-ollama", "OCR provider")
	fs.StringVar(&req.OCRScope, "ocr-scope", models.ScopeElements, "OCR scope: elements, page, visuals, none")
	fs.IntVar(&req.PageStart, "page-start", 1, "first page to parse (1-based)")
	fs.IntVar(&req.PageEnd, "page-end", 0, "last page to parse (inclusive, 0 for the last page)")
	fs.StringVar(&req.VLMProvider, "vlm-provider", "none", "VLM provider")
	fs.StringVar(&req.VLMScope, "vlm-scope", models.ScopeNone, "VLM scope: visuals, elements, page, none")
	fs.BoolVar(&req.VLMUseImage, "vlm-use-image", false, "send element images to the VLM")
	fs.StringVar(&req.ExecutionMode, "execution-mode", models.ModeSequential, "sequential or parallel")
	fs.IntVar(&req.ParallelWorkers, "parallel-workers", 4, "worker count in parallel mode")
	fs.StringVar(&req.MDStyle, "md-style", models.StyleFinal, "markdown style: final, debug")
	fs.BoolVar(&req.SaveDetections, "save-detections", false, "write per-page detection JSON and overlays")
	fs.BoolVar(&req.HTMLOutput, "html", false, "also write an HTML rendering")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return req, nil
}

func run(ctx context.Context, args []string) error {
	req, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file.", "error", err)
	}

	config, err := services.LoadConfig()
	if err != nil {
		return err
	}
	parser, err := services.NewParser(ctx, *config)
	if err != nil {
		return fmt.Errorf("failed to initialize parser: %w", err)
	}
	defer parser.Close()

	resp, err := parser.Process(ctx, req)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(resp)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			slog.Error("Parse failed.", "error", err)
		}
		stop()
		os.Exit(1)
	}
}
