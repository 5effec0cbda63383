package main

import (
	"testing"

	"github.com/hypro2/document-parser/internal/models"
)

func TestUploadRequest(t *testing.T) {
	t.Setenv("OUTPUT_BUCKET", "parsed-docs")
	t.Setenv("OCR_PROVIDER", "glm-ocr")
	t.Setenv("PARALLEL_WORKERS", "6")
	t.Setenv("SAVE_DETECTIONS", "true")

	req, err := uploadRequest(models.GCSEvent{Bucket: "uploads", Name: "2024/manual.pdf"}, "evt-1")
	if err != nil {
		t.Fatalf("uploadRequest: %v", err)
	}
	if req.PDF != "gs://uploads/2024/manual.pdf" {
		t.Errorf("PDF = %s", req.PDF)
	}
	if req.OutDir != "gs://parsed-docs/manual" {
		t.Errorf("OutDir = %s", req.OutDir)
	}
	if req.OCRProvider != "glm-ocr" || req.ParallelWorkers != 6 || !req.SaveDetections {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.ExecutionID != "evt-1" || req.ExecutionMode != models.ModeParallel {
		t.Errorf("ExecutionID = %s, mode = %s", req.ExecutionID, req.ExecutionMode)
	}
}

func TestUploadRequest_RequiresOutputBucket(t *testing.T) {
	t.Setenv("OUTPUT_BUCKET", "")
	if _, err := uploadRequest(models.GCSEvent{Bucket: "b", Name: "a.pdf"}, "1"); err == nil {
		t.Error("expected error without OUTPUT_BUCKET")
	}
}
