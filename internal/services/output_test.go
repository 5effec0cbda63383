package services

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hypro2/document-parser/internal/models"
)

func TestDocumentStem(t *testing.T) {
	tests := map[string]string{
		"report.pdf":                  "report",
		"/data/in/Annual Report.PDF":  "Annual Report",
		"gs://bucket/uploads/a.b.pdf": "a.b",
		"noext":                       "noext",
		"":                            "document",
	}
	for in, want := range tests {
		if got := documentStem(in); got != want {
			t.Errorf("documentStem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalSink_CreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	sink, err := newSink(nil, filepath.Join(dir, "nested"), false)
	if err != nil {
		t.Fatal(err)
	}
	uri, err := sink.Write(context.Background(), "detections/page_0001.json", "application/json", []byte("{}"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if want := filepath.Join(dir, "nested", "detections", "page_0001.json"); uri != want {
		t.Errorf("uri = %s, want %s", uri, want)
	}
	if data, _ := os.ReadFile(uri); string(data) != "{}" {
		t.Errorf("content = %q", data)
	}
}

func TestNewSink_GCSNeedsClient(t *testing.T) {
	if _, err := newSink(nil, "gs://bucket/out", false); err == nil {
		t.Error("expected an error without a storage client")
	}
}

func TestRenderHTML(t *testing.T) {
	md := "## Results\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n---\n\n> **Figure 1** (page 2)\n>\n> A chart\n"
	html, err := RenderHTML("Q3 <draft>", md)
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	out := string(html)
	for _, want := range []string{
		"<title>Q3 &lt;draft&gt;</title>",
		"<h2>Results</h2>",
		"<table>",
		"<blockquote>",
		"<strong>Figure 1</strong>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("html missing %q:\n%s", want, out)
		}
	}
}

func TestSaveDetections_LargePageNumbers(t *testing.T) {
	dir := t.TempDir()
	pages := []models.Page{{Index: 10000, Image: image.NewRGBA(image.Rect(0, 0, 40, 60))}}
	detected := [][]models.Element{{{Type: models.ElementText, BBox: models.BBox{X0: 2, Y0: 2, X1: 30, Y1: 20}}}}

	got, err := saveDetections(context.Background(), localSink{dir: dir}, pages, detected, []error{nil})
	if err != nil {
		t.Fatalf("saveDetections: %v", err)
	}
	if want := filepath.Join(dir, "detections"); got != want {
		t.Errorf("dir = %s, want %s", got, want)
	}
	for _, name := range []string{"page_10001.json", "page_10001.png"} {
		if _, err := os.Stat(filepath.Join(got, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestParentURI(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/out/detections/page_0001.json":  "gs://bucket/out/detections",
		"gs://bucket/out/detections/page_12345.json": "gs://bucket/out/detections",
		filepath.Join("out", "detections", "page_0001.json"): filepath.Join("out", "detections"),
	}
	for in, want := range tests {
		if got := parentURI(in); got != want {
			t.Errorf("parentURI(%q) = %q, want %q", in, got, want)
		}
	}
}
