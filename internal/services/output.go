package services

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/hypro2/document-parser/internal/gcp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Sink stores run artifacts under an output root.
type Sink interface {
	// Write stores data at name (slash-separated, relative) and returns its URI.
	Write(ctx context.Context, name, contentType string, data []byte) (string, error)
}

type localSink struct {
	dir string
}

func (s localSink) Write(_ context.Context, name, _ string, data []byte) (string, error) {
	dest := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return dest, nil
}

type gcsSink struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
	atomic     bool
}

func (s gcsSink) Write(ctx context.Context, name, contentType string, data []byte) (string, error) {
	const maxRetries = 4
	object := path.Join(s.prefix, name)
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
		var err error
		if s.atomic {
			err = gcp.SaveToGCSAtomically(writeCtx, s.bucket, object, data)
		} else {
			err = gcp.WriteObject(writeCtx, s.bucket, object, contentType, data)
		}
		cancel()
		if err == nil {
			return fmt.Sprintf("gs://%s/%s", s.bucketName, object), nil
		}

		lastErr = err
		slog.Warn("Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("upload for %s failed after all retries: %w", object, lastErr)
}

// newSink returns a GCS sink for gs:// roots and a directory sink otherwise.
func newSink(client *storage.Client, outDir string, atomic bool) (Sink, error) {
	if !gcp.IsGCSURI(outDir) {
		return localSink{dir: outDir}, nil
	}
	if client == nil {
		return nil, fmt.Errorf("a storage client is required for %s", outDir)
	}
	bucket, prefix, err := gcp.ParseGCSURI(outDir)
	if err != nil {
		return nil, err
	}
	return gcsSink{
		bucket:     client.Bucket(bucket),
		bucketName: bucket,
		prefix:     strings.Trim(prefix, "/"),
		atomic:     atomic,
	}, nil
}

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts the assembled markdown into a standalone HTML page.
func RenderHTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", html.EscapeString(title))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

// documentStem is the output base name for a PDF path or gs:// URI.
func documentStem(pdf string) string {
	base := path.Base(filepath.ToSlash(pdf))
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		return "document"
	}
	return stem
}
