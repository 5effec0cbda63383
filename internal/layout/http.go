package layout

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hypro2/document-parser/internal/models"
)

// HTTPDetector calls a layout model served over HTTP (for example a
// DocLayout-YOLO server). The server loads weights on /load and returns boxes
// from /detect.
type HTTPDetector struct {
	name       string
	baseURL    string
	opts       Options
	httpClient *http.Client
}

type loadRequest struct {
	Weights        string `json:"weights"`
	FromPretrained bool   `json:"from_pretrained"`
}

type detectRequest struct {
	ImageBase64 string  `json:"image_base64"`
	Weights     string  `json:"weights"`
	Confidence  float64 `json:"conf,omitempty"`
	ImageSize   int     `json:"imgsz,omitempty"`
}

type detection struct {
	Label string     `json:"label"`
	BBox  [4]float64 `json:"bbox"`
	Score float64    `json:"score"`
}

type detectResponse struct {
	Detections []detection `json:"detections"`
}

// NewHTTPDetector validates opts and returns a detector client.
func NewHTTPDetector(name string, opts Options) (*HTTPDetector, error) {
	if opts.ServerURL == "" {
		return nil, fmt.Errorf("detector %s requires a server URL", name)
	}
	if opts.Weights == "" {
		return nil, fmt.Errorf("detector %s requires a weights reference", name)
	}
	return &HTTPDetector{
		name:       name,
		baseURL:    strings.TrimRight(opts.ServerURL, "/"),
		opts:       opts,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (d *HTTPDetector) Name() string { return d.name }

// Load asks the server to load the configured weights.
func (d *HTTPDetector) Load(ctx context.Context) error {
	req := loadRequest{Weights: d.opts.Weights, FromPretrained: d.opts.FromPretrained}
	if err := d.post(ctx, "/load", req, nil); err != nil {
		return fmt.Errorf("failed to load weights %s: %w", d.opts.Weights, err)
	}
	return nil
}

// Detect returns the page's elements in reading order with crops attached.
func (d *HTTPDetector) Detect(ctx context.Context, page models.Page) ([]models.Element, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, page.Image); err != nil {
		return nil, &DetectorError{Detector: d.name, Page: page.Number(), Err: fmt.Errorf("failed to encode page: %w", err)}
	}
	req := detectRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Weights:     d.opts.Weights,
		Confidence:  d.opts.Confidence,
		ImageSize:   d.opts.ImageSize,
	}
	var resp detectResponse
	if err := d.post(ctx, "/detect", req, &resp); err != nil {
		return nil, &DetectorError{Detector: d.name, Page: page.Number(), Err: err}
	}

	elements := make([]models.Element, 0, len(resp.Detections))
	for _, det := range resp.Detections {
		box := models.BBox{X0: det.BBox[0], Y0: det.BBox[1], X1: det.BBox[2], Y1: det.BBox[3]}
		if box.X1 <= box.X0 || box.Y1 <= box.Y0 {
			continue
		}
		elements = append(elements, models.Element{
			Page:  page.Index,
			Type:  TypeForLabel(det.Label),
			BBox:  box,
			Score: det.Score,
			Label: det.Label,
			Image: Crop(page.Image, box),
		})
	}
	SortReadingOrder(elements)
	return elements, nil
}

func (d *HTTPDetector) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector server error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
