package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/hypro2/document-parser/internal/gcp"
	"github.com/hypro2/document-parser/internal/layout"
	"github.com/hypro2/document-parser/internal/models"
	"github.com/hypro2/document-parser/internal/providers"
	"github.com/hypro2/document-parser/internal/raster"
)

// JobTracker records the lifecycle of a parse run.
type JobTracker interface {
	FindByHash(ctx context.Context, fileHash string) (string, bool, error)
	Create(ctx context.Context, job models.Job) (string, error)
	Update(ctx context.Context, jobID string, fields map[string]any) error
}

// WorkflowStarter hands a finished run to a downstream workflow.
type WorkflowStarter interface {
	Trigger(ctx context.Context, payload map[string]any) (string, error)
}

type nopTracker struct{}

func (nopTracker) FindByHash(context.Context, string) (string, bool, error) { return "", false, nil }

func (nopTracker) Create(context.Context, models.Job) (string, error) { return "", nil }

func (nopTracker) Update(context.Context, string, map[string]any) error { return nil }

// ParserFunction runs parse requests against its configured components.
type ParserFunction struct {
	config   ParserConfig
	tracker  JobTracker
	workflow WorkflowStarter

	rasterizer raster.Rasterizer
	detector   layout.Detector
	ocr        providers.OCRModel
	vlm        providers.VisionModel

	storageOnce   sync.Once
	storageClient *storage.Client
	storageErr    error

	closers []io.Closer
}

// Option overrides a component that would otherwise be built from the request.
type Option func(*ParserFunction)

// WithRasterizer replaces the rasterizer chosen by RASTERIZER.
func WithRasterizer(r raster.Rasterizer) Option {
	return func(f *ParserFunction) { f.rasterizer = r }
}

// WithDetector replaces the layout detector named in the request.
func WithDetector(d layout.Detector) Option {
	return func(f *ParserFunction) { f.detector = d }
}

// WithOCRModel replaces the OCR provider named in the request.
func WithOCRModel(m providers.OCRModel) Option {
	return func(f *ParserFunction) { f.ocr = m }
}

// WithVisionModel replaces the VLM provider named in the request.
func WithVisionModel(m providers.VisionModel) Option {
	return func(f *ParserFunction) { f.vlm = m }
}

// WithJobTracker records job state in t instead of Firestore.
func WithJobTracker(t JobTracker) Option {
	return func(f *ParserFunction) { f.tracker = t }
}

// WithWorkflowStarter hands finished runs to w instead of Cloud Workflows.
func WithWorkflowStarter(w WorkflowStarter) Option {
	return func(f *ParserFunction) { f.workflow = w }
}

// WithStorageClient uses c for gs:// inputs and outputs instead of a new client.
func WithStorageClient(c *storage.Client) Option {
	return func(f *ParserFunction) {
		f.storageOnce.Do(func() { f.storageClient = c })
	}
}

// NewParser builds a parser. The Firestore job tracker and the workflow
// trigger are connected only when their collection and workflow ID are set.
func NewParser(ctx context.Context, config ParserConfig, opts ...Option) (*ParserFunction, error) {
	f := &ParserFunction{config: config}
	for _, opt := range opts {
		opt(f)
	}

	if f.tracker == nil {
		if config.JobCollection == "" {
			f.tracker = nopTracker{}
		} else {
			if config.ProjectID == "" {
				return nil, configErrorf("PROJECT_ID", "must be set when FIRESTORE_COLLECTION is set")
			}
			tracker, err := gcp.NewFirestoreTracker(ctx, config.ProjectID, config.JobCollection)
			if err != nil {
				return nil, fmt.Errorf("failed to create firestore client: %w", err)
			}
			f.tracker = tracker
			f.closers = append(f.closers, tracker)
		}
	}

	if f.workflow == nil && config.WorkflowID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		f.workflow = trigger
		f.closers = append(f.closers, trigger)
	}

	slog.Info("Document parser initialized.", "config", config.String(), "jobCollection", config.JobCollection, "workflowId", config.WorkflowID)
	return f, nil
}

// Close releases the clients opened by NewParser.
func (f *ParserFunction) Close() error {
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c.Close())
	}
	if f.storageClient != nil {
		errs = append(errs, f.storageClient.Close())
	}
	return errors.Join(errs...)
}

func (f *ParserFunction) storage(ctx context.Context) (*storage.Client, error) {
	f.storageOnce.Do(func() {
		f.storageClient, f.storageErr = storage.NewClient(ctx)
	})
	if f.storageErr != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", f.storageErr)
	}
	return f.storageClient, nil
}

// runComponents are the collaborators used by a single run.
type runComponents struct {
	detector layout.Detector
	ocr      providers.OCRModel
	vlm      providers.VisionModel
	closers  []io.Closer
}

func (c *runComponents) close() {
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			slog.Warn("Failed to close provider.", "error", err)
		}
	}
}

// Process runs one parse request end to end and writes the markdown document.
//
// Only configuration errors, component initialization failures and output
// failures fail the run. Detection failures are confined to their page and
// provider failures to their element.
func (f *ParserFunction) Process(ctx context.Context, req *models.ParseRequest) (*models.ParseResponse, error) {
	req.Normalize()
	runID := req.ExecutionID
	if runID == "" {
		runID = uuid.NewString()
	}
	logCtx := slog.With("runId", runID, "pdf", req.PDF)

	if err := ValidateRequest(req); err != nil {
		logCtx.Error("Invalid parse request.", "error", err)
		return nil, err
	}
	logCtx.Info("Processing parse request.",
		"detector", req.Detector,
		"ocrProvider", req.OCRProvider,
		"ocrScope", req.OCRScope,
		"vlmProvider", req.VLMProvider,
		"vlmScope", req.VLMScope,
		"executionMode", req.ExecutionMode,
		"parallelWorkers", req.ParallelWorkers,
	)

	tempDir, err := os.MkdirTemp("", "docparser-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	pdfPath, err := f.resolveInput(ctx, req.PDF, tempDir)
	if err != nil {
		logCtx.Error("Failed to resolve input PDF.", "error", err)
		return nil, err
	}

	// The page range is checked before any job record or model is created.
	rasterizer := f.rasterizer
	if rasterizer == nil {
		if rasterizer, err = raster.New(f.config.Rasterizer, f.config.DPI); err != nil {
			logCtx.Error("Invalid rasterizer.", "error", err)
			return nil, &ConfigError{Field: "RASTERIZER", Err: err}
		}
	}
	numbers, err := selectPages(ctx, logCtx, rasterizer, pdfPath, req)
	if err != nil {
		return nil, err
	}

	sink, err := f.sink(ctx, req.OutDir)
	if err != nil {
		logCtx.Error("Failed to prepare output location.", "error", err)
		return nil, err
	}

	fileHash, err := calculateFileHash(pdfPath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return nil, fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	if f.config.SkipDuplicates {
		existing, found, err := f.tracker.FindByHash(ctx, fileHash)
		if err != nil {
			logCtx.Error("Failed to check for duplicate", "error", err)
			return nil, err
		}
		if found {
			logCtx.Info("Duplicate file detected. Skipping.", "existingJobId", existing)
			return &models.ParseResponse{Status: models.StatusDuplicate, RunID: runID}, nil
		}
	}

	comps, err := f.components(ctx, req)
	if err != nil {
		logCtx.Error("Failed to initialize components.", "error", err)
		return nil, err
	}
	defer comps.close()

	jobID, err := f.tracker.Create(ctx, models.Job{
		FileHash:         fileHash,
		OriginalFilename: req.PDF,
		Status:           models.StatusValidating,
		RunID:            runID,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		logCtx.Error("Failed to create job record", "error", err)
		return nil, err
	}
	if jobID != "" {
		logCtx = logCtx.With("jobId", jobID)
	}

	pages, err := f.rasterize(ctx, logCtx, jobID, rasterizer, pdfPath, numbers, req)
	if err != nil {
		return nil, err
	}

	if err := f.tracker.Update(ctx, jobID, map[string]any{"status": models.StatusDetecting, "pageCount": len(pages)}); err != nil {
		return nil, f.handleError(ctx, logCtx, jobID, "failed to update status to DETECTING", err)
	}
	detected, detectErrs := f.detect(ctx, logCtx, req, comps.detector, pages)

	if err := f.tracker.Update(ctx, jobID, map[string]any{"status": models.StatusParsing}); err != nil {
		return nil, f.handleError(ctx, logCtx, jobID, "failed to update status to PARSING", err)
	}
	doc := f.parse(ctx, logCtx, req, comps, pages, detected, detectErrs)

	resp := &models.ParseResponse{
		Status:         models.StatusCompleted,
		RunID:          runID,
		PageCount:      len(pages),
		FailedPages:    doc.FailedPages(),
		FailedElements: doc.FailedElements(),
	}
	if err := f.writeOutputs(ctx, logCtx, jobID, sink, req, doc, pages, detected, detectErrs, resp); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"status":         models.StatusCompleted,
		"outputUri":      resp.OutputURI,
		"failedElements": resp.FailedElements,
	}
	if len(resp.FailedPages) > 0 {
		updates["failedPages"] = resp.FailedPages
	}
	if err := f.tracker.Update(ctx, jobID, updates); err != nil {
		return nil, f.handleError(ctx, logCtx, jobID, "failed to update status to COMPLETED", err)
	}

	if f.workflow != nil {
		if err := f.triggerWorkflow(ctx, logCtx, jobID, resp); err != nil {
			return nil, err
		}
	}

	logCtx.Info("Parse complete.", "outputUri", resp.OutputURI, "pageCount", resp.PageCount, "failedPages", resp.FailedPages, "failedElements", resp.FailedElements)
	return resp, nil
}

func (f *ParserFunction) resolveInput(ctx context.Context, pdf, tempDir string) (string, error) {
	if !gcp.IsGCSURI(pdf) {
		if _, err := os.Stat(pdf); err != nil {
			return "", &ConfigError{Field: "pdf", Err: err}
		}
		return pdf, nil
	}
	bucket, object, err := gcp.ParseGCSURI(pdf)
	if err != nil {
		return "", &ConfigError{Field: "pdf", Err: err}
	}
	client, err := f.storage(ctx)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(tempDir, "source.pdf")
	if err := gcp.DownloadObject(ctx, client, bucket, object, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (f *ParserFunction) sink(ctx context.Context, outDir string) (Sink, error) {
	var client *storage.Client
	if gcp.IsGCSURI(outDir) {
		var err error
		if client, err = f.storage(ctx); err != nil {
			return nil, err
		}
	}
	return newSink(client, outDir, f.config.AtomicWrites)
}

// components builds the detector and providers for req. Any failure here,
// including the detector failing to load, aborts the run.
func (f *ParserFunction) components(ctx context.Context, req *models.ParseRequest) (*runComponents, error) {
	c := &runComponents{detector: f.detector, ocr: f.ocr, vlm: f.vlm}
	var err error

	if c.detector == nil {
		c.detector, err = layout.New(req.Detector, layout.Options{
			ServerURL:      f.config.DetectorURL,
			Weights:        req.YoloWeights,
			FromPretrained: req.YoloFromPretrained,
			Confidence:     f.config.DetectorConfidence,
			ImageSize:      f.config.DetectorImageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create detector: %w", err)
		}
	}
	if err := c.detector.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load detector %s: %w", c.detector.Name(), err)
	}

	if c.ocr == nil && req.OCRScope != models.ScopeNone {
		if c.ocr, err = providers.NewOCR(req.OCRProvider, f.config.Providers); err != nil {
			return nil, fmt.Errorf("failed to create OCR provider: %w", err)
		}
	}
	if c.vlm == nil && req.VLMScope != models.ScopeNone {
		if c.vlm, err = providers.NewVLM(ctx, req.VLMProvider, f.config.Providers); err != nil {
			return nil, fmt.Errorf("failed to create VLM provider: %w", err)
		}
		if cl, ok := c.vlm.(io.Closer); ok && f.vlm == nil {
			c.closers = append(c.closers, cl)
		}
	}
	return c, nil
}

// selectPages resolves the requested page range against the document.
func selectPages(ctx context.Context, logCtx *slog.Logger, r raster.Rasterizer, pdfPath string, req *models.ParseRequest) ([]int, error) {
	pageCount, err := r.PageCount(ctx, pdfPath)
	if err != nil {
		logCtx.Error("Failed to get page count.", "error", err)
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	numbers, err := raster.SelectPages(pageCount, req.PageStart, req.PageEnd)
	if err != nil {
		logCtx.Error("Invalid page range.", "pageCount", pageCount, "pageStart", req.PageStart, "pageEnd", req.PageEnd, "error", err)
		return nil, &ConfigError{Field: "pageStart", Err: err}
	}
	logCtx.Info("Selected pages.", "pageCount", pageCount, "first", numbers[0], "last", numbers[len(numbers)-1])
	return numbers, nil
}

func (f *ParserFunction) rasterize(ctx context.Context, logCtx *slog.Logger, jobID string, r raster.Rasterizer, pdfPath string, numbers []int, req *models.ParseRequest) ([]models.Page, error) {
	logCtx.Info("Rasterizing pages.", "pages", len(numbers))
	pages, err := r.Rasterize(ctx, pdfPath, numbers)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, jobID, "failed to rasterize PDF", err)
	}
	for i := range pages {
		if pages[i].Source == "" {
			pages[i].Source = req.PDF
		}
	}
	return pages, nil
}

// detect runs the layout detector over every page. A failure is recorded for
// its page only.
func (f *ParserFunction) detect(ctx context.Context, logCtx *slog.Logger, req *models.ParseRequest, d layout.Detector, pages []models.Page) ([][]models.Element, []error) {
	outcomes := Run(ctx, pages, req.ExecutionMode, req.ParallelWorkers, f.config.UnitTimeout,
		func(ctx context.Context, page models.Page) ([]models.Element, error) {
			return d.Detect(ctx, page)
		})

	detected := make([][]models.Element, len(pages))
	errs := make([]error, len(pages))
	for i, o := range outcomes {
		page := pages[i]
		if o.Err != nil {
			var de *layout.DetectorError
			if !errors.As(o.Err, &de) {
				o.Err = &layout.DetectorError{Detector: d.Name(), Page: page.Number(), Err: o.Err}
			}
			errs[i] = o.Err
			logCtx.Error("Layout detection failed for page.", "page", page.Number(), "error", o.Err)
			continue
		}
		elements := o.Result
		for j := range elements {
			elements[j].Page = page.Index
			elements[j].Index = j
			if elements[j].Image == nil {
				elements[j].Image = layout.Crop(page.Image, elements[j].BBox)
			}
		}
		detected[i] = elements
		logCtx.Info("Detected page layout.", "page", page.Number(), "elements", len(elements))
	}
	return detected, errs
}

const (
	slotPageText = -1
	slotSummary  = -2
)

// workUnit is one provider call. slot is the element index on its page, or
// one of the page-level slots.
type workUnit struct {
	page        int
	slot        int
	destination models.Destination
	element     models.Element
	image       image.Image
}

// parse routes every detected element, runs the provider calls and collects
// exactly one result per element.
func (f *ParserFunction) parse(ctx context.Context, logCtx *slog.Logger, req *models.ParseRequest, comps *runComponents, pages []models.Page, detected [][]models.Element, detectErrs []error) *models.Document {
	doc := &models.Document{Source: req.PDF, Pages: make([]models.PageResult, len(pages))}
	pageOCR, pageVLM := PageUnits(req.OCRScope, req.VLMScope)

	var units []workUnit
	for i, page := range pages {
		doc.Pages[i] = models.PageResult{Index: page.Index}
		if detectErrs[i] != nil {
			doc.Pages[i].Err = detectErrs[i]
			continue
		}
		if pageOCR {
			units = append(units, workUnit{page: i, slot: slotPageText, destination: models.DestinationOCR, image: page.Image})
		}
		results := make([]models.ElementResult, len(detected[i]))
		for j, el := range detected[i] {
			dest := Route(el, req.OCRScope, req.VLMScope)
			results[j] = models.ElementResult{Element: el, Destination: dest}
			if dest == models.DestinationSkip {
				continue
			}
			units = append(units, workUnit{page: i, slot: j, destination: dest, element: el, image: el.Image})
		}
		doc.Pages[i].Elements = results
		if pageVLM {
			units = append(units, workUnit{page: i, slot: slotSummary, destination: models.DestinationVLM, image: page.Image})
		}
	}
	logCtx.Info("Scheduling provider calls.", "units", len(units), "executionMode", req.ExecutionMode)

	outcomes := Run(ctx, units, req.ExecutionMode, req.ParallelWorkers, f.config.UnitTimeout,
		func(ctx context.Context, u workUnit) (string, error) {
			return f.call(ctx, req, comps, pages[u.page], u)
		})

	for _, o := range outcomes {
		u := o.Unit
		res := models.ElementResult{Element: u.element, Destination: u.destination, Text: o.Result}
		if u.destination == models.DestinationOCR {
			res.Provider, res.Mode = comps.ocr.Name(), string(providers.ModeMarkdown)
		} else {
			res.Provider, res.Mode = comps.vlm.Name(), vlmMode(req)
		}
		if o.Err != nil {
			op := providers.OpOCR
			if u.destination == models.DestinationVLM {
				op = providers.OpVLM
			}
			res.Err = providers.AsError(op, res.Provider, o.Err)
			res.Text = ""
			logCtx.Warn("Provider call failed.", "page", pages[u.page].Number(), "element", u.slot, "provider", res.Provider, "error", res.Err)
		}

		p := &doc.Pages[u.page]
		switch u.slot {
		case slotPageText:
			p.PageText = &res
		case slotSummary:
			p.Summary = &res
		default:
			p.Elements[u.slot] = res
		}
	}
	return doc
}

func (f *ParserFunction) call(ctx context.Context, req *models.ParseRequest, comps *runComponents, page models.Page, u workUnit) (string, error) {
	var (
		text string
		err  error
		name string
	)
	if u.destination == models.DestinationOCR {
		name = comps.ocr.Name()
		text, err = comps.ocr.OCR(ctx, u.image, providers.ModeMarkdown)
	} else {
		var images []image.Image
		if req.VLMUseImage {
			images = []image.Image{u.image}
		}
		name = comps.vlm.Name()
		text, err = comps.vlm.Generate(ctx, vlmPrompt(u, page, req.VLMUseImage), images)
	}
	if err != nil {
		return "", err
	}
	// Adapters outside this module may still report failures as text.
	if err := providers.CheckSentinel(name, text); err != nil {
		return "", err
	}
	return text, nil
}

func vlmMode(req *models.ParseRequest) string {
	if req.VLMUseImage {
		return "image"
	}
	return "text"
}

func vlmPrompt(u workUnit, page models.Page, withImage bool) string {
	if u.slot == slotSummary {
		if withImage {
			return "Summarize the content of this document page in two or three sentences."
		}
		return fmt.Sprintf("Page %d of %s could not be shown. State briefly that no summary is available.", page.Number(), filepath.Base(page.Source))
	}
	if !withImage {
		return fmt.Sprintf("A %s region was detected on page %d at %s. Describe in one sentence what such a region typically contains.",
			u.element.Type, page.Number(), u.element.BBox)
	}
	switch u.element.Type {
	case models.ElementFigure:
		return "Describe this figure in two or three sentences. Name the chart type, axes and main trend when present."
	case models.ElementTable:
		return "Transcribe this table as a GitHub-flavored markdown table. Output only the table."
	default:
		return "Transcribe the text in this image region as markdown. Output only the text."
	}
}

func (f *ParserFunction) writeOutputs(ctx context.Context, logCtx *slog.Logger, jobID string, sink Sink, req *models.ParseRequest, doc *models.Document, pages []models.Page, detected [][]models.Element, detectErrs []error, resp *models.ParseResponse) error {
	markdown := Assemble(doc, req.MDStyle)
	stem := documentStem(req.PDF)

	uri, err := sink.Write(ctx, stem+".md", "text/markdown; charset=utf-8", []byte(markdown))
	if err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to write markdown", err)
	}
	resp.OutputURI = uri

	if req.HTMLOutput {
		html, err := RenderHTML(stem, markdown)
		if err != nil {
			return f.handleError(ctx, logCtx, jobID, "failed to render HTML", err)
		}
		if resp.HTMLURI, err = sink.Write(ctx, stem+".html", "text/html; charset=utf-8", html); err != nil {
			return f.handleError(ctx, logCtx, jobID, "failed to write HTML", err)
		}
	}

	if req.SaveDetections {
		if resp.DetectionsURI, err = saveDetections(ctx, sink, pages, detected, detectErrs); err != nil {
			return f.handleError(ctx, logCtx, jobID, "failed to save detections", err)
		}
	}
	logCtx.Info("Wrote parse outputs.", "outputUri", resp.OutputURI, "htmlUri", resp.HTMLURI, "detectionsUri", resp.DetectionsURI)
	return nil
}

func (f *ParserFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, jobID string, resp *models.ParseResponse) error {
	logCtx.Info("Triggering workflow.")
	name, err := f.workflow.Trigger(ctx, map[string]any{
		"jobId":          jobID,
		"runId":          resp.RunID,
		"outputUri":      resp.OutputURI,
		"pageCount":      resp.PageCount,
		"failedElements": resp.FailedElements,
	})
	if err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to trigger workflow execution", err)
	}
	logCtx.Info("Hand-off to workflow complete.", "execution", name)
	return nil
}

func (f *ParserFunction) handleError(ctx context.Context, logCtx *slog.Logger, jobID, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	fields := map[string]any{
		"status":       models.StatusFailed,
		"errorDetails": fmt.Sprintf("%s: %v", message, originalErr),
	}
	if err := f.tracker.Update(ctx, jobID, fields); err != nil {
		logCtx.Error("CRITICAL: Failed to update job status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
