// Package pipeline coordinates page-batch translation: rasterizing a
// page range, requesting per-page segmentation+translation from the
// model, and merging results into the segment collection with
// page-replacement semantics.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"paper-twinview/internal/logger"
	"paper-twinview/internal/raster"
	"paper-twinview/internal/segment"
	"paper-twinview/internal/types"
)

// UnboundedEnd stands in for "no explicit end page requested". The
// rasterizer's page cap is the real bound; the recorded range is
// normalized to the pages actually processed afterwards.
const UnboundedEnd = 9999

// Exported sentinels for caller-distinguishable outcomes.
var (
	// ErrBusy means a batch is already in flight for this document.
	ErrBusy = errors.New("a translation batch is already in progress")
	// ErrNoPagesInRange means the requested range contains no renderable
	// pages; the batch was a no-op and no state was mutated.
	ErrNoPagesInRange = errors.New("no pages fall inside the requested range")
	// ErrNoDocument means no document has been opened yet.
	ErrNoDocument = errors.New("no document loaded")
)

// PageRenderer is the rasterizer boundary consumed by the controller.
type PageRenderer interface {
	RenderPages(ctx context.Context, pdfPath string, maxPages int) ([]raster.PageImage, error)
}

// ModelClient is the model boundary consumed by the controller.
type ModelClient interface {
	RequestMetadata(ctx context.Context, pageOne raster.PageImage) (*types.PaperMetadata, error)
	RequestPageContent(ctx context.Context, page raster.PageImage, pageIndex int, tone types.Tone) (string, error)
}

// StatusFunc receives pipeline status snapshots as a batch advances.
type StatusFunc func(status types.TranslateStatus)

// PageMergedFunc is called after each page's segments land in the
// collection, so observers can re-render incrementally.
type PageMergedFunc func(pageIndex int)

// Controller executes "process pages [start,end]" for the current
// document. The per-page loop is strictly sequential: one in-flight
// model request at a time, which keeps the progress contract linear
// and bounds resource use. Merges are keyed by page index, so the
// ordering guarantee does not depend on it.
type Controller struct {
	renderer PageRenderer
	model    ModelClient
	coll     *segment.Collection
	pageCap  int

	onStatus     StatusFunc
	onPageMerged PageMergedFunc

	mu         sync.Mutex
	filePath   string
	fileName   string
	metadata   *types.PaperMetadata
	watermark  int
	rangeDesc  string
	status     types.TranslateStatus
	processing bool
}

// NewController wires a Controller. pageCap bounds how many pages one
// batch may rasterize.
func NewController(renderer PageRenderer, model ModelClient, coll *segment.Collection, pageCap int) *Controller {
	if pageCap <= 0 {
		pageCap = 50
	}
	return &Controller{
		renderer: renderer,
		model:    model,
		coll:     coll,
		pageCap:  pageCap,
		status:   types.TranslateStatus{Phase: types.PhaseIdle},
	}
}

// SetPageCap updates the per-batch rasterization ceiling. Takes effect
// on the next batch.
func (c *Controller) SetPageCap(cap int) {
	if cap <= 0 {
		return
	}
	c.mu.Lock()
	c.pageCap = cap
	c.mu.Unlock()
}

// SetStatusCallback registers the status observer.
func (c *Controller) SetStatusCallback(fn StatusFunc) { c.onStatus = fn }

// SetPageMergedCallback registers the per-page merge observer.
func (c *Controller) SetPageMergedCallback(fn PageMergedFunc) { c.onPageMerged = fn }

// OpenDocument resets all document-scoped state for a new file. This is
// the only "cancel everything" operation: in-flight completions from
// the previous document become no-ops via the collection's generation.
func (c *Controller) OpenDocument(path string) {
	c.coll.Reset()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
	c.fileName = filepath.Base(path)
	c.metadata = nil
	c.watermark = 0
	c.rangeDesc = ""
	c.status = types.TranslateStatus{Phase: types.PhaseIdle}

	logger.Info("document opened", logger.String("file", c.fileName))
}

// TranslateRange processes the inclusive page range [start, end].
// isAppend keeps the existing collection and range descriptor;
// otherwise the descriptor is replaced (the collection itself is only
// cleared by OpenDocument).
//
// Failure semantics: a rasterizer failure aborts before any mutation; a
// model failure mid-loop aborts the remainder but keeps pages already
// merged in this batch; a malformed per-page response is absorbed by
// the normalizer as a one-segment error page and never aborts the
// batch. Progress runs metadata 0-10, pages 10-90, completion 100, and
// resets to 0 on batch-fatal errors.
func (c *Controller) TranslateRange(ctx context.Context, start, end int, tone types.Tone, isAppend bool) error {
	if start < 1 {
		start = 1
	}
	if end < start {
		return types.NewAppError(types.ErrInvalidInput,
			fmt.Sprintf("invalid page range %d-%d", start, end), nil)
	}

	c.mu.Lock()
	if c.filePath == "" {
		c.mu.Unlock()
		return ErrNoDocument
	}
	if c.processing {
		c.mu.Unlock()
		return ErrBusy
	}
	c.processing = true
	path := c.filePath
	pageCap := c.pageCap
	needMetadata := c.metadata == nil && !(isAppend && start == end)
	c.mu.Unlock()

	// Merges carry the generation captured here; a document switch
	// mid-batch invalidates them instead of clobbering the new state.
	gen := c.coll.Generation()

	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	c.setStatus(types.PhaseRendering, 0, "Rendering pages")

	// Render 1..end rather than the exact slice: metadata extraction
	// needs page 1 even when the requested range starts later.
	renderUpTo := end
	if renderUpTo > pageCap {
		renderUpTo = pageCap
	}
	rendered, err := c.renderer.RenderPages(ctx, path, renderUpTo)
	if err != nil {
		c.setStatus(types.PhaseError, 0, "Page rendering failed")
		return fmt.Errorf("render pages: %w", err)
	}

	var batch []raster.PageImage
	for _, p := range rendered {
		if p.PageIndex >= start && p.PageIndex <= end {
			batch = append(batch, p)
		}
	}
	if len(batch) == 0 {
		c.setStatus(types.PhaseIdle, 0, "Requested pages are beyond the document")
		return ErrNoPagesInRange
	}

	if needMetadata {
		c.setStatus(types.PhaseMetadata, 0, "Extracting paper metadata")
		c.fetchMetadata(ctx, rendered[0])
	}
	c.setStatus(types.PhaseTranslating, 10, "Translating pages")

	total := len(batch)
	for i, page := range batch {
		raw, err := c.model.RequestPageContent(ctx, page, page.PageIndex-1, tone)
		if err != nil {
			// Batch-fatal: keep pages already merged, reset progress.
			c.setStatus(types.PhaseError, 0,
				fmt.Sprintf("Translation failed at page %d", page.PageIndex))
			return fmt.Errorf("page %d content request: %w", page.PageIndex, err)
		}

		segs := segment.Normalize(raw, page.PageIndex)
		if !c.coll.MergePage(gen, page.PageIndex, segs) {
			// Document was replaced while this batch was in flight;
			// stop consuming completions without raising an error.
			logger.Warn("discarding stale batch results",
				logger.Int("pageIndex", page.PageIndex))
			return nil
		}
		if c.onPageMerged != nil {
			c.onPageMerged(page.PageIndex)
		}

		progress := 10 + (80*(i+1))/total
		c.setStatus(types.PhaseTranslating, progress,
			fmt.Sprintf("Translated page %d of %d", i+1, total))
	}

	lastPage := batch[len(batch)-1].PageIndex
	firstPage := batch[0].PageIndex

	c.mu.Lock()
	if lastPage > c.watermark {
		c.watermark = lastPage
	}
	fragment := fmt.Sprintf("%d-%d", firstPage, lastPage)
	if firstPage == lastPage {
		fragment = fmt.Sprintf("%d", firstPage)
	}
	if isAppend && c.rangeDesc != "" {
		c.rangeDesc = c.rangeDesc + ", " + fragment
	} else {
		c.rangeDesc = fragment
	}
	c.mu.Unlock()

	c.setStatus(types.PhaseComplete, 100, "Translation complete")
	logger.Info("batch complete",
		logger.Int("start", firstPage),
		logger.Int("end", lastPage),
		logger.Bool("append", isAppend))
	return nil
}

// fetchMetadata populates metadata once per document, first success
// wins. Failure is tolerated: a stub derived from the file name keeps
// the pipeline moving.
func (c *Controller) fetchMetadata(ctx context.Context, pageOne raster.PageImage) {
	meta, err := c.model.RequestMetadata(ctx, pageOne)
	if err != nil {
		logger.Warn("metadata extraction failed, using filename stub", logger.Err(err))
		meta = c.metadataStub()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		c.metadata = meta
	}
}

// metadataStub derives minimal metadata from the file name.
func (c *Controller) metadataStub() *types.PaperMetadata {
	c.mu.Lock()
	name := c.fileName
	c.mu.Unlock()

	title := strings.TrimSuffix(name, filepath.Ext(name))
	title = strings.NewReplacer("_", " ", "-", " ").Replace(title)
	title = cases.Title(language.English).String(title)
	return &types.PaperMetadata{Title: title, Authors: []string{}}
}

func (c *Controller) setStatus(phase types.TranslatePhase, progress int, message string) {
	c.mu.Lock()
	c.status = types.TranslateStatus{Phase: phase, Progress: progress, Message: message}
	if phase == types.PhaseError {
		c.status.Error = message
	}
	snapshot := c.status
	fn := c.onStatus
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Status returns the current pipeline status snapshot.
func (c *Controller) Status() types.TranslateStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsProcessing reports whether a batch is in flight.
func (c *Controller) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Metadata returns the document metadata, or nil before the first
// successful batch.
func (c *Controller) Metadata() *types.PaperMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// Watermark returns the highest page index processed so far.
func (c *Controller) Watermark() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// ActiveRange returns the human-readable processed-range descriptor,
// e.g. "1-2, 5" after an initial batch plus one on-demand page.
func (c *Controller) ActiveRange() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rangeDesc
}
