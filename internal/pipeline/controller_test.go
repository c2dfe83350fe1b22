package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"paper-twinview/internal/raster"
	"paper-twinview/internal/segment"
	"paper-twinview/internal/types"
)

// fakeRenderer serves a fixed page count without touching pdftoppm.
type fakeRenderer struct {
	pageCount int
	err       error

	mu    sync.Mutex
	calls int
}

func (f *fakeRenderer) RenderPages(ctx context.Context, pdfPath string, maxPages int) ([]raster.PageImage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	end := f.pageCount
	if maxPages > 0 && maxPages < end {
		end = maxPages
	}
	pages := make([]raster.PageImage, 0, end)
	for i := 1; i <= end; i++ {
		pages = append(pages, raster.PageImage{PageIndex: i, JPEG: []byte("jpeg"), Width: 612, Height: 792})
	}
	return pages, nil
}

// fakeModel answers page requests from canned responses. onPage, when
// set, runs before each page response and can inject mid-batch effects.
type fakeModel struct {
	metadata    *types.PaperMetadata
	metadataErr error
	pageErr     map[int]error
	pageRaw     map[int]string
	onPage      func(pageIndex int)

	mu            sync.Mutex
	metadataCalls int
	pageCalls     []int
}

func (f *fakeModel) RequestMetadata(ctx context.Context, pageOne raster.PageImage) (*types.PaperMetadata, error) {
	f.mu.Lock()
	f.metadataCalls++
	f.mu.Unlock()

	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	if f.metadata != nil {
		return f.metadata, nil
	}
	return &types.PaperMetadata{Title: "Attention Is All You Need"}, nil
}

func (f *fakeModel) RequestPageContent(ctx context.Context, page raster.PageImage, pageIndex int, tone types.Tone) (string, error) {
	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, page.PageIndex)
	f.mu.Unlock()

	if f.onPage != nil {
		f.onPage(page.PageIndex)
	}
	if err, ok := f.pageErr[page.PageIndex]; ok {
		return "", err
	}
	if raw, ok := f.pageRaw[page.PageIndex]; ok {
		return raw, nil
	}
	return fmt.Sprintf(`{"segments":[
		{"type":"heading","original":"Section %d","translated":"%d장"},
		{"type":"text","original":"Body of page %d","translated":"%d페이지 본문"}
	]}`, page.PageIndex, page.PageIndex, page.PageIndex, page.PageIndex), nil
}

func newTestController(renderer *fakeRenderer, model *fakeModel, pageCap int) (*Controller, *segment.Collection) {
	coll := segment.NewCollection()
	ctrl := NewController(renderer, model, coll, pageCap)
	return ctrl, coll
}

func TestTranslateRange_FullDocument(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 5}
	model := &fakeModel{}
	ctrl, coll := newTestController(renderer, model, 50)
	ctrl.OpenDocument("/papers/transformer.pdf")

	var statuses []types.TranslateStatus
	ctrl.SetStatusCallback(func(s types.TranslateStatus) { statuses = append(statuses, s) })

	var merged []int
	ctrl.SetPageMergedCallback(func(p int) { merged = append(merged, p) })

	if err := ctrl.TranslateRange(context.Background(), 1, UnboundedEnd, types.ToneAcademic, false); err != nil {
		t.Fatalf("TranslateRange failed: %v", err)
	}

	if model.metadataCalls != 1 {
		t.Errorf("metadata requested %d times, want 1", model.metadataCalls)
	}
	if meta := ctrl.Metadata(); meta == nil || meta.Title != "Attention Is All You Need" {
		t.Errorf("unexpected metadata %+v", meta)
	}

	pages := coll.DistinctProcessedPages()
	if len(pages) != 5 {
		t.Fatalf("expected 5 processed pages, got %v", pages)
	}
	for i, p := range merged {
		if p != i+1 {
			t.Errorf("pages must merge in ascending order, got %v", merged)
			break
		}
	}

	// The recorded range reflects pages actually processed, not the
	// unbounded request.
	if got := ctrl.ActiveRange(); got != "1-5" {
		t.Errorf("active range %q, want %q", got, "1-5")
	}
	if ctrl.Watermark() != 5 {
		t.Errorf("watermark %d, want 5", ctrl.Watermark())
	}

	final := statuses[len(statuses)-1]
	if final.Phase != types.PhaseComplete || final.Progress != 100 {
		t.Errorf("final status %+v, want complete/100", final)
	}
	// Progress through the page loop is monotonic within [10,90].
	for i := 1; i < len(statuses)-1; i++ {
		if statuses[i].Phase == types.PhaseTranslating && statuses[i].Progress > 90 {
			t.Errorf("page-loop progress exceeded 90: %+v", statuses[i])
		}
	}
}

func TestTranslateRange_PageCapBoundsFullDocument(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 30}
	model := &fakeModel{}
	ctrl, coll := newTestController(renderer, model, 10)
	ctrl.OpenDocument("/papers/long.pdf")

	if err := ctrl.TranslateRange(context.Background(), 1, UnboundedEnd, types.ToneAcademic, false); err != nil {
		t.Fatalf("TranslateRange failed: %v", err)
	}
	if got := len(coll.DistinctProcessedPages()); got != 10 {
		t.Errorf("page cap ignored: processed %d pages, want 10", got)
	}
	if got := ctrl.ActiveRange(); got != "1-10" {
		t.Errorf("active range %q, want %q", got, "1-10")
	}
}

func TestTranslateRange_ReanalysisReplacesOnePage(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 5}
	model := &fakeModel{}
	ctrl, coll := newTestController(renderer, model, 50)
	ctrl.OpenDocument("/papers/p.pdf")

	if err := ctrl.TranslateRange(context.Background(), 1, 3, types.ToneAcademic, false); err != nil {
		t.Fatalf("initial batch failed: %v", err)
	}

	before := make(map[int][]string)
	for _, s := range coll.All() {
		before[s.PageIndex] = append(before[s.PageIndex], s.ID)
	}

	if err := ctrl.TranslateRange(context.Background(), 3, 3, types.ToneAcademic, true); err != nil {
		t.Fatalf("re-analysis failed: %v", err)
	}

	after := make(map[int][]string)
	for _, s := range coll.All() {
		after[s.PageIndex] = append(after[s.PageIndex], s.ID)
	}

	for p := 1; p <= 2; p++ {
		if fmt.Sprint(before[p]) != fmt.Sprint(after[p]) {
			t.Errorf("page %d was disturbed by re-analysis of page 3", p)
		}
	}
	if fmt.Sprint(before[3]) == fmt.Sprint(after[3]) {
		t.Error("page 3 segments should have been replaced with fresh IDs")
	}

	// Single-page re-analysis never re-fetches metadata.
	if model.metadataCalls != 1 {
		t.Errorf("metadata requested %d times, want 1", model.metadataCalls)
	}
	if got := ctrl.ActiveRange(); got != "1-3, 3" {
		t.Errorf("active range %q, want %q", got, "1-3, 3")
	}
}

func TestTranslateRange_ProgressiveAppend(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 10}
	model := &fakeModel{}
	ctrl, coll := newTestController(renderer, model, 50)
	ctrl.OpenDocument("/papers/p.pdf")

	if err := ctrl.TranslateRange(context.Background(), 1, 2, types.ToneAcademic, false); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if ctrl.Watermark() != 2 {
		t.Fatalf("watermark %d after first batch, want 2", ctrl.Watermark())
	}

	start := ctrl.Watermark() + 1
	if err := ctrl.TranslateRange(context.Background(), start, start+1, types.ToneAcademic, true); err != nil {
		t.Fatalf("append batch failed: %v", err)
	}

	if ctrl.Watermark() != 4 {
		t.Errorf("watermark %d after append, want 4", ctrl.Watermark())
	}
	if got := ctrl.ActiveRange(); got != "1-2, 3-4" {
		t.Errorf("active range %q, want %q", got, "1-2, 3-4")
	}
	if got := coll.DistinctProcessedPages(); len(got) != 4 {
		t.Errorf("processed pages %v, want 1-4", got)
	}
}

func TestTranslateRange_MalformedPageDoesNotAbortBatch(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 3}
	model := &fakeModel{
		pageRaw: map[int]string{2: "I cannot analyze this page."},
	}
	ctrl, coll := newTestController(renderer, model, 50)
	ctrl.OpenDocument("/papers/p.pdf")

	if err := ctrl.TranslateRange(context.Background(), 1, 3, types.ToneAcademic, false); err != nil {
		t.Fatalf("batch should absorb a malformed page: %v", err)
	}

	groups := coll.GroupByPage()
	if len(groups) != 3 {
		t.Fatalf("expected all 3 pages present, got %d", len(groups))
	}
	page2 := groups[1]
	if len(page2.Segments) != 1 {
		t.Fatalf("malformed page should carry one error segment, got %d", len(page2.Segments))
	}
	if page2.Segments[0].Type != types.SegmentText {
		t.Errorf("error segment type %q, want text", page2.Segments[0].Type)
	}

	if st := ctrl.Status(); st.Phase != types.PhaseComplete || st.Progress != 100 {
		t.Errorf("batch with malformed page must still complete, got %+v", st)
	}
}

func TestTranslateRange_RenderFailureMutatesNothing(t *testing.T) {
	renderer := &fakeRenderer{err: raster.NewRenderError(raster.ErrFileUnreadable, "not a readable PDF", 0, nil)}
	model := &fakeModel{}
	ctrl, coll := newTestController(renderer, model, 50)
	ctrl.OpenDocument("/papers/broken.pdf")

	err := ctrl.TranslateRange(context.Background(), 1, 5, types.ToneAcademic, false)
	if err == nil {
		t.Fatal("expected render error")
	}
	var rerr *raster.RenderError
	if !errors.As(err, &rerr) {
		t.Errorf("expected RenderError in chain, got %v", err)
	}

	if coll.Len() != 0 {
		t.Error("render failure must not mutate the collection")
	}
	if model.metadataCalls != 0 || len(model.pageCalls) != 0 {
		t.Error("render failure must abort before any model request")
	}
	if st := ctrl.Status(); st.Phase != types.PhaseError || st.Progress != 0 {
		t.Errorf("status %+v, want error/0", st)
	}
}

func TestTranslateRange_ModelFailureKeepsEarlierPages(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 3}
	model := &fakeModel{
		pageErr: map[int]error{2: errors.New("api: 503 service unavailable")},
	}
	ctrl, coll := newTestController(renderer, model, 50)
	ctrl.OpenDocument("/papers/p.pdf")

	err := ctrl.TranslateRange(context.Background(), 1, 3, types.ToneAcademic, false)
	if err == nil {
		t.Fatal("expected model error to surface")
	}

	pages := coll.DistinctProcessedPages()
	if len(pages) != 1 || pages[0] != 1 {
		t.Errorf("expected page 1 to survive the aborted batch, got %v", pages)
	}
	// Page 3 must never be requested after page 2 failed.
	for _, p := range model.pageCalls {
		if p == 3 {
			t.Error("batch continued past a model failure")
		}
	}
	if st := ctrl.Status(); st.Phase != types.PhaseError || st.Progress != 0 {
		t.Errorf("status %+v, want error/0", st)
	}
}

func TestTranslateRange_RangeBeyondDocument(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 2}
	model := &fakeModel{}
	ctrl, coll := newTestController(renderer, model, 50)
	ctrl.OpenDocument("/papers/short.pdf")

	err := ctrl.TranslateRange(context.Background(), 5, 6, types.ToneAcademic, false)
	if !errors.Is(err, ErrNoPagesInRange) {
		t.Fatalf("expected ErrNoPagesInRange, got %v", err)
	}
	if coll.Len() != 0 {
		t.Error("out-of-range request must not mutate the collection")
	}
}

func TestTranslateRange_NoDocument(t *testing.T) {
	ctrl, _ := newTestController(&fakeRenderer{pageCount: 2}, &fakeModel{}, 50)
	if err := ctrl.TranslateRange(context.Background(), 1, 2, types.ToneAcademic, false); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}
}

func TestTranslateRange_InvalidRange(t *testing.T) {
	ctrl, _ := newTestController(&fakeRenderer{pageCount: 5}, &fakeModel{}, 50)
	ctrl.OpenDocument("/papers/p.pdf")
	if err := ctrl.TranslateRange(context.Background(), 4, 2, types.ToneAcademic, false); err == nil {
		t.Fatal("expected error for end < start")
	}
}

func TestTranslateRange_StaleResultsAfterDocumentSwitch(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 3}
	model := &fakeModel{}
	ctrl, coll := newTestController(renderer, model, 50)

	// The user opens another document while page 2 is in flight.
	model.onPage = func(pageIndex int) {
		if pageIndex == 2 {
			ctrl.OpenDocument("/papers/other.pdf")
		}
	}
	ctrl.OpenDocument("/papers/first.pdf")

	if err := ctrl.TranslateRange(context.Background(), 1, 3, types.ToneAcademic, false); err != nil {
		t.Fatalf("stale batch must end silently, got %v", err)
	}

	// Page 1 merged before the switch was cleared by the reset; page 2's
	// completion was stale and discarded.
	if coll.Len() != 0 {
		t.Errorf("stale results leaked into the new document: %d segments", coll.Len())
	}
	for _, p := range model.pageCalls {
		if p == 3 {
			t.Error("batch continued consuming completions after going stale")
		}
	}
}

func TestMetadataStubFallback(t *testing.T) {
	renderer := &fakeRenderer{pageCount: 1}
	model := &fakeModel{metadataErr: errors.New("api: 500")}
	ctrl, _ := newTestController(renderer, model, 50)
	ctrl.OpenDocument("/papers/deep_residual-learning.pdf")

	if err := ctrl.TranslateRange(context.Background(), 1, 1, types.ToneAcademic, false); err != nil {
		t.Fatalf("metadata failure must not fail the batch: %v", err)
	}

	meta := ctrl.Metadata()
	if meta == nil {
		t.Fatal("expected stub metadata")
	}
	if meta.Title != "Deep Residual Learning" {
		t.Errorf("stub title %q, want %q", meta.Title, "Deep Residual Learning")
	}
}
