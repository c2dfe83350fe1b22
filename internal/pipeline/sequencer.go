package pipeline

import (
	"context"

	"paper-twinview/internal/segment"
	"paper-twinview/internal/types"
)

// DefaultBatchSize is the number of pages processed per progressive
// batch.
const DefaultBatchSize = 2

// PageAction tells the caller what a page-picker click resulted in.
type PageAction string

const (
	// ActionScroll means the page is already processed; scroll to it.
	ActionScroll PageAction = "scroll"
	// ActionTranslated means the page was translated on demand.
	ActionTranslated PageAction = "translated"
)

// Sequencer is the progressive-load policy layer. It holds no state of
// its own: every decision derives from the controller's watermark and
// the collection's processed-page set.
type Sequencer struct {
	ctrl *Controller
	coll *segment.Collection
}

// NewSequencer wires a Sequencer over the given controller/collection.
func NewSequencer(ctrl *Controller, coll *segment.Collection) *Sequencer {
	return &Sequencer{ctrl: ctrl, coll: coll}
}

// FirstBatch translates the default initial range, pages 1-2.
func (s *Sequencer) FirstBatch(ctx context.Context, tone types.Tone) error {
	return s.ctrl.TranslateRange(ctx, 1, DefaultBatchSize, tone, false)
}

// FullDocument translates from page 1 up to the rasterizer's page cap.
// "Full document" deliberately means "first page-cap pages": the cap is
// a visible setting, and the recorded range reflects the pages actually
// processed rather than the unbounded request.
func (s *Sequencer) FullDocument(ctx context.Context, tone types.Tone) error {
	return s.ctrl.TranslateRange(ctx, 1, UnboundedEnd, tone, false)
}

// NextBatch appends the next default-sized batch after the watermark.
func (s *Sequencer) NextBatch(ctx context.Context, tone types.Tone) error {
	start := s.ctrl.Watermark() + 1
	return s.ctrl.TranslateRange(ctx, start, start+DefaultBatchSize-1, tone, true)
}

// HandlePageClick services a page-picker click: an unprocessed page is
// translated on demand; a processed page is a pure scroll target and
// never re-enters the pipeline.
func (s *Sequencer) HandlePageClick(ctx context.Context, pageIndex int, tone types.Tone) (PageAction, error) {
	if s.coll.HasPage(pageIndex) {
		return ActionScroll, nil
	}
	if err := s.ctrl.TranslateRange(ctx, pageIndex, pageIndex, tone, true); err != nil {
		return "", err
	}
	return ActionTranslated, nil
}

// Reanalyze re-runs the pipeline for a single already-processed page.
// The page-replacement merge discards the page's prior segments.
func (s *Sequencer) Reanalyze(ctx context.Context, pageIndex int, tone types.Tone) error {
	return s.ctrl.TranslateRange(ctx, pageIndex, pageIndex, tone, true)
}
