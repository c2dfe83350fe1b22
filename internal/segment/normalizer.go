// Package segment owns the document's segment model: normalizing raw
// model output for a page into typed segments, and the page-indexed
// collection those segments live in.
package segment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"paper-twinview/internal/logger"
	"paper-twinview/internal/types"
)

// rawSegment mirrors one item of the model's per-page JSON. The type
// label is free-form at this boundary; hallucinated labels are expected
// and coerced below.
type rawSegment struct {
	Type       string   `json:"type"`
	Original   string   `json:"original"`
	Translated string   `json:"translated"`
	Citations  []string `json:"citations"`
}

type pageResponse struct {
	Segments []rawSegment `json:"segments"`
}

// typeRule maps label keywords onto a closed segment type. Rules are
// evaluated top to bottom; the first match wins, so precedence is data,
// not control flow.
type typeRule struct {
	keywords []string
	target   types.SegmentType
}

var typeRules = []typeRule{
	{[]string{"heading", "title", "section", "header"}, types.SegmentHeading},
	{[]string{"abstract"}, types.SegmentAbstract},
	{[]string{"figure", "caption", "fig"}, types.SegmentFigureCaption},
	{[]string{"equation", "math", "formula"}, types.SegmentEquation},
	{[]string{"table"}, types.SegmentTable},
	{[]string{"code", "listing", "algorithm"}, types.SegmentCode},
}

// CoerceType maps a free-form type label onto the closed segment-type
// set using case-insensitive substring matching. Unmatched labels
// default to plain text.
func CoerceType(label string) types.SegmentType {
	lower := strings.ToLower(strings.TrimSpace(label))
	for _, rule := range typeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.target
			}
		}
	}
	return types.SegmentText
}

// StripFences removes a markdown code fence the model may have wrapped
// its JSON in, including an optional language tag on the opening fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		first := strings.TrimSpace(s[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Normalize turns the raw model response for one page into an ordered
// segment list. It never fails past its own boundary: unparsable input
// degrades to a single error-marker segment for the page, so one bad
// response costs one page, never the batch.
func Normalize(rawResponse string, pageIndex int) []types.Segment {
	cleaned := StripFences(rawResponse)

	var resp pageResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil || len(resp.Segments) == 0 {
		// Some models return a bare array instead of the documented object.
		var bare []rawSegment
		if arrErr := json.Unmarshal([]byte(cleaned), &bare); arrErr == nil && len(bare) > 0 {
			resp.Segments = bare
		} else {
			logger.Warn("malformed page response, substituting error segment",
				logger.Int("pageIndex", pageIndex),
				logger.Err(err))
			return []types.Segment{errorSegment(pageIndex)}
		}
	}

	token := time.Now().UnixNano()
	segments := make([]types.Segment, 0, len(resp.Segments))
	for i, raw := range resp.Segments {
		segments = append(segments, types.Segment{
			ID:         newSegmentID(pageIndex, i, token),
			PageIndex:  pageIndex,
			Type:       CoerceType(raw.Type),
			Original:   raw.Original,
			Translated: raw.Translated,
			Citations:  raw.Citations,
		})
	}
	return segments
}

// newSegmentID combines page, in-page position, and a nanosecond token
// so IDs never collide across pages or across re-analyses of one page.
func newSegmentID(pageIndex, position int, token int64) string {
	return fmt.Sprintf("seg_%d_%d_%d", pageIndex, position, token)
}

// errorSegment is the synthetic one-segment page substituted when the
// model output cannot be parsed. The user can retry via re-analysis.
func errorSegment(pageIndex int) types.Segment {
	return types.Segment{
		ID:         newSegmentID(pageIndex, 0, time.Now().UnixNano()),
		PageIndex:  pageIndex,
		Type:       types.SegmentText,
		Original:   fmt.Sprintf("[Page %d] The analysis result could not be parsed. Please re-analyze this page.", pageIndex),
		Translated: fmt.Sprintf("[%d페이지] 분석 결과를 해석하지 못했습니다. 이 페이지를 다시 분석해 주세요.", pageIndex),
	}
}
