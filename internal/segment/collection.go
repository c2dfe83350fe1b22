package segment

import (
	"sort"
	"sync"

	"paper-twinview/internal/types"
)

// PageGroup is one page's segments in insertion order, used by the
// rendering layer.
type PageGroup struct {
	PageIndex int             `json:"page_index"`
	Segments  []types.Segment `json:"segments"`
}

// Collection is the authoritative, page-indexed, insertion-ordered
// store of segments for the whole document.
//
// Merges are keyed by page index with replacement semantics: at most
// one live segment set exists per page. A generation counter guards
// against in-flight completions landing after the document was reset;
// stale mutations become no-ops instead of resurrecting old state.
type Collection struct {
	mu         sync.RWMutex
	generation uint64
	segments   []types.Segment
}

// NewCollection creates an empty Collection.
func NewCollection() *Collection {
	return &Collection{}
}

// Reset clears the collection and bumps the generation, invalidating
// every outstanding merge token. Returns the new generation.
func (c *Collection) Reset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.segments = nil
	return c.generation
}

// Generation returns the current generation token. Callers starting a
// batch capture it and pass it to MergePage.
func (c *Collection) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// MergePage atomically replaces every segment of the given page with
// newSegments, preserving the given order. The swap happens under the
// write lock, so no reader observes a half-replaced page. Returns false
// without mutating anything when gen is stale.
func (c *Collection) MergePage(gen uint64, pageIndex int, newSegments []types.Segment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return false
	}

	merged := make([]types.Segment, 0, len(c.segments)+len(newSegments))
	for _, s := range c.segments {
		if s.PageIndex != pageIndex {
			merged = append(merged, s)
		}
	}
	merged = append(merged, newSegments...)
	c.segments = merged
	return true
}

// SetSegment applies a mutation to exactly one segment addressed by id.
// Returns false when the id is absent, which callers must tolerate: a
// re-analysis replaces the page's IDs, silently dropping mutations
// keyed off stale renders.
func (c *Collection) SetSegment(id string, mutate func(*types.Segment)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.segments {
		if c.segments[i].ID == id {
			mutate(&c.segments[i])
			return true
		}
	}
	return false
}

// Get returns a copy of the segment with the given id.
func (c *Collection) Get(id string) (types.Segment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.segments {
		if s.ID == id {
			return s, true
		}
	}
	return types.Segment{}, false
}

// All returns a copy of every segment in insertion order.
func (c *Collection) All() []types.Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.Segment, len(c.segments))
	copy(out, c.segments)
	return out
}

// Len returns the total segment count.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.segments)
}

// GroupByPage groups segments by ascending page index. Within a page,
// insertion order (natural reading order) is preserved, never resorted.
func (c *Collection) GroupByPage() []PageGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byPage := make(map[int][]types.Segment)
	for _, s := range c.segments {
		byPage[s.PageIndex] = append(byPage[s.PageIndex], s)
	}

	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	groups := make([]PageGroup, 0, len(pages))
	for _, p := range pages {
		groups = append(groups, PageGroup{PageIndex: p, Segments: byPage[p]})
	}
	return groups
}

// DistinctProcessedPages returns the sorted set of page indices that
// currently have segments.
func (c *Collection) DistinctProcessedPages() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[int]bool)
	for _, s := range c.segments {
		seen[s.PageIndex] = true
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// HasPage reports whether the given page has been processed.
func (c *Collection) HasPage(pageIndex int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.segments {
		if s.PageIndex == pageIndex {
			return true
		}
	}
	return false
}
