// Package viewsync keeps independently scrollable rendering surfaces
// aligned: the embedded original/translated pair and the detached
// pop-out viewer. Scroll positions travel as normalized fractions so
// surfaces of different heights stay in step.
package viewsync

import (
	"sync"
	"time"
)

// EchoCooldown is how long a surface ignores incoming sync after
// applying one, breaking the feedback loop between two listeners.
const EchoCooldown = 50 * time.Millisecond

// ScrollFraction computes the normalized scroll position of a pane.
// ok is false when the pane has no scrollable overflow (denominator
// <= 0), in which case the event must be skipped entirely.
func ScrollFraction(scrollTop, scrollHeight, clientHeight float64) (fraction float64, ok bool) {
	denom := scrollHeight - clientHeight
	if denom <= 0 {
		return 0, false
	}
	return scrollTop / denom, true
}

// ApplyFraction maps a normalized fraction onto a target pane's scroll
// offset.
func ApplyFraction(fraction, scrollHeight, clientHeight float64) float64 {
	denom := scrollHeight - clientHeight
	if denom <= 0 {
		return 0
	}
	return fraction * denom
}

// EchoGuard is the reentrancy guard for bidirectional sync between the
// embedded original/translated panes. After one side applies a synced
// position, the other side's scroll listener fires; Allow rejects those
// echoes inside the cooldown window.
type EchoGuard struct {
	mu     sync.Mutex
	until  time.Time
	window time.Duration
	now    func() time.Time // test hook
}

// NewEchoGuard creates a guard with the given cooldown window.
func NewEchoGuard(window time.Duration) *EchoGuard {
	if window <= 0 {
		window = EchoCooldown
	}
	return &EchoGuard{window: window, now: time.Now}
}

// Allow reports whether a scroll event may propagate, and if so arms
// the cooldown so the resulting echo is swallowed.
func (g *EchoGuard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.until) {
		return false
	}
	g.until = now.Add(g.window)
	return true
}
