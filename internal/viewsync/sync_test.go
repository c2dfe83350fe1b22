package viewsync

import (
	"testing"
	"time"
)

func TestScrollFraction(t *testing.T) {
	tests := []struct {
		name         string
		scrollTop    float64
		scrollHeight float64
		clientHeight float64
		wantFraction float64
		wantOK       bool
	}{
		{"halfway", 300, 1000, 400, 0.5, true},
		{"top", 0, 1000, 400, 0, true},
		{"bottom", 600, 1000, 400, 1, true},
		{"no overflow", 0, 400, 400, 0, false},
		{"content shorter than pane", 0, 200, 400, 0, false},
		{"zero heights", 0, 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fraction, ok := ScrollFraction(tt.scrollTop, tt.scrollHeight, tt.clientHeight)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && fraction != tt.wantFraction {
				t.Errorf("fraction = %v, want %v", fraction, tt.wantFraction)
			}
		})
	}
}

func TestApplyFraction(t *testing.T) {
	// A fraction computed on one pane maps onto a pane of different
	// height: 0.5 of an 800/300 pane is offset 250.
	if got := ApplyFraction(0.5, 800, 300); got != 250 {
		t.Errorf("ApplyFraction = %v, want 250", got)
	}
	if got := ApplyFraction(0.5, 300, 300); got != 0 {
		t.Errorf("degenerate target must stay at 0, got %v", got)
	}
}

func TestScrollRoundTrip(t *testing.T) {
	fraction, ok := ScrollFraction(300, 1000, 400)
	if !ok || fraction != 0.5 {
		t.Fatalf("fraction = %v ok = %v, want 0.5 true", fraction, ok)
	}
	if got := ApplyFraction(fraction, 800, 300); got != 250 {
		t.Errorf("round trip offset = %v, want 250", got)
	}
}

func TestEchoGuard(t *testing.T) {
	now := time.Unix(0, 0)
	g := NewEchoGuard(50 * time.Millisecond)
	g.now = func() time.Time { return now }

	if !g.Allow() {
		t.Fatal("first event must pass")
	}
	// The echo arrives within the cooldown window.
	now = now.Add(20 * time.Millisecond)
	if g.Allow() {
		t.Error("echo inside cooldown must be swallowed")
	}
	// A genuine scroll after the window passes again.
	now = now.Add(40 * time.Millisecond)
	if !g.Allow() {
		t.Error("event after cooldown must pass")
	}
}

func TestEchoGuard_DefaultWindow(t *testing.T) {
	g := NewEchoGuard(0)
	if g.window != EchoCooldown {
		t.Errorf("window = %v, want default %v", g.window, EchoCooldown)
	}
}
