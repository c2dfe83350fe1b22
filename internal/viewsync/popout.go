package viewsync

import (
	"fmt"
	"sync"
)

// PopoutState is the detached viewer's lifecycle state.
type PopoutState string

const (
	// PopoutClosed: no detached window exists.
	PopoutClosed PopoutState = "closed"
	// PopoutOpening: the window was launched but has not attached yet.
	PopoutOpening PopoutState = "opening"
	// PopoutOpen: the window's websocket is attached and receiving sync.
	PopoutOpen PopoutState = "open"
	// PopoutClosedByRemote: the user closed the detached window itself.
	PopoutClosedByRemote PopoutState = "closed_by_remote"
)

// Popout tracks the detached viewer's lifecycle as an explicit state
// machine. Transitions are driven by user action (open/close) and by
// the remote window detaching.
type Popout struct {
	mu       sync.Mutex
	state    PopoutState
	onChange func(PopoutState)
}

// NewPopout creates a Popout in the Closed state.
func NewPopout() *Popout {
	return &Popout{state: PopoutClosed}
}

// SetStateCallback registers an observer for state changes.
func (p *Popout) SetStateCallback(fn func(PopoutState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// State returns the current state.
func (p *Popout) State() PopoutState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RequestOpen transitions Closed/ClosedByRemote -> Opening.
func (p *Popout) RequestOpen() error {
	return p.transition(PopoutOpening, PopoutClosed, PopoutClosedByRemote)
}

// Attached transitions Opening -> Open, when the detached window's
// websocket connects. The window renders its content from scratch at
// this point; it owns its own document context.
func (p *Popout) Attached() error {
	return p.transition(PopoutOpen, PopoutOpening)
}

// CloseLocal transitions any state -> Closed, driven by the host view
// tearing down (which also drops the remote side's subscription).
func (p *Popout) CloseLocal() {
	p.mu.Lock()
	p.state = PopoutClosed
	fn := p.onChange
	state := p.state
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// RemoteClosed transitions Open/Opening -> ClosedByRemote, when the
// detached window disconnects on its own.
func (p *Popout) RemoteClosed() error {
	return p.transition(PopoutClosedByRemote, PopoutOpen, PopoutOpening)
}

func (p *Popout) transition(to PopoutState, from ...PopoutState) error {
	p.mu.Lock()
	valid := false
	for _, f := range from {
		if p.state == f {
			valid = true
			break
		}
	}
	if !valid {
		cur := p.state
		p.mu.Unlock()
		return fmt.Errorf("invalid popout transition %s -> %s", cur, to)
	}
	p.state = to
	fn := p.onChange
	p.mu.Unlock()

	if fn != nil {
		fn(to)
	}
	return nil
}
