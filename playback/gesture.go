package playback

import "sync"

// GestureSignal is a manually triggered radyo.GestureSource for hosts
// without their own input surface: the host calls Trigger on the
// first direct user interaction it observes (a key press, a transport
// command, a CLI invocation).
type GestureSignal struct {
	mu    sync.Mutex
	fn    func()
	fired bool
}

// NewGestureSignal returns an unarmed, untriggered signal.
func NewGestureSignal() *GestureSignal {
	return &GestureSignal{}
}

// Arm registers fn to run on the next Trigger. fn runs at most once.
func (g *GestureSignal) Arm(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fired {
		return
	}
	g.fn = fn
}

// Cancel releases the registration if it has not fired yet.
func (g *GestureSignal) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.fn = nil
}

// Trigger reports a user gesture. Only the first call has any effect.
func (g *GestureSignal) Trigger() {
	g.mu.Lock()
	fn := g.fn
	g.fn = nil
	fired := g.fired
	g.fired = true
	g.mu.Unlock()

	if fired || fn == nil {
		return
	}

	fn()
}
