package playback

import "github.com/radyolab/radyo"

const eventBufferSize = 16

// StateChange is one observable transition of the session.
type StateChange struct {
	Playing     bool
	Station     *radyo.Station
	QueueSource string
	Volume      int
}

// Subscription delivers state changes to an observer. Events are
// buffered and dropped when the observer falls behind; the session
// state itself is always available through the Controller's
// accessors.
type Subscription struct {
	StateChanged <-chan StateChange
	Done         <-chan struct{}

	stateCh chan StateChange
	doneCh  chan struct{}
}

// Subscribe registers a new observer.
func (c *Controller) Subscribe() *Subscription {
	s := &Subscription{
		stateCh: make(chan StateChange, eventBufferSize),
		doneCh:  make(chan struct{}),
	}
	s.StateChanged = s.stateCh
	s.Done = s.doneCh

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(s.doneCh)
		return s
	}
	c.subs = append(c.subs, s)

	return s
}

func (s *Subscription) close() {
	close(s.doneCh)
}

func (s *Subscription) send(e StateChange) {
	select {
	case s.stateCh <- e:
	default:
		// observer is behind; drop
	}
}

func (c *Controller) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}

	e := StateChange{
		Playing:     c.isPlaying,
		QueueSource: c.queue.Source,
		Volume:      c.volume,
	}
	if c.current != nil {
		cur := *c.current
		e.Station = &cur
	}

	for _, s := range c.subs {
		s.send(e)
	}
}
