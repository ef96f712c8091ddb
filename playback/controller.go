// Package playback coordinates the whole player: it owns the session
// state (current station, queue, volume, playing flag), sequences
// next/previous navigation, debounces volume updates, arms the
// one-time user-gesture hook, and keeps the engine, the media bridge,
// and the session store in line with every transition.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radyolab/radyo"
)

// DefaultVolumeDebounce is the window within which rapid volume
// updates collapse into one committed write.
const DefaultVolumeDebounce = 50 * time.Millisecond

const defaultPlayTimeout = 15 * time.Second

// Config wires a Controller to its collaborators. Engine is required;
// every other collaborator may be nil and is then skipped.
type Config struct {
	Engine   radyo.Engine
	Bridge   radyo.MediaBridge
	Store    radyo.SessionStore
	Featured radyo.FeaturedProvider
	Gestures radyo.GestureSource

	// Restricted marks a platform where the output volume cannot be
	// written programmatically; the logical volume is still tracked
	// and persisted.
	Restricted bool

	Logger         zerolog.Logger
	PlayTimeout    time.Duration
	VolumeDebounce time.Duration
}

// Controller is the public control surface of the player. All methods
// are safe for concurrent use.
type Controller struct {
	engine   radyo.Engine
	bridge   radyo.MediaBridge
	store    radyo.SessionStore
	featured radyo.FeaturedProvider
	gestures radyo.GestureSource

	restricted  bool
	log         zerolog.Logger
	playTimeout time.Duration
	debounce    time.Duration

	mu          sync.Mutex
	isPlaying   bool
	current     *radyo.Station
	queue       radyo.Queue
	volume      int // committed, persisted value
	liveVolume  int // immediate value during a slider drag
	volTimer    *time.Timer
	gestureSeen bool
	generation  uint64
	subs        []*Subscription
	closed      bool
}

// New restores the saved session and starts observing the media
// bridge and the gesture source. Playback never auto-resumes: the
// restored session always starts paused.
func New(cfg Config) *Controller {
	c := &Controller{
		engine:      cfg.Engine,
		bridge:      cfg.Bridge,
		store:       cfg.Store,
		featured:    cfg.Featured,
		gestures:    cfg.Gestures,
		restricted:  cfg.Restricted,
		log:         cfg.Logger.With().Str("component", "playback").Logger(),
		playTimeout: cfg.PlayTimeout,
		debounce:    cfg.VolumeDebounce,
		volume:      radyo.DefaultVolume,
	}
	if c.playTimeout <= 0 {
		c.playTimeout = defaultPlayTimeout
	}
	if c.debounce <= 0 {
		c.debounce = DefaultVolumeDebounce
	}

	c.restore()
	c.liveVolume = c.volume

	if c.bridge != nil {
		c.bridge.SetCallbacks(radyo.TransportCallbacks{
			Play:     c.transportPlay,
			Pause:    c.transportPause,
			Next:     c.PlayNext,
			Previous: c.PlayPrevious,
			Stop:     c.transportStop,
		})
		c.bridge.SetStation(c.current)
		c.bridge.UpdatePlaybackState(false)
	}

	if c.gestures != nil {
		c.gestures.Arm(c.onFirstGesture)
	}

	return c
}

// restore loads the persisted session once, before any interaction.
func (c *Controller) restore() {
	if c.store == nil {
		return
	}

	if v, ok := c.store.Volume(); ok {
		c.volume = radyo.ClampVolume(v)
	}
	if st, ok := c.store.CurrentStation(); ok {
		c.current = st
	}
	if q, ok := c.store.Queue(); ok {
		c.queue = q
	}
}

// TogglePlay is the single entry point for starting, resuming, and
// pausing. Toggling the station that is already playing pauses it;
// anything else switches to st and plays. A non-empty queue replaces
// the active queue wholesale; an empty one leaves it untouched so a
// station can resume without losing its context.
func (c *Controller) TogglePlay(st radyo.Station, queue []radyo.Station, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.noteGestureLocked()

	if c.current != nil && c.current.Same(st) && c.isPlaying {
		c.isPlaying = false
		c.applyLocked()

		return
	}

	if c.current == nil || !c.current.Same(st) {
		cur := st
		c.current = &cur
	}
	if len(queue) > 0 {
		c.queue = radyo.Queue{
			Stations: append([]radyo.Station(nil), queue...),
			Source:   source,
		}
	}

	c.isPlaying = true
	c.applyLocked()
}

// PlayNext advances the queue by one, wrapping around at the end.
func (c *Controller) PlayNext() { c.step(1) }

// PlayPrevious steps the queue back by one, wrapping around at the
// beginning.
func (c *Controller) PlayPrevious() { c.step(-1) }

func (c *Controller) step(dir int) {
	c.mu.Lock()

	c.noteGestureLocked()

	if c.current == nil || c.queue.Empty() {
		c.mu.Unlock()
		return
	}

	// A queue of one gives navigation nothing to move over; swap in
	// the featured list instead.
	if len(c.queue.Stations) == 1 {
		c.mu.Unlock()
		go c.stepIntoFeatured(dir)

		return
	}

	i := c.queue.IndexOf(*c.current)
	if i < 0 {
		c.mu.Unlock()
		return
	}

	n := len(c.queue.Stations)
	next := c.queue.Stations[((i+dir)%n+n)%n]

	c.current = &next
	c.isPlaying = true
	c.applyLocked()
	c.mu.Unlock()
}

// stepIntoFeatured replaces a singleton queue with the featured list
// and plays its first (forward) or last (backward) entry.
func (c *Controller) stepIntoFeatured(dir int) {
	if c.featured == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.playTimeout)
	q, err := c.featured.Featured(ctx)
	cancel()

	if err != nil || q.Empty() {
		c.log.Warn().Err(err).Msg("featured queue unavailable")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The queue may have been replaced while we were fetching.
	if c.closed || len(c.queue.Stations) != 1 {
		return
	}

	var next radyo.Station
	if dir >= 0 {
		next = q.Stations[0]
	} else {
		next = q.Stations[len(q.Stations)-1]
	}

	c.queue = q
	c.current = &next
	c.isPlaying = true
	c.applyLocked()
}

// UpdateVolume is the high-frequency volume path (slider drag): the
// output volume changes immediately, the committed state catches up
// once the debounce window closes.
func (c *Controller) UpdateVolume(v int) {
	v = radyo.ClampVolume(v)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.liveVolume = v
	if !c.restricted {
		c.engine.SetVolume(v)
	}

	if c.volTimer != nil {
		c.volTimer.Stop()
	}
	c.volTimer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed {
			return
		}
		c.commitVolumeLocked(c.liveVolume)
	})
}

// SetVolume is the low-frequency commit path (drag release): the
// value lands in the committed, persisted state right away.
func (c *Controller) SetVolume(v int) {
	v = radyo.ClampVolume(v)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.volTimer != nil {
		c.volTimer.Stop()
		c.volTimer = nil
	}

	c.liveVolume = v
	if !c.restricted {
		c.engine.SetVolume(v)
	}
	c.commitVolumeLocked(v)
}

func (c *Controller) commitVolumeLocked(v int) {
	c.volume = v
	if c.store != nil {
		if err := c.store.SaveVolume(v); err != nil {
			c.log.Warn().Err(err).Msg("persisting volume failed")
		}
	}
	c.notifyLocked()
}

// IsPlaying reports the (optimistic) playing flag.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isPlaying
}

// CurrentStation returns the current station, or nil.
func (c *Controller) CurrentStation() *radyo.Station {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil
	}

	cur := *c.current
	return &cur
}

// Queue returns a copy of the active queue.
func (c *Controller) Queue() radyo.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()

	return radyo.Queue{
		Stations: append([]radyo.Station(nil), c.queue.Stations...),
		Source:   c.queue.Source,
	}
}

// Volume returns the committed volume level.
func (c *Controller) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.volume
}

// Restricted reports whether programmatic volume control is
// unavailable.
func (c *Controller) Restricted() bool {
	return c.restricted
}

// Close ends the session: pending attempts are invalidated, the
// engine and bridge are torn down, subscriptions close. The session
// store stays open; its owner closes it.
func (c *Controller) Close() {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++

	if c.volTimer != nil {
		c.volTimer.Stop()
		c.volTimer = nil
	}

	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	if c.gestures != nil {
		c.gestures.Cancel()
	}

	c.engine.Destroy()

	if c.bridge != nil {
		c.bridge.Cleanup()
	}

	for _, s := range subs {
		s.close()
	}
}

// applyLocked reconciles the collaborators with the session state
// after a mutation. Engine calls run asynchronously under a
// generation number; a completion that lost the race against a later
// transition must not touch state.
func (c *Controller) applyLocked() {
	c.generation++
	gen := c.generation

	switch {
	case c.current == nil:
		c.isPlaying = false
		c.engine.Stop()
	case c.isPlaying:
		// liveVolume, not the committed value: a play started mid-drag
		// must honor the level the user is hearing right now.
		go c.startPlayback(gen, *c.current, c.liveVolume)
	default:
		c.engine.Pause()
	}

	if c.bridge != nil {
		c.bridge.SetStation(c.current)
		c.bridge.UpdatePlaybackState(c.isPlaying)
	}

	c.persistLocked()
	c.notifyLocked()
}

func (c *Controller) startPlayback(gen uint64, st radyo.Station, volume int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.playTimeout)
	defer cancel()

	err := c.engine.PlayStation(ctx, st, volume)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		// A later transition superseded this attempt; its outcome no
		// longer speaks for the current station.
		return
	}

	if err != nil {
		c.log.Warn().Err(err).Str("station", st.Name).Msg("playback failed")

		c.isPlaying = false
		if c.bridge != nil {
			c.bridge.UpdatePlaybackState(false)
		}
		c.persistLocked()
		c.notifyLocked()

		return
	}

	if c.store != nil {
		if err := c.store.AppendHistory(st); err != nil {
			c.log.Warn().Err(err).Msg("recording history failed")
		}
	}
}

func (c *Controller) persistLocked() {
	if c.store == nil {
		return
	}

	if err := c.store.SaveCurrentStation(c.current); err != nil {
		c.log.Warn().Err(err).Msg("persisting station failed")
	}
	if err := c.store.SaveQueue(c.queue); err != nil {
		c.log.Warn().Err(err).Msg("persisting queue failed")
	}
}

// noteGestureLocked marks that a user gesture has occurred and stands
// down the one-shot gesture hook.
func (c *Controller) noteGestureLocked() {
	if c.gestureSeen {
		return
	}
	c.gestureSeen = true

	if c.gestures != nil {
		c.gestures.Cancel()
	}
}

// onFirstGesture runs on the session's first direct user interaction:
// the unlock ritual for platforms that refuse to start audio without
// one.
func (c *Controller) onFirstGesture() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gestureSeen || c.closed {
		return
	}
	c.gestureSeen = true

	c.engine.Reload()
}

// transportPlay handles the platform's play command: resume the
// current station, if any.
func (c *Controller) transportPlay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.noteGestureLocked()

	if c.current == nil || c.isPlaying {
		return
	}

	c.isPlaying = true
	c.applyLocked()
}

func (c *Controller) transportPause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.noteGestureLocked()

	if !c.isPlaying {
		return
	}

	c.isPlaying = false
	c.applyLocked()
}

// transportStop clears the current station entirely; the queue stays
// for a later resume.
func (c *Controller) transportStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.noteGestureLocked()

	c.current = nil
	c.applyLocked()
}
