// Package engine owns the audio output handle and the stream backends
// that feed it. Given a station it selects a backend (direct stream,
// in-process segmented decoding, or a system demuxer), enforces the
// at-most-one-attachment invariant, and reports play success or
// failure to the caller. It never retries a failed attempt beyond the
// backends' built-in one-shot recoveries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/radyolab/radyo"
)

// Errors returned by the Engine.
var (
	ErrNoOutput  = errors.New("engine: no audio output available")
	ErrDestroyed = errors.New("engine: already destroyed")
)

// errDetached reports that a backend was replaced while its play
// attempt was still in flight; the attempt fails instead of touching
// the sink.
var errDetached = errors.New("backend detached during attempt")

// DefaultPlayTimeout bounds a single play attempt. Without a deadline
// an unreachable stream leaves the player attempting forever.
const DefaultPlayTimeout = 15 * time.Second

// backend feeds one station's stream into the sink.
type backend interface {
	// play fetches the source, attaches it to the sink, and starts
	// playback. It returns once audio is flowing or the attempt
	// failed. ctx bounds the attempt, not the stream.
	play(ctx context.Context) error

	// destroy cancels the stream and releases every resource. Safe to
	// call while play is in flight; the attempt then fails.
	destroy()
}

// Config configures a new Engine.
type Config struct {
	Caps        *Capabilities
	Logger      zerolog.Logger
	HTTPClient  *http.Client
	PlayTimeout time.Duration
}

// Engine is the stream backend selector and owner of the single audio
// output handle.
type Engine struct {
	caps    *Capabilities
	log     zerolog.Logger
	client  *http.Client
	timeout time.Duration

	mu         sync.Mutex
	out        sink
	backend    backend
	currentURL string
	paused     bool
	destroyed  bool

	// backend constructors, replaceable in tests
	native    func(rawurl, demuxer string) backend
	segmented func(manifest *url.URL) backend
}

// New creates the engine and opens the audio output handle. In a
// headless environment the engine is created without output and every
// play attempt fails with ErrNoOutput.
func New(cfg Config) (*Engine, error) {
	caps := cfg.Caps
	if caps == nil {
		caps = DetectCapabilities()
	}

	client := cfg.HTTPClient
	if client == nil {
		// no client timeout: responses are endless live streams
		client = &http.Client{}
	}

	timeout := cfg.PlayTimeout
	if timeout <= 0 {
		timeout = DefaultPlayTimeout
	}

	e := &Engine{
		caps:    caps,
		log:     cfg.Logger.With().Str("component", "engine").Logger(),
		client:  client,
		timeout: timeout,
	}
	e.native = func(rawurl, demuxer string) backend {
		b := newNativeBackend(rawurl, demuxer, e.client, e.log)
		b.attach = e.attacher(b)
		return b
	}
	e.segmented = func(manifest *url.URL) backend {
		b := newSegmentedBackend(manifest, e.client, e.log)
		b.attach = e.attacher(b)
		return b
	}

	if caps.Headless() {
		e.log.Warn().Msg("headless environment, audio output disabled")
		return e, nil
	}

	out, err := newOtoSink(caps.RestrictedOutput())
	if err != nil {
		return nil, fmt.Errorf("engine: opening audio output: %w", err)
	}
	e.out = out

	return e, nil
}

// Restricted reports whether programmatic volume control is
// unavailable on this platform.
func (e *Engine) Restricted() bool {
	return e.caps.RestrictedOutput()
}

// PlayStation makes the output handle play the station's stream at
// the given volume. Any previously attached backend is torn down
// completely before the new source is attached. Resuming the station
// that is currently paused skips the teardown and is cheap.
func (e *Engine) PlayStation(ctx context.Context, st radyo.Station, volume int) error {
	e.mu.Lock()

	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.out == nil {
		e.mu.Unlock()
		return ErrNoOutput
	}

	if !e.caps.RestrictedOutput() {
		e.out.setVolume(float64(radyo.ClampVolume(volume)) / 100)
	}

	// cheap resume: same source still attached, just paused
	if e.backend != nil && e.paused && e.currentURL == st.StreamURL {
		e.out.resume()
		e.paused = false
		e.mu.Unlock()

		return nil
	}

	// Tear down the previous attachment first. The output device is a
	// shared singleton; two live backends must never coexist.
	e.detachLocked()

	b, err := e.backendFor(st)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	e.backend = b
	e.currentURL = st.StreamURL
	e.paused = false
	e.mu.Unlock()

	playCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := b.play(playCtx); err != nil {
		e.mu.Lock()
		if e.backend == b {
			e.detachLocked()
		} else {
			// A later PlayStation already replaced us; only clean up
			// this backend's own resources.
			b.destroy()
		}
		e.mu.Unlock()

		e.log.Warn().Err(err).Str("station", st.Name).Msg("play attempt failed")

		return fmt.Errorf("engine: playing %q: %w", st.Name, err)
	}

	return nil
}

// Pause pauses the output handle, keeping the backend attached.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.out != nil {
		e.out.pause()
	}
	e.paused = true
}

// Stop detaches the backend and clears the output handle entirely.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.detachLocked()
}

// SetVolume updates the output volume (0-100). No-op on restricted
// platforms.
func (e *Engine) SetVolume(volume int) {
	if e.caps.RestrictedOutput() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.out != nil {
		e.out.setVolume(float64(radyo.ClampVolume(volume)) / 100)
	}
}

// Reload resets the output handle. Called once per session from the
// first-gesture hook to unlock audio on restricted platforms.
func (e *Engine) Reload() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.out != nil && e.backend == nil {
		e.out.reload()
	}
}

// Destroy tears down the backend and releases the output handle.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	e.destroyed = true

	e.detachLocked()
	if e.out != nil {
		e.out.close()
		e.out = nil
	}
}

func (e *Engine) backendFor(st radyo.Station) (backend, error) {
	if st.IsSegmented() && !e.caps.SupportsNativeSegmented() {
		manifest, err := url.Parse(st.StreamURL)
		if err != nil {
			return nil, fmt.Errorf("engine: invalid stream URL %q: %w", st.StreamURL, err)
		}

		return e.segmented(manifest), nil
	}

	demuxer := ""
	if st.IsSegmented() {
		demuxer = e.caps.demuxerPath()
	}

	return e.native(st.StreamURL, demuxer), nil
}

// attacher gives a backend its only route to the sink. The attach
// runs under the engine lock and is refused once the backend is no
// longer current, so a play attempt that lost the race against a
// later PlayStation can never hijack the shared output.
func (e *Engine) attacher(b backend) func(src io.Reader) error {
	return func(src io.Reader) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.backend != b || e.out == nil {
			return errDetached
		}

		e.out.attach(src)

		return nil
	}
}

// detachLocked destroys the current backend and stops the output.
func (e *Engine) detachLocked() {
	if e.backend != nil {
		e.backend.destroy()
		e.backend = nil
	}
	if e.out != nil {
		e.out.stop()
	}
	e.currentURL = ""
	e.paused = false
}
