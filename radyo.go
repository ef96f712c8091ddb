// Package radyo defines the core types and component contracts of the
// radyo playback engine: a web-radio player that keeps exactly one live
// audio stream attached at a time, mirrors its state into the desktop
// media-control surface, and persists the listening session across runs.
package radyo

import "context"

// DefaultVolume is the volume level used when no saved session exists.
const DefaultVolume = 80

// Engine owns the audio output handle and makes it play a station.
//
// At most one stream backend may be attached at any instant; switching
// stations tears the previous backend down completely before the next
// one is created.
type Engine interface {
	// PlayStation attaches the right backend for the station's stream
	// URL and starts playback at the given volume (0-100). It returns
	// once playback has started, or an error if the attempt failed.
	// A failed attempt is not retried.
	PlayStation(ctx context.Context, st Station, volume int) error

	// Pause pauses the output handle without detaching the backend,
	// so resuming the same station is cheap.
	Pause()

	// Stop detaches the current backend and clears the output handle
	// entirely. Unlike Pause, resuming requires a new PlayStation.
	Stop()

	// SetVolume updates the output handle volume (0-100). On platforms
	// where programmatic volume control is unavailable this is a no-op.
	SetVolume(volume int)

	// Reload resets the output handle. Used once per session to unlock
	// audio output on platforms that require a user gesture first.
	Reload()

	// Destroy releases the output handle and any attached backend.
	// Must be called exactly once when the owning session ends.
	Destroy()
}

// TransportCallbacks are the handlers a MediaBridge invokes when the
// platform's media controls (lock screen, hardware keys, applets)
// request a state change. Nil handlers are ignored.
type TransportCallbacks struct {
	Play     func()
	Pause    func()
	Next     func()
	Previous func()
	Stop     func()
}

// MediaBridge mirrors the playback session into a system-level media
// control surface. All methods are best-effort: absence of the platform
// capability or platform-internal failures are logged, never returned.
type MediaBridge interface {
	// SetStation rebuilds the platform metadata record for st. A nil
	// station clears the metadata.
	SetStation(st *Station)

	// SetCallbacks registers the transport handlers with the platform.
	SetCallbacks(cb TransportCallbacks)

	// UpdatePlaybackState mirrors the playing/paused indicator.
	UpdatePlaybackState(playing bool)

	// Cleanup clears metadata and unregisters every transport handler,
	// including ones that were never set.
	Cleanup()
}

// SessionStore persists the playback session across runs. Lookups
// report ok=false when no value is stored or the stored value could
// not be decoded; a corrupted value is discarded, never surfaced.
type SessionStore interface {
	Volume() (v int, ok bool)
	SaveVolume(v int) error

	CurrentStation() (st *Station, ok bool)
	// SaveCurrentStation stores st; a nil station removes the entry.
	SaveCurrentStation(st *Station) error

	Queue() (q Queue, ok bool)
	// SaveQueue stores q; an empty queue removes the entry.
	SaveQueue(q Queue) error

	// History returns recently played stations, most recent last.
	History() []Station
	AppendHistory(st Station) error

	Close() error
}

// FeaturedProvider supplies the fallback queue used when next/previous
// navigation is requested on a single-station queue.
type FeaturedProvider interface {
	Featured(ctx context.Context) (Queue, error)
}

// GestureSource delivers the first direct user interaction of a
// session, required before audio may start on restricted platforms.
type GestureSource interface {
	// Arm registers fn to run when the next user gesture occurs.
	// fn runs at most once.
	Arm(fn func())

	// Cancel releases the registration if fn has not fired yet.
	Cancel()
}

// ClampVolume bounds a volume level to the valid 0-100 range.
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
