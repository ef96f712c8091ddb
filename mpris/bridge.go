// Package mpris mirrors the playback session onto the desktop media
// control surface by exporting an org.mpris.MediaPlayer2 service on
// the session bus. The whole surface is best-effort: a missing bus or
// a failing call degrades to a log line, never to an error for the
// player.
package mpris

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/rs/zerolog"

	"github.com/radyolab/radyo"
)

const (
	// BusName is the well-known name the bridge claims.
	BusName = "org.mpris.MediaPlayer2.radyo"

	ObjectPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	RootInterface   = "org.mpris.MediaPlayer2"
	PlayerInterface = "org.mpris.MediaPlayer2.Player"
)

// playerProps applies property updates on the exported player
// interface. Narrowed to an interface so the outward mirroring path
// is testable without a session bus.
type playerProps interface {
	set(name string, v interface{})
}

// exportedProps writes through to the properties exported on the bus.
type exportedProps struct {
	p *prop.Properties
}

// set uses SetMust rather than Set: Set enforces the Writable flag,
// which is off for everything the bridge exports (clients must not
// write our state), and would reject every internal update with a
// ReadOnly error. SetMust bypasses the check and still emits
// PropertiesChanged per the Emit setting. It panics on an unknown
// property name; attempt's recover turns that into a log line.
func (ep exportedProps) set(name string, v interface{}) {
	ep.p.SetMust(PlayerInterface, name, v)
}

// Bridge exports the session onto the platform media controls. The
// zero state (no session bus) is fully functional: every method
// becomes a no-op.
type Bridge struct {
	log      zerolog.Logger
	iconBase *url.URL

	mu      sync.Mutex
	conn    *dbus.Conn
	props   playerProps
	cb      radyo.TransportCallbacks
	playing bool
}

// NewBridge connects to the session bus and claims the player name.
// Failure to do either leaves the bridge disabled, logged once.
func NewBridge(identity string, iconBase *url.URL, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		log:      logger.With().Str("component", "mpris").Logger(),
		iconBase: iconBase,
	}

	if err := b.connect(identity); err != nil {
		b.log.Warn().Err(err).Msg("media controls unavailable")

		b.mu.Lock()
		b.disconnectLocked()
		b.mu.Unlock()
	}

	return b
}

func (b *Bridge) connect(identity string) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return err
	}
	b.conn = conn

	if err := conn.Export(rootHandler{b}, ObjectPath, RootInterface); err != nil {
		return err
	}
	if err := conn.Export(playerHandler{b}, ObjectPath, PlayerInterface); err != nil {
		return err
	}

	props, err := prop.Export(conn, ObjectPath, b.propSpec(identity))
	if err != nil {
		return err
	}
	b.props = exportedProps{props}

	reply, err := conn.RequestName(BusName, dbus.NameFlagReplaceExisting)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s not granted (reply %d)", BusName, reply)
	}

	return nil
}

func (b *Bridge) propSpec(identity string) map[string]map[string]*prop.Prop {
	return map[string]map[string]*prop.Prop{
		RootInterface: {
			"Identity":            {Value: identity, Emit: prop.EmitTrue},
			"CanQuit":             {Value: false, Emit: prop.EmitTrue},
			"CanRaise":            {Value: false, Emit: prop.EmitTrue},
			"HasTrackList":        {Value: false, Emit: prop.EmitTrue},
			"SupportedUriSchemes": {Value: []string{"http", "https"}, Emit: prop.EmitTrue},
			"SupportedMimeTypes":  {Value: []string{"audio/mpeg", "application/vnd.apple.mpegurl"}, Emit: prop.EmitTrue},
		},
		PlayerInterface: {
			"PlaybackStatus": {Value: "Paused", Emit: prop.EmitTrue},
			"Metadata":       {Value: map[string]dbus.Variant{}, Emit: prop.EmitTrue},
			"Volume":         {Value: 1.0, Emit: prop.EmitTrue},
			"Rate":           {Value: 1.0, Emit: prop.EmitTrue},
			"MinimumRate":    {Value: 1.0, Emit: prop.EmitTrue},
			"MaximumRate":    {Value: 1.0, Emit: prop.EmitTrue},
			// Live stream: position stays indeterminate and seeking
			// is never offered.
			"Position":      {Value: int64(0), Emit: prop.EmitFalse},
			"CanGoNext":     {Value: true, Emit: prop.EmitTrue},
			"CanGoPrevious": {Value: true, Emit: prop.EmitTrue},
			"CanPlay":       {Value: true, Emit: prop.EmitTrue},
			"CanPause":      {Value: true, Emit: prop.EmitTrue},
			"CanSeek":       {Value: false, Emit: prop.EmitTrue},
			"CanControl":    {Value: true, Emit: prop.EmitTrue},
		},
	}
}

// SetStation rebuilds the platform metadata record for st; nil clears it.
func (b *Bridge) SetStation(st *radyo.Station) {
	b.attempt("SetStation", func() error {
		b.setProp("Metadata", map[string]dbus.Variant(StationMetadata(st, b.iconBase)))
		return nil
	})
}

// SetCallbacks registers the transport handlers invoked by the platform.
func (b *Bridge) SetCallbacks(cb radyo.TransportCallbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cb = cb
}

// UpdatePlaybackState mirrors the playing/paused indicator.
func (b *Bridge) UpdatePlaybackState(playing bool) {
	b.mu.Lock()
	b.playing = playing
	b.mu.Unlock()

	b.attempt("UpdatePlaybackState", func() error {
		status := "Paused"
		if playing {
			status = "Playing"
		}
		b.setProp("PlaybackStatus", status)

		return nil
	})
}

// Cleanup clears metadata, resets the state to paused, and unregisters
// every transport handler, including ones that were never set; the
// platform keeps handlers alive across sessions unless explicitly
// cleared.
func (b *Bridge) Cleanup() {
	b.SetCallbacks(radyo.TransportCallbacks{})

	b.attempt("Cleanup", func() error {
		b.setProp("Metadata", map[string]dbus.Variant(StationMetadata(nil, nil)))
		b.setProp("PlaybackStatus", "Paused")

		return nil
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	b.disconnectLocked()
}

func (b *Bridge) disconnectLocked() {
	if b.conn != nil {
		b.conn.ReleaseName(BusName)
		b.conn.Close()
		b.conn = nil
	}
	b.props = nil
}

func (b *Bridge) setProp(name string, v interface{}) {
	b.mu.Lock()
	props := b.props
	b.mu.Unlock()

	if props == nil {
		return
	}

	props.set(name, v)
}

// attempt runs one platform interaction, logging and swallowing any
// failure including panics from the bus library. This is what keeps
// the no-propagation contract structural rather than conventional.
func (b *Bridge) attempt(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn().Interface("panic", r).Str("op", op).Msg("media bridge panic suppressed")
		}
	}()

	if err := fn(); err != nil {
		b.log.Warn().Err(err).Str("op", op).Msg("media bridge call failed")
	}
}

// invoke dispatches a platform transport command to the registered
// callback, if any.
func (b *Bridge) invoke(name string) {
	b.mu.Lock()
	cb := b.cb
	playing := b.playing
	b.mu.Unlock()

	var fn func()
	switch name {
	case "play":
		fn = cb.Play
	case "pause":
		fn = cb.Pause
	case "playpause":
		if playing {
			fn = cb.Pause
		} else {
			fn = cb.Play
		}
	case "next":
		fn = cb.Next
	case "previous":
		fn = cb.Previous
	case "stop":
		fn = cb.Stop
	}

	if fn == nil {
		return
	}

	b.log.Debug().Str("command", name).Msg("transport command")
	fn()
}

// rootHandler receives org.mpris.MediaPlayer2 method calls.
type rootHandler struct{ b *Bridge }

func (h rootHandler) Raise() *dbus.Error { return nil }
func (h rootHandler) Quit() *dbus.Error  { return nil }

// playerHandler receives org.mpris.MediaPlayer2.Player method calls.
type playerHandler struct{ b *Bridge }

func (h playerHandler) Play() *dbus.Error {
	h.b.invoke("play")
	return nil
}

func (h playerHandler) Pause() *dbus.Error {
	h.b.invoke("pause")
	return nil
}

func (h playerHandler) PlayPause() *dbus.Error {
	h.b.invoke("playpause")
	return nil
}

func (h playerHandler) Stop() *dbus.Error {
	h.b.invoke("stop")
	return nil
}

func (h playerHandler) Next() *dbus.Error {
	h.b.invoke("next")
	return nil
}

func (h playerHandler) Previous() *dbus.Error {
	h.b.invoke("previous")
	return nil
}

// Seek and SetPosition are accepted and ignored: live streams have no
// seekable timeline.
func (h playerHandler) Seek(offset int64) *dbus.Error { return nil }

func (h playerHandler) SetPosition(track dbus.ObjectPath, pos int64) *dbus.Error { return nil }

func (h playerHandler) OpenUri(uri string) *dbus.Error { return nil }
