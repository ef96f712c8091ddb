package engine

import (
	"io"

	"github.com/ebitengine/oto/v3"
)

// PCM format shared by every backend: 16-bit little-endian stereo.
const (
	sampleRate   = 44100
	channelCount = 2
)

// sink is the single audio output handle. The engine owns exactly one
// sink for its whole lifetime; backends feed it PCM through attach.
type sink interface {
	attach(src io.Reader)
	pause()
	resume()
	stop()
	setVolume(level float64)
	reload()
	close()
}

// otoSink drives the platform audio device through an oto context.
// The context is created once; attach swaps the player feeding it.
type otoSink struct {
	ctx        *oto.Context
	player     *oto.Player
	volume     float64
	restricted bool
}

func newOtoSink(restricted bool) (*otoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	return &otoSink{ctx: ctx, volume: 1.0, restricted: restricted}, nil
}

func (s *otoSink) attach(src io.Reader) {
	s.stop()

	s.player = s.ctx.NewPlayer(src)
	if !s.restricted {
		s.player.SetVolume(s.volume)
	}
	s.player.Play()
}

func (s *otoSink) pause() {
	if s.player != nil {
		s.player.Pause()
	}
}

func (s *otoSink) resume() {
	if s.player != nil {
		s.player.Play()
	}
}

func (s *otoSink) stop() {
	if s.player != nil {
		s.player.Close()
		s.player = nil
	}
}

func (s *otoSink) setVolume(level float64) {
	s.volume = level
	if !s.restricted && s.player != nil {
		s.player.SetVolume(level)
	}
}

// reload resets the output handle without touching the context. Used
// for the one-time unlock ritual on gesture-restricted platforms.
func (s *otoSink) reload() {
	s.stop()
}

func (s *otoSink) close() {
	s.stop()
}
