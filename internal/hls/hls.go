// Package hls wraps media-playlist parsing for the segmented stream
// backend: variant selection, segment URI resolution, and sequence
// bookkeeping for live playlist refreshes.
package hls

import (
	"errors"
	"io"
	"net/url"
	"time"

	"github.com/grafov/m3u8"
)

// Errors returned by Decode.
var (
	ErrEmptyPlaylist = errors.New("hls: playlist has no segments")
	ErrNoVariants    = errors.New("hls: master playlist has no variants")
)

// Segment is one media segment of a playlist, with its URI resolved
// to an absolute URL.
type Segment struct {
	Sequence int64
	URI      *url.URL
	Duration time.Duration
}

// MediaPlaylist is a parsed media playlist.
type MediaPlaylist struct {
	Target   time.Duration
	Segments []Segment
	Ended    bool
}

// Manifest is the result of decoding a playlist. Exactly one of
// Variant and Media is set: a master playlist yields the URL of the
// selected variant, a media playlist yields its segments.
type Manifest struct {
	Variant *url.URL
	Media   *MediaPlaylist
}

// Decode parses an HLS playlist read from r, resolving all URIs
// against base. For master playlists the highest-bandwidth variant
// is selected.
func Decode(r io.Reader, base *url.URL) (*Manifest, error) {
	pl, kind, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return nil, err
	}

	switch kind {
	case m3u8.MASTER:
		variant, err := pickVariant(pl.(*m3u8.MasterPlaylist), base)
		if err != nil {
			return nil, err
		}

		return &Manifest{Variant: variant}, nil
	case m3u8.MEDIA:
		media, err := convertMedia(pl.(*m3u8.MediaPlaylist), base)
		if err != nil {
			return nil, err
		}

		return &Manifest{Media: media}, nil
	default:
		return nil, errors.New("hls: unrecognized playlist type")
	}
}

// After returns the segments with a sequence number greater than seq,
// in playlist order. Used to pick up only new segments on a live
// playlist refresh.
func (p *MediaPlaylist) After(seq int64) []Segment {
	var out []Segment
	for _, s := range p.Segments {
		if s.Sequence > seq {
			out = append(out, s)
		}
	}

	return out
}

func pickVariant(master *m3u8.MasterPlaylist, base *url.URL) (*url.URL, error) {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}

	if best == nil {
		return nil, ErrNoVariants
	}

	return resolve(base, best.URI)
}

func convertMedia(media *m3u8.MediaPlaylist, base *url.URL) (*MediaPlaylist, error) {
	out := &MediaPlaylist{
		Target: time.Duration(media.TargetDuration * float64(time.Second)),
		Ended:  media.Closed,
	}

	seq := int64(media.SeqNo)
	for _, s := range media.Segments {
		if s == nil || s.URI == "" {
			continue
		}

		uri, err := resolve(base, s.URI)
		if err != nil {
			return nil, err
		}

		out.Segments = append(out.Segments, Segment{
			Sequence: seq,
			URI:      uri,
			Duration: time.Duration(s.Duration * float64(time.Second)),
		})
		seq++
	}

	if len(out.Segments) == 0 {
		return nil, ErrEmptyPlaylist
	}

	return out, nil
}

func resolve(base *url.URL, uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}

	if base == nil {
		return u, nil
	}

	return base.ResolveReference(u), nil
}
