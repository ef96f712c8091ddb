package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"

	"github.com/radyolab/radyo/internal/hls"
)

// liveWindow is how many segments behind the live edge playback
// starts. Keeping it small bounds both startup latency and the
// back-buffer held in flight.
const liveWindow = 3

// refresh backoff after a recovered network failure
const recoveryBackoff = 500 * time.Millisecond

// segmentedBackend plays a segmented-streaming manifest in-process:
// it polls the media playlist, fetches segments in order, and decodes
// the concatenated MPEG audio into the sink.
//
// Each fatal error class gets exactly one automatic recovery: a
// network failure restarts the manifest load, a decode failure resets
// the decode pipeline. A repeat of either class fails the attempt.
type segmentedBackend struct {
	manifest *url.URL
	client   *http.Client
	log      zerolog.Logger

	// attach is the engine-gated route to the sink; set by the engine
	// right after construction.
	attach func(src io.Reader) error

	// decode performs the decoder handshake on the segment pipe;
	// replaceable in tests.
	decode func(r io.Reader) (io.Reader, error)

	// streamCtx outlives the play attempt and is cancelled by destroy.
	// Created before the backend is published, so destroy always has
	// something to cancel even when play never ran.
	streamCtx context.Context
	cancel    context.CancelFunc

	mu           sync.Mutex
	lastSeq      int64
	netRecovered bool
	decRecovered bool
}

func newSegmentedBackend(manifest *url.URL, client *http.Client, log zerolog.Logger) *segmentedBackend {
	ctx, cancel := context.WithCancel(context.Background())

	return &segmentedBackend{
		manifest: manifest,
		client:   client,
		log:      log.With().Str("backend", "segmented").Logger(),
		decode: func(r io.Reader) (io.Reader, error) {
			return mp3.NewDecoder(bufio.NewReaderSize(r, streamBufferSize))
		},
		streamCtx: ctx,
		cancel:    cancel,
	}
}

// play loads the manifest, waits for it to parse, and attaches the
// decode pipeline. ctx bounds the attempt; the stream itself lives
// until destroy.
func (b *segmentedBackend) play(ctx context.Context) error {
	detach := context.AfterFunc(ctx, b.cancel)

	media, base, err := b.loadManifest(b.streamCtx, b.manifest)
	if err != nil && b.recoverNetwork(err, "restarting manifest load") {
		media, base, err = b.loadManifest(b.streamCtx, b.manifest)
	}
	if err != nil {
		b.cancel()
		return fmt.Errorf("loading manifest: %w", err)
	}

	b.setStart(media)

	dec, err := b.startPipeline(b.streamCtx, base)
	if err != nil && b.recoverDecode(err) {
		dec, err = b.startPipeline(b.streamCtx, base)
	}
	if err != nil {
		b.cancel()
		return fmt.Errorf("starting decode pipeline: %w", err)
	}

	if err := b.attach(dec); err != nil {
		b.cancel()
		return err
	}
	b.log.Debug().Str("url", b.manifest.String()).Msg("segmented stream attached")

	if !detach() {
		return ctx.Err()
	}

	return nil
}

func (b *segmentedBackend) destroy() {
	b.cancel()
}

// setStart positions playback near the live edge for live playlists,
// or at the beginning for ended ones.
func (b *segmentedBackend) setStart(media *hls.MediaPlaylist) {
	segs := media.Segments

	start := segs[0].Sequence
	if !media.Ended && len(segs) > liveWindow {
		start = segs[len(segs)-liveWindow].Sequence
	}

	b.mu.Lock()
	b.lastSeq = start - 1
	b.mu.Unlock()
}

// startPipeline launches a segment feeder and a decoder reading from
// it. The decoder handshake (reading the first frames) is the decode
// failure point; resetting the pipeline means cancelling the feeder
// and building both ends again from the last consumed sequence.
func (b *segmentedBackend) startPipeline(ctx context.Context, base *url.URL) (io.Reader, error) {
	feedCtx, stopFeed := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	go b.feed(feedCtx, base, pw)

	dec, err := b.decode(pr)
	if err != nil {
		stopFeed()
		pr.CloseWithError(err)
		return nil, err
	}

	// On success the feeder keeps running; feedCtx is cancelled with
	// the stream context when the backend is destroyed.

	return dec, nil
}

// feed writes segments into the pipe in sequence order, refreshing
// the playlist until it ends or the context is cancelled.
func (b *segmentedBackend) feed(ctx context.Context, playlist *url.URL, pw *io.PipeWriter) {
	for {
		m, err := b.fetchPlaylist(ctx, playlist)
		if err != nil {
			if ctx.Err() != nil {
				pw.CloseWithError(ctx.Err())
				return
			}
			if b.recoverNetwork(err, "restarting playlist refresh") {
				select {
				case <-time.After(recoveryBackoff):
					continue
				case <-ctx.Done():
					pw.CloseWithError(ctx.Err())
					return
				}
			}
			pw.CloseWithError(err)
			return
		}
		if m.Media == nil {
			pw.CloseWithError(fmt.Errorf("expected media playlist at %s", playlist))
			return
		}

		b.mu.Lock()
		last := b.lastSeq
		b.mu.Unlock()

		for _, seg := range m.Media.After(last) {
			if err := b.fetchSegment(ctx, seg.URI, pw); err != nil {
				if ctx.Err() != nil {
					pw.CloseWithError(ctx.Err())
					return
				}
				if b.recoverNetwork(err, "refetching segment") {
					break
				}
				pw.CloseWithError(err)
				return
			}

			b.mu.Lock()
			b.lastSeq = seg.Sequence
			b.mu.Unlock()
		}

		if m.Media.Ended {
			pw.Close()
			return
		}

		wait := m.Media.Target / 2
		if wait <= 0 {
			wait = time.Second
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			pw.CloseWithError(ctx.Err())
			return
		}
	}
}

// loadManifest fetches the manifest, following a master playlist to
// its selected variant. It returns the media playlist and the URL it
// was loaded from (the base for refreshes).
func (b *segmentedBackend) loadManifest(ctx context.Context, u *url.URL) (*hls.MediaPlaylist, *url.URL, error) {
	m, err := b.fetchPlaylist(ctx, u)
	if err != nil {
		return nil, nil, err
	}

	if m.Variant != nil {
		vm, err := b.fetchPlaylist(ctx, m.Variant)
		if err != nil {
			return nil, nil, err
		}
		if vm.Media == nil {
			return nil, nil, fmt.Errorf("nested master playlist at %s", m.Variant)
		}

		return vm.Media, m.Variant, nil
	}

	return m.Media, u, nil
}

func (b *segmentedBackend) fetchPlaylist(ctx context.Context, u *url.URL) (*hls.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("playlist %s returned status %d", u, resp.StatusCode)
	}

	return hls.Decode(resp.Body, u)
}

func (b *segmentedBackend) fetchSegment(ctx context.Context, u *url.URL, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("segment %s returned status %d", u, resp.StatusCode)
	}

	_, err = io.Copy(w, resp.Body)

	return err
}

// recoverNetwork consumes the single network recovery attempt.
func (b *segmentedBackend) recoverNetwork(err error, action string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.netRecovered {
		return false
	}
	b.netRecovered = true

	b.log.Warn().Err(err).Msg("network error, " + action)

	return true
}

// recoverDecode consumes the single decode recovery attempt.
func (b *segmentedBackend) recoverDecode(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.decRecovered {
		return false
	}
	b.decRecovered = true

	b.log.Warn().Err(err).Msg("decode error, resetting pipeline")

	return true
}
