package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"sync"

	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"
)

const userAgent = "radyo/1.0 (+https://github.com/radyolab/radyo)"

// network jitter absorption for direct streams
const streamBufferSize = 64 << 10

// nativeBackend plays a direct stream endpoint: one long-lived HTTP
// response decoded to PCM. When a system demuxer is available it also
// handles segmented manifests by delegating the unpacking to it.
type nativeBackend struct {
	url     string
	demuxer string
	client  *http.Client
	log     zerolog.Logger

	// attach is the engine-gated route to the sink; set by the engine
	// right after construction.
	attach func(src io.Reader) error

	// streamCtx outlives the play attempt and is cancelled by destroy.
	// Created before the backend is published, so destroy always has
	// something to cancel even when play never ran.
	streamCtx context.Context
	cancel    context.CancelFunc

	mu   sync.Mutex
	body io.Closer
}

func newNativeBackend(rawurl, demuxer string, client *http.Client, log zerolog.Logger) *nativeBackend {
	ctx, cancel := context.WithCancel(context.Background())

	return &nativeBackend{
		url:       rawurl,
		demuxer:   demuxer,
		client:    client,
		log:       log.With().Str("backend", "native").Logger(),
		streamCtx: ctx,
		cancel:    cancel,
	}
}

// play connects to the source and attaches the decoded stream to the
// sink. ctx bounds the attempt only; once audio is flowing the stream
// lives until destroy.
func (b *nativeBackend) play(ctx context.Context) error {
	// Propagate the attempt deadline into the long-lived stream
	// context, but stop doing so the moment the attempt succeeds.
	detach := context.AfterFunc(ctx, b.cancel)

	var err error
	if b.demuxer != "" {
		err = b.playDemuxed(b.streamCtx)
	} else {
		err = b.playDirect(b.streamCtx)
	}
	if err != nil {
		b.cancel()
		return err
	}

	if !detach() {
		// The deadline fired while we were attaching.
		return ctx.Err()
	}

	return nil
}

func (b *nativeBackend) playDirect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Icy-MetaData", "0")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to stream: %w", err)
	}

	b.mu.Lock()
	b.body = resp.Body
	b.mu.Unlock()

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	dec, err := mp3.NewDecoder(bufio.NewReaderSize(resp.Body, streamBufferSize))
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("decoding stream: %w", err)
	}

	if err := b.attach(dec); err != nil {
		resp.Body.Close()
		return err
	}
	b.log.Debug().Str("url", b.url).Msg("direct stream attached")

	return nil
}

// playDemuxed hands the manifest to the system demuxer and plays its
// raw PCM output.
func (b *nativeBackend) playDemuxed(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, b.demuxer,
		"-hide_banner", "-loglevel", "error",
		"-user_agent", userAgent,
		"-i", b.url,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channelCount),
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("demuxer pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting demuxer: %w", err)
	}

	go func() {
		// Reap the process once the stream context ends.
		<-ctx.Done()
		cmd.Wait()
	}()

	if err := b.attach(bufio.NewReaderSize(stdout, streamBufferSize)); err != nil {
		return err
	}
	b.log.Debug().Str("url", b.url).Str("demuxer", b.demuxer).Msg("demuxed stream attached")

	return nil
}

func (b *nativeBackend) destroy() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.body != nil {
		b.body.Close()
		b.body = nil
	}
}
