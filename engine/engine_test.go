package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/radyolab/radyo"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) indexOf(e string) int {
	for i, v := range r.list() {
		if v == e {
			return i
		}
	}
	return -1
}

type fakeSink struct {
	rec    *recorder
	volume float64
}

func (s *fakeSink) attach(io.Reader)      { s.rec.add("sink:attach") }
func (s *fakeSink) pause()                { s.rec.add("sink:pause") }
func (s *fakeSink) resume()               { s.rec.add("sink:resume") }
func (s *fakeSink) stop()                 { s.rec.add("sink:stop") }
func (s *fakeSink) setVolume(lvl float64) { s.volume = lvl; s.rec.add("sink:volume") }
func (s *fakeSink) reload()               { s.rec.add("sink:reload") }
func (s *fakeSink) close()                { s.rec.add("sink:close") }

type fakeBackend struct {
	name    string
	rec     *recorder
	playErr error
	block   chan error
}

func (b *fakeBackend) play(ctx context.Context) error {
	b.rec.add("play:" + b.name)

	if b.block != nil {
		select {
		case err := <-b.block:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return b.playErr
}

func (b *fakeBackend) destroy() {
	b.rec.add("destroy:" + b.name)
}

// newTestEngine builds an engine around fakes; backends are named by
// the last path element of the stream URL.
func newTestEngine(caps *Capabilities) (*Engine, *recorder, map[string]*fakeBackend) {
	rec := &recorder{}
	created := make(map[string]*fakeBackend)

	e := &Engine{
		caps:    caps,
		log:     zerolog.Nop(),
		client:  http.DefaultClient,
		timeout: time.Second,
		out:     &fakeSink{rec: rec},
	}

	mk := func(kind, name string) backend {
		b := &fakeBackend{name: kind + ":" + name, rec: rec}
		created[b.name] = b
		return b
	}
	e.native = func(rawurl, demuxer string) backend {
		return mk("native", lastElem(rawurl))
	}
	e.segmented = func(manifest *url.URL) backend {
		return mk("segmented", lastElem(manifest.String()))
	}

	return e, rec, created
}

func lastElem(rawurl string) string {
	parts := strings.Split(strings.TrimSuffix(rawurl, "/"), "/")
	return parts[len(parts)-1]
}

var (
	stationA = radyo.Station{ID: "a", Name: "Kral FM", StreamURL: "https://example.com/a.m3u8"}
	stationB = radyo.Station{ID: "b", Name: "Power FM", StreamURL: "https://example.com/b.mp3"}
)

func TestBackendSelection(t *testing.T) {
	cases := []struct {
		name    string
		caps    *Capabilities
		station radyo.Station
		played  string
	}{
		{"segmented without native support", testCaps("linux", nil), stationA, "play:segmented:a.m3u8"},
		{"segmented with native support", testCaps("linux", nil, "ffmpeg"), stationA, "play:native:a.m3u8"},
		{"direct stream", testCaps("linux", nil), stationB, "play:native:b.mp3"},
	}

	for _, c := range cases {
		e, rec, _ := newTestEngine(c.caps)

		if err := e.PlayStation(context.Background(), c.station, 80); err != nil {
			t.Fatalf("%s: PlayStation: %v", c.name, err)
		}
		if rec.indexOf(c.played) < 0 {
			t.Errorf("%s: %q not in %v", c.name, c.played, rec.list())
		}
	}
}

// Switching stations must fully tear down the previous backend before
// the next one starts.
func TestTeardownBeforeAttach(t *testing.T) {
	e, rec, _ := newTestEngine(testCaps("linux", nil))

	if err := e.PlayStation(context.Background(), stationA, 80); err != nil {
		t.Fatalf("PlayStation(A): %v", err)
	}
	if err := e.PlayStation(context.Background(), stationB, 80); err != nil {
		t.Fatalf("PlayStation(B): %v", err)
	}

	destroyA := rec.indexOf("destroy:segmented:a.m3u8")
	playB := rec.indexOf("play:native:b.mp3")

	if destroyA < 0 || playB < 0 {
		t.Fatalf("missing events in %v", rec.list())
	}
	if destroyA > playB {
		t.Errorf("backend A destroyed after B started: %v", rec.list())
	}
}

// A switch while a play attempt is still in flight destroys the stale
// backend without detaching the new one.
func TestInFlightSwitch(t *testing.T) {
	e, rec, created := newTestEngine(testCaps("linux", nil))

	block := make(chan error)
	e.segmented = func(manifest *url.URL) backend {
		b := &fakeBackend{name: "segmented:" + lastElem(manifest.String()), rec: rec, block: block}
		created[b.name] = b
		return b
	}

	done := make(chan error, 1)
	go func() {
		done <- e.PlayStation(context.Background(), stationA, 80)
	}()

	// wait until A's attempt is in flight
	for rec.indexOf("play:segmented:a.m3u8") < 0 {
		time.Sleep(time.Millisecond)
	}

	if err := e.PlayStation(context.Background(), stationB, 80); err != nil {
		t.Fatalf("PlayStation(B): %v", err)
	}

	// A's attempt resolves late, with a failure
	block <- errors.New("manifest unreachable")
	if err := <-done; err == nil {
		t.Fatal("stale attempt should report failure")
	}

	// B must still be the attached backend
	e.mu.Lock()
	current := e.currentURL
	e.mu.Unlock()

	if current != stationB.StreamURL {
		t.Errorf("current URL: got %q; want %q", current, stationB.StreamURL)
	}
}

func TestPlayFailureDetaches(t *testing.T) {
	e, rec, _ := newTestEngine(testCaps("linux", nil))

	e.native = func(rawurl, demuxer string) backend {
		return &fakeBackend{name: "native:" + lastElem(rawurl), rec: rec, playErr: errors.New("connection refused")}
	}

	if err := e.PlayStation(context.Background(), stationB, 80); err == nil {
		t.Fatal("expected failure")
	}

	if rec.indexOf("destroy:native:b.mp3") < 0 {
		t.Errorf("failed backend not destroyed: %v", rec.list())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend != nil {
		t.Error("backend still attached after failure")
	}
}

func TestCheapResume(t *testing.T) {
	e, rec, _ := newTestEngine(testCaps("linux", nil))

	if err := e.PlayStation(context.Background(), stationB, 80); err != nil {
		t.Fatalf("PlayStation: %v", err)
	}
	e.Pause()

	before := len(rec.list())
	if err := e.PlayStation(context.Background(), stationB, 80); err != nil {
		t.Fatalf("resume: %v", err)
	}

	events := rec.list()[before:]
	for _, ev := range events {
		if strings.HasPrefix(ev, "play:") || strings.HasPrefix(ev, "destroy:") {
			t.Errorf("resume rebuilt the backend: %v", events)
		}
	}
	if rec.indexOf("sink:resume") < 0 {
		t.Errorf("resume did not resume the sink: %v", rec.list())
	}
}

func TestVolumeRestricted(t *testing.T) {
	e, rec, _ := newTestEngine(testCaps("ios", nil))

	e.SetVolume(50)
	if rec.indexOf("sink:volume") >= 0 {
		t.Error("restricted platform wrote output volume")
	}

	if err := e.PlayStation(context.Background(), stationB, 50); err != nil {
		t.Fatalf("PlayStation: %v", err)
	}
	if rec.indexOf("sink:volume") >= 0 {
		t.Error("restricted platform wrote output volume during play")
	}
}

func TestDestroy(t *testing.T) {
	e, rec, _ := newTestEngine(testCaps("linux", nil))

	if err := e.PlayStation(context.Background(), stationB, 80); err != nil {
		t.Fatalf("PlayStation: %v", err)
	}

	e.Destroy()
	e.Destroy() // second call is a no-op

	if rec.indexOf("sink:close") < 0 {
		t.Errorf("output handle not released: %v", rec.list())
	}

	if err := e.PlayStation(context.Background(), stationB, 80); !errors.Is(err, ErrDestroyed) {
		t.Errorf("PlayStation after Destroy: got %v; want ErrDestroyed", err)
	}
}

// A backend that was replaced before its stream reached the sink must
// be refused at the attach gate; otherwise the old station's audio
// would play while all state says the new one.
func TestStaleAttachRefused(t *testing.T) {
	e, rec, _ := newTestEngine(testCaps("linux", nil))

	bA := &fakeBackend{name: "A", rec: rec}
	attachA := e.attacher(bA)

	e.mu.Lock()
	e.backend = bA
	e.mu.Unlock()

	// B replaces A while A is still connecting
	bB := &fakeBackend{name: "B", rec: rec}
	e.mu.Lock()
	e.backend = bB
	e.mu.Unlock()

	if err := attachA(strings.NewReader("")); !errors.Is(err, errDetached) {
		t.Fatalf("stale attach: got %v; want errDetached", err)
	}
	if rec.indexOf("sink:attach") >= 0 {
		t.Fatalf("stale backend reached the sink: %v", rec.list())
	}

	// the current backend goes through
	if err := e.attacher(bB)(strings.NewReader("")); err != nil {
		t.Fatalf("current attach: %v", err)
	}
	if rec.indexOf("sink:attach") < 0 {
		t.Error("current backend did not reach the sink")
	}
}

// Destroying a backend before its play attempt ran (the window between
// publication and play) must make the attempt fail without touching
// the sink.
func TestNativeDestroyBeforePlay(t *testing.T) {
	rec := &recorder{}
	snk := &fakeSink{rec: rec}

	b := newNativeBackend("http://127.0.0.1:0/stream.mp3", "", http.DefaultClient, zerolog.Nop())
	b.attach = func(src io.Reader) error {
		snk.attach(src)
		return nil
	}

	b.destroy()

	if err := b.play(context.Background()); err == nil {
		t.Fatal("destroyed backend must not play")
	}
	if rec.indexOf("sink:attach") >= 0 {
		t.Error("destroyed backend attached to the sink")
	}
}

func TestHeadlessNoOutput(t *testing.T) {
	e, _, _ := newTestEngine(testCaps("linux", nil))
	e.out = nil

	if err := e.PlayStation(context.Background(), stationB, 80); !errors.Is(err, ErrNoOutput) {
		t.Errorf("got %v; want ErrNoOutput", err)
	}
}
