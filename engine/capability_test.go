package engine

import (
	"errors"
	"testing"
)

func testCaps(goos string, env map[string]string, binaries ...string) *Capabilities {
	return &Capabilities{
		goos:   goos,
		getenv: func(k string) string { return env[k] },
		lookPath: func(name string) (string, error) {
			for _, b := range binaries {
				if b == name {
					return "/usr/bin/" + name, nil
				}
			}
			return "", errors.New("not found")
		},
	}
}

func TestSupportsNativeSegmented(t *testing.T) {
	cases := []struct {
		name     string
		caps     *Capabilities
		expected bool
	}{
		{"demuxer on path", testCaps("linux", nil, "ffmpeg"), true},
		{"fallback demuxer", testCaps("linux", nil, "avconv"), true},
		{"no demuxer", testCaps("linux", nil), false},
		{"forced off", testCaps("linux", map[string]string{envNativeHLS: "0"}, "ffmpeg"), false},
		{"forced on", testCaps("linux", map[string]string{envNativeHLS: "1"}), true},
		{"headless never", testCaps("linux", map[string]string{envHeadless: "1"}, "ffmpeg"), false},
	}

	for _, c := range cases {
		if got := c.caps.SupportsNativeSegmented(); got != c.expected {
			t.Errorf("%s: got %v; want %v", c.name, got, c.expected)
		}
	}
}

func TestRestrictedOutput(t *testing.T) {
	cases := []struct {
		name     string
		caps     *Capabilities
		expected bool
	}{
		{"ios is restricted", testCaps("ios", nil), true},
		{"linux is not", testCaps("linux", nil), false},
		{"forced restricted", testCaps("linux", map[string]string{envRestricted: "1"}), true},
		{"headless never", testCaps("ios", map[string]string{envHeadless: "1"}), false},
	}

	for _, c := range cases {
		if got := c.caps.RestrictedOutput(); got != c.expected {
			t.Errorf("%s: got %v; want %v", c.name, got, c.expected)
		}
	}
}

func TestProbeIsCached(t *testing.T) {
	calls := 0
	caps := &Capabilities{
		goos: "linux",
		getenv: func(string) string {
			calls++
			return ""
		},
		lookPath: func(string) (string, error) { return "", errors.New("not found") },
	}

	caps.SupportsNativeSegmented()
	after := calls
	caps.SupportsNativeSegmented()
	caps.RestrictedOutput()
	caps.Headless()

	if calls != after {
		t.Errorf("environment probed again after first query: %d calls, then %d", after, calls)
	}
}
