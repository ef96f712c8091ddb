package engine

import (
	"os"
	"os/exec"
	"runtime"
	"sync"
)

// Environment overrides, mainly for development and tests.
const (
	envHeadless   = "RADYO_HEADLESS"
	envNativeHLS  = "RADYO_NATIVE_HLS"
	envRestricted = "RADYO_RESTRICTED_OUTPUT"
)

// demuxers that can unpack a segmented stream natively, in preference
// order.
var demuxerNames = []string{"ffmpeg", "avconv"}

// Capabilities answers the once-per-process environment probes that
// drive backend selection and volume handling. Probes run lazily on
// first query and are cached for the process lifetime.
type Capabilities struct {
	once sync.Once

	headless   bool
	restricted bool
	demuxer    string

	goos     string
	getenv   func(string) string
	lookPath func(string) (string, error)
}

// DetectCapabilities returns a detector backed by the real environment.
func DetectCapabilities() *Capabilities {
	return &Capabilities{
		goos:     runtime.GOOS,
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
	}
}

func (c *Capabilities) probe() {
	c.once.Do(func() {
		c.headless = c.getenv(envHeadless) == "1" || c.goos == "js"
		if c.headless {
			return
		}

		switch c.getenv(envNativeHLS) {
		case "1":
			c.demuxer = demuxerNames[0]
		case "0":
			// forced off
		default:
			for _, name := range demuxerNames {
				if path, err := c.lookPath(name); err == nil {
					c.demuxer = path
					break
				}
			}
		}

		c.restricted = c.getenv(envRestricted) == "1" || c.goos == "ios"
	})
}

// Headless reports whether no audio output is available at all, e.g.
// when running as part of a build or test environment.
func (c *Capabilities) Headless() bool {
	c.probe()
	return c.headless
}

// SupportsNativeSegmented reports whether segmented-streaming manifests
// can be handed to a system demuxer instead of the in-process
// segmented backend. Always false in a headless environment.
func (c *Capabilities) SupportsNativeSegmented() bool {
	c.probe()
	return c.demuxer != ""
}

// RestrictedOutput reports whether the platform forbids programmatic
// volume writes and requires a user gesture before audio may start.
// Detection is by platform signature, not probing. Always false in a
// headless environment.
func (c *Capabilities) RestrictedOutput() bool {
	c.probe()
	return c.restricted
}

// demuxerPath returns the resolved demuxer binary, if any.
func (c *Capabilities) demuxerPath() string {
	c.probe()
	return c.demuxer
}
