// Command radyod runs the radyo playback daemon: it exposes the
// player on the session bus as an MPRIS media player and keeps the
// session persisted across restarts. Desktop media keys and any MPRIS
// client (playerctl, GNOME, KDE) control it.
package main

import (
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/radyolab/radyo/catalog"
	"github.com/radyolab/radyo/engine"
	"github.com/radyolab/radyo/mpris"
	"github.com/radyolab/radyo/playback"
	"github.com/radyolab/radyo/store"
)

var (
	dbPath      string
	identity    string
	iconBase    string
	playTimeout time.Duration
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "radyod",
	Short: "Web radio playback daemon with MPRIS control",
	Long: `radyod plays Turkish web radio streams and exposes itself on the
session bus as an MPRIS media player, so desktop media keys and tools
like playerctl drive it. Volume, the current station, and the active
queue survive restarts.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "", "session database path (default: user config dir)")
	rootCmd.Flags().StringVar(&identity, "identity", "Radyo", "player identity shown to MPRIS clients")
	rootCmd.Flags().StringVar(&iconBase, "icon-base", "", "base URL for resolving relative station icons")
	rootCmd.Flags().DurationVar(&playTimeout, "play-timeout", engine.DefaultPlayTimeout, "deadline for a stream to start")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !verbose {
		log = log.Level(zerolog.InfoLevel)
	}

	cat, err := catalog.Load()
	if err != nil {
		return err
	}

	if dbPath == "" {
		dbPath, err = store.DefaultPath()
		if err != nil {
			return err
		}
	}
	sessions, err := store.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	caps := engine.DetectCapabilities()
	eng, err := engine.New(engine.Config{
		Caps:        caps,
		Logger:      log,
		PlayTimeout: playTimeout,
	})
	if err != nil {
		return err
	}

	var base *url.URL
	if iconBase != "" {
		if base, err = url.Parse(iconBase); err != nil {
			return err
		}
	}
	bridge := mpris.NewBridge(identity, base, log)

	gestures := playback.NewGestureSignal()
	player := playback.New(playback.Config{
		Engine:      eng,
		Bridge:      bridge,
		Store:       sessions,
		Featured:    cat,
		Gestures:    gestures,
		Restricted:  caps.RestrictedOutput(),
		Logger:      log,
		PlayTimeout: playTimeout,
	})
	defer player.Close()

	// Launching the daemon is the operator's gesture.
	gestures.Trigger()

	log.Info().Str("db", dbPath).Int("stations", len(cat.Stations())).
		Msg("radyod ready")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := player.Subscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case e := <-sub.StateChanged:
				ev := log.Info().Bool("playing", e.Playing).Int("volume", e.Volume)
				if e.Station != nil {
					ev = ev.Str("station", e.Station.Name)
				}
				ev.Msg("state")
			case <-sub.Done:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err = g.Wait()
	log.Info().Msg("shutting down")

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		logger.Err(err).Msg("radyod failed")
		os.Exit(1)
	}
}
