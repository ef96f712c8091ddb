// Command radyo is the command-line front to the station catalog and
// the player: list stations, play one until interrupted, review the
// listening history.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radyolab/radyo/catalog"
	"github.com/radyolab/radyo/engine"
	"github.com/radyolab/radyo/playback"
	"github.com/radyolab/radyo/store"
)

var (
	dbPath   string
	verbose  bool
	category string
	group    string
	volume   int
)

var rootCmd = &cobra.Command{
	Use:           "radyo",
	Short:         "Turkish web radio player",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stations in the catalog",
	RunE:  runList,
}

var playCmd = &cobra.Command{
	Use:   "play <station>",
	Short: "Play a station until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlay,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently played stations",
	RunE:  runHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "session database path (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	listCmd.Flags().StringVar(&category, "category", "", "only stations tagged with this category")
	listCmd.Flags().StringVar(&group, "group", "", "only stations in this group")

	playCmd.Flags().IntVar(&volume, "volume", -1, "playback volume 0-100 (default: last session)")

	rootCmd.AddCommand(listCmd, playCmd, historyCmd)
}

func newLogger() zerolog.Logger {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !verbose {
		log = log.Level(zerolog.WarnLevel)
	}

	return log
}

func openStore(log zerolog.Logger) (*store.Store, error) {
	path := dbPath
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			return nil, err
		}
	}

	return store.Open(path, log)
}

func runList(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load()
	if err != nil {
		return err
	}

	stations := cat.Stations()
	switch {
	case category != "":
		stations = cat.ByCategory(category).Stations
	case group != "":
		stations = cat.ByGroup(group).Stations
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATION\tGROUP\tCATEGORIES\tSTREAM")
	for _, st := range stations {
		kind := "direct"
		if st.IsSegmented() {
			kind = "hls"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			st.Name, st.Group(""), strings.Join(st.Categories, ","), kind)
	}

	return w.Flush()
}

func runPlay(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cat, err := catalog.Load()
	if err != nil {
		return err
	}

	name := strings.Join(args, " ")
	st, err := cat.Lookup(name)
	if err != nil {
		return err
	}

	sessions, err := openStore(log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	caps := engine.DetectCapabilities()
	eng, err := engine.New(engine.Config{Caps: caps, Logger: log})
	if err != nil {
		return err
	}

	gestures := playback.NewGestureSignal()
	player := playback.New(playback.Config{
		Engine:     eng,
		Store:      sessions,
		Featured:   cat,
		Gestures:   gestures,
		Restricted: caps.RestrictedOutput(),
		Logger:     log,
	})
	defer player.Close()

	// Running the command is the user's gesture.
	gestures.Trigger()

	if volume >= 0 {
		player.SetVolume(volume)
	}

	// The station's own group makes the natural queue for media keys
	// and a later resume.
	queue := cat.ByGroup(st.Group(""))
	player.TogglePlay(st, queue.Stations, queue.Source)

	sub := player.Subscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Playing %s (volume %d). Ctrl-C to stop.\n", st.Name, player.Volume())

	for {
		select {
		case e := <-sub.StateChanged:
			if e.Station != nil && !e.Station.Same(st) {
				st = *e.Station
				fmt.Printf("Now playing %s\n", st.Name)
			}
			if !e.Playing {
				// The stream failed to start or was paused externally.
				log.Debug().Msg("playback stopped")
			}
		case <-ctx.Done():
			fmt.Println("\nStopping.")
			return nil
		}
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	log := newLogger()

	sessions, err := openStore(log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	entries := sessions.History()
	if len(entries) == 0 {
		fmt.Println("No listening history yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i := len(entries) - 1; i >= 0; i-- {
		fmt.Fprintf(w, "%d\t%s\t%s\n", len(entries)-i, entries[i].Name, entries[i].Group(""))
	}

	return w.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "radyo:", err)
		os.Exit(1)
	}
}
