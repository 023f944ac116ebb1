package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/monkey1992/XyWebRTC/internal/config"
	"github.com/monkey1992/XyWebRTC/internal/session"
	"github.com/monkey1992/XyWebRTC/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagRecordDir string
	flagVideo     string
	flagHeadless  bool
	flagLoopback  bool
	flagName      string
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room and connect to its members",
	Long: `Join a room on the rendezvous server. The first member creates the room;
everyone joining later sends an offer to the members already there.

Examples:
  xywebrtc join
  xywebrtc join OldPlace --record-dir ./recordings
  xywebrtc join --video intro.ivf --server wss://rtc.example.com/ws`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := baseOptions()
		if len(args) == 1 {
			opts.Room = args[0]
		}
		opts.RecordDir = flagRecordDir
		opts.VideoFile = flagVideo
		return joinRoom(cmd, opts)
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagRecordDir, "record-dir", "o", "", "Write each peer's video to <dir>/<peer>.ivf")
	joinCmd.Flags().StringVar(&flagVideo, "video", "", "Loop a VP8 IVF file into the local video track")
	joinCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Plain log output instead of the live status view")
	joinCmd.Flags().BoolVar(&flagLoopback, "loopback", false, "Gather loopback candidates (peers on this machine)")
	joinCmd.Flags().StringVar(&flagName, "name", "", "Name announced to peers (default hostname)")
	rootCmd.AddCommand(joinCmd)
}

func joinRoom(cmd *cobra.Command, opts config.Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.TLSMode == config.TLSInsecure {
		ui.PrintWarning("TLS verification disabled for the rendezvous server")
	}

	tty := isatty.IsTerminal(os.Stdout.Fd())
	headless := flagHeadless || !tty

	s, err := session.New(cfg, session.Options{
		Logger:   logger,
		Out:      cmd.OutOrStdout(),
		Headless: headless,
		Loopback: flagLoopback,
		Name:     flagName,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	switch connectFeedback(headless, tty) {
	case feedbackSpinner:
		sp := ui.NewConnectionSpinner(fmt.Sprintf("Connecting to %s...", cfg.Server))
		sp.Start()
		if err := s.Start(ctx); err != nil {
			sp.Error("Could not reach the rendezvous server")
			return err
		}
		sp.Stop()
	case feedbackLine:
		ui.PrintInfof("Connecting to %s", cfg.Server)
		if err := s.Start(ctx); err != nil {
			return err
		}
	default:
		// The status view owns the terminal from Start on and shows its own
		// connecting state.
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	return s.Wait(ctx)
}

type feedback int

const (
	feedbackStatus feedback = iota
	feedbackSpinner
	feedbackLine
)

// connectFeedback picks how joining is shown. The spinner redraws with
// carriage returns, so it needs a terminal that no status program is using.
func connectFeedback(headless, tty bool) feedback {
	switch {
	case !headless:
		return feedbackStatus
	case tty:
		return feedbackSpinner
	default:
		return feedbackLine
	}
}
