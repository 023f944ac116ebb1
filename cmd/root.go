package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/monkey1992/XyWebRTC/internal/config"
	"github.com/monkey1992/XyWebRTC/internal/session"
	"github.com/monkey1992/XyWebRTC/internal/ui"
	"github.com/monkey1992/XyWebRTC/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagServer   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagInsecure bool
	flagCAFile   string
)

var errNoTURN = errors.New("cannot force relay mode without a TURN server")

// logger is set by Execute.
var logger zerolog.Logger

var rootCmd = &cobra.Command{
	Use:   "xywebrtc",
	Short: "Join WebRTC rooms and exchange audio/video peer to peer",
	Long: `xywebrtc joins a named room on a rendezvous server and negotiates a direct
WebRTC connection with every other member. Remote video can be recorded to
IVF files and a local IVF file can be streamed to the room.

It also ships the rendezvous server itself (xywebrtc serve).`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "Config file (default ./xywebrtc.yaml)")
	pf.StringVarP(&flagServer, "server", "s", "", "Rendezvous websocket URL (ws:// or wss://)")
	pf.StringVar(&flagSTUN, "stun", "", "STUN server URL")
	pf.StringVar(&flagTURN, "turn", "", "TURN server host")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.BoolVar(&flagRelay, "relay", false, "Force TURN relay")
	pf.BoolVarP(&flagInsecure, "insecure", "k", false, "Skip TLS certificate verification of the rendezvous server")
	pf.StringVar(&flagCAFile, "ca-file", "", "PEM file with CA certificates trusted for the rendezvous server")
}

// baseOptions returns the config overrides shared by every command.
func baseOptions() config.Options {
	return config.Options{
		ConfigFile: flagConfig,
		Server:     flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Insecure:   flagInsecure,
		CAFile:     flagCAFile,
	}
}

func loadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, session.NewError("load config", err)
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, session.NewError("load config", errNoTURN)
	}
	return cfg, nil
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute(log zerolog.Logger) {
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
