package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/monkey1992/XyWebRTC/internal/config"
	"github.com/monkey1992/XyWebRTC/internal/logging"
	"github.com/monkey1992/XyWebRTC/internal/rendezvous"
	"github.com/monkey1992/XyWebRTC/internal/session"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	flagListen   string
	flagMaxPeers int
	flagCert     string
	flagKey      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rendezvous server",
	Long: `Run the rendezvous server that rooms are created on. It relays offers,
answers and candidates between room members and never touches media.

Examples:
  xywebrtc serve
  xywebrtc serve --listen :8443 --cert server.pem --key server-key.pem
  xywebrtc serve --max-peers 0   # unlimited room size`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := baseOptions()
		opts.Listen = flagListen
		cfg, err := config.Load(opts)
		if err != nil {
			return session.NewError("load config", err)
		}
		// Zero is a meaningful value here, so the flag bypasses Options.
		if cmd.Flags().Changed("max-peers") {
			if flagMaxPeers < 0 {
				return session.NewError("load config", errors.New("max peers must be >= 0"))
			}
			cfg.MaxPeers = flagMaxPeers
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default :8080)")
	serveCmd.Flags().IntVar(&flagMaxPeers, "max-peers", config.DefaultMaxPeers, "Members per room, 0 for unlimited")
	serveCmd.Flags().StringVar(&flagCert, "cert", "", "TLS certificate (PEM)")
	serveCmd.Flags().StringVar(&flagKey, "key", "", "TLS private key (PEM)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.Module(logger, "serve")

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := rendezvous.NewHub(cfg.MaxPeers, logger)
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           rendezvous.NewRouter(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Int("max_peers", cfg.MaxPeers).Bool("tls", flagCert != "").Msg("rendezvous server listening")
		if flagCert != "" {
			errc <- srv.ListenAndServeTLS(flagCert, flagKey)
		} else {
			errc <- srv.ListenAndServe()
		}
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = srv.Shutdown(sctx)
		cancel()
	}

	stopHub()
	<-hub.Done()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return session.NewError("serve", err)
	}
	return nil
}
