package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/logging"
	"github.com/BioHazard786/tandem/internal/server"
)

const shutdownTimeout = 5 * time.Second

var (
	flagListen  string
	flagOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay. Participants connect to /ws, health is served
on /health and event counters on /metrics.

Examples:
  tandem serve
  tandem serve --listen :9000
  PORT=9000 tandem serve --allowed-origin https://call.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	logging.Init(zerolog.InfoLevel)

	cfg, err := config.LoadServer(config.ServerOptions{
		ConfigFile:     flagConfig,
		Listen:         flagListen,
		AllowedOrigins: flagOrigins,
	})
	if err != nil {
		return err
	}

	srv := server.New(cfg)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down signaling server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	ev := log.Info()
	for name, v := range srv.Metrics().Snapshot() {
		ev = ev.Uint64(name, v)
	}
	ev.Msg("Signaling server stopped")

	return <-errc
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default :8080)")
	serveCmd.Flags().StringSliceVar(&flagOrigins, "allowed-origin", nil, "Allowed browser origin (repeatable)")
}
