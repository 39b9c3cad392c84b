package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/podium/internal/batch"
	"github.com/MeKo-Tech/podium/internal/classifier"
	"github.com/MeKo-Tech/podium/internal/config"
	"github.com/MeKo-Tech/podium/internal/engine"
	"github.com/MeKo-Tech/podium/internal/ensemble"
	"github.com/MeKo-Tech/podium/internal/pipeline"
	"github.com/MeKo-Tech/podium/internal/preprocess"
	"github.com/MeKo-Tech/podium/internal/roster"
	"github.com/MeKo-Tech/podium/internal/server"
	"github.com/MeKo-Tech/podium/internal/store"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and batch coordinator",
	Long: `Start an HTTP server that accepts screenshot submissions, processes
them in per-round batch windows and exposes the review API.

The server provides the following endpoints:
  POST /api/submissions              - Submit a screenshot
  GET  /api/submissions              - List submissions
  GET  /api/submissions/{id}         - Submission detail with audit trail
  POST /api/submissions/{id}/approve - Approve a review
  POST /api/submissions/{id}/reject  - Reject a review
  GET  /api/rounds/{id}/results      - Validated round standings
  GET  /ws/events                    - WebSocket submission events
  GET  /metrics                      - Prometheus metrics

Examples:
  podium serve
  podium serve --port 8080
  podium serve --host 0.0.0.0 --port 3000 --roster roster.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port

		logger := slog.Default()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer func() { _ = st.Close() }()

		rc, err := loadRoster(ctx, cfg, st, logger)
		if err != nil {
			return err
		}

		engines, err := buildEngines(cfg)
		if err != nil {
			return err
		}
		defer closeEngines(engines)

		ens, err := ensemble.New(cfg.Pipeline.Ensemble, preprocess.Variants(cfg.Preprocess), engines)
		if err != nil {
			return fmt.Errorf("building ensemble: %w", err)
		}
		cls := classifier.New(cfg.Pipeline.Classifier, engines[0])

		pipe, err := pipeline.New(cfg.Pipeline, cls, ens, rc, st, logger)
		if err != nil {
			return fmt.Errorf("building pipeline: %w", err)
		}

		coord, err := batch.New(cfg.Batch, pipe, st, batch.NewHTTPDownloader(), logger)
		if err != nil {
			return fmt.Errorf("building coordinator: %w", err)
		}

		srv, err := server.NewServer(cfg.Server, st, rc, coord, logger)
		if err != nil {
			return fmt.Errorf("building server: %w", err)
		}
		pipe.OnTransition = srv.SubmissionEvent

		coordDone := make(chan struct{})
		go func() {
			defer close(coordDone)
			coord.Run(ctx)
		}()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			<-coordDone
			return nil
		case err := <-errCh:
			stop()
			<-coordDone
			return err
		}
	},
}

// loadRoster seeds the roster cache from the configured YAML file and
// merges aliases learned in earlier sessions from the store.
func loadRoster(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*roster.Cache, error) {
	rc := roster.NewCache()
	if cfg.RosterFile != "" {
		if err := rc.LoadFile(cfg.RosterFile); err != nil {
			return nil, fmt.Errorf("loading roster: %w", err)
		}
		if err := rc.Watch(ctx, cfg.RosterFile); err != nil {
			return nil, fmt.Errorf("watching roster: %w", err)
		}
	}

	learned, err := st.Aliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading learned aliases: %w", err)
	}
	for _, a := range learned {
		if err := rc.LearnAlias(a.PlayerID, a.Alias, a.CreatedBy); err != nil {
			// Players removed from the roster file keep their stored
			// aliases, but those no longer resolve.
			logger.Warn("skipping stored alias", "player", a.PlayerID, "alias", a.Alias, "error", err)
		}
	}
	return rc, nil
}

// buildEngines constructs the enabled recognition engines.
func buildEngines(cfg *config.Config) ([]engine.Engine, error) {
	var engines []engine.Engine
	if cfg.Engines.Tesseract.Enabled {
		engines = append(engines, engine.NewTesseract(cfg.Engines.Tesseract.TesseractConfig))
	}
	if cfg.Engines.Paddle.Enabled {
		p, err := engine.NewPaddle(cfg.Engines.Paddle.PaddleConfig)
		if err != nil {
			return nil, fmt.Errorf("initializing paddle engine: %w", err)
		}
		engines = append(engines, p)
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("no recognition engine enabled")
	}
	return engines, nil
}

func closeEngines(engines []engine.Engine) {
	for _, e := range engines {
		if err := e.Close(); err != nil {
			slog.Warn("closing engine", "engine", e.Name(), "error", err)
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind the server to")
	serveCmd.Flags().IntP("port", "p", 0, "port to listen on")
}
