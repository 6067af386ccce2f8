package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"eventscout/internal/server"
	"eventscout/internal/store"
	"eventscout/pkg/auth"
	"eventscout/pkg/classify"
	"eventscout/pkg/config"
	"eventscout/pkg/imagecache"
	"eventscout/pkg/instagram"
	"eventscout/pkg/logger"
	"eventscout/pkg/metrics"
	"eventscout/pkg/monitor"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor and its HTTP API",
	Long: `Run the background monitoring loop and the HTTP API.

The monitor sweeps all active accounts on the configured interval. The API
serves account and post management, sweep control, runtime settings and
Prometheus metrics.`,
	Example: `  # Run with defaults
  eventscout serve

  # Run with a specific config file
  eventscout serve --config ./eventscout.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	sessions, err := auth.NewManager()
	if err != nil {
		return err
	}

	svc, cache, err := buildService(cfg, db, sessions, log)
	if err != nil {
		return err
	}
	svc.SetMetrics(metrics.New(nil))

	if cfg.Monitor.Enabled {
		go svc.RunPeriodic(ctx)
	}
	if cfg.Images.PrefetchWorkers > 0 {
		go func() {
			if _, err := imagecache.Backfill(ctx, db, cache, cfg.Images.PrefetchWorkers, 200, log); err != nil {
				log.WithError(err).Warn("image backfill failed")
			}
		}()
	}

	srv := server.New(cfg, db, svc, sessions, log)
	return srv.Run(ctx)
}

// buildService assembles the sweep orchestrator from configuration. The
// direct source is left out when no Instagram session is available, which
// restricts sweeps to the remote source.
func buildService(cfg *config.Config, db monitor.Persistence, sessions *auth.Manager, log logger.Logger) (*monitor.Service, *imagecache.Cache, error) {
	applyStoredSession(cfg, sessions, log)

	var direct monitor.SourceAdapter
	if cfg.Instagram.SessionID != "" {
		client := instagram.NewClient(&cfg.Instagram, log)
		direct = monitor.NewDirectAdapter(client, cfg.Fetch.KnownBreakThreshold, log)
	} else {
		log.Warn("no Instagram session configured, direct scraping disabled")
	}

	cache, err := imagecache.New(cfg.Images.Directory, cfg.Images.DownloadTimeout, log)
	if err != nil {
		return nil, nil, err
	}

	classifier := classify.NewCaptionClassifier()
	return monitor.NewService(cfg, db, direct, classifier, cache, log), cache, nil
}

// applyStoredSession fills the Instagram credentials from the session store
// when the configuration does not carry them
func applyStoredSession(cfg *config.Config, sessions *auth.Manager, log logger.Logger) {
	if cfg.Instagram.SessionID != "" {
		return
	}
	session, err := sessions.RetrieveDefault()
	if err != nil {
		return
	}
	cfg.Instagram.SessionID = session.SessionID
	cfg.Instagram.CSRFToken = session.CSRFToken
	cfg.Instagram.DSUserID = session.DSUserID
	if session.UserAgent != "" {
		cfg.Instagram.UserAgent = session.UserAgent
	}
	log.InfoWithFields("using stored Instagram session", map[string]interface{}{
		"username": session.Username,
	})
}
