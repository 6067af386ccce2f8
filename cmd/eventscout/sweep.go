package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"eventscout/internal/store"
	"eventscout/pkg/auth"
	"eventscout/pkg/logger"
	"eventscout/pkg/monitor"
)

var (
	sweepPostCount int
	sweepSince     bool
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one monitoring sweep and exit",
	Long: `Run a single monitoring sweep over all active accounts and exit.

By default the sweep fetches the newest posts of every account regardless of
when they were last checked. With --since it only looks at posts published
after each account's last check.`,
	Example: `  # Fetch the newest 3 posts of every account
  eventscout sweep

  # Fetch a wider window
  eventscout sweep --count 10

  # Incremental sweep since the last check
  eventscout sweep --since`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().IntVar(&sweepPostCount, "count", 3, "number of recent posts to fetch per account")
	sweepCmd.Flags().BoolVar(&sweepSince, "since", false, "only fetch posts published since the last check")
}

func runSweep(cmd *cobra.Command, args []string) error {
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

	svc, _, err := buildService(cfg, db, sessions, log)
	if err != nil {
		return err
	}

	if sweepSince {
		result, err := svc.SweepSince(ctx, monitor.SweepManual)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d accounts, created %d posts (%d classified)\n",
			result.AccountsProcessed, result.PostsCreated, result.PostsClassified)
		return nil
	}

	result, err := svc.SweepLatest(ctx, monitor.SweepManual, sweepPostCount)
	if err != nil {
		return err
	}
	fmt.Printf("Processed %d accounts, created %d posts (%d classified)\n",
		result.AccountsProcessed, result.PostsCreated, result.PostsClassified)
	return nil
}
