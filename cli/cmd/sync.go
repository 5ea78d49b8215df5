package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/zhaobenny/picost/cli/internal/aggregator"
	"github.com/zhaobenny/picost/cli/internal/config"
	"github.com/zhaobenny/picost/cli/internal/sync"
	"github.com/zhaobenny/picost/internal/logger"
)

var syncFlags struct {
	dryRun   bool
	interval time.Duration
}

var errNotConfigured = errors.New("not configured, run 'picost config --server <url> --api-key <key>' first")

var syncCmd = &cobra.Command{
	Use:   "sync [install|start|stop|uninstall|status|run]",
	Short: "Sync session costs to a picost server",
	Long: `Without a command, sync once. The service commands manage a background
service that syncs on an interval.`,
	Example: `  picost sync                       Sync once
  picost sync install               Install service (syncs every hour)
  picost sync install --interval 30m
  picost sync start                 Start the service
  picost sync stop                  Stop the service`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"install", "start", "stop", "uninstall", "status", "run"},
	RunE:      runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFlags.dryRun, "dry-run", false, "Show what would be synced without sending")
	syncCmd.Flags().DurationVar(&syncFlags.interval, "interval", time.Hour, "Sync interval for service mode (e.g., 1h, 30m)")
	rootCmd.AddCommand(syncCmd)
}

// syncService implements service.Interface for background syncing
type syncService struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	logger   service.Logger
}

func (s *syncService) Start(svc service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

func (s *syncService) Stop(svc service.Service) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

func (s *syncService) run(ctx context.Context) {
	defer close(s.done)

	cfg, err := config.Load()
	if err != nil || !cfg.SyncConfigured() {
		s.errorf("Not configured. Run 'picost config' first.")
		return
	}

	client := sync.NewClient(cfg)

	// Sync immediately on start
	s.doSync(ctx, client)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.doSync(ctx, client)
		case <-ctx.Done():
			return
		}
	}
}

func (s *syncService) doSync(ctx context.Context, client *sync.Client) {
	sessions, err := loadSessions(ctx)
	if err != nil {
		s.errorf("Error reading session logs: %v", err)
		return
	}

	kept, _ := aggregator.FilterSessions(sessions, aggregator.Options{})
	records, upserted, err := client.SyncSessions(ctx, kept, false)
	if err != nil {
		s.errorf("Error syncing: %v", err)
		return
	}

	if len(records) > 0 && s.logger != nil {
		s.logger.Infof("Synced %d records (%d changed)", len(records), upserted)
	}
}

func (s *syncService) errorf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Errorf(format, args...)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	var svcCommand string
	if len(args) > 0 {
		svcCommand = args[0]
	}

	svcConfig := &service.Config{
		Name:        "picost-sync",
		DisplayName: "picost Sync Service",
		Description: "Automatically syncs pi agent session costs to a picost server",
		Arguments:   []string{"sync", "run", fmt.Sprintf("--interval=%s", syncFlags.interval)},
	}

	svc := &syncService{interval: syncFlags.interval}
	s, err := service.New(svc, svcConfig)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	out := cmd.OutOrStdout()

	switch svcCommand {
	case "install":
		cfg, err := config.Load()
		if err != nil || !cfg.SyncConfigured() {
			return errNotConfigured
		}
		if err := s.Install(); err != nil {
			return fmt.Errorf("install service: %w", err)
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("service installed but failed to start: %w", err)
		}
		fmt.Fprintln(out, "Service installed and started.")
		fmt.Fprintf(out, "Sync interval: %s\n", syncFlags.interval)
		return nil

	case "start":
		if err := s.Start(); err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		fmt.Fprintln(out, "Service started.")
		return nil

	case "stop":
		if err := s.Stop(); err != nil {
			return fmt.Errorf("stop service: %w", err)
		}
		fmt.Fprintln(out, "Service stopped.")
		return nil

	case "uninstall":
		_ = s.Stop()
		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("uninstall service: %w", err)
		}
		fmt.Fprintln(out, "Service uninstalled.")
		return nil

	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Fprintf(out, "Service status: not installed or error (%v)\n", err)
			return nil
		}
		switch status {
		case service.StatusRunning:
			fmt.Fprintln(out, "Service status: running")
		case service.StatusStopped:
			fmt.Fprintln(out, "Service status: stopped")
		default:
			fmt.Fprintln(out, "Service status: unknown")
		}
		return nil

	case "run":
		// Invoked by the service manager
		if l, err := s.Logger(nil); err == nil {
			svc.logger = l
		}
		return s.Run()

	case "":
		return syncOnce(cmd.Context(), cmd)

	default:
		return fmt.Errorf("unknown sync command %q", svcCommand)
	}
}

func syncOnce(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil || !cfg.SyncConfigured() {
		return errNotConfigured
	}

	sessions, err := loadSessions(ctx)
	if err != nil {
		return fmt.Errorf("read session logs: %w", err)
	}
	kept, skipped := aggregator.FilterSessions(sessions, aggregator.Options{})
	logger.FromContext(ctx).Sugar().Debugf("syncing %d sessions, %d without a start marker", len(kept), skipped)

	client := sync.NewClient(cfg)
	records, upserted, err := client.SyncSessions(ctx, kept, syncFlags.dryRun)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No new records to sync.")
		return nil
	}

	fmt.Fprintf(out, "Found %d records to sync.\n", len(records))
	if syncFlags.dryRun {
		fmt.Fprintln(out, "Dry run - no data sent.")
		return nil
	}

	fmt.Fprintf(out, "Sync complete. %d records updated.\n", upserted)
	return nil
}
