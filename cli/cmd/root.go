package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/picost/cli/internal/aggregator"
	"github.com/zhaobenny/picost/cli/internal/config"
	"github.com/zhaobenny/picost/cli/internal/output"
	"github.com/zhaobenny/picost/internal/logger"
	"github.com/zhaobenny/picost/internal/model"
	"github.com/zhaobenny/picost/internal/parser"
	"go.uber.org/zap"
)

const version = "0.3.0"

// reportFlags are shared by every command that builds a report
var reportFlags struct {
	dir      string
	workers  int
	since    string
	until    string
	timezone string
	jsonOut  bool
	compact  bool
	verbose  bool
}

var rootCmd = &cobra.Command{
	Use:   "picost",
	Short: "Per-session cost report for pi agent logs",
	Long: `picost reads the pi agent session logs (~/.pi/agent/sessions by default),
repairs records that were written back to back, and reports the cost of
every session broken down by model, sub-agent runs included.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logger.Init(reportFlags.verbose)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cmd.SetContext(logger.ContextWithLogger(cmd.Context(), l))
		return nil
	},
	RunE: runSessions,
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&reportFlags.dir, "dir", "d", "", "Sessions directory (default from config, then ~/.pi/agent/sessions)")
	f.IntVarP(&reportFlags.workers, "workers", "w", 0, "Number of files parsed concurrently (default from config, then 1)")
	f.StringVar(&reportFlags.since, "since", "", "Only sessions started on or after this date (YYYYMMDD)")
	f.StringVar(&reportFlags.until, "until", "", "Only sessions started on or before this date (YYYYMMDD)")
	f.StringVar(&reportFlags.timezone, "timezone", "", "Timezone for dates (e.g., Europe/Berlin)")
	f.BoolVar(&reportFlags.jsonOut, "json", false, "Output as JSON")
	f.BoolVarP(&reportFlags.compact, "compact", "c", false, "Force compact table output")
	f.BoolVarP(&reportFlags.verbose, "verbose", "v", false, "Verbose logging on stderr")
}

// aggregatorOptions converts the date flags into aggregation options
func aggregatorOptions() (aggregator.Options, error) {
	var opts aggregator.Options

	loc := time.Local
	if reportFlags.timezone != "" {
		l, err := time.LoadLocation(reportFlags.timezone)
		if err != nil {
			return opts, fmt.Errorf("invalid timezone: %s", reportFlags.timezone)
		}
		loc = l
		opts.Timezone = l
	}

	if reportFlags.since != "" {
		t, err := time.ParseInLocation("20060102", reportFlags.since, loc)
		if err != nil {
			return opts, fmt.Errorf("invalid --since date format, use YYYYMMDD")
		}
		opts.Since = t
	}

	if reportFlags.until != "" {
		t, err := time.ParseInLocation("20060102", reportFlags.until, loc)
		if err != nil {
			return opts, fmt.Errorf("invalid --until date format, use YYYYMMDD")
		}
		// Include the entire day
		opts.Until = t.Add(24*time.Hour - time.Nanosecond)
	}

	return opts, nil
}

// sessionsRoot resolves the sessions directory and worker count from flags and config
func sessionsRoot(cfg *config.Config) (string, int, error) {
	workers := reportFlags.workers
	if workers == 0 {
		workers = cfg.Workers
	}

	if reportFlags.dir != "" {
		return reportFlags.dir, workers, nil
	}
	root, err := cfg.SessionsRoot()
	return root, workers, err
}

// loadSessions parses every session log under the configured root
func loadSessions(ctx context.Context) ([]*model.SessionCost, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	root, workers, err := sessionsRoot(cfg)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("scanning sessions", zap.String("root", root), zap.Int("workers", workers))
	return parser.ParseAllFiles(ctx, root, workers)
}

// buildReport loads all sessions and aggregates them according to the flags
func buildReport(ctx context.Context) (*model.Report, error) {
	opts, err := aggregatorOptions()
	if err != nil {
		return nil, err
	}

	sessions, err := loadSessions(ctx)
	if err != nil {
		return nil, err
	}

	return aggregator.Build(sessions, opts), nil
}

func tableOptions() output.TableOptions {
	return output.TableOptions{
		ForceCompact: reportFlags.compact,
		Color:        output.IsTerminal(os.Stdout),
	}
}
