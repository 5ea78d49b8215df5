package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/picost/cli/internal/config"
	"github.com/zhaobenny/picost/cli/internal/watch"
	"github.com/zhaobenny/picost/internal/logger"
	"go.uber.org/zap"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-render the session report whenever a session log changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.FromContext(ctx)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		root, _, err := sessionsRoot(cfg)
		if err != nil {
			return err
		}

		w, err := watch.New(root, watchDebounce)
		if err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
		defer w.Close()

		render := func() {
			// Clear screen and move the cursor home
			fmt.Fprint(cmd.OutOrStdout(), "\x1b[2J\x1b[H")
			if err := runSessions(cmd, nil); err != nil {
				log.Error("report failed", zap.Error(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to quit)\n", root)
		}

		render()
		err = w.Run(ctx, func(string) { render() })
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before re-rendering")
	rootCmd.AddCommand(watchCmd)
}
