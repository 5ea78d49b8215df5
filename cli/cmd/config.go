package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zhaobenny/picost/cli/internal/config"
)

var configFlags struct {
	server      string
	apiKey      string
	sessionsDir string
	workers     int
	show        bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure the sessions directory and sync settings",
	Example: `  picost config --server https://example.com --api-key picost_xxx
  picost config --sessions-dir ~/work/.pi/agent/sessions --workers 4
  picost config --show`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	f := configCmd.Flags()
	f.StringVar(&configFlags.server, "server", "", "Server URL")
	f.StringVar(&configFlags.apiKey, "api-key", "", "API key for authentication")
	f.StringVar(&configFlags.sessionsDir, "sessions-dir", "", "Directory holding pi agent session logs")
	f.IntVar(&configFlags.workers, "workers", 0, "Number of files parsed concurrently")
	f.BoolVar(&configFlags.show, "show", false, "Show current configuration")
	rootCmd.AddCommand(configCmd)
}

// maskKey hides all but the edges of an API key
func maskKey(key string) string {
	if len(key) <= 14 {
		return "****"
	}
	return key[:10] + "..." + key[len(key)-4:]
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if configFlags.show {
		root, err := cfg.SessionsRoot()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Sessions directory: %s\n", root)
		if cfg.Workers > 0 {
			fmt.Fprintf(out, "Workers: %d\n", cfg.Workers)
		}
		if cfg.Server == "" {
			fmt.Fprintln(out, "Sync not configured. Run 'picost config --server <url> --api-key <key>' to configure.")
			return nil
		}
		fmt.Fprintf(out, "Server: %s\n", cfg.Server)
		fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.APIKey))
		if cfg.ClientID != "" {
			fmt.Fprintf(out, "Client ID: %s\n", cfg.ClientID)
		}
		return nil
	}

	f := cmd.Flags()
	if !f.Changed("server") && !f.Changed("api-key") && !f.Changed("sessions-dir") && !f.Changed("workers") {
		return cmd.Usage()
	}

	if f.Changed("server") {
		cfg.Server = configFlags.server
	}
	if f.Changed("api-key") {
		cfg.APIKey = configFlags.apiKey
	}
	if f.Changed("sessions-dir") {
		cfg.SessionsDir = configFlags.sessionsDir
	}
	if f.Changed("workers") {
		cfg.Workers = configFlags.workers
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintln(out, "Configuration saved.")
	return nil
}
