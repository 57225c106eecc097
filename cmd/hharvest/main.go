package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/cmd/hharvest/commands"
	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hharvest",
	Short: "hharvest - job-listing acquisition engine",
	Long: `hharvest - continuous acquisition of job listings from an upstream HTTP API.

The engine discovers new listings across configured search filters, fetches
their pages with rate limiting and auth rotation, persists them with
content-hash deduplication, and exposes a control surface for operators.

Available commands:
  start          - Run the task dispatcher in the foreground
  load-vacancies - Queue vacancy load tasks for filters
  tasks          - List recent tasks
  task-info      - Show one task in detail
  status         - Show queue and corpus totals
  stats          - Show change statistics for a window
  system         - System monitoring and threshold alerts
  filters        - List configured search filters
  hosts          - Manage downstream analytics hosts
  daemon         - Manage the scheduler daemon (start/stop/status/restart)
  dashboard      - Start the web control surface
  cleanup        - Quarantine stale files
  export         - Export vacancies to CSV
  version        - Show version information

Examples:
  hharvest daemon start --background   # Run the full engine detached
  hharvest load-vacancies -f golang    # Queue a one-shot load
  hharvest tasks --status running      # Watch the queue
  hharvest stats --days 30             # Monthly change summary`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		opts := logger.Options{
			Level:       cfg.Logging.Level,
			FilePath:    cfg.Logging.File,
			MaxSizeMB:   cfg.Logging.MaxSizeMB,
			BackupCount: cfg.Logging.BackupCount,
			Console:     cfg.Logging.Console,
			JSONOutput:  cfg.Logging.JSONOutput,
			Verbosity:   verbosity,
		}
		// Console log lines would interleave with table output, so only
		// the long-running verbs mirror to stdout unless -v asks for it.
		if !longRunning(cmd) && verbosity == 0 {
			opts.Console = false
			opts.JSONOutput = false
		}
		if err := logger.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

// longRunning reports whether cmd (or a parent) is one of the verbs
// that stays resident and should log to the console.
func longRunning(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "start", "daemon", "dashboard":
			return true
		}
	}
	return false
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.LoadVacanciesCmd)
	rootCmd.AddCommand(commands.TasksCmd)
	rootCmd.AddCommand(commands.TaskInfoCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.SystemCmd)
	rootCmd.AddCommand(commands.FiltersCmd)
	rootCmd.AddCommand(commands.HostsCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.DashboardCmd)
	rootCmd.AddCommand(commands.CleanupCmd)
	rootCmd.AddCommand(commands.ExportCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
