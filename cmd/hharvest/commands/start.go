package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/auth"
	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/dispatch"
	"github.com/talocan/hharvest/hosts"
	"github.com/talocan/hharvest/logger"
	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/sym"
)

// StartCmd runs the task dispatcher in the foreground.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: sym.Task + " Run the task dispatcher",
	Long: sym.Task + ` Run the task dispatcher in foreground mode.

The dispatcher claims pending tasks from the queue, runs them on a
bounded worker pool with per-task timeouts, and shuts down gracefully
on interrupt (in-flight tasks are cancelled and marked).

The scheduler is not started: this verb only drains the queue. Use
'hharvest daemon start' for the full engine with recurring jobs.

Example:
  hharvest start                # Drain the queue with configured workers
  hharvest start --workers 5    # Override the worker budget`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")

		for _, dir := range []string{"logs", "data"} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s directory: %w", dir, err)
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if workers > 0 {
			cfg.TaskDispatcher.MaxWorkers = workers
		}
		if chunkSize > 0 {
			cfg.TaskDispatcher.ChunkSize = chunkSize
		}

		fmt.Printf("%s Starting hharvest dispatcher with %d worker(s)...\n",
			sym.Task, cfg.TaskDispatcher.MaxWorkers)

		st, err := openStore("")
		if err != nil {
			return err
		}
		defer st.Close()

		if cfg.Logging.DB {
			logger.AttachStoreSink(st, cfg.Logging.DBLevel)
		}

		authReg := auth.NewRegistry(logger.Logger)
		mon := monitor.New(cfg, logger.Logger)

		var host2 *hosts.Host2Client
		var host3 *hosts.Host3Client
		if cfg.HostEnabled("host2") {
			host2 = hosts.NewHost2Client(cfg.Hosts["host2"], logger.Logger)
		}
		if cfg.HostEnabled("host3") {
			host3 = hosts.NewHost3Client(cfg.Hosts["host3"], logger.Logger)
		}

		disp := dispatch.New(st, cfg, logger.Logger)
		dispatch.RegisterBuiltinHandlers(disp.Registry(), st, authReg, mon, host2, host3, cfg, logger.Logger)
		disp.Start()

		fmt.Printf("%s Dispatcher started\n", sym.Task)
		fmt.Printf("  Workers:    %d\n", cfg.TaskDispatcher.MaxWorkers)
		fmt.Printf("  Chunk size: %d\n", cfg.TaskDispatcher.ChunkSize)
		fmt.Printf("  Database:   %s\n", st.Path())
		fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Task)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\n%s Initiating graceful shutdown...\n", sym.Halt)
		disp.Stop()
		fmt.Printf("%s Dispatcher stopped\n", sym.Halt)
		return nil
	},
}

func init() {
	StartCmd.Flags().IntP("workers", "w", 0, "Number of concurrent workers (0 = configured value)")
	StartCmd.Flags().IntP("chunk-size", "c", 0, "Pages fetched per progress chunk (0 = configured value)")
}
