package commands

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/logger"
	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/server"
	"github.com/talocan/hharvest/sym"
)

// DashboardCmd runs the web control surface standalone, without the
// scheduler. Task creation from the panel still works (tasks are
// written straight to the queue); lifecycle buttons delegate to the
// daemon CLI.
var DashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: sym.Web + " Run the web control surface",
	Long: sym.Web + ` Run the web control surface standalone.

Serves the status panel, task browser, filter editor and log viewer
over HTTP with live updates over WebSocket. Use the daemon command
instead when the scheduler should run in the same process.

Example:
  hharvest dashboard
  hharvest dashboard --port 9090
  hharvest dashboard --host 0.0.0.0 --open`,
	RunE: runDashboard,
}

var (
	dashboardHost string
	dashboardPort int
	dashboardOpen bool
)

func init() {
	DashboardCmd.Flags().StringVar(&dashboardHost, "host", "", "Bind address (overrides config)")
	DashboardCmd.Flags().IntVar(&dashboardPort, "port", 0, "Listen port (overrides config)")
	DashboardCmd.Flags().BoolVar(&dashboardOpen, "open", false, "Open the panel in the default browser")
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if dashboardHost != "" {
		cfg.WebInterface.Host = dashboardHost
	}
	if dashboardPort > 0 {
		cfg.WebInterface.Port = dashboardPort
	}

	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	mon := monitor.New(cfg, logger.Logger)

	// No dispatcher: the panel enqueues tasks directly and the daemon
	// (if any) picks them up from the shared database.
	srv, err := server.New(st, nil, mon, cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d", cfg.WebInterface.Host, cfg.WebInterface.Port)
	fmt.Printf("%s Control surface on %s\n", sym.Web, url)
	fmt.Printf("  Database: %s\n", st.Path())
	fmt.Printf("\n%s Press Ctrl+C to stop\n\n", sym.Web)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	if dashboardOpen {
		openBrowser(url)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		// First Ctrl+C - graceful shutdown
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			// Second Ctrl+C - force immediate exit
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// openBrowser attempts to open the URL in the default browser.
// Errors are ignored; the URL is already printed for manual use.
func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("cmd", "/c", "start", url).Start()
	}
	_ = err
}
