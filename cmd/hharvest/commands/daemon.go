package commands

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/auth"
	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/dispatch"
	"github.com/talocan/hharvest/hosts"
	"github.com/talocan/hharvest/logger"
	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/schedule"
	"github.com/talocan/hharvest/server"
	"github.com/talocan/hharvest/sym"
)

const (
	// daemonStopTimeout is how long stop waits after SIGTERM before
	// escalating to SIGKILL.
	daemonStopTimeout = 30 * time.Second

	// daemonSpawnGrace is how long start waits before checking that a
	// background child survived its own initialization.
	daemonSpawnGrace = 1 * time.Second
)

// DaemonCmd manages the scheduler daemon: the resident process running
// the scheduler, the dispatcher, and (when configured) the web panel.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Sched + " Manage the scheduler daemon",
	Long: sym.Sched + ` Manage the scheduler daemon.

The daemon is the full engine: the scheduler fires recurring jobs into
the queue, the dispatcher drains it on a bounded worker pool, and the
web control surface starts alongside when auto_start is configured.
Its pid lives in ` + config.DefaultPidFilePath + `.

Example:
  hharvest daemon start               # Run in the foreground
  hharvest daemon start --background  # Detach and return
  hharvest daemon status              # Probe liveness and vitals
  hharvest daemon restart             # Bounce (always detaches)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// DaemonStartCmd launches the daemon, replacing a stale instance.
var DaemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scheduler daemon",
	Long: `Start the scheduler daemon in the foreground, or detached with
--background. A daemon already holding the pid file is stopped first.`,
	RunE: runDaemonStart,
}

// DaemonStopCmd stops the daemon via its pid file.
var DaemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the scheduler daemon",
	Long:  "Send SIGTERM to the daemon and wait up to 30s before escalating to SIGKILL.",
	RunE:  runDaemonStop,
}

// DaemonStatusCmd reports daemon liveness and vitals.
var DaemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon liveness and vitals",
	RunE:  runDaemonStatus,
}

// DaemonRestartCmd bounces the daemon.
var DaemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the scheduler daemon",
	Long: `Stop the daemon, wait for it to exit, and start a fresh instance
in the background. Restart always detaches so callers (including the
web panel) get their prompt back.`,
	RunE: runDaemonRestart,
}

var daemonBackgroundFlag bool

func init() {
	DaemonStartCmd.Flags().BoolVar(&daemonBackgroundFlag, "background", false, "Detach and run in the background")
	DaemonCmd.AddCommand(DaemonStartCmd)
	DaemonCmd.AddCommand(DaemonStopCmd)
	DaemonCmd.AddCommand(DaemonStatusCmd)
	DaemonCmd.AddCommand(DaemonRestartCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	// A live daemon holding the pid file is replaced, not joined.
	if pid, err := schedule.ReadPidFile(config.DefaultPidFilePath); err == nil {
		if alive, _ := process.PidExists(int32(pid)); alive {
			fmt.Printf("%s Found running daemon (PID %d), stopping it first...\n", sym.Sched, pid)
			if err := terminatePid(pid, daemonStopTimeout); err != nil {
				return fmt.Errorf("failed to stop previous daemon: %w", err)
			}
		}
		_ = schedule.RemovePidFile(config.DefaultPidFilePath)
	}

	// Clear registry rows whose processes died without deregistering.
	if st, err := openStore(""); err == nil {
		if names, err := st.CleanupDeadProcesses(); err == nil && len(names) > 0 {
			fmt.Printf("%s Cleared %d dead process record(s): %s\n", sym.Sched, len(names), strings.Join(names, ", "))
		}
		st.Close()
	}

	if daemonBackgroundFlag {
		return spawnDaemonBackground()
	}
	return runDaemonForeground()
}

// spawnDaemonBackground re-executes this binary as a detached
// foreground daemon, waits a beat, and verifies the child survived.
func spawnDaemonBackground() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	child := exec.Command(exe, "daemon", "start")
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	fmt.Printf("%s Starting scheduler daemon in the background...\n", sym.Sched)
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to spawn daemon: %w", err)
	}
	pid := child.Process.Pid
	// The parent will never wait on the detached child; release it so
	// it is reparented cleanly.
	_ = child.Process.Release()

	time.Sleep(daemonSpawnGrace)

	alive, err := process.PidExists(int32(pid))
	if err != nil || !alive {
		fmt.Printf("%s Daemon exited during startup\n", sym.Halt)
		printLogTail(5)
		return fmt.Errorf("daemon failed to start")
	}

	fmt.Printf("%s Daemon started in the background (PID %d)\n", sym.Sched, pid)
	if cfg, err := config.Load(); err == nil {
		fmt.Printf("  Logs: %s\n", cfg.Logging.File)
	}
	return nil
}

// runDaemonForeground is the daemon body: assemble the engine, run
// until a signal, tear down in reverse order.
func runDaemonForeground() error {
	for _, dir := range []string{"logs", "data"} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Logging.DB {
		logger.AttachStoreSink(st, cfg.Logging.DBLevel)
	}

	if err := schedule.WritePidFile(config.DefaultPidFilePath); err != nil {
		return err
	}
	defer schedule.RemovePidFile(config.DefaultPidFilePath)

	if err := st.RegisterProcess("scheduler_daemon", os.Getpid(),
		shellquote.Join(os.Args...), "", nil); err != nil {
		logger.Warnw("Failed to register daemon process", "error", err)
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

	sched := schedule.New(st, disp, cfg, logger.Logger)
	sched.Start()

	// Observe config-file edits so freeze toggles apply without a
	// restart.
	watcher, err := config.NewWatcher()
	if err != nil {
		logger.Warnw("Config watcher unavailable", "error", err)
	} else {
		disp.ObserveConfig(watcher)
		watcher.Start()
		defer watcher.Stop()
	}

	var srv *server.Server
	if cfg.WebInterface.AutoStart {
		srv, err = server.New(st, disp, mon, cfg, logger.Logger)
		if err != nil {
			logger.Errorw("Failed to build control surface", "error", err)
		} else {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Errorw("Control surface stopped", "error", err)
				}
			}()
			fmt.Printf("%s Control surface on http://%s:%d\n", sym.Web,
				cfg.WebInterface.Host, cfg.WebInterface.Port)
		}
	}

	fmt.Printf("%s Scheduler daemon running (PID %d)\n", sym.Sched, os.Getpid())
	fmt.Printf("  Workers:  %d\n", cfg.TaskDispatcher.MaxWorkers)
	fmt.Printf("  Database: %s\n", st.Path())
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Sched)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Initiating graceful shutdown...\n", sym.Halt)

	// Reverse order of startup: panel first, then the job sources,
	// then the pool draining them.
	if srv != nil {
		if err := srv.Stop(); err != nil {
			logger.Warnw("Control surface stop", "error", err)
		}
	}
	sched.Stop()
	disp.Stop()

	if err := st.UpdateProcessStatus("scheduler_daemon", "stopped"); err != nil {
		logger.Warnw("Failed to mark daemon stopped", "error", err)
	}

	fmt.Printf("%s Scheduler daemon stopped\n", sym.Halt)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	pid, err := schedule.ReadPidFile(config.DefaultPidFilePath)
	if err != nil {
		fmt.Println("Daemon is not running (no pid file)")
		return nil
	}

	alive, _ := process.PidExists(int32(pid))
	if !alive {
		fmt.Printf("Daemon process %d not found, removing stale pid file\n", pid)
		return schedule.RemovePidFile(config.DefaultPidFilePath)
	}

	fmt.Printf("%s Stopping daemon (PID %d)...\n", sym.Halt, pid)
	if err := terminatePid(pid, daemonStopTimeout); err != nil {
		return err
	}
	_ = schedule.RemovePidFile(config.DefaultPidFilePath)
	fmt.Printf("%s Daemon stopped\n", sym.Halt)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	// Drop registry rows for processes that died without deregistering
	// so the report reflects what is actually alive.
	_, _ = st.CleanupDeadProcesses()

	state := schedule.ProbeDaemon(config.DefaultPidFilePath)
	if !state.Running {
		fmt.Printf("%s Daemon is not running (%s)\n", sym.Sched, state.Message)
		if webPid, err := st.GetProcessPID("web_server"); err == nil {
			if alive, _ := process.PidExists(int32(webPid)); alive {
				fmt.Printf("  Web panel runs separately (PID %d)\n", webPid)
			}
		}
		return nil
	}

	fmt.Printf("%s Daemon is running\n", sym.Sched)
	fmt.Printf("  PID:     %d\n", state.Pid)
	fmt.Printf("  CPU:     %.1f%%\n", state.CPU)
	fmt.Printf("  Memory:  %.1f MB\n", state.MemoryMB)
	fmt.Printf("  Started: %s\n", state.Started)

	if webPid, err := st.GetProcessPID("web_server"); err == nil {
		if alive, _ := process.PidExists(int32(webPid)); alive {
			fmt.Printf("  Web panel: PID %d\n", webPid)
		} else {
			fmt.Printf("  Web panel: not running\n")
		}
	} else {
		fmt.Printf("  Web panel: not running\n")
	}

	printLogTail(5)
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	fmt.Printf("%s Restarting daemon...\n", sym.Sched)
	if err := runDaemonStop(cmd, args); err != nil {
		return err
	}
	time.Sleep(2 * time.Second)

	daemonBackgroundFlag = true
	return runDaemonStart(cmd, args)
}

// terminatePid sends SIGTERM and polls for exit, escalating to SIGKILL
// after the timeout.
func terminatePid(pid int, timeout time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		alive, _ := process.PidExists(int32(pid))
		if !alive {
			return nil
		}
		time.Sleep(time.Second)
	}

	fmt.Printf("%s Daemon did not exit in %s, sending SIGKILL\n", sym.Halt, timeout)
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}

// printLogTail shows the last n lines of the unified log file.
func printLogTail(n int) {
	cfg, err := config.Load()
	if err != nil {
		return
	}
	raw, err := os.ReadFile(cfg.Logging.File)
	if err != nil {
		return
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	fmt.Printf("\nRecent log entries:\n")
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			fmt.Printf("  %s\n", line)
		}
	}
}
