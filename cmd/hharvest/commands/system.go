package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/logger"
	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/sym"
)

// SystemCmd samples host metrics and reports threshold alerts. Exits 2
// when any threshold is breached so cron wrappers can page on it.
var SystemCmd = &cobra.Command{
	Use:   "system",
	Short: sym.Health + " System monitoring and diagnostics",
	Long: sym.Health + ` Sample host metrics (CPU, memory, swap, disk, uptime)
and evaluate them against the configured thresholds.

Exit codes: 0 healthy, 1 sampling error, 2 threshold breached.

Example:
  hharvest system                 # One-line summary
  hharvest system --detailed      # Full metric breakdown
  hharvest system --alerts-only   # Just the breaches
  hharvest system -j              # JSON for scripting`,
	RunE: runSystem,
}

var (
	systemDetailedFlag   bool
	systemAlertsOnlyFlag bool
	systemJSONFlag       bool
)

func init() {
	SystemCmd.Flags().BoolVarP(&systemDetailedFlag, "detailed", "d", false, "Full metric breakdown")
	SystemCmd.Flags().BoolVarP(&systemAlertsOnlyFlag, "alerts-only", "a", false, "Show only active alerts")
	SystemCmd.Flags().BoolVarP(&systemJSONFlag, "json-format", "j", false, "JSON output")
}

func runSystem(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	mon := monitor.New(cfg, logger.Logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := mon.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to sample system metrics: %w", err)
	}
	alerts := mon.Alerts(snap)
	quick := mon.QuickStatus(snap)

	switch {
	case systemAlertsOnlyFlag:
		err = printSystemAlerts(alerts)
	case systemDetailedFlag:
		err = printSystemDetailed(snap, alerts, quick)
	default:
		err = printSystemSummary(snap, alerts, quick)
	}
	if err != nil {
		return err
	}

	if quick != monitor.StatusHealthy {
		os.Exit(2)
	}
	return nil
}

func printSystemAlerts(alerts []monitor.Alert) error {
	if systemJSONFlag {
		out, err := json.MarshalIndent(map[string]interface{}{"alerts": alerts}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(alerts) == 0 {
		fmt.Println("No active alerts")
		return nil
	}
	fmt.Printf("%s Active alerts (%d):\n", sym.Health, len(alerts))
	for _, a := range alerts {
		fmt.Printf("  [%s] %s: %s\n", a.Level, a.Metric, a.Message)
	}
	return nil
}

func printSystemSummary(snap *monitor.Snapshot, alerts []monitor.Alert, quick string) error {
	if systemJSONFlag {
		out, err := json.MarshalIndent(map[string]interface{}{
			"overall_status": quick,
			"cpu_percent":    snap.CPU.Percent,
			"memory_percent": snap.Memory.Percent,
			"alerts":         len(alerts),
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("%s System status: %s\n", sym.Health, quick)
	fmt.Printf("CPU: %.1f%% | Memory: %.1f%%\n", snap.CPU.Percent, snap.Memory.Percent)

	var warnings, criticals int
	for _, a := range alerts {
		switch a.Level {
		case monitor.AlertCritical:
			criticals++
		case monitor.AlertWarning:
			warnings++
		}
	}
	if criticals > 0 {
		fmt.Printf("Critical alerts: %d\n", criticals)
	}
	if warnings > 0 {
		fmt.Printf("Warnings: %d\n", warnings)
	}
	if len(alerts) > 0 {
		fmt.Println("Use --detailed for the full breakdown")
	}
	return nil
}

func printSystemDetailed(snap *monitor.Snapshot, alerts []monitor.Alert, quick string) error {
	if systemJSONFlag {
		out, err := json.MarshalIndent(map[string]interface{}{
			"overall_status": quick,
			"system":         snap,
			"alerts":         alerts,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("%s System monitoring\n", sym.Health)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Overall status: %s\n", quick)

	fmt.Printf("\nCPU:\n")
	fmt.Printf("  Usage: %.1f%% across %d logical core(s)\n", snap.CPU.Percent, snap.CPU.Count)
	if len(snap.CPU.LoadAvg) == 3 {
		fmt.Printf("  Load average: %.2f, %.2f, %.2f\n",
			snap.CPU.LoadAvg[0], snap.CPU.LoadAvg[1], snap.CPU.LoadAvg[2])
	}

	fmt.Printf("\nMemory:\n")
	fmt.Printf("  Used: %.1f%% of %.0f MB\n", snap.Memory.Percent, snap.Memory.TotalMB)
	fmt.Printf("  Available: %.0f MB\n", snap.Memory.AvailableMB)
	if snap.Swap.TotalMB > 0 {
		fmt.Printf("  Swap: %.1f%% of %.0f MB\n", snap.Swap.Percent, snap.Swap.TotalMB)
	}

	fmt.Printf("\nDisk:\n")
	fmt.Printf("  Used: %.1f%% (%.1f GB free)\n", snap.Disk.Percent, snap.Disk.FreeGB)

	fmt.Printf("\nHost:\n")
	fmt.Printf("  Uptime: %s\n", formatUptime(snap.UptimeSec))
	fmt.Printf("  Processes: %d\n", snap.Processes)

	if len(alerts) > 0 {
		fmt.Printf("\nActive alerts (%d):\n", len(alerts))
		for _, a := range alerts {
			fmt.Printf("  [%s] %s: %s\n", a.Level, a.Metric, a.Message)
		}
	}
	return nil
}

func formatUptime(sec float64) string {
	d := time.Duration(sec) * time.Second
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
