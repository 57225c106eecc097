package commands

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/hosts"
	"github.com/talocan/hharvest/logger"
	"github.com/talocan/hharvest/sym"
)

// HostsCmd manages the downstream analytics hosts.
var HostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: sym.DB + " Manage downstream analytics hosts",
	Long: sym.DB + ` Manage the downstream hosts (host2 analytics sync,
host3 analysis). Without --host the status of every configured host
is shown; --enable/--disable persist the toggle to the config file.

Example:
  hharvest hosts                          # Status of all hosts
  hharvest hosts --test                   # Probe every enabled host
  hharvest hosts --host host2 --enable    # Turn host2 on
  hharvest hosts --host host3 --test      # Probe one host`,
	RunE: runHosts,
}

var (
	hostsHostFlag    string
	hostsEnableFlag  bool
	hostsDisableFlag bool
	hostsTestFlag    bool
	hostsStatusFlag  bool
)

func init() {
	HostsCmd.Flags().StringVar(&hostsHostFlag, "host", "", "Operate on one host (host2, host3)")
	HostsCmd.Flags().BoolVar(&hostsEnableFlag, "enable", false, "Enable the host")
	HostsCmd.Flags().BoolVar(&hostsDisableFlag, "disable", false, "Disable the host")
	HostsCmd.Flags().BoolVar(&hostsTestFlag, "test", false, "Probe the host connection")
	HostsCmd.Flags().BoolVar(&hostsStatusFlag, "status", false, "Show host details")
}

func runHosts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if hostsHostFlag == "" {
		return printAllHosts(cfg)
	}

	hostCfg, ok := cfg.Hosts[hostsHostFlag]
	if !ok {
		return fmt.Errorf("host %q not configured (available: %s)", hostsHostFlag, hostNames(cfg))
	}

	switch {
	case hostsEnableFlag && hostsDisableFlag:
		return fmt.Errorf("--enable and --disable are mutually exclusive")
	case hostsEnableFlag:
		if err := config.UpdateHostEnabled(hostsHostFlag, true); err != nil {
			return err
		}
		fmt.Printf("%s Host %s enabled, configuration saved\n", sym.DB, hostsHostFlag)
		return nil
	case hostsDisableFlag:
		if err := config.UpdateHostEnabled(hostsHostFlag, false); err != nil {
			return err
		}
		fmt.Printf("%s Host %s disabled, configuration saved\n", sym.DB, hostsHostFlag)
		return nil
	case hostsTestFlag:
		return probeHost(hostsHostFlag, hostCfg)
	default:
		printHostDetails(hostsHostFlag, hostCfg)
		return nil
	}
}

func printAllHosts(cfg *config.Config) error {
	if len(cfg.Hosts) == 0 {
		fmt.Println("No hosts configured")
		return nil
	}

	names := make([]string, 0, len(cfg.Hosts))
	for name := range cfg.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := pterm.TableData{{"Host", "Type", "Enabled", "Mode"}}
	for _, name := range names {
		h := cfg.Hosts[name]
		enabled := "✗"
		if h.Enabled {
			enabled = "✓"
		}
		rows = append(rows, []string{name, h.Type, enabled, "mock"})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	if hostsTestFlag {
		fmt.Println()
		for _, name := range names {
			if !cfg.Hosts[name].Enabled {
				fmt.Printf("  %s: disabled, skipping probe\n", name)
				continue
			}
			if err := probeHost(name, cfg.Hosts[name]); err != nil {
				fmt.Printf("  %s: %v\n", name, err)
			}
		}
	}
	return nil
}

// probeHost runs the client health check and prints its verdict.
func probeHost(name string, hostCfg config.HostConfig) error {
	var health map[string]interface{}
	switch name {
	case "host2":
		health = hosts.NewHost2Client(hostCfg, logger.Logger).HealthCheck()
	case "host3":
		health = hosts.NewHost3Client(hostCfg, logger.Logger).HealthCheck()
	default:
		return fmt.Errorf("host %q has no probe", name)
	}

	status, _ := health["status"].(string)
	if status == "healthy" {
		fmt.Printf("%s %s: connection ok (mock mode)\n", sym.Health, name)
	} else {
		fmt.Printf("%s %s: %s\n", sym.Health, name, status)
	}
	if endpoint, ok := health["endpoint"].(string); ok {
		fmt.Printf("  Endpoint: %s\n", endpoint)
	}
	if model, ok := health["model"].(string); ok {
		fmt.Printf("  Model:    %s\n", model)
	}
	if host, ok := health["host"].(string); ok {
		fmt.Printf("  Address:  %s:%v\n", host, health["port"])
	}
	return nil
}

func printHostDetails(name string, h config.HostConfig) {
	fmt.Printf("%s Host %s\n", sym.DB, name)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Type:    %s\n", h.Type)
	fmt.Printf("Enabled: %t\n", h.Enabled)
	if len(h.Connection) > 0 {
		fmt.Printf("Connection:\n")
		keys := make([]string, 0, len(h.Connection))
		for k := range h.Connection {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %s\n", k, redactSecret(k, h.Connection[k]))
		}
	}
}

func hostNames(cfg *config.Config) string {
	names := make([]string, 0, len(cfg.Hosts))
	for name := range cfg.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// redactSecret hides values whose key smells like a credential.
func redactSecret(key, value string) string {
	switch key {
	case "password", "api_key", "token", "secret":
		return "***"
	}
	return value
}
