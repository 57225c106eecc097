package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/sym"
)

// CleanupCmd quarantines stale working files instead of deleting them.
// Nothing is unlinked: candidates move into the trash directory where
// they can be inspected or restored.
var CleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: sym.DB + " Quarantine stale temporary files, logs and archives",
	Long: sym.DB + ` Quarantine stale working files.

Files older than the cutoff move into ` + config.DefaultTrashDir + ` rather
than being deleted, so a bad cutoff never destroys data. Name clashes
in the trash get a numeric suffix.

Types:
  files     *.tmp and *.bak in the working and data directories
  logs      rotated files under logs/
  archives  *.zip, *.tar.gz and *.csv exports under data/
  all       everything above

Example:
  hharvest cleanup --dry-run
  hharvest cleanup --type logs --days 30
  hharvest cleanup --type all`,
	RunE: runCleanup,
}

var (
	cleanupTypeFlag   string
	cleanupDaysFlag   int
	cleanupDryRunFlag bool
)

func init() {
	CleanupCmd.Flags().StringVarP(&cleanupTypeFlag, "type", "t", "files", "What to clean: files, logs, archives or all")
	CleanupCmd.Flags().IntVarP(&cleanupDaysFlag, "days", "d", 14, "Quarantine files older than this many days")
	CleanupCmd.Flags().BoolVar(&cleanupDryRunFlag, "dry-run", false, "List candidates without moving anything")
}

// cleanupTarget names a category of stale files and the glob patterns
// that find them.
type cleanupTarget struct {
	label    string
	patterns []string
}

func cleanupTargets(kind string) ([]cleanupTarget, error) {
	files := cleanupTarget{"temporary files", []string{"*.tmp", "*.bak", "data/*.tmp", "data/*.bak"}}
	logs := cleanupTarget{"log files", []string{"logs/*.log"}}
	archives := cleanupTarget{"archives", []string{"data/*.zip", "data/*.tar.gz", "data/*.csv"}}

	switch kind {
	case "files":
		return []cleanupTarget{files}, nil
	case "logs":
		return []cleanupTarget{logs}, nil
	case "archives":
		return []cleanupTarget{archives}, nil
	case "all":
		return []cleanupTarget{files, logs, archives}, nil
	default:
		return nil, fmt.Errorf("unknown cleanup type %q (use files, logs, archives or all)", kind)
	}
}

func runCleanup(cmd *cobra.Command, args []string) error {
	targets, err := cleanupTargets(cleanupTypeFlag)
	if err != nil {
		return err
	}
	if cleanupDaysFlag < 0 {
		return fmt.Errorf("--days must not be negative")
	}

	cutoff := time.Now().Add(-time.Duration(cleanupDaysFlag) * 24 * time.Hour)

	if !cleanupDryRunFlag {
		if err := os.MkdirAll(config.DefaultTrashDir, 0o755); err != nil {
			return fmt.Errorf("failed to create quarantine directory: %w", err)
		}
	}

	moved := 0
	failed := 0
	for _, target := range targets {
		for _, pattern := range target.patterns {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				continue
			}
			for _, path := range matches {
				info, err := os.Stat(path)
				if err != nil || info.IsDir() {
					continue
				}
				if !info.ModTime().Before(cutoff) {
					continue
				}

				if cleanupDryRunFlag {
					fmt.Printf("  [dry-run] %s (%s, %s old)\n", path, target.label,
						formatAge(time.Since(info.ModTime())))
					moved++
					continue
				}

				dest := quarantinePath(config.DefaultTrashDir, filepath.Base(path))
				if err := os.Rename(path, dest); err != nil {
					fmt.Printf("  ✗ %s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Printf("  ✓ %s → %s\n", path, dest)
				moved++
			}
		}
	}

	fmt.Println()
	if cleanupDryRunFlag {
		fmt.Printf("%s Dry run: %d file(s) would be quarantined (older than %d days)\n",
			sym.DB, moved, cleanupDaysFlag)
	} else {
		fmt.Printf("%s Moved %d file(s) to quarantine (%s)\n", sym.DB, moved, config.DefaultTrashDir)
	}
	if failed > 0 {
		fmt.Printf("%s %d file(s) could not be moved\n", sym.Halt, failed)
	}
	return nil
}

// quarantinePath picks a destination inside the trash directory,
// suffixing the stem with a counter on name clashes.
func quarantinePath(dir, name string) string {
	dest := filepath.Join(dir, name)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return dest
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		dest = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			return dest
		}
	}
}

// formatAge renders a duration as whole days or hours.
func formatAge(d time.Duration) string {
	if days := int(d.Hours() / 24); days > 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}
