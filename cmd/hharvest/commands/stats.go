package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/sym"
)

// StatsCmd shows change statistics for a sliding window.
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: sym.DB + " Show change statistics",
	Long: sym.DB + ` Show data change statistics for a sliding window:
how many listings were new, how many were new versions of known
listings, and how many arrived unchanged.

Example:
  hharvest stats                  # Last 7 days
  hharvest stats --days 30        # Monthly window
  hharvest stats --format json    # Machine-readable`,
	RunE: runStats,
}

var (
	statsDaysFlag        int
	statsFormatFlag      string
	statsChangesOnlyFlag bool
)

func init() {
	StatsCmd.Flags().IntVarP(&statsDaysFlag, "days", "d", 7, "Window size in days")
	StatsCmd.Flags().StringVarP(&statsFormatFlag, "format", "f", "table", "Output format (table/json)")
	StatsCmd.Flags().BoolVarP(&statsChangesOnlyFlag, "changes-only", "c", false, "Skip the database totals section")
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsFormatFlag != "table" && statsFormatFlag != "json" {
		return fmt.Errorf("unknown format %q (want table or json)", statsFormatFlag)
	}

	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	changes, err := st.GetCombinedChangesStats(statsDaysFlag)
	if err != nil {
		return err
	}

	if statsFormatFlag == "json" {
		out, err := json.MarshalIndent(changes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("%s Change statistics, last %d day(s)\n", sym.DB, statsDaysFlag)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	rows := pterm.TableData{
		{"Metric", "Count"},
		{"New vacancies", fmt.Sprintf("%d", changes.Vacancies.NewVacancies)},
		{"New versions", fmt.Sprintf("%d", changes.Vacancies.NewVersions)},
		{"Duplicates skipped", fmt.Sprintf("%d", changes.Vacancies.DuplicatesSkipped)},
		{"Efficiency", fmt.Sprintf("%d%%", changes.Vacancies.EfficiencyPercentage)},
		{"Total operations", fmt.Sprintf("%d", changes.Vacancies.TotalChanges)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	if changes.Employers.TotalChanges > 0 {
		fmt.Printf("\nEmployers: %d operation(s)\n", changes.Employers.TotalChanges)
	}
	fmt.Printf("Combined:  %d operation(s)\n", changes.Summary.TotalOperations)

	if !statsChangesOnlyFlag {
		dbStats, err := st.GetStats()
		if err == nil {
			fmt.Printf("\nDatabase:\n")
			fmt.Printf("  Vacancies: %d\n", dbStats.Vacancies.Total)
			fmt.Printf("  Size:      %.1f MB\n", st.DatabaseSizeMB())
		}
	}

	if changes.Vacancies.TotalChanges < 10 {
		fmt.Printf("\nFew changes in the last %d day(s); widen the window or check the load schedule.\n", statsDaysFlag)
	}
	return nil
}
