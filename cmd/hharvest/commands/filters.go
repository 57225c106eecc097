package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/sym"
)

// FiltersCmd lists the configured search filters.
var FiltersCmd = &cobra.Command{
	Use:   "filters",
	Short: sym.Fetch + " List configured search filters",
	Long: sym.Fetch + ` List the search filters from config/filters.json with
their active state and search text. Toggling happens through the web
panel or by editing the file.`,
	RunE: runFilters,
}

func runFilters(cmd *cobra.Command, args []string) error {
	filters, err := config.LoadFilters()
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		fmt.Println("No filters configured")
		return nil
	}

	active := 0
	rows := pterm.TableData{{"ID", "Name", "Active", "Text"}}
	for _, f := range filters {
		mark := "✗"
		if f.IsActive() {
			mark = "✓"
			active++
		}
		rows = append(rows, []string{f.ID, f.Name, mark, filterSearchText(f)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	fmt.Printf("\n%d filter(s), %d active\n", len(filters), active)
	return nil
}

func filterSearchText(f config.Filter) string {
	text, _ := f.Params["text"].(string)
	if len(text) > 40 {
		return text[:37] + "..."
	}
	return text
}
