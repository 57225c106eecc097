package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/sym"
)

// StatusCmd shows queue and corpus totals.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: sym.Task + " Show queue and corpus totals",
	Long: sym.Task + ` Show the engine's current state: task counts for the
last day, vacancy corpus totals, and per-filter yield for the last week.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.GetStats()
	if err != nil {
		return err
	}

	fmt.Printf("%s hharvest status\n", sym.Task)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

	fmt.Printf("\nTasks (last 24h):\n")
	if len(stats.Tasks) == 0 {
		fmt.Println("  No tasks")
	} else {
		statuses := make([]string, 0, len(stats.Tasks))
		for status := range stats.Tasks {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Printf("  %-10s %d\n", status+":", stats.Tasks[status])
		}
	}

	fmt.Printf("\nVacancies:\n")
	fmt.Printf("  Total:     %d\n", stats.Vacancies.Total)
	fmt.Printf("  Processed: %d\n", stats.Vacancies.Processed)
	fmt.Printf("  Today:     %d\n", stats.Vacancies.Today)

	byFilter, err := st.GetVacancyCountByFilter()
	if err == nil && len(byFilter) > 0 {
		fmt.Printf("\nVacancies by filter (last 7 days):\n")
		for _, fc := range topFilterCounts(byFilter, 10) {
			fmt.Printf("  %-20s %d\n", fc.id+":", fc.count)
		}
	}

	fmt.Printf("\nUpdated: %s\n", stats.Timestamp)
	return nil
}

type filterCount struct {
	id    string
	count int
}

// topFilterCounts orders filters by descending yield, id as tiebreak,
// and keeps the first n.
func topFilterCounts(byFilter map[string]int, n int) []filterCount {
	out := make([]filterCount, 0, len(byFilter))
	for id, count := range byFilter {
		out = append(out, filterCount{id: id, count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].id < out[j].id
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
