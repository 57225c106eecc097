package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/auth"
	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/fetch"
	"github.com/talocan/hharvest/logger"
	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

// oneShotPageCap bounds a single CLI-queued load when the caller did
// not pin --max-pages; the estimate against the upstream can be huge.
const oneShotPageCap = 200

// LoadVacanciesCmd queues one load_vacancies task per filter.
var LoadVacanciesCmd = &cobra.Command{
	Use:   "load-vacancies",
	Short: sym.Fetch + " Queue vacancy load tasks",
	Long: sym.Fetch + ` Queue one vacancy load task per search filter.

Without --filter-id every active filter gets a task. Without
--max-pages the page count is estimated against the upstream and
capped at 200. Tasks land in the queue as pending; a running
dispatcher or daemon picks them up.

Example:
  hharvest load-vacancies                      # All active filters
  hharvest load-vacancies -f golang -p 10      # One filter, 10 pages
  hharvest load-vacancies --schedule-at 1756200000`,
	RunE: runLoadVacancies,
}

func init() {
	LoadVacanciesCmd.Flags().StringP("filter-id", "f", "", "Queue only this filter")
	LoadVacanciesCmd.Flags().IntP("max-pages", "p", 0, "Pages to load per filter (0 = estimate from upstream)")
	LoadVacanciesCmd.Flags().IntP("chunk-size", "c", 500, "Records per progress chunk")
	LoadVacanciesCmd.Flags().Int64("schedule-at", 0, "Unix timestamp to defer execution until")
}

func runLoadVacancies(cmd *cobra.Command, args []string) error {
	filterID, _ := cmd.Flags().GetString("filter-id")
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	scheduleAt, _ := cmd.Flags().GetInt64("schedule-at")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var selected []config.Filter
	if filterID != "" {
		f, err := config.FilterByID(filterID)
		if err != nil {
			return err
		}
		selected = []config.Filter{*f}
	} else {
		selected, err = config.ActiveFilters()
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return fmt.Errorf("no active filters found")
		}
	}

	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Printf("%s Creating load tasks for %d filter(s)...\n", sym.Fetch, len(selected))

	timeoutSec := cfg.TaskDispatcher.DefaultTimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 3600
	}
	var schedulePtr *float64
	if scheduleAt > 0 {
		at := float64(scheduleAt)
		schedulePtr = &at
	}

	created := 0
	for _, f := range selected {
		pages := maxPages
		if pages <= 0 {
			pages = estimateFilterPages(cmd.Context(), cfg, st, f)
		}

		params := map[string]interface{}{
			"filter":     f,
			"max_pages":  pages,
			"chunk_size": chunkSize,
		}

		id := uuid.New().String()
		if err := st.CreateTask(id, store.TaskTypeLoadVacancies, params, schedulePtr, timeoutSec); err != nil {
			fmt.Printf("  ✗ Failed to create task for filter %s: %v\n", f.ID, err)
			continue
		}
		created++
		fmt.Printf("  ✓ Task %s queued for filter %q (%d pages)\n", id[:8], filterLabel(f), pages)
	}

	if created == 0 {
		return fmt.Errorf("no tasks created")
	}
	if schedulePtr != nil {
		fmt.Printf("\n%s %d task(s) scheduled for %s\n", sym.Sched, created,
			time.Unix(scheduleAt, 0).Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("\n%s %d task(s) queued for immediate execution\n", sym.Task, created)
	}
	return nil
}

// estimateFilterPages asks the upstream how many pages the filter
// matches, bounded by the one-shot cap. Estimate failures fall back to
// the fetcher's default rather than aborting the queueing.
func estimateFilterPages(ctx context.Context, cfg *config.Config, st *store.Store, f config.Filter) int {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	fetcher := fetch.NewFetcher(cfg.API, st, auth.NewRegistry(logger.Logger), logger.Logger)
	pages := fetcher.EstimateTotalPages(ctx, map[string]interface{}{
		"id":     f.ID,
		"name":   f.Name,
		"params": f.Params,
	})
	if pages > oneShotPageCap {
		pages = oneShotPageCap
	}
	if pages < 1 {
		pages = 1
	}
	return pages
}

func filterLabel(f config.Filter) string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}
