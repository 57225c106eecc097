package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

// TasksCmd lists recent tasks.
var TasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: sym.Task + " List recent tasks",
	Long: sym.Task + ` List recent tasks, newest first.

Example:
  hharvest tasks                    # Last 20 tasks
  hharvest tasks -s running -l 50   # Running tasks only`,
	RunE: runTasks,
}

var (
	tasksLimitFlag  int
	tasksStatusFlag string
)

func init() {
	TasksCmd.Flags().IntVarP(&tasksLimitFlag, "limit", "l", 20, "Number of tasks to show")
	TasksCmd.Flags().StringVarP(&tasksStatusFlag, "status", "s", "", "Filter by status (pending/running/completed/failed/cancelled)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.GetTasks(tasksStatusFlag, tasksLimitFlag, 0)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	rows := pterm.TableData{{"ID", "Type", "Status", "Created", "Progress"}}
	for _, t := range tasks {
		rows = append(rows, []string{
			shortTaskID(t.ID),
			t.Type,
			t.Status,
			formatUnix(t.CreatedAt),
			taskProgressLabel(&t),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	fmt.Printf("\nShowing %d task(s)\n", len(tasks))
	return nil
}

// taskProgressLabel condenses the mutable progress blob to one cell:
// the chunk label when the handler reports one, otherwise the page.
func taskProgressLabel(t *store.Task) string {
	if t.ProgressJSON == "" {
		return ""
	}
	var progress map[string]interface{}
	if err := json.Unmarshal([]byte(t.ProgressJSON), &progress); err != nil {
		return ""
	}
	if v, ok := progress["chunk_progress"].(string); ok {
		return v
	}
	if v, ok := progress["current_page"].(float64); ok {
		return fmt.Sprintf("page %d", int(v))
	}
	return ""
}

func shortTaskID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func formatUnix(ts float64) string {
	if ts <= 0 {
		return "unknown"
	}
	return time.Unix(int64(ts), 0).Format("2006-01-02 15:04:05")
}
