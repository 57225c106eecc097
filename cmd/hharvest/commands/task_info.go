package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/talocan/hharvest/sym"
)

// TaskInfoCmd shows one task in detail.
var TaskInfoCmd = &cobra.Command{
	Use:   "task-info TASK_ID",
	Short: sym.Task + " Show one task in detail",
	Long: sym.Task + ` Show a task's full lifecycle: timestamps, timeout,
worker assignment, parameters, and the result or progress payloads.

Example:
  hharvest task-info 2f6b0c1e-8d7a-4b52-9477-1f4f5a2c9b11`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskInfo,
}

func runTaskInfo(cmd *cobra.Command, args []string) error {
	st, err := openStore("")
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := st.GetTask(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s Task %s\n", sym.Task, task.ID)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Type:     %s\n", task.Type)
	fmt.Printf("Status:   %s\n", task.Status)
	fmt.Printf("Created:  %s\n", formatUnix(task.CreatedAt))
	if task.ScheduleAt != nil {
		fmt.Printf("Deferred: %s\n", formatUnix(*task.ScheduleAt))
	}
	if task.StartedAt != nil {
		fmt.Printf("Started:  %s\n", formatUnix(*task.StartedAt))
	}
	if task.FinishedAt != nil {
		fmt.Printf("Finished: %s\n", formatUnix(*task.FinishedAt))
	}
	fmt.Printf("Timeout:  %d sec\n", task.TimeoutSec)
	if task.WorkerID != "" {
		fmt.Printf("Worker:   %s\n", task.WorkerID)
	}

	if params := task.Params(); len(params) > 0 {
		fmt.Printf("\nParameters:\n")
		printParamMap(params)
	}
	if task.ResultJSON != "" {
		fmt.Printf("\nResult:\n  %s\n", task.ResultJSON)
	}
	if task.ProgressJSON != "" {
		fmt.Printf("\nProgress:\n  %s\n", task.ProgressJSON)
	}
	return nil
}

// printParamMap renders params one per line, collapsing a nested
// filter object to its label.
func printParamMap(params map[string]interface{}) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		if k == "filter" {
			if fm, ok := v.(map[string]interface{}); ok {
				label, _ := fm["name"].(string)
				if label == "" {
					label, _ = fm["id"].(string)
				}
				if label != "" {
					fmt.Printf("  %s: %s\n", k, label)
					continue
				}
			}
		}
		fmt.Printf("  %s: %v\n", k, v)
	}
}
