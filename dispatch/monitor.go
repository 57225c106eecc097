package dispatch

import (
	"time"

	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

// monitor is the periodic pass over the durable queue: fail what ran
// past its timeout, then offer due pending tasks to the workers.
func (d *Dispatcher) monitor() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.monitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweepOverdue()
			d.offerDue()
		}
	}
}

// sweepOverdue marks running tasks past started_at+timeout as failed.
// Their handlers observe the deadline through the task context; the
// store update here is what the panel and the scheduler see.
func (d *Dispatcher) sweepOverdue() {
	failed, err := d.store.FailOverdueTasks()
	if err != nil {
		d.logger.Warnw("Timeout sweep failed", "error", err)
		return
	}
	for _, id := range failed {
		d.logger.Warnw(sym.Task+" Task timed out", "task_id", shortID(id))
	}
}

// offerDue feeds due pending tasks to the workers, at most one per
// type and none for types still running. Frozen skips the whole pass.
func (d *Dispatcher) offerDue() {
	if d.Frozen() {
		return
	}

	due, err := d.store.GetDueTasks()
	if err != nil {
		d.logger.Warnw("Due-task query failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	running, err := d.store.TypeCounts(store.TaskStatusRunning)
	if err != nil {
		d.logger.Warnw("Running-type query failed", "error", err)
		return
	}

	offered := make(map[string]bool)
	for i := range due {
		task := &due[i]
		if running[task.Type] > 0 || offered[task.Type] {
			continue
		}
		if d.enqueue(task.ID) {
			offered[task.Type] = true
		}
	}
}
