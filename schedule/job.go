package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/talocan/hharvest/store"
)

// Named schedule patterns. Besides these, NextAfter understands the
// cron subsets "*/N * * * *" (every N minutes) and "0 */N * * *"
// (every N hours on the hour); anything else falls back to an hour
// from now.
const (
	PatternHourly = "hourly"
	PatternDaily  = "daily"
	PatternWeekly = "weekly"
)

const (
	dailyRunHour  = 2
	weeklyRunHour = 3
)

// Job is one recurring entry in the scheduler table. NextRun is nil
// only while the job is disabled.
type Job struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Name           string                 `json:"name"`
	Pattern        string                 `json:"schedule_pattern"`
	Enabled        bool                   `json:"enabled"`
	LastRun        *time.Time             `json:"last_run,omitempty"`
	NextRun        *time.Time             `json:"next_run,omitempty"`
	RunCount       int                    `json:"run_count"`
	FailureCount   int                    `json:"failure_count"`
	MaxFailures    int                    `json:"max_failures"`
	TimeoutMinutes int                    `json:"timeout_minutes"`
	Params         map[string]interface{} `json:"params,omitempty"`
}

// firstRunDelay reads the optional first_run_delay_sec param that
// staggers the initial firing of seeded jobs.
func (j *Job) firstRunDelay() time.Duration {
	if j.Params == nil {
		return 0
	}
	switch v := j.Params["first_run_delay_sec"].(type) {
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	}
	return 0
}

// NextAfter computes when a pattern fires next, relative to now:
//
//	hourly        top of the next hour
//	daily         02:00 tomorrow
//	weekly        next Sunday 03:00
//	*/N * * * *   N minutes from now
//	0 */N * * *   next hour divisible by N, on the hour; rolls to the
//	              next day when the slot wraps past midnight
//
// Unrecognized patterns fire an hour from now.
func NextAfter(pattern string, now time.Time) time.Time {
	switch {
	case pattern == PatternHourly:
		top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
		return top.Add(time.Hour)

	case pattern == PatternDaily:
		at := time.Date(now.Year(), now.Month(), now.Day(), dailyRunHour, 0, 0, 0, now.Location())
		return at.AddDate(0, 0, 1)

	case pattern == PatternWeekly:
		ahead := (7 - int(now.Weekday())) % 7
		if ahead == 0 {
			ahead = 7
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), weeklyRunHour, 0, 0, 0, now.Location())
		return at.AddDate(0, 0, ahead)

	case strings.HasPrefix(pattern, "*/"):
		if n, ok := patternInterval(pattern, 0); ok {
			return now.Add(time.Duration(n) * time.Minute)
		}

	case strings.HasPrefix(pattern, "0 */"):
		if n, ok := patternInterval(pattern, 1); ok {
			slot := (now.Hour()/n + 1) * n
			day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			if slot >= 24 {
				day = day.AddDate(0, 0, 1)
			}
			return day.Add(time.Duration(slot%24) * time.Hour)
		}
	}

	return now.Add(time.Hour)
}

// patternInterval pulls the N out of a "*/N" field.
func patternInterval(pattern string, field int) (int, bool) {
	fields := strings.Fields(pattern)
	if field >= len(fields) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(fields[field], "*/"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// DefaultJobs is the standing acquisition schedule: hourly vacancy
// loads, daily employer backfill and analysis, periodic cleanup and
// host sync, and a five-minute health sample. first_run_delay_sec
// staggers the initial firings so a fresh daemon does not start
// everything at once.
func DefaultJobs() []*Job {
	return []*Job{
		{
			Type:           store.TaskTypeLoadVacancies,
			Name:           "Hourly vacancy fetch",
			Pattern:        PatternHourly,
			Enabled:        true,
			TimeoutMinutes: 45,
			Params: map[string]interface{}{
				"max_pages":           200,
				"first_run_delay_sec": 0,
			},
		},
		{
			Type:           store.TaskTypeLoadEmployers,
			Name:           "Daily employer fetch",
			Pattern:        PatternDaily,
			Enabled:        true,
			TimeoutMinutes: 30,
			Params: map[string]interface{}{
				"first_run_delay_sec": 15,
			},
		},
		{
			Type:           store.TaskTypeCleanup,
			Name:           "System cleanup",
			Pattern:        "0 */6 * * *",
			Enabled:        true,
			TimeoutMinutes: 15,
			Params: map[string]interface{}{
				"keep_days":           30,
				"vacuum_db":           true,
				"first_run_delay_sec": 20,
			},
		},
		{
			Type:           store.TaskTypeSyncHost2,
			Name:           "Host2 sync",
			Pattern:        "0 */4 * * *",
			Enabled:        true,
			TimeoutMinutes: 20,
			Params: map[string]interface{}{
				"first_run_delay_sec": 25,
			},
		},
		{
			Type:           store.TaskTypeAnalyzeHost3,
			Name:           "Host3 analysis",
			Pattern:        PatternDaily,
			Enabled:        true,
			TimeoutMinutes: 60,
			Params: map[string]interface{}{
				"batch_size":          50,
				"analyze_new_only":    true,
				"first_run_delay_sec": 30,
			},
		},
		{
			Type:           store.TaskTypeHealthCheck,
			Name:           "System health check",
			Pattern:        "*/5 * * * *",
			Enabled:        true,
			TimeoutMinutes: 2,
			Params: map[string]interface{}{
				"first_run_delay_sec": 5,
			},
		},
	}
}
