package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelvane/tellyvault/internal/models"
)

// FilterConfig is the per-task acquisition filter configuration handed to the
// fetch callback.
type FilterConfig struct {
	ExcludePatterns []string
	FilterSD        bool
}

// Task is the runtime scheduling object. It is the single owner of "is this
// job due"; the persisted schedule_tasks row is only the historical record.
type Task struct {
	ID           int64
	Type         string
	AccountID    int64
	ScheduleTime string // "HH:MM"
	RepeatType   string
	Enabled      bool
	Filters      FilterConfig

	LastExecuted   *time.Time
	NextExecution  *time.Time
	ExecutionCount int
	LastError      string
}

// NewTask validates the schedule fields and computes the initial next
// execution relative to now.
func NewTask(id int64, taskType string, accountID int64, scheduleTime, repeatType string, enabled bool, filters FilterConfig, now time.Time) (*Task, error) {
	hh, mm, err := parseScheduleTime(scheduleTime)
	if err != nil {
		return nil, err
	}
	switch repeatType {
	case models.RepeatOnce, models.RepeatDaily, models.RepeatWeekly, models.RepeatMonthly:
	default:
		return nil, fmt.Errorf("unknown repeat type %q", repeatType)
	}
	t := &Task{
		ID:           id,
		Type:         taskType,
		AccountID:    accountID,
		ScheduleTime: scheduleTime,
		RepeatType:   repeatType,
		Enabled:      enabled,
		Filters:      filters,
	}
	t.NextExecution = nextExecution(now, hh, mm, repeatType)
	return t, nil
}

// FromRow rebuilds a runtime task from its persisted row, recomputing the
// next execution instead of trusting the stored one.
func FromRow(row models.ScheduleTask, now time.Time) (*Task, error) {
	t, err := NewTask(row.ID, row.TaskType, row.AccountID, row.ScheduleTime, row.RepeatType, row.Enabled,
		FilterConfig{ExcludePatterns: row.ChannelFilters, FilterSD: row.FilterSD}, now)
	if err != nil {
		return nil, err
	}
	t.LastExecuted = row.LastExecuted
	t.ExecutionCount = row.ExecutionCount
	t.LastError = row.LastError
	return t, nil
}

// Row converts the runtime task back to its persisted shape.
func (t *Task) Row() models.ScheduleTask {
	return models.ScheduleTask{
		ID:             t.ID,
		AccountID:      t.AccountID,
		TaskType:       t.Type,
		ScheduleTime:   t.ScheduleTime,
		RepeatType:     t.RepeatType,
		FilterSD:       t.Filters.FilterSD,
		ChannelFilters: t.Filters.ExcludePatterns,
		Enabled:        t.Enabled,
		LastExecuted:   t.LastExecuted,
		NextExecution:  t.NextExecution,
		ExecutionCount: t.ExecutionCount,
		LastError:      t.LastError,
	}
}

// due reports whether the task should run at now. A nil NextExecution means
// an exhausted one-shot; it is never due again.
func (t *Task) due(now time.Time) bool {
	if !t.Enabled || t.NextExecution == nil {
		return false
	}
	return !now.Before(*t.NextExecution)
}

// markExecuted records a successful run and rolls the schedule forward.
func (t *Task) markExecuted(now time.Time) {
	t.LastExecuted = &now
	t.ExecutionCount++
	t.LastError = ""
	hh, mm, _ := parseScheduleTime(t.ScheduleTime)
	t.NextExecution = nextExecution(now, hh, mm, t.RepeatType)
}

// markError records the failure and deliberately leaves NextExecution
// untouched, so a failing task is retried on every poll until it succeeds or
// is disabled.
func (t *Task) markError(err error) {
	t.LastError = err.Error()
}

// recompute refreshes NextExecution after the schedule fields changed.
func (t *Task) recompute(now time.Time) {
	hh, mm, err := parseScheduleTime(t.ScheduleTime)
	if err != nil {
		return
	}
	t.NextExecution = nextExecution(now, hh, mm, t.RepeatType)
}

func parseScheduleTime(s string) (hh, mm int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("schedule time %q is not HH:MM", s)
	}
	hh, err = strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("schedule time %q has invalid hour", s)
	}
	mm, err = strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("schedule time %q has invalid minute", s)
	}
	return hh, mm, nil
}

// nextExecution implements the repeat policies:
//
//	once:    today at HH:MM; nil when that moment has passed (the task is
//	         permanently exhausted rather than run immediately)
//	daily:   today at HH:MM, or tomorrow when past
//	weekly:  today at HH:MM, or exactly seven days later when past
//	monthly: today at HH:MM, or the same day next month capped at 28 to
//	         avoid invalid dates
func nextExecution(now time.Time, hh, mm int, repeatType string) *time.Time {
	scheduled := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if scheduled.After(now) {
		return &scheduled
	}
	switch repeatType {
	case models.RepeatOnce:
		return nil
	case models.RepeatDaily:
		scheduled = scheduled.AddDate(0, 0, 1)
	case models.RepeatWeekly:
		scheduled = scheduled.AddDate(0, 0, 7)
	case models.RepeatMonthly:
		day := now.Day()
		if day > 28 {
			day = 28
		}
		firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
		scheduled = time.Date(firstOfNext.Year(), firstOfNext.Month(), day, hh, mm, 0, 0, now.Location())
	}
	return &scheduled
}
