package models

import "time"

// ScheduleTask is the persisted representation of a recurring job. The
// scheduler keeps its own runtime object; this row is the historical record
// updated through RecordExecution after each run.
type ScheduleTask struct {
	ID             int64      `json:"id,omitempty"`
	AccountID      int64      `json:"account_id"`
	TaskType       string     `json:"task_type"`
	ScheduleTime   string     `json:"schedule_time"` // "HH:MM"
	RepeatType     string     `json:"repeat_type"`
	FilterSD       bool       `json:"filter_sd"`
	ChannelFilters []string   `json:"channel_filters,omitempty"` // exclusion regexps
	Enabled        bool       `json:"is_enabled"`
	LastExecuted   *time.Time `json:"last_executed,omitempty"`
	NextExecution  *time.Time `json:"next_execution,omitempty"`
	ExecutionCount int        `json:"execution_count"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// ScheduleTaskUpdate holds mutable fields for PATCH /tasks/{id}.
// Pointer fields: nil = don't change, non-nil = set.
type ScheduleTaskUpdate struct {
	ScheduleTime   *string
	RepeatType     *string
	FilterSD       *bool
	ChannelFilters *[]string
	Enabled        *bool
}
