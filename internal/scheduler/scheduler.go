// Package scheduler holds the in-memory recurring job set and the single
// background loop that fires due tasks through registered per-type callbacks.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kelvane/tellyvault/internal/models"
)

// DefaultInterval is how often the loop re-evaluates the task set.
const DefaultInterval = 60 * time.Second

// Callback executes one task. The task value is a snapshot; bookkeeping is
// applied by the scheduler afterwards based on the returned error.
type Callback func(ctx context.Context, task Task) error

// Scheduler owns the runtime task set. One instance per process, constructed
// in main and passed by handle; there is no package-level singleton.
type Scheduler struct {
	mu        sync.Mutex
	tasks     map[int64]*Task
	callbacks map[string]Callback

	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped scheduler.
func New(log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:     make(map[int64]*Task),
		callbacks: make(map[string]Callback),
		interval:  DefaultInterval,
		now:       time.Now,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterCallback binds a task type to its executor. Not guarded by the
// task mutex: registration happens once during bootstrap, before Start.
func (s *Scheduler) RegisterCallback(taskType string, cb Callback) {
	s.callbacks[taskType] = cb
}

// AddTask inserts or replaces a task.
func (s *Scheduler) AddTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	s.log.Info().Int64("task_id", t.ID).Str("schedule", t.ScheduleTime).Str("repeat", t.RepeatType).Msg("task added")
}

// RemoveTask deletes a task; it reports whether the task existed.
func (s *Scheduler) RemoveTask(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	s.log.Info().Int64("task_id", id).Msg("task removed")
	return true
}

// UpdateTask applies the non-nil fields and recomputes the next execution
// when the schedule itself changed. It reports whether the task existed.
func (s *Scheduler) UpdateTask(id int64, fields models.ScheduleTaskUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	rescheduled := false
	if fields.ScheduleTime != nil {
		t.ScheduleTime = *fields.ScheduleTime
		rescheduled = true
	}
	if fields.RepeatType != nil {
		t.RepeatType = *fields.RepeatType
		rescheduled = true
	}
	if fields.FilterSD != nil {
		t.Filters.FilterSD = *fields.FilterSD
	}
	if fields.ChannelFilters != nil {
		t.Filters.ExcludePatterns = *fields.ChannelFilters
	}
	if fields.Enabled != nil {
		t.Enabled = *fields.Enabled
	}
	if rescheduled {
		t.recompute(s.now())
	}
	s.log.Info().Int64("task_id", id).Msg("task updated")
	return true
}

// GetTask returns a snapshot of one task.
func (s *Scheduler) GetTask(id int64) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns snapshots of all tasks.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// Start launches the background loop. Starting a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("scheduler already running")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run()
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop terminates the loop and waits for the current batch to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runDue(context.Background())
		}
	}
}

// runDue snapshots every due task under the mutex, then executes the batch
// sequentially outside the lock. The loop only re-evaluates after the whole
// batch completed, so a slow fetch delays later tasks instead of stacking
// concurrent runs.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []Task
	for _, t := range s.tasks {
		if t.due(now) {
			due = append(due, *t)
		}
	}
	s.mu.Unlock()

	for _, snapshot := range due {
		s.execute(ctx, snapshot)
	}
}

// Execute runs one task immediately, outside the poll cycle, with the same
// bookkeeping as a scheduled run. Callers that need at-most-one fetch per
// account must hold the per-account lock inside the callback.
func (s *Scheduler) Execute(ctx context.Context, id int64) error {
	snapshot, ok := s.GetTask(id)
	if !ok {
		return fmt.Errorf("scheduler: no task %d", id)
	}
	return s.execute(ctx, snapshot)
}

func (s *Scheduler) execute(ctx context.Context, snapshot Task) error {
	cb, ok := s.callbacks[snapshot.Type]
	if !ok {
		err := fmt.Errorf("scheduler: no callback for task type %q", snapshot.Type)
		s.log.Warn().Int64("task_id", snapshot.ID).Str("type", snapshot.Type).Msg("no callback for task type")
		// Roll the schedule forward anyway; a misconfigured type must not
		// re-fire on every poll.
		s.mu.Lock()
		if t, ok := s.tasks[snapshot.ID]; ok {
			t.markError(err)
			t.recompute(s.now())
		}
		s.mu.Unlock()
		return err
	}

	s.log.Info().Int64("task_id", snapshot.ID).Str("type", snapshot.Type).Msg("executing task")
	err := cb(ctx, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[snapshot.ID]
	if !ok {
		// Removed while running; nothing to book-keep.
		return err
	}
	if err != nil {
		t.markError(err)
		s.log.Error().Err(err).Int64("task_id", t.ID).Msg("task failed")
		return err
	}
	t.markExecuted(s.now())
	return nil
}
