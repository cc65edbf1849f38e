package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kelvane/tellyvault/internal/models"
)

// Memory is an in-memory Store used by tests and by the end-to-end pipeline
// tests; it mirrors the Postgres semantics including upsert timestamp and
// status preservation.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	accounts  map[int64]*models.Account
	sources   map[int64]*models.Source
	channels  map[int64]*models.Channel
	templates map[string]*models.TemplateEntry
	tasks     map[int64]*models.ScheduleTask

	// Per-table sequences, matching the Postgres schema.
	seq map[string]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:       time.Now,
		accounts:  make(map[int64]*models.Account),
		sources:   make(map[int64]*models.Source),
		channels:  make(map[int64]*models.Channel),
		templates: make(map[string]*models.TemplateEntry),
		tasks:     make(map[int64]*models.ScheduleTask),
		seq:       make(map[string]int64),
	}
}

// SetClock injects the time source, for tests.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) id(table string) int64 {
	m.seq[table]++
	return m.seq[table]
}

// --- accounts ---

func (m *Memory) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateAccount(_ context.Context, a *models.Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cp := *a
	cp.ID = m.id("accounts")
	cp.CreatedAt = &now
	cp.UpdatedAt = &now
	m.accounts[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) UpdateAccount(_ context.Context, id int64, fields models.AccountUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&a.Username, fields.Username)
	set(&a.Password, fields.Password)
	set(&a.MAC, fields.MAC)
	set(&a.IMEI, fields.IMEI)
	set(&a.Address, fields.Address)
	set(&a.Remark, fields.Remark)
	now := m.now()
	a.UpdatedAt = &now
	return nil
}

func (m *Memory) DeleteAccount(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *Memory) SetAccountFetchStatus(_ context.Context, id int64, success bool, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	a.LastFetchTime = &now
	a.LastFetchStatus = FetchStatusText(success, message)
	a.UpdatedAt = &now
	return nil
}

// --- sources ---

func (m *Memory) GetSourceByID(_ context.Context, id int64) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSources(_ context.Context) ([]models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateSourceForAccount(_ context.Context, accountID int64, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	now := m.now()
	s := &models.Source{ID: m.id("sources"), Name: name, AccountID: accountID, CreatedAt: &now}
	m.sources[s.ID] = s
	sid := s.ID
	a.SourceID = &sid
	a.UpdatedAt = &now
	return s.ID, nil
}

func (m *Memory) UpdateSourceStats(_ context.Context, sourceID int64, channelCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[sourceID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	s.ChannelCount = channelCount
	s.LastUpdated = &now
	return nil
}

// --- channels ---

func (m *Memory) UpsertChannel(_ context.Context, sourceID int64, ch *models.Channel) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, existing := range m.channels {
		if existing.SourceID == sourceID && existing.ChannelID == ch.ChannelID {
			existing.Name = ch.Name
			existing.URL = ch.URL
			existing.LogoURL = ch.LogoURL
			existing.Category = ch.Category
			existing.UpdatedAt = &now
			return existing.ID, nil
		}
	}
	cp := *ch
	cp.ID = m.id("channels")
	cp.SourceID = sourceID
	cp.Status = models.ChannelStatusEnabled
	cp.CreatedAt = &now
	cp.UpdatedAt = &now
	m.channels[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) ListChannelsBySource(_ context.Context, sourceID int64, status *int16) ([]models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Channel
	for _, c := range m.channels {
		if c.SourceID != sourceID {
			continue
		}
		if status != nil && c.Status != *status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SetChannelStatus(_ context.Context, channelID int64, status int16) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[channelID]
	if !ok {
		return 0, ErrNotFound
	}
	now := m.now()
	c.Status = status
	c.UpdatedAt = &now
	return c.SourceID, nil
}

func (m *Memory) DeleteChannelsBySource(_ context.Context, sourceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.channels {
		if c.SourceID == sourceID {
			delete(m.channels, id)
		}
	}
	return nil
}

func (m *Memory) ChannelStatistics(_ context.Context, sourceID int64) (models.ChannelStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st models.ChannelStatistics
	for _, c := range m.channels {
		if c.SourceID != sourceID {
			continue
		}
		st.Total++
		if c.Status == models.ChannelStatusEnabled {
			st.Active++
		} else {
			st.Inactive++
		}
	}
	return st, nil
}

// --- template dictionary ---

func (m *Memory) ListTemplates(_ context.Context, groupTitle string) ([]models.TemplateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TemplateEntry
	for _, e := range m.templates {
		if groupTitle != "" && e.GroupTitle != groupTitle {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetTemplateByChannelID(_ context.Context, channelID string) (*models.TemplateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.templates[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) TemplateGroups(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, e := range m.templates {
		if _, ok := seen[e.GroupTitle]; ok {
			continue
		}
		seen[e.GroupTitle] = struct{}{}
		out = append(out, e.GroupTitle)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ImportTemplates(_ context.Context, entries []models.TemplateEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	count := 0
	for _, e := range entries {
		if e.ChannelID == "" {
			continue
		}
		cp := e
		if existing, ok := m.templates[e.ChannelID]; ok {
			cp.ID = existing.ID
			cp.CreatedAt = existing.CreatedAt
		} else {
			cp.ID = m.id("channel_templates")
			cp.CreatedAt = &now
		}
		m.templates[cp.ChannelID] = &cp
		count++
	}
	return count, nil
}

func (m *Memory) TemplateStatistics(_ context.Context) (models.TemplateStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := models.TemplateStatistics{Groups: make(map[string]int)}
	for _, e := range m.templates {
		st.Groups[e.GroupTitle]++
		st.Total++
	}
	return st, nil
}

// --- schedule tasks ---

func (m *Memory) ListScheduleTasks(_ context.Context) ([]models.ScheduleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ScheduleTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetScheduleTask(_ context.Context, id int64) (*models.ScheduleTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) CreateScheduleTask(_ context.Context, t *models.ScheduleTask) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cp := *t
	cp.ID = m.id("schedule_tasks")
	cp.CreatedAt = &now
	cp.UpdatedAt = &now
	m.tasks[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) UpdateScheduleTask(_ context.Context, id int64, fields models.ScheduleTaskUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if fields.ScheduleTime != nil {
		t.ScheduleTime = *fields.ScheduleTime
	}
	if fields.RepeatType != nil {
		t.RepeatType = *fields.RepeatType
	}
	if fields.FilterSD != nil {
		t.FilterSD = *fields.FilterSD
	}
	if fields.ChannelFilters != nil {
		t.ChannelFilters = *fields.ChannelFilters
	}
	if fields.Enabled != nil {
		t.Enabled = *fields.Enabled
	}
	now := m.now()
	t.UpdatedAt = &now
	return nil
}

func (m *Memory) DeleteScheduleTask(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) RecordExecution(_ context.Context, taskID int64, success bool, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	t.LastExecuted = &now
	t.ExecutionCount++
	if success {
		t.LastError = ""
	} else {
		if message == "" {
			message = "execution failed"
		}
		t.LastError = message
	}
	t.UpdatedAt = &now
	return nil
}
