package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kelvane/tellyvault/internal/models"
)

func newTestMemory(t *testing.T) (*Memory, *time.Time) {
	t.Helper()
	m := NewMemory()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m.SetClock(func() time.Time { return *clock })
	return m, clock
}

func mustCreateAccount(t *testing.T, m *Memory) int64 {
	t.Helper()
	id, err := m.CreateAccount(context.Background(), &models.Account{
		Username: "075812345678",
		Password: "864725",
		MAC:      "AA:BB:CC:DD:EE:FF",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return id
}

func TestUpsertChannelIdempotent(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()
	accID := mustCreateAccount(t, m)
	srcID, err := m.CreateSourceForAccount(ctx, accID, "075812345678")
	if err != nil {
		t.Fatalf("CreateSourceForAccount: %v", err)
	}

	first := &models.Channel{
		ChannelID: "1001",
		Name:      "CCTV1",
		URL:       "igmp://239.0.0.1:5000",
		LogoURL:   "http://logo/1.png",
		Category:  "央视",
		Position:  "1",
	}
	id1, err := m.UpsertChannel(ctx, srcID, first)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	got, err := m.ListChannelsBySource(ctx, srcID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(got))
	}
	createdAt := *got[0].CreatedAt
	if got[0].Status != models.ChannelStatusEnabled {
		t.Fatalf("new channel status = %d, want enabled", got[0].Status)
	}

	// Disable, then re-fetch with changed metadata: the row keeps id,
	// status and created_at while the mutable fields take the second write.
	statusSrc, err := m.SetChannelStatus(ctx, id1, models.ChannelStatusDisabled)
	if err != nil {
		t.Fatalf("SetChannelStatus: %v", err)
	}
	if statusSrc != srcID {
		t.Errorf("SetChannelStatus source = %d, want %d", statusSrc, srcID)
	}
	*clock = clock.Add(time.Hour)

	second := &models.Channel{
		ChannelID: "1001",
		Name:      "CCTV-1 综合",
		URL:       "igmp://239.0.0.1:6000",
		LogoURL:   "http://logo/1-new.png",
		Category:  "未分类",
		Position:  "1",
	}
	id2, err := m.UpsertChannel(ctx, srcID, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id2 != id1 {
		t.Fatalf("upsert created a new row: id %d != %d", id2, id1)
	}

	got, err = m.ListChannelsBySource(ctx, srcID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 channel after re-upsert, got %d", len(got))
	}
	ch := got[0]
	if ch.Name != "CCTV-1 综合" || ch.URL != "igmp://239.0.0.1:6000" ||
		ch.LogoURL != "http://logo/1-new.png" || ch.Category != "未分类" {
		t.Errorf("mutable fields not overwritten: %+v", ch)
	}
	if ch.Status != models.ChannelStatusDisabled {
		t.Errorf("status = %d, want disabled preserved across upsert", ch.Status)
	}
	if !ch.CreatedAt.Equal(createdAt) {
		t.Errorf("created_at changed: %v -> %v", createdAt, ch.CreatedAt)
	}
	if !ch.UpdatedAt.After(createdAt) {
		t.Errorf("updated_at not bumped: %v", ch.UpdatedAt)
	}
}

func TestUpsertChannelDistinctSources(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	a1 := mustCreateAccount(t, m)
	a2 := mustCreateAccount(t, m)
	s1, _ := m.CreateSourceForAccount(ctx, a1, "line-1")
	s2, _ := m.CreateSourceForAccount(ctx, a2, "line-2")

	ch := models.Channel{ChannelID: "1001", Name: "CCTV1", URL: "igmp://x"}
	id1, _ := m.UpsertChannel(ctx, s1, &ch)
	id2, _ := m.UpsertChannel(ctx, s2, &ch)
	if id1 == id2 {
		t.Fatalf("same channel id across sources must be distinct rows")
	}
}

func TestChannelStatusFilterAndStatistics(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	accID := mustCreateAccount(t, m)
	srcID, _ := m.CreateSourceForAccount(ctx, accID, "line")

	ids := make([]int64, 0, 3)
	for _, cid := range []string{"1", "2", "3"} {
		id, err := m.UpsertChannel(ctx, srcID, &models.Channel{ChannelID: cid, Name: "ch" + cid, URL: "igmp://x", Position: cid})
		if err != nil {
			t.Fatalf("upsert %s: %v", cid, err)
		}
		ids = append(ids, id)
	}
	if _, err := m.SetChannelStatus(ctx, ids[1], models.ChannelStatusDisabled); err != nil {
		t.Fatalf("SetChannelStatus: %v", err)
	}

	enabled := models.ChannelStatusEnabled
	active, err := m.ListChannelsBySource(ctx, srcID, &enabled)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("enabled filter: got %d, want 2", len(active))
	}

	st, err := m.ChannelStatistics(ctx, srcID)
	if err != nil {
		t.Fatalf("ChannelStatistics: %v", err)
	}
	if st.Total != 3 || st.Active != 2 || st.Inactive != 1 {
		t.Errorf("statistics = %+v, want 3/2/1", st)
	}
}

func TestCreateSourceLinksAccount(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	accID := mustCreateAccount(t, m)

	a, _ := m.GetAccount(ctx, accID)
	if a.SourceID != nil {
		t.Fatalf("fresh account already has a source")
	}

	srcID, err := m.CreateSourceForAccount(ctx, accID, "075812345678")
	if err != nil {
		t.Fatalf("CreateSourceForAccount: %v", err)
	}
	a, _ = m.GetAccount(ctx, accID)
	if a.SourceID == nil || *a.SourceID != srcID {
		t.Fatalf("account not linked: %v", a.SourceID)
	}

	if _, err := m.CreateSourceForAccount(ctx, 9999, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account: got %v, want ErrNotFound", err)
	}
}

func TestSetAccountFetchStatus(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	accID := mustCreateAccount(t, m)

	if err := m.SetAccountFetchStatus(ctx, accID, true, ""); err != nil {
		t.Fatalf("success status: %v", err)
	}
	a, _ := m.GetAccount(ctx, accID)
	if a.LastFetchStatus != "success" || a.LastFetchTime == nil {
		t.Errorf("after success: status=%q time=%v", a.LastFetchStatus, a.LastFetchTime)
	}

	if err := m.SetAccountFetchStatus(ctx, accID, false, "authentication failed"); err != nil {
		t.Fatalf("failure status: %v", err)
	}
	a, _ = m.GetAccount(ctx, accID)
	if a.LastFetchStatus != "failed: authentication failed" {
		t.Errorf("after failure: status=%q", a.LastFetchStatus)
	}

	if err := m.SetAccountFetchStatus(ctx, accID, false, ""); err != nil {
		t.Fatalf("bare failure status: %v", err)
	}
	a, _ = m.GetAccount(ctx, accID)
	if a.LastFetchStatus != "failed" {
		t.Errorf("bare failure: status=%q", a.LastFetchStatus)
	}
}

func TestTemplateImportUpsert(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	n, err := m.ImportTemplates(ctx, []models.TemplateEntry{
		{ChannelID: "1001", Name: "CCTV-1", GroupTitle: "央视"},
		{ChannelID: "2001", Name: "湖南卫视", GroupTitle: "卫视"},
		{ChannelID: "", Name: "dropped"},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d, want 2 (blank channel_id skipped)", n)
	}

	// Re-import overwrites by channel_id instead of duplicating.
	if _, err := m.ImportTemplates(ctx, []models.TemplateEntry{
		{ChannelID: "1001", Name: "CCTV-1 综合", GroupTitle: "央视"},
	}); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	e, err := m.GetTemplateByChannelID(ctx, "1001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Name != "CCTV-1 综合" {
		t.Errorf("name = %q, want overwritten", e.Name)
	}

	groups, err := m.TemplateGroups(ctx)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("groups = %v, want 2", groups)
	}

	st, err := m.TemplateStatistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.Total != 2 || st.Groups["央视"] != 1 {
		t.Errorf("statistics = %+v", st)
	}
}

func TestRecordExecution(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()
	accID := mustCreateAccount(t, m)

	taskID, err := m.CreateScheduleTask(ctx, &models.ScheduleTask{
		AccountID:    accID,
		TaskType:     models.TaskTypeFetchChannels,
		ScheduleTime: "02:30",
		RepeatType:   models.RepeatDaily,
		Enabled:      true,
	})
	if err != nil {
		t.Fatalf("CreateScheduleTask: %v", err)
	}

	if err := m.RecordExecution(ctx, taskID, false, "handshake failed"); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	task, _ := m.GetScheduleTask(ctx, taskID)
	if task.ExecutionCount != 1 || task.LastError != "handshake failed" || task.LastExecuted == nil {
		t.Errorf("after failure: %+v", task)
	}

	if err := m.RecordExecution(ctx, taskID, true, ""); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	task, _ = m.GetScheduleTask(ctx, taskID)
	if task.ExecutionCount != 2 || task.LastError != "" {
		t.Errorf("after success: count=%d lastErr=%q", task.ExecutionCount, task.LastError)
	}
}
