package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelvane/tellyvault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close
// when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// --- accounts ---

const accountColumns = `id, username, password, mac, imei, address, remark, source_id,
	last_fetch_time, last_fetch_status, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	var imei, address, remark, fetchStatus *string
	err := row.Scan(&a.ID, &a.Username, &a.Password, &a.MAC, &imei, &address, &remark,
		&a.SourceID, &a.LastFetchTime, &fetchStatus, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.IMEI = deref(imei)
	a.Address = deref(address)
	a.Remark = deref(remark)
	a.LastFetchStatus = deref(fetchStatus)
	return &a, nil
}

func (p *Postgres) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	a, err := scanAccount(p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return a, err
}

func (p *Postgres) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAccounts scan: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateAccount(ctx context.Context, a *models.Account) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, password, mac, imei, address, remark)
		 VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''))
		 RETURNING id`,
		a.Username, a.Password, a.MAC, a.IMEI, a.Address, a.Remark,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("CreateAccount: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateAccount(ctx context.Context, id int64, fields models.AccountUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	add := func(col string, v *string) {
		if v != nil {
			args = append(args, *v)
			sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	add("username", fields.Username)
	add("password", fields.Password)
	add("mac", fields.MAC)
	add("imei", fields.IMEI)
	add("address", fields.Address)
	add("remark", fields.Remark)
	tag, err := p.pool.Exec(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("UpdateAccount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteAccount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetAccountFetchStatus(ctx context.Context, id int64, success bool, message string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE accounts SET last_fetch_time = NOW(), last_fetch_status = $2, updated_at = NOW()
		 WHERE id = $1`,
		id, FetchStatusText(success, message))
	if err != nil {
		return fmt.Errorf("SetAccountFetchStatus: %w", err)
	}
	return nil
}

// FetchStatusText renders the persisted status string: "success", "failed",
// or "failed: <message>".
func FetchStatusText(success bool, message string) string {
	if success {
		return "success"
	}
	if message == "" {
		return "failed"
	}
	return "failed: " + message
}

// --- sources ---

func (p *Postgres) GetSourceByID(ctx context.Context, id int64) (*models.Source, error) {
	var s models.Source
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, account_id, channel_count, last_updated, created_at
		 FROM sources WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.AccountID, &s.ChannelCount, &s.LastUpdated, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetSourceByID: %w", err)
	}
	return &s, nil
}

func (p *Postgres) ListSources(ctx context.Context) ([]models.Source, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, account_id, channel_count, last_updated, created_at
		 FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListSources: %w", err)
	}
	defer rows.Close()
	var out []models.Source
	for rows.Next() {
		var s models.Source
		if err := rows.Scan(&s.ID, &s.Name, &s.AccountID, &s.ChannelCount, &s.LastUpdated, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListSources scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSourceForAccount(ctx context.Context, accountID int64, name string) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreateSourceForAccount begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO sources (name, account_id) VALUES ($1, $2) RETURNING id`,
		name, accountID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("CreateSourceForAccount insert: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET source_id = $1, updated_at = NOW() WHERE id = $2`, id, accountID)
	if err != nil {
		return 0, fmt.Errorf("CreateSourceForAccount link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("CreateSourceForAccount commit: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateSourceStats(ctx context.Context, sourceID int64, channelCount int) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE sources SET channel_count = $2, last_updated = NOW() WHERE id = $1`,
		sourceID, channelCount)
	if err != nil {
		return fmt.Errorf("UpdateSourceStats: %w", err)
	}
	return nil
}

// --- channels ---

func (p *Postgres) UpsertChannel(ctx context.Context, sourceID int64, ch *models.Channel) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO channels (source_id, channel_id, channel_name, channel_url,
		   user_channel_id, time_shift, channel_sdp_url, channel_logo_url, positon,
		   category, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		 ON CONFLICT (source_id, channel_id) DO UPDATE SET
		   channel_name = EXCLUDED.channel_name,
		   channel_url = EXCLUDED.channel_url,
		   channel_logo_url = EXCLUDED.channel_logo_url,
		   category = EXCLUDED.category,
		   updated_at = NOW()
		 RETURNING id`,
		sourceID, ch.ChannelID, ch.Name, ch.URL, ch.UserChannelID, ch.TimeShift,
		ch.SDPURL, ch.LogoURL, ch.Position, ch.Category, models.ChannelStatusEnabled,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("UpsertChannel: %w", err)
	}
	return id, nil
}

const channelColumns = `id, source_id, channel_id, channel_name, channel_url,
	user_channel_id, time_shift, channel_sdp_url, channel_logo_url, positon,
	category, status, created_at, updated_at`

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var c models.Channel
	var userChannelID, timeShift, sdp, logo, position, category *string
	err := row.Scan(&c.ID, &c.SourceID, &c.ChannelID, &c.Name, &c.URL,
		&userChannelID, &timeShift, &sdp, &logo, &position, &category,
		&c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.UserChannelID = deref(userChannelID)
	c.TimeShift = deref(timeShift)
	c.SDPURL = deref(sdp)
	c.LogoURL = deref(logo)
	c.Position = deref(position)
	c.Category = deref(category)
	return &c, nil
}

func (p *Postgres) ListChannelsBySource(ctx context.Context, sourceID int64, status *int16) ([]models.Channel, error) {
	q := `SELECT ` + channelColumns + ` FROM channels WHERE source_id = $1`
	args := []any{sourceID}
	if status != nil {
		q += ` AND status = $2`
		args = append(args, *status)
	}
	q += ` ORDER BY positon ASC, id ASC`
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListChannelsBySource: %w", err)
	}
	defer rows.Close()
	var out []models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("ListChannelsBySource scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (p *Postgres) SetChannelStatus(ctx context.Context, channelID int64, status int16) (int64, error) {
	var sourceID int64
	err := p.pool.QueryRow(ctx,
		`UPDATE channels SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING source_id`,
		channelID, status).Scan(&sourceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("SetChannelStatus: %w", err)
	}
	return sourceID, nil
}

func (p *Postgres) DeleteChannelsBySource(ctx context.Context, sourceID int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM channels WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("DeleteChannelsBySource: %w", err)
	}
	return nil
}

func (p *Postgres) ChannelStatistics(ctx context.Context, sourceID int64) (models.ChannelStatistics, error) {
	var st models.ChannelStatistics
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 0),
		        COUNT(*) FILTER (WHERE status = 1)
		 FROM channels WHERE source_id = $1`, sourceID,
	).Scan(&st.Total, &st.Active, &st.Inactive)
	if err != nil {
		return st, fmt.Errorf("ChannelStatistics: %w", err)
	}
	return st, nil
}

// --- template dictionary ---

func (p *Postgres) ListTemplates(ctx context.Context, groupTitle string) ([]models.TemplateEntry, error) {
	q := `SELECT id, channel_id, name, group_title, created_at FROM channel_templates`
	args := []any{}
	if groupTitle != "" {
		q += ` WHERE group_title = $1`
		args = append(args, groupTitle)
	}
	q += ` ORDER BY id`
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTemplates: %w", err)
	}
	defer rows.Close()
	var out []models.TemplateEntry
	for rows.Next() {
		var e models.TemplateEntry
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.Name, &e.GroupTitle, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListTemplates scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) GetTemplateByChannelID(ctx context.Context, channelID string) (*models.TemplateEntry, error) {
	var e models.TemplateEntry
	err := p.pool.QueryRow(ctx,
		`SELECT id, channel_id, name, group_title, created_at
		 FROM channel_templates WHERE channel_id = $1`, channelID,
	).Scan(&e.ID, &e.ChannelID, &e.Name, &e.GroupTitle, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetTemplateByChannelID: %w", err)
	}
	return &e, nil
}

func (p *Postgres) TemplateGroups(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT group_title FROM channel_templates ORDER BY group_title`)
	if err != nil {
		return nil, fmt.Errorf("TemplateGroups: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("TemplateGroups scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (p *Postgres) ImportTemplates(ctx context.Context, entries []models.TemplateEntry) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ImportTemplates begin: %w", err)
	}
	defer tx.Rollback(ctx)

	count := 0
	for _, e := range entries {
		if e.ChannelID == "" {
			continue
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO channel_templates (channel_id, name, group_title)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (channel_id) DO UPDATE SET
			   name = EXCLUDED.name, group_title = EXCLUDED.group_title`,
			e.ChannelID, e.Name, e.GroupTitle)
		if err != nil {
			return 0, fmt.Errorf("ImportTemplates upsert %s: %w", e.ChannelID, err)
		}
		count++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ImportTemplates commit: %w", err)
	}
	return count, nil
}

func (p *Postgres) TemplateStatistics(ctx context.Context) (models.TemplateStatistics, error) {
	st := models.TemplateStatistics{Groups: make(map[string]int)}
	rows, err := p.pool.Query(ctx,
		`SELECT group_title, COUNT(*) FROM channel_templates GROUP BY group_title`)
	if err != nil {
		return st, fmt.Errorf("TemplateStatistics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g string
		var n int
		if err := rows.Scan(&g, &n); err != nil {
			return st, fmt.Errorf("TemplateStatistics scan: %w", err)
		}
		st.Groups[g] = n
		st.Total += n
	}
	return st, rows.Err()
}

// --- schedule tasks ---

const taskColumns = `id, account_id, task_type, schedule_time, repeat_type, filter_sd,
	channel_filters, is_enabled, last_executed, next_execution, execution_count,
	last_error, created_at, updated_at`

func scanTask(row pgx.Row) (*models.ScheduleTask, error) {
	var t models.ScheduleTask
	var lastError *string
	err := row.Scan(&t.ID, &t.AccountID, &t.TaskType, &t.ScheduleTime, &t.RepeatType,
		&t.FilterSD, &t.ChannelFilters, &t.Enabled, &t.LastExecuted, &t.NextExecution,
		&t.ExecutionCount, &lastError, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.LastError = deref(lastError)
	return &t, nil
}

func (p *Postgres) ListScheduleTasks(ctx context.Context) ([]models.ScheduleTask, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM schedule_tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListScheduleTasks: %w", err)
	}
	defer rows.Close()
	var out []models.ScheduleTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("ListScheduleTasks scan: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (p *Postgres) GetScheduleTask(ctx context.Context, id int64) (*models.ScheduleTask, error) {
	t, err := scanTask(p.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM schedule_tasks WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("GetScheduleTask: %w", err)
	}
	return t, err
}

func (p *Postgres) CreateScheduleTask(ctx context.Context, t *models.ScheduleTask) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO schedule_tasks
		   (account_id, task_type, schedule_time, repeat_type, filter_sd,
		    channel_filters, is_enabled, next_execution)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		t.AccountID, t.TaskType, t.ScheduleTime, t.RepeatType, t.FilterSD,
		t.ChannelFilters, t.Enabled, t.NextExecution,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("CreateScheduleTask: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateScheduleTask(ctx context.Context, id int64, fields models.ScheduleTaskUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.ScheduleTime != nil {
		add("schedule_time", *fields.ScheduleTime)
	}
	if fields.RepeatType != nil {
		add("repeat_type", *fields.RepeatType)
	}
	if fields.FilterSD != nil {
		add("filter_sd", *fields.FilterSD)
	}
	if fields.ChannelFilters != nil {
		add("channel_filters", *fields.ChannelFilters)
	}
	if fields.Enabled != nil {
		add("is_enabled", *fields.Enabled)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE schedule_tasks SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("UpdateScheduleTask: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteScheduleTask(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM schedule_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteScheduleTask: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RecordExecution(ctx context.Context, taskID int64, success bool, message string) error {
	var lastError *string
	if !success {
		msg := message
		if msg == "" {
			msg = "execution failed"
		}
		lastError = &msg
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE schedule_tasks
		 SET last_executed = NOW(),
		     execution_count = execution_count + 1,
		     last_error = $2,
		     updated_at = NOW()
		 WHERE id = $1`,
		taskID, lastError)
	if err != nil {
		return fmt.Errorf("RecordExecution: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
