// Package store is the persistence gateway: accounts, sources, channels,
// the template dictionary, and schedule task rows.
package store

import (
	"context"
	"errors"

	"github.com/kelvane/tellyvault/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines persistence for the acquisition pipeline and the admin API.
type Store interface {
	// Accounts.
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	CreateAccount(ctx context.Context, a *models.Account) (int64, error)
	UpdateAccount(ctx context.Context, id int64, fields models.AccountUpdate) error
	DeleteAccount(ctx context.Context, id int64) error
	// SetAccountFetchStatus records the outcome and current time of a fetch
	// attempt, success or failure, regardless of how many channels were saved.
	SetAccountFetchStatus(ctx context.Context, id int64, success bool, message string) error

	// Sources.
	GetSourceByID(ctx context.Context, id int64) (*models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	// CreateSourceForAccount creates a source and links it to the account.
	CreateSourceForAccount(ctx context.Context, accountID int64, name string) (int64, error)
	// UpdateSourceStats sets channel_count and bumps last_updated.
	UpdateSourceStats(ctx context.Context, sourceID int64, channelCount int) error

	// Channels. UpsertChannel is keyed by (source_id, channel_id): an existing
	// row keeps its status and created_at while name/url/logo/category and
	// updated_at are overwritten; a new row starts enabled with both
	// timestamps set to now.
	UpsertChannel(ctx context.Context, sourceID int64, ch *models.Channel) (int64, error)
	ListChannelsBySource(ctx context.Context, sourceID int64, status *int16) ([]models.Channel, error)
	// SetChannelStatus returns the channel's source id so callers can
	// invalidate that source's cached listings.
	SetChannelStatus(ctx context.Context, channelID int64, status int16) (int64, error)
	DeleteChannelsBySource(ctx context.Context, sourceID int64) error
	ChannelStatistics(ctx context.Context, sourceID int64) (models.ChannelStatistics, error)

	// Template dictionary.
	ListTemplates(ctx context.Context, groupTitle string) ([]models.TemplateEntry, error)
	GetTemplateByChannelID(ctx context.Context, channelID string) (*models.TemplateEntry, error)
	TemplateGroups(ctx context.Context) ([]string, error)
	ImportTemplates(ctx context.Context, entries []models.TemplateEntry) (int, error)
	TemplateStatistics(ctx context.Context) (models.TemplateStatistics, error)

	// Schedule tasks. The rows are the audit record; runtime scheduling state
	// lives in the scheduler.
	ListScheduleTasks(ctx context.Context) ([]models.ScheduleTask, error)
	GetScheduleTask(ctx context.Context, id int64) (*models.ScheduleTask, error)
	CreateScheduleTask(ctx context.Context, t *models.ScheduleTask) (int64, error)
	UpdateScheduleTask(ctx context.Context, id int64, fields models.ScheduleTaskUpdate) error
	DeleteScheduleTask(ctx context.Context, id int64) error
	// RecordExecution appends one execution outcome to a task row:
	// last_executed and execution_count always move, last_error is the
	// message on failure and cleared on success.
	RecordExecution(ctx context.Context, taskID int64, success bool, message string) error
}
