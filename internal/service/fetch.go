// Package service runs the channel acquisition pipeline: handshake, scrape,
// normalize, persist. One run is serialised per account through a fetch lock.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kelvane/tellyvault/internal/cache"
	"github.com/kelvane/tellyvault/internal/crypt"
	"github.com/kelvane/tellyvault/internal/iptv"
	"github.com/kelvane/tellyvault/internal/metrics"
	"github.com/kelvane/tellyvault/internal/models"
	"github.com/kelvane/tellyvault/internal/normalize"
	"github.com/kelvane/tellyvault/internal/store"
)

// Pipeline outcomes, also used as the metrics label.
const (
	OutcomeSaved           = "saved"
	OutcomeLocked          = "locked"
	OutcomeAccountNotFound = "account_not_found"
	OutcomeNoLinkedSource  = "no_linked_source"
	OutcomeHandshakeFailed = "handshake_failed"
	OutcomeScrapeFailed    = "scrape_failed"
	OutcomeAuthUncertain   = "auth_uncertain"
)

// ErrFetchInProgress is returned when another fetch already holds the
// account's lock.
var ErrFetchInProgress = errors.New("fetch already in progress for account")

// Filter carries the per-run normalization settings, usually taken from the
// schedule task that triggered the fetch.
type Filter struct {
	ExcludePatterns []string
	FilterSD        bool
}

// Result describes one completed (or refused) pipeline run.
type Result struct {
	Outcome  string `json:"outcome"`
	SourceID int64  `json:"source_id,omitempty"`
	Saved    int    `json:"saved"`
	Skipped  int    `json:"skipped"`
	Message  string `json:"message,omitempty"`
}

// Upstream is the slice of the session the pipeline needs; satisfied by
// *iptv.Session and by test fakes.
type Upstream interface {
	Authenticate(ctx context.Context) error
	Channels(ctx context.Context) ([]models.RawChannel, error)
}

// SessionFactory builds an upstream session for one account's credentials.
type SessionFactory func(creds iptv.Credentials) (Upstream, error)

// DefaultSessionFactory derives the 3DES key from the account password and
// dials the production discovery endpoint.
func DefaultSessionFactory(creds iptv.Credentials) (Upstream, error) {
	cipher, err := crypt.NewFromPassword(creds.Password)
	if err != nil {
		return nil, fmt.Errorf("derive account cipher: %w", err)
	}
	return iptv.NewSession(creds, cipher), nil
}

// listingCache is the slice of the channel cache the service needs; satisfied
// by *cache.ChannelCache and by test fakes.
type listingCache interface {
	Channels(ctx context.Context, sourceID int64) ([]models.Channel, error)
	SetChannels(ctx context.Context, sourceID int64, channels []models.Channel, ttl time.Duration) error
	Invalidate(ctx context.Context, sourceID int64) error
}

// Service wires the pipeline dependencies together.
type Service struct {
	store    store.Store
	locker   cache.Locker
	cache    listingCache // nil when Redis is not configured
	metrics  *metrics.Metrics
	log      zerolog.Logger
	sessions SessionFactory
	lockTTL  time.Duration
	cacheTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables channel list caching on top of the mandatory locker.
func WithCache(r *cache.Redis) Option {
	return func(s *Service) { s.cache = cache.NewChannelCache(r) }
}

// WithMetrics attaches pipeline instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSessionFactory substitutes the upstream session constructor, for tests.
func WithSessionFactory(fn SessionFactory) Option {
	return func(s *Service) { s.sessions = fn }
}

// WithLockTTL overrides how long an abandoned fetch lock survives.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) { s.lockTTL = ttl }
}

// New creates the pipeline service.
func New(st store.Store, locker cache.Locker, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		locker:   locker,
		log:      log,
		sessions: DefaultSessionFactory,
		lockTTL:  10 * time.Minute,
		cacheTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSource returns the account's source id, creating and linking a source
// named after the account on first use.
func (s *Service) EnsureSource(ctx context.Context, accountID int64) (int64, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if account.SourceID != nil {
		return *account.SourceID, nil
	}
	name := account.Username
	if account.Remark != "" {
		name = account.Remark
	}
	return s.store.CreateSourceForAccount(ctx, accountID, name)
}

// FetchChannels runs the full pipeline for one account. The returned Result
// always has an Outcome; err is non-nil for every outcome except OutcomeSaved.
//
// Status bookkeeping: the account's fetch status is written on every attempt
// that got past the lock and found the account, except when the account has
// no linked source yet.
func (s *Service) FetchChannels(ctx context.Context, accountID int64, filter Filter) (Result, error) {
	start := time.Now()
	res, err := s.fetch(ctx, accountID, filter)
	if s.metrics != nil {
		s.metrics.RecordFetch(res.Outcome, time.Since(start).Seconds(), res.Saved)
	}
	return res, err
}

func (s *Service) fetch(ctx context.Context, accountID int64, filter Filter) (Result, error) {
	unlock, err := s.locker.TryLock(ctx, cache.FetchLockKey(accountID), s.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return Result{Outcome: OutcomeLocked, Message: "fetch already in progress"}, ErrFetchInProgress
		}
		return Result{Outcome: OutcomeLocked, Message: err.Error()}, err
	}
	defer unlock()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Outcome: OutcomeAccountNotFound, Message: "account not found"}, err
		}
		return Result{Outcome: OutcomeAccountNotFound, Message: err.Error()}, err
	}
	if account.SourceID == nil {
		// No source to attach channels to; the account's fetch status is
		// deliberately left untouched here.
		err := fmt.Errorf("account %d has no linked source", accountID)
		return Result{Outcome: OutcomeNoLinkedSource, Message: err.Error()}, err
	}
	sourceID := *account.SourceID

	log := s.log.With().
		Str("run_id", uuid.NewString()).
		Int64("account_id", accountID).
		Int64("source_id", sourceID).
		Logger()

	session, err := s.sessions(iptv.Credentials{
		Username: account.Username,
		Password: account.Password,
		MAC:      account.MAC,
		IMEI:     account.IMEI,
		Address:  account.Address,
	})
	if err != nil {
		s.bookFailure(accountID, err)
		return Result{Outcome: OutcomeHandshakeFailed, SourceID: sourceID, Message: err.Error()}, err
	}

	if err := session.Authenticate(ctx); err != nil {
		log.Warn().Err(err).Msg("upstream handshake failed")
		s.bookFailure(accountID, err)
		return Result{Outcome: OutcomeHandshakeFailed, SourceID: sourceID, Message: err.Error()}, err
	}

	raw, err := session.Channels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("channel scrape failed")
		s.bookFailure(accountID, err)
		return Result{Outcome: OutcomeScrapeFailed, SourceID: sourceID, Message: err.Error()}, err
	}
	if len(raw) == 0 {
		// The token exchange reports no explicit failure; an empty listing is
		// the only signal that authentication did not take.
		err := errors.New("upstream returned no channels; authentication may have failed")
		log.Warn().Msg("empty channel listing")
		s.bookFailure(accountID, err)
		return Result{Outcome: OutcomeAuthUncertain, SourceID: sourceID, Message: err.Error()}, err
	}

	lookup, err := s.templateLookup(ctx)
	if err != nil {
		s.bookFailure(accountID, err)
		return Result{Outcome: OutcomeScrapeFailed, SourceID: sourceID, Message: err.Error()}, err
	}

	channels, err := normalize.Channels(raw, normalize.Options{
		ExcludePatterns: filter.ExcludePatterns,
		FilterSD:        filter.FilterSD,
		Lookup:          lookup,
	})
	if err != nil {
		s.bookFailure(accountID, err)
		return Result{Outcome: OutcomeScrapeFailed, SourceID: sourceID, Message: err.Error()}, err
	}

	saved, skipped := 0, 0
	for i := range channels {
		if _, err := s.store.UpsertChannel(ctx, sourceID, &channels[i]); err != nil {
			skipped++
			log.Error().Err(err).Str("channel_id", channels[i].ChannelID).Msg("channel upsert failed")
			continue
		}
		saved++
	}

	if err := s.store.UpdateSourceStats(ctx, sourceID, saved); err != nil {
		log.Error().Err(err).Msg("update source stats failed")
	}
	s.bookStatus(accountID, true, "")
	s.invalidateChannels(sourceID)

	log.Info().Int("raw", len(raw)).Int("saved", saved).Int("skipped", skipped).Msg("fetch complete")
	return Result{Outcome: OutcomeSaved, SourceID: sourceID, Saved: saved, Skipped: skipped}, nil
}

// bookFailure records a failed attempt on the account row. Recording errors
// are logged and swallowed so the pipeline error stays primary.
func (s *Service) bookFailure(accountID int64, cause error) {
	s.bookStatus(accountID, false, cause.Error())
}

// bookStatus writes the account's fetch status on its own short deadline. The
// run context is often already expired when a fetch times out, and the status
// row has to land regardless.
func (s *Service) bookStatus(accountID int64, success bool, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SetAccountFetchStatus(ctx, accountID, success, message); err != nil {
		s.log.Error().Err(err).Int64("account_id", accountID).Msg("record fetch status failed")
	}
}

// templateLookup loads the whole dictionary once per run; per-channel store
// round trips would dominate a multi-hundred channel listing.
func (s *Service) templateLookup(ctx context.Context) (normalize.TemplateLookup, error) {
	entries, err := s.store.ListTemplates(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load template dictionary: %w", err)
	}
	byID := make(map[string]*models.TemplateEntry, len(entries))
	for i := range entries {
		byID[entries[i].ChannelID] = &entries[i]
	}
	return func(channelID string) *models.TemplateEntry {
		return byID[channelID]
	}, nil
}

// ChannelsBySource lists a source's channels, served from Redis when a cache
// is attached. Only the unfiltered listing is cached.
func (s *Service) ChannelsBySource(ctx context.Context, sourceID int64, status *int16) ([]models.Channel, error) {
	if s.cache == nil || status != nil {
		return s.store.ListChannelsBySource(ctx, sourceID, status)
	}

	if cached, err := s.cache.Channels(ctx, sourceID); err == nil {
		return cached, nil
	}
	channels, err := s.store.ListChannelsBySource(ctx, sourceID, nil)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetChannels(ctx, sourceID, channels, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Int64("source_id", sourceID).Msg("channel cache write failed")
	}
	return channels, nil
}

// SetChannelStatus flips one channel's status and drops the channel's source
// from the cache so the next listing reflects it.
func (s *Service) SetChannelStatus(ctx context.Context, channelID int64, status int16) error {
	sourceID, err := s.store.SetChannelStatus(ctx, channelID, status)
	if err != nil {
		return err
	}
	s.invalidateChannels(sourceID)
	return nil
}

// DeleteChannels wipes a source's channels and its cached listings.
func (s *Service) DeleteChannels(ctx context.Context, sourceID int64) error {
	if err := s.store.DeleteChannelsBySource(ctx, sourceID); err != nil {
		return err
	}
	s.invalidateChannels(sourceID)
	return nil
}

// invalidateChannels drops any cached listings for the source.
func (s *Service) invalidateChannels(sourceID int64) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.Invalidate(ctx, sourceID); err != nil {
		s.log.Warn().Err(err).Int64("source_id", sourceID).Msg("channel cache invalidation failed")
	}
}
