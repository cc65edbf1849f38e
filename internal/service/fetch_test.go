package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kelvane/tellyvault/internal/cache"
	"github.com/kelvane/tellyvault/internal/iptv"
	"github.com/kelvane/tellyvault/internal/models"
	"github.com/kelvane/tellyvault/internal/store"
)

// fakeUpstream replaces the EPG session in pipeline tests.
type fakeUpstream struct {
	authErr    error
	scrapeErr  error
	channels   []models.RawChannel
	authCalled bool
}

func (f *fakeUpstream) Authenticate(context.Context) error {
	f.authCalled = true
	return f.authErr
}

func (f *fakeUpstream) Channels(context.Context) ([]models.RawChannel, error) {
	if f.scrapeErr != nil {
		return nil, f.scrapeErr
	}
	return f.channels, nil
}

func rawChannel(id, name, url string) models.RawChannel {
	return models.RawChannel{
		"ChannelID":   id,
		"ChannelName": name,
		"ChannelURL":  url,
		"Positon":     id,
	}
}

func newTestService(t *testing.T, up *fakeUpstream) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := New(mem, cache.NewLocalLocker(), zerolog.Nop(),
		WithSessionFactory(func(iptv.Credentials) (Upstream, error) { return up, nil }))
	return svc, mem
}

func seedAccountWithSource(t *testing.T, mem *store.Memory) (accountID, sourceID int64) {
	t.Helper()
	ctx := context.Background()
	accountID, err := mem.CreateAccount(ctx, &models.Account{
		Username: "075812345678", Password: "864725", MAC: "AA:BB:CC:DD:EE:FF",
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	sourceID, err = mem.CreateSourceForAccount(ctx, accountID, "075812345678")
	if err != nil {
		t.Fatalf("CreateSourceForAccount: %v", err)
	}
	return accountID, sourceID
}

func TestFetchChannelsSavesNormalized(t *testing.T) {
	up := &fakeUpstream{channels: []models.RawChannel{
		rawChannel("1001", "CCTV1", "igmp://239.0.0.1:5000"),
		rawChannel("1002", "CCTV1高清", "igmp://239.0.0.2:5000"),
		rawChannel("2001", "购物频道", "igmp://239.0.0.3:5000"),
		rawChannel("3001", "湖南卫视", "igmp://239.0.0.4:5000"),
	}}
	svc, mem := newTestService(t, up)
	ctx := context.Background()
	accountID, sourceID := seedAccountWithSource(t, mem)

	if _, err := mem.ImportTemplates(ctx, []models.TemplateEntry{
		{ChannelID: "1002", Name: "CCTV-1 综合 HD", GroupTitle: "央视"},
	}); err != nil {
		t.Fatalf("ImportTemplates: %v", err)
	}

	res, err := svc.FetchChannels(ctx, accountID, Filter{
		ExcludePatterns: []string{"购物"},
		FilterSD:        true,
	})
	if err != nil {
		t.Fatalf("FetchChannels: %v", err)
	}
	if res.Outcome != OutcomeSaved {
		t.Fatalf("outcome = %q, want saved", res.Outcome)
	}
	// 购物频道 excluded, CCTV1 dropped for its HD sibling, two remain.
	if res.Saved != 2 || res.Skipped != 0 {
		t.Fatalf("saved=%d skipped=%d, want 2/0", res.Saved, res.Skipped)
	}

	channels, err := mem.ListChannelsBySource(ctx, sourceID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	byID := make(map[string]models.Channel)
	for _, ch := range channels {
		byID[ch.ChannelID] = ch
	}
	if _, ok := byID["1001"]; ok {
		t.Errorf("SD channel saved despite HD sibling")
	}
	if _, ok := byID["2001"]; ok {
		t.Errorf("excluded channel saved")
	}
	if hd := byID["1002"]; hd.Name != "CCTV-1 综合 HD" || hd.Category != "央视" {
		t.Errorf("template override not applied: %+v", hd)
	}
	if misc := byID["3001"]; misc.Category != models.CategoryUncategorized {
		t.Errorf("dictionary miss category = %q, want sentinel", misc.Category)
	}

	src, _ := mem.GetSourceByID(ctx, sourceID)
	if src.ChannelCount != 2 || src.LastUpdated == nil {
		t.Errorf("source stats not updated: %+v", src)
	}
	acc, _ := mem.GetAccount(ctx, accountID)
	if acc.LastFetchStatus != "success" {
		t.Errorf("fetch status = %q, want success", acc.LastFetchStatus)
	}
}

func TestFetchChannelsNoLinkedSource(t *testing.T) {
	svc, mem := newTestService(t, &fakeUpstream{})
	ctx := context.Background()
	accountID, err := mem.CreateAccount(ctx, &models.Account{Username: "u", Password: "p", MAC: "m"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	res, err := svc.FetchChannels(ctx, accountID, Filter{})
	if err == nil || res.Outcome != OutcomeNoLinkedSource {
		t.Fatalf("outcome = %q err = %v, want no_linked_source failure", res.Outcome, err)
	}

	// The no-source refusal must not touch the account's fetch bookkeeping.
	acc, _ := mem.GetAccount(ctx, accountID)
	if acc.LastFetchStatus != "" || acc.LastFetchTime != nil {
		t.Errorf("fetch status written on no-source refusal: %q %v", acc.LastFetchStatus, acc.LastFetchTime)
	}
}

func TestFetchChannelsAccountNotFound(t *testing.T) {
	svc, _ := newTestService(t, &fakeUpstream{})
	res, err := svc.FetchChannels(context.Background(), 42, Filter{})
	if !errors.Is(err, store.ErrNotFound) || res.Outcome != OutcomeAccountNotFound {
		t.Fatalf("outcome = %q err = %v, want account_not_found/ErrNotFound", res.Outcome, err)
	}
}

func TestFetchChannelsHandshakeFailure(t *testing.T) {
	up := &fakeUpstream{authErr: iptv.ErrToken}
	svc, mem := newTestService(t, up)
	ctx := context.Background()
	accountID, _ := seedAccountWithSource(t, mem)

	res, err := svc.FetchChannels(ctx, accountID, Filter{})
	if err == nil || res.Outcome != OutcomeHandshakeFailed {
		t.Fatalf("outcome = %q err = %v, want handshake_failed", res.Outcome, err)
	}
	acc, _ := mem.GetAccount(ctx, accountID)
	if !strings.HasPrefix(acc.LastFetchStatus, "failed") {
		t.Errorf("fetch status = %q, want failed", acc.LastFetchStatus)
	}
}

// deadlineUpstream blocks until the run context expires, the shape of a fetch
// that hits its timeout mid-handshake.
type deadlineUpstream struct{}

func (deadlineUpstream) Authenticate(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (deadlineUpstream) Channels(ctx context.Context) ([]models.RawChannel, error) {
	return nil, ctx.Err()
}

// ctxCheckedStore rejects writes issued on an already-expired context, the way
// a real pgx pool does.
type ctxCheckedStore struct {
	*store.Memory
}

func (c ctxCheckedStore) SetAccountFetchStatus(ctx context.Context, accountID int64, success bool, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Memory.SetAccountFetchStatus(ctx, accountID, success, message)
}

func TestFetchChannelsBooksFailureAfterDeadline(t *testing.T) {
	mem := store.NewMemory()
	svc := New(ctxCheckedStore{Memory: mem}, cache.NewLocalLocker(), zerolog.Nop(),
		WithSessionFactory(func(iptv.Credentials) (Upstream, error) { return deadlineUpstream{}, nil }))
	accountID, _ := seedAccountWithSource(t, mem)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := svc.FetchChannels(ctx, accountID, Filter{})
	if err == nil || res.Outcome != OutcomeHandshakeFailed {
		t.Fatalf("outcome = %q err = %v, want handshake_failed", res.Outcome, err)
	}

	// The status write must survive the run context's expiry.
	acc, _ := mem.GetAccount(context.Background(), accountID)
	if !strings.HasPrefix(acc.LastFetchStatus, "failed") {
		t.Errorf("fetch status = %q, want failed", acc.LastFetchStatus)
	}
	if acc.LastFetchTime == nil {
		t.Error("fetch time not recorded")
	}
}

func TestFetchChannelsEmptyListingIsUncertain(t *testing.T) {
	up := &fakeUpstream{channels: nil}
	svc, mem := newTestService(t, up)
	ctx := context.Background()
	accountID, sourceID := seedAccountWithSource(t, mem)

	res, err := svc.FetchChannels(ctx, accountID, Filter{})
	if err == nil || res.Outcome != OutcomeAuthUncertain {
		t.Fatalf("outcome = %q err = %v, want auth_uncertain", res.Outcome, err)
	}

	acc, _ := mem.GetAccount(ctx, accountID)
	if !strings.HasPrefix(acc.LastFetchStatus, "failed") {
		t.Errorf("fetch status = %q, want failed", acc.LastFetchStatus)
	}
	channels, _ := mem.ListChannelsBySource(ctx, sourceID, nil)
	if len(channels) != 0 {
		t.Errorf("channels saved from empty listing: %d", len(channels))
	}
}

func TestFetchChannelsLocked(t *testing.T) {
	up := &fakeUpstream{channels: []models.RawChannel{rawChannel("1", "ch", "igmp://x")}}
	mem := store.NewMemory()
	locker := cache.NewLocalLocker()
	svc := New(mem, locker, zerolog.Nop(),
		WithSessionFactory(func(iptv.Credentials) (Upstream, error) { return up, nil }))
	ctx := context.Background()
	accountID, _ := seedAccountWithSource(t, mem)

	unlock, err := locker.TryLock(ctx, cache.FetchLockKey(accountID), time.Minute)
	if err != nil {
		t.Fatalf("pre-lock: %v", err)
	}
	defer unlock()

	res, err := svc.FetchChannels(ctx, accountID, Filter{})
	if !errors.Is(err, ErrFetchInProgress) || res.Outcome != OutcomeLocked {
		t.Fatalf("outcome = %q err = %v, want locked/ErrFetchInProgress", res.Outcome, err)
	}
	if up.authCalled {
		t.Errorf("upstream contacted while locked")
	}
	acc, _ := mem.GetAccount(ctx, accountID)
	if acc.LastFetchStatus != "" {
		t.Errorf("fetch status written while locked: %q", acc.LastFetchStatus)
	}
}

func TestFetchChannelsReleasesLock(t *testing.T) {
	up := &fakeUpstream{channels: []models.RawChannel{rawChannel("1", "ch", "igmp://x")}}
	svc, mem := newTestService(t, up)
	ctx := context.Background()
	accountID, _ := seedAccountWithSource(t, mem)

	if _, err := svc.FetchChannels(ctx, accountID, Filter{}); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := svc.FetchChannels(ctx, accountID, Filter{}); err != nil {
		t.Fatalf("second fetch after release: %v", err)
	}
}

func TestFetchChannelsBadExcludePattern(t *testing.T) {
	up := &fakeUpstream{channels: []models.RawChannel{rawChannel("1", "ch", "igmp://x")}}
	svc, mem := newTestService(t, up)
	ctx := context.Background()
	accountID, _ := seedAccountWithSource(t, mem)

	res, err := svc.FetchChannels(ctx, accountID, Filter{ExcludePatterns: []string{"("}})
	if err == nil || res.Outcome != OutcomeScrapeFailed {
		t.Fatalf("outcome = %q err = %v, want failure on invalid pattern", res.Outcome, err)
	}
}

// fakeListingCache keeps listings in a map so tests can observe staleness.
type fakeListingCache struct {
	data        map[int64][]models.Channel
	invalidated []int64
}

func newFakeListingCache() *fakeListingCache {
	return &fakeListingCache{data: map[int64][]models.Channel{}}
}

func (f *fakeListingCache) Channels(_ context.Context, sourceID int64) ([]models.Channel, error) {
	channels, ok := f.data[sourceID]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return channels, nil
}

func (f *fakeListingCache) SetChannels(_ context.Context, sourceID int64, channels []models.Channel, _ time.Duration) error {
	f.data[sourceID] = channels
	return nil
}

func (f *fakeListingCache) Invalidate(_ context.Context, sourceID int64) error {
	delete(f.data, sourceID)
	f.invalidated = append(f.invalidated, sourceID)
	return nil
}

func TestChannelMutationsInvalidateCache(t *testing.T) {
	mem := store.NewMemory()
	fake := newFakeListingCache()
	svc := New(mem, cache.NewLocalLocker(), zerolog.Nop())
	svc.cache = fake
	ctx := context.Background()
	_, sourceID := seedAccountWithSource(t, mem)

	var ids []int64
	for _, c := range []models.Channel{
		{ChannelID: "1001", Name: "CCTV-1", URL: "igmp://239.0.0.1:5000"},
		{ChannelID: "1002", Name: "CCTV-2", URL: "igmp://239.0.0.2:5000"},
	} {
		id, err := mem.UpsertChannel(ctx, sourceID, &c)
		if err != nil {
			t.Fatalf("UpsertChannel: %v", err)
		}
		ids = append(ids, id)
	}

	// Prime the cache through a listing read.
	if _, err := svc.ChannelsBySource(ctx, sourceID, nil); err != nil {
		t.Fatalf("ChannelsBySource: %v", err)
	}
	if _, ok := fake.data[sourceID]; !ok {
		t.Fatal("listing not cached after read")
	}

	// A status flip must be visible on the next read, not masked by the
	// cached listing.
	if err := svc.SetChannelStatus(ctx, ids[0], models.ChannelStatusDisabled); err != nil {
		t.Fatalf("SetChannelStatus: %v", err)
	}
	channels, err := svc.ChannelsBySource(ctx, sourceID, nil)
	if err != nil {
		t.Fatalf("ChannelsBySource after flip: %v", err)
	}
	for _, ch := range channels {
		if ch.ID == ids[0] && ch.Status != models.ChannelStatusDisabled {
			t.Errorf("stale status served after flip: %d", ch.Status)
		}
	}

	// Same for a source wipe.
	if err := svc.DeleteChannels(ctx, sourceID); err != nil {
		t.Fatalf("DeleteChannels: %v", err)
	}
	channels, err = svc.ChannelsBySource(ctx, sourceID, nil)
	if err != nil {
		t.Fatalf("ChannelsBySource after wipe: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("stale listing survived source wipe: %d channels", len(channels))
	}
	if len(fake.invalidated) != 2 {
		t.Errorf("invalidations = %v, want one per mutation", fake.invalidated)
	}
}

func TestEnsureSource(t *testing.T) {
	svc, mem := newTestService(t, &fakeUpstream{})
	ctx := context.Background()
	accountID, err := mem.CreateAccount(ctx, &models.Account{Username: "075812345678", Password: "p", MAC: "m"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	id1, err := svc.EnsureSource(ctx, accountID)
	if err != nil {
		t.Fatalf("EnsureSource: %v", err)
	}
	id2, err := svc.EnsureSource(ctx, accountID)
	if err != nil {
		t.Fatalf("EnsureSource repeat: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("EnsureSource not idempotent: %d != %d", id1, id2)
	}
	src, err := mem.GetSourceByID(ctx, id1)
	if err != nil {
		t.Fatalf("GetSourceByID: %v", err)
	}
	if src.Name != "075812345678" || src.AccountID != accountID {
		t.Errorf("source = %+v", src)
	}
}
