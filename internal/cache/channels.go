package cache

import (
	"context"
	"time"

	"github.com/kelvane/tellyvault/internal/models"
)

// ChannelCache stores per-source channel listings. Every write path that
// changes a source's channels goes through Invalidate so readers never see a
// stale listing past one mutation.
type ChannelCache struct {
	r *Redis
}

func NewChannelCache(r *Redis) *ChannelCache {
	return &ChannelCache{r: r}
}

// Channels returns the cached listing for a source, or redis.Nil on a miss.
func (c *ChannelCache) Channels(ctx context.Context, sourceID int64) ([]models.Channel, error) {
	return Get[[]models.Channel](ctx, c.r, ChannelListKey(sourceID))
}

// SetChannels stores a source's listing with the given TTL.
func (c *ChannelCache) SetChannels(ctx context.Context, sourceID int64, channels []models.Channel, ttl time.Duration) error {
	return Set(ctx, c.r, ChannelListKey(sourceID), channels, ttl)
}

// Invalidate drops every cached listing for a source.
func (c *ChannelCache) Invalidate(ctx context.Context, sourceID int64) error {
	return DelPattern(ctx, c.r, ChannelListPattern(sourceID))
}
