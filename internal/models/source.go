package models

import "time"

// Source is a fetch target owned by exactly one account. It is created
// lazily on the first successful fetch and aggregates the channels scraped
// for that account.
type Source struct {
	ID           int64      `json:"id,omitempty"`
	Name         string     `json:"name"`
	AccountID    int64      `json:"account_id"`
	ChannelCount int        `json:"channel_count"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}
