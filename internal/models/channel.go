package models

import "time"

// RawChannel is one channel exactly as extracted from the upstream listing
// markup. Keys are the upstream field names, preserved verbatim
// (ChannelID, ChannelName, ChannelURL, UserChannelID, TimeShift, ChannelSDP,
// ChannelLogURL, Positon — the last one misspelled by the upstream service).
type RawChannel map[string]string

// ID returns the upstream channel id.
func (rc RawChannel) ID() string { return rc["ChannelID"] }

// Name returns the upstream display name.
func (rc RawChannel) Name() string { return rc["ChannelName"] }

// Channel is a persisted channel row, unique per (source_id, channel_id).
type Channel struct {
	ID            int64      `json:"id,omitempty"`
	SourceID      int64      `json:"source_id"`
	ChannelID     string     `json:"channel_id"`
	Name          string     `json:"channel_name"`
	URL           string     `json:"channel_url"`
	UserChannelID string     `json:"user_channel_id,omitempty"`
	TimeShift     string     `json:"time_shift,omitempty"`
	SDPURL        string     `json:"channel_sdp_url,omitempty"`
	LogoURL       string     `json:"channel_logo_url,omitempty"`
	Position      string     `json:"positon,omitempty"`
	Category      string     `json:"category,omitempty"`
	Status        int16      `json:"status"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// ChannelStatistics summarises channel counts for one source.
type ChannelStatistics struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}
