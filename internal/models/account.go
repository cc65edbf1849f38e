package models

import "time"

// Account holds the upstream IPTV credentials for one subscriber line.
// Passwords are stored in cleartext because the handshake needs them as key
// material; this service is not a credential vault.
type Account struct {
	ID              int64      `json:"id,omitempty"`
	Username        string     `json:"username"`
	Password        string     `json:"password"`
	MAC             string     `json:"mac"`
	IMEI            string     `json:"imei,omitempty"`
	Address         string     `json:"address,omitempty"`
	Remark          string     `json:"remark,omitempty"`
	SourceID        *int64     `json:"source_id,omitempty"` // nil until first successful fetch
	LastFetchTime   *time.Time `json:"last_fetch_time,omitempty"`
	LastFetchStatus string     `json:"last_fetch_status,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// AccountUpdate holds mutable fields for PATCH /accounts/{id}.
// Pointer fields: nil = don't change, non-nil = set.
type AccountUpdate struct {
	Username *string
	Password *string
	MAC      *string
	IMEI     *string
	Address  *string
	Remark   *string
}
