package models

import "time"

// TemplateEntry maps an upstream channel id to its canonical display name and
// category group. Read-only at pipeline run time; administered separately.
type TemplateEntry struct {
	ID         int64      `json:"id,omitempty"`
	ChannelID  string     `json:"channel_id"`
	Name       string     `json:"name"`
	GroupTitle string     `json:"group_title"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// TemplateStatistics summarises the template dictionary.
type TemplateStatistics struct {
	Total  int            `json:"total"`
	Groups map[string]int `json:"groups"`
}
