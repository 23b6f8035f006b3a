package models

import (
	"encoding/json"
	"time"
)

type PostStatus string

const (
	PostStatusDraft      PostStatus = "DRAFT"
	PostStatusScheduled  PostStatus = "SCHEDULED"
	PostStatusPublishing PostStatus = "PUBLISHING"
	PostStatusPublished  PostStatus = "PUBLISHED"
)

type TargetStatus string

const (
	TargetStatusPending    TargetStatus = "PENDING"
	TargetStatusPublishing TargetStatus = "PUBLISHING"
	TargetStatusPublished  TargetStatus = "PUBLISHED"
	TargetStatusScheduled  TargetStatus = "SCHEDULED"
	TargetStatusFailed     TargetStatus = "FAILED"
)

// Terminal reports whether no further publish attempt will touch the row.
func (s TargetStatus) Terminal() bool {
	return s == TargetStatusPublished || s == TargetStatusScheduled || s == TargetStatusFailed
}

type Post struct {
	ID           int64           `db:"id" json:"id"`
	UserID       int64           `db:"user_id" json:"user_id"`
	ProfileID    int64           `db:"profile_id" json:"profile_id"`
	Content      json.RawMessage `db:"content" json:"content"`
	MediaURLs    []string        `db:"media_urls" json:"media_urls"`
	Status       PostStatus      `db:"status" json:"status"`
	ScheduledFor *time.Time      `db:"scheduled_for" json:"scheduled_for,omitempty"`
	Timezone     string          `db:"timezone" json:"timezone"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`

	Platforms []*PostPlatform `db:"-" json:"platforms,omitempty"`
}

// ContentFor resolves the content value for one platform. A JSON object keyed
// by a lowercase platform name selects that entry, anything else is shared.
func (p *Post) ContentFor(platform Platform) any {
	if len(p.Content) == 0 {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(p.Content, &decoded); err != nil {
		return string(p.Content)
	}
	if m, ok := decoded.(map[string]any); ok {
		if v, ok := m[platform.Key()]; ok {
			return v
		}
	}
	return decoded
}

type PostPlatform struct {
	ID           int64        `db:"id" json:"id"`
	PostID       int64        `db:"post_id" json:"post_id"`
	AccountID    int64        `db:"account_id" json:"account_id"`
	Platform     Platform     `db:"platform" json:"platform"`
	Status       TargetStatus `db:"status" json:"status"`
	PublishedID  string       `db:"published_id" json:"published_id,omitempty"`
	PublishedURL string       `db:"published_url" json:"published_url,omitempty"`
	ErrorMessage string       `db:"error_message" json:"error_message,omitempty"`
	PublishedAt  *time.Time   `db:"published_at" json:"published_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}
