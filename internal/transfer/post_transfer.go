package transfer

import (
	"encoding/json"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

type PublishingOption string

const (
	PublishNow      PublishingOption = "now"
	PublishSchedule PublishingOption = "schedule"
	PublishDraft    PublishingOption = "draft"
)

type CreatePostRequest struct {
	ProfileID        int64            `json:"profile_id" validate:"required,gt=0"`
	Platforms        []int64          `json:"platforms" validate:"required,min=1,dive,gt=0"`
	Content          json.RawMessage  `json:"content" validate:"required"`
	MediaItems       []string         `json:"media_items" validate:"omitempty,dive,url"`
	PublishingOption PublishingOption `json:"publishing_option" validate:"required,oneof=now schedule draft"`
	ScheduledFor     *time.Time       `json:"scheduled_for" validate:"required_if=PublishingOption schedule"`
	Timezone         string           `json:"timezone"`
}

type CreatePostResponse struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id,omitempty"`
}

// PublishRequest is what a platform publisher receives for one target.
type PublishRequest struct {
	AccountID      int64
	Platform       models.Platform
	Content        any
	MediaItems     []string
	AccessToken    string
	PlatformUserID string
	PlatformData   models.PlatformData
	ScheduledFor   *time.Time
}

type PublishResult struct {
	Success         bool   `json:"success"`
	PlatformPostID  string `json:"platformPostId,omitempty"`
	PlatformPostURL string `json:"platformPostUrl,omitempty"`
	Error           string `json:"error,omitempty"`
}
