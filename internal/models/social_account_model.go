package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// PlatformData holds free-form per-platform metadata stored as JSONB.
type PlatformData map[string]any

func (d PlatformData) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func (d *PlatformData) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = PlatformData{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("platform_data: unsupported scan type")
	}
	out := PlatformData{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*d = out
	return nil
}

func (d PlatformData) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

type ConnectedAccount struct {
	ID             int64        `db:"id" json:"id"`
	ProfileID      int64        `db:"profile_id" json:"profile_id"`
	Platform       Platform     `db:"platform" json:"platform"`
	PlatformUserID string       `db:"platform_user_id" json:"platform_user_id"`
	Username       string       `db:"username" json:"username"`
	DisplayName    string       `db:"display_name" json:"display_name"`
	ProfilePicture string       `db:"profile_picture_url" json:"profile_picture"`
	AccessToken    string       `db:"access_token" json:"-"`
	RefreshToken   string       `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time   `db:"token_expires_at" json:"token_expires_at,omitempty"`
	PlatformData   PlatformData `db:"platform_data" json:"platform_data"`
	IsActive       bool         `db:"is_active" json:"is_active"`
	ConnectedAt    time.Time    `db:"connected_at" json:"connected_at"`
	LastSyncedAt   *time.Time   `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// Scope is the OAuth scope string granted at connection time.
func (a *ConnectedAccount) Scope() string {
	return a.PlatformData.String("scope")
}

func (a *ConnectedAccount) HasScope(scope string) bool {
	for _, s := range strings.FieldsFunc(a.Scope(), func(r rune) bool { return r == ' ' || r == ',' }) {
		if s == scope {
			return true
		}
	}
	return false
}
