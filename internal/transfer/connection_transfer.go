package transfer

import (
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

type InitiateConnectionRequest struct {
	ProfileID int64 `json:"profile_id" validate:"required,gt=0"`
}

type InitiateConnectionResponse struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

type CompleteConnectionRequest struct {
	ProfileID int64  `json:"profile_id" validate:"required,gt=0"`
	Code      string `json:"code" validate:"required"`
	State     string `json:"state" validate:"required"`
}

type CompleteConnectionResponse struct {
	Success  bool                       `json:"success"`
	Accounts []*models.ConnectedAccount `json:"accounts"`
}

// TokenSet is the normalized result of a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scope        string
}

// AccountIdentity is one publishable identity discovered after a code
// exchange. A single Facebook or LinkedIn authorization can yield several.
type AccountIdentity struct {
	PlatformUserID string
	Username       string
	DisplayName    string
	ProfilePicture string
	PlatformData   models.PlatformData
	// Token overrides the exchanged user token when the identity carries its
	// own credential (Facebook page tokens).
	Token *TokenSet
}
