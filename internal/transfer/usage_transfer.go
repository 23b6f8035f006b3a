package transfer

import "github.com/maheshrc27/crosspost/internal/models"

type QuotaKind string

const (
	QuotaPosts         QuotaKind = "posts"
	QuotaAiGenerations QuotaKind = "ai_generations"
)

// Weights charged per AI action.
const (
	WeightText  = 1
	WeightImage = 5
)

type QuotaRequest struct {
	Kind   QuotaKind `json:"kind" validate:"required,oneof=posts ai_generations"`
	Weight int       `json:"weight" validate:"gte=0"`
	// OwnAPIKey is true when the caller brings its own AI provider key.
	OwnAPIKey bool `json:"own_api_key"`
}

type QuotaResult struct {
	Allowed         bool        `json:"allowed"`
	Reason          string      `json:"reason,omitempty"`
	Current         int         `json:"current"`
	Limit           int         `json:"limit"`
	Tier            models.Tier `json:"tier"`
	UpgradeRequired bool        `json:"upgradeRequired,omitempty"`
}

type UsageResponse struct {
	Tier   models.Tier          `json:"tier"`
	Usage  *models.UsageCounter `json:"usage"`
	Limits models.TierLimits    `json:"limits"`
}
