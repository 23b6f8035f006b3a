package models

import "time"

type Tier string

const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierBusiness   Tier = "BUSINESS"
	TierEnterprise Tier = "ENTERPRISE"
)

// Unlimited marks a tier limit with no ceiling.
const Unlimited = -1

type TierLimits struct {
	MaxPostsPerDay           int `json:"max_posts_per_day"`
	MaxPostsPerMonth         int `json:"max_posts_per_month"`
	MaxProfiles              int `json:"max_profiles"`
	MaxConnectedAccounts     int `json:"max_connected_accounts"`
	MaxAiGenerationsPerDay   int `json:"max_ai_generations_per_day"`
	MaxAiGenerationsPerMonth int `json:"max_ai_generations_per_month"`
}

var tierTable = map[Tier]TierLimits{
	TierFree: {
		MaxPostsPerDay:           3,
		MaxPostsPerMonth:         30,
		MaxProfiles:              1,
		MaxConnectedAccounts:     3,
		MaxAiGenerationsPerDay:   0,
		MaxAiGenerationsPerMonth: 0,
	},
	TierPro: {
		MaxPostsPerDay:           25,
		MaxPostsPerMonth:         500,
		MaxProfiles:              5,
		MaxConnectedAccounts:     15,
		MaxAiGenerationsPerDay:   50,
		MaxAiGenerationsPerMonth: 1000,
	},
	TierBusiness: {
		MaxPostsPerDay:           100,
		MaxPostsPerMonth:         2500,
		MaxProfiles:              20,
		MaxConnectedAccounts:     60,
		MaxAiGenerationsPerDay:   200,
		MaxAiGenerationsPerMonth: 5000,
	},
	TierEnterprise: {
		MaxPostsPerDay:           Unlimited,
		MaxPostsPerMonth:         Unlimited,
		MaxProfiles:              Unlimited,
		MaxConnectedAccounts:     Unlimited,
		MaxAiGenerationsPerDay:   Unlimited,
		MaxAiGenerationsPerMonth: Unlimited,
	},
}

// Limits falls back to FREE for unknown tiers.
func (t Tier) Limits() TierLimits {
	if l, ok := tierTable[t]; ok {
		return l
	}
	return tierTable[TierFree]
}

type UsageCounter struct {
	UserID                 int64     `db:"user_id" json:"user_id"`
	PostsToday             int       `db:"posts_today" json:"posts_today"`
	PostsThisMonth         int       `db:"posts_this_month" json:"posts_this_month"`
	AiGenerationsToday     int       `db:"ai_generations_today" json:"ai_generations_today"`
	AiGenerationsThisMonth int       `db:"ai_generations_this_month" json:"ai_generations_this_month"`
	LastPostResetDate      time.Time `db:"last_post_reset_date" json:"last_post_reset_date"`
	LastMonthReset         time.Time `db:"last_month_reset" json:"last_month_reset"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// ResetIfStale zeroes daily and monthly counters when now has crossed a
// calendar boundary since the stored reset dates. It reports whether anything
// changed.
func (u *UsageCounter) ResetIfStale(now time.Time) bool {
	now = now.UTC()
	changed := false

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	last := u.LastPostResetDate.UTC()
	if !time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC).Equal(today) {
		u.PostsToday = 0
		u.AiGenerationsToday = 0
		u.LastPostResetDate = today
		changed = true
	}

	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonth := u.LastMonthReset.UTC()
	if lastMonth.Year() != month.Year() || lastMonth.Month() != month.Month() {
		u.PostsThisMonth = 0
		u.AiGenerationsThisMonth = 0
		u.LastMonthReset = month
		changed = true
	}

	return changed
}

const (
	UsageActionPostPublished = "post_published"
	UsageActionPostScheduled = "post_scheduled"
	UsageActionAiGeneration  = "ai_generation"
)

// UsageLog replaces the old per-account posting history with one row per
// action and its per-platform outcomes.
type UsageLog struct {
	ID        int64          `db:"id" json:"id"`
	UserID    int64          `db:"user_id" json:"user_id"`
	PostID    *int64         `db:"post_id" json:"post_id,omitempty"`
	Action    string         `db:"action" json:"action"`
	Details   map[string]any `db:"details" json:"details"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
