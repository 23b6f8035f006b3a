package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/maheshrc27/crosspost/internal/models"
)

type UsageRepository interface {
	// Get returns the user's counters, zeroed when none are stored yet.
	Get(ctx context.Context, userID int64) (*models.UsageCounter, error)
	Save(ctx context.Context, u *models.UsageCounter) error
	AddLog(ctx context.Context, l *models.UsageLog) (int64, error)
}

type usageRepository struct {
	db DBTX
}

func NewUsageRepository(db DBTX) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Get(ctx context.Context, userID int64) (*models.UsageCounter, error) {
	query := `
		SELECT user_id, posts_today, posts_this_month, ai_generations_today, ai_generations_this_month,
			last_post_reset_date, last_month_reset, updated_at
		FROM usage_counters
		WHERE user_id = $1
	`
	var u models.UsageCounter
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&u.UserID, &u.PostsToday, &u.PostsThisMonth,
		&u.AiGenerationsToday, &u.AiGenerationsThisMonth, &u.LastPostResetDate, &u.LastMonthReset, &u.UpdatedAt)
	if err != nil {
		// no row yet; Save creates it
		if errors.Is(err, sql.ErrNoRows) {
			return &models.UsageCounter{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return &u, nil
}

func (r *usageRepository) Save(ctx context.Context, u *models.UsageCounter) error {
	query := `
		INSERT INTO usage_counters (
			user_id, posts_today, posts_this_month, ai_generations_today, ai_generations_this_month,
			last_post_reset_date, last_month_reset
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			posts_today = EXCLUDED.posts_today,
			posts_this_month = EXCLUDED.posts_this_month,
			ai_generations_today = EXCLUDED.ai_generations_today,
			ai_generations_this_month = EXCLUDED.ai_generations_this_month,
			last_post_reset_date = EXCLUDED.last_post_reset_date,
			last_month_reset = EXCLUDED.last_month_reset,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, u.UserID, u.PostsToday, u.PostsThisMonth, u.AiGenerationsToday,
		u.AiGenerationsThisMonth, u.LastPostResetDate, u.LastMonthReset)
	if err != nil {
		return fmt.Errorf("failed to save usage: %w", err)
	}
	return nil
}

func (r *usageRepository) AddLog(ctx context.Context, l *models.UsageLog) (int64, error) {
	details, err := json.Marshal(l.Details)
	if err != nil {
		return 0, fmt.Errorf("failed to encode usage details: %w", err)
	}

	query := `
		INSERT INTO usage_logs (user_id, post_id, action, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, l.UserID, l.PostID, l.Action, string(details)).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to add usage log: %w", err)
	}
	return id, nil
}
