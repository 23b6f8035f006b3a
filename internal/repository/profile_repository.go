package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/maheshrc27/crosspost/internal/models"
)

type ProfileRepository interface {
	Create(ctx context.Context, p *models.Profile) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Profile, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Profile, error)
	CountByUserID(ctx context.Context, userID int64) (int, error)
	ClearDefault(ctx context.Context, userID int64) error
	SetDefault(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
}

type profileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Create(ctx context.Context, p *models.Profile) (int64, error) {
	query := `
		INSERT INTO profiles (user_id, name, color, is_default)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, p.UserID, p.Name, p.Color, p.IsDefault).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("default profile: %w", ErrDuplicate)
		}
		return 0, fmt.Errorf("failed to create profile: %w", err)
	}
	return id, nil
}

func (r *profileRepository) GetByID(ctx context.Context, id int64) (*models.Profile, error) {
	query := `SELECT id, user_id, name, color, is_default, created_at, updated_at FROM profiles WHERE id = $1`

	var p models.Profile
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.UserID, &p.Name, &p.Color, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (r *profileRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Profile, error) {
	query := `
		SELECT id, user_id, name, color, is_default, created_at, updated_at
		FROM profiles
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Color, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, &p)
	}
	return profiles, rows.Err()
}

func (r *profileRepository) CountByUserID(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return n, nil
}

func (r *profileRepository) ClearDefault(ctx context.Context, userID int64) error {
	query := `UPDATE profiles SET is_default = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_default`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to clear default profile: %w", err)
	}
	return nil
}

func (r *profileRepository) SetDefault(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE profiles SET is_default = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to set default profile: %w", err)
	}
	return expectOne(res, "profile")
}

// Remove deletes the profile. Its connected accounts and posts go with it
// through ON DELETE CASCADE.
func (r *profileRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	return expectOne(res, "profile")
}
