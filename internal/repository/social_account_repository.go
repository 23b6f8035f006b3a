package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

type SocialAccountRepository interface {
	// Upsert inserts the account or, when (profile, platform, platform user)
	// is already connected, refreshes that row in place. inserted reports
	// which happened.
	Upsert(ctx context.Context, sa *models.ConnectedAccount) (id int64, inserted bool, err error)
	Exists(ctx context.Context, profileID int64, platform models.Platform, platformUserID string) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.ConnectedAccount, error)
	ListByProfileID(ctx context.Context, profileID int64) ([]*models.ConnectedAccount, error)
	CountByUserID(ctx context.Context, userID int64) (int, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.ConnectedAccount, error)
	SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
	Remove(ctx context.Context, id int64) error
}

type socialAccountRepository struct {
	db DBTX
}

func NewSocialAccountRepository(db DBTX) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

const accountColumns = `id, profile_id, platform, platform_user_id, username, display_name, profile_picture_url,
	access_token, refresh_token, token_expires_at, platform_data, is_active, connected_at, last_synced_at,
	created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.ConnectedAccount, error) {
	var sa models.ConnectedAccount
	err := row.Scan(&sa.ID, &sa.ProfileID, &sa.Platform, &sa.PlatformUserID, &sa.Username, &sa.DisplayName,
		&sa.ProfilePicture, &sa.AccessToken, &sa.RefreshToken, &sa.TokenExpiresAt, &sa.PlatformData,
		&sa.IsActive, &sa.ConnectedAt, &sa.LastSyncedAt, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

func (r *socialAccountRepository) Upsert(ctx context.Context, sa *models.ConnectedAccount) (int64, bool, error) {
	query := `
		INSERT INTO connected_accounts (
			profile_id,
			platform,
			platform_user_id,
			username,
			display_name,
			profile_picture_url,
			access_token,
			refresh_token,
			token_expires_at,
			platform_data,
			is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
		ON CONFLICT (profile_id, platform, platform_user_id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			profile_picture_url = EXCLUDED.profile_picture_url,
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), connected_accounts.refresh_token),
			token_expires_at = EXCLUDED.token_expires_at,
			platform_data = EXCLUDED.platform_data,
			is_active = TRUE,
			connected_at = NOW(),
			updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted
	`

	var (
		id       int64
		inserted bool
	)
	err := r.db.QueryRowContext(ctx, query,
		sa.ProfileID,
		sa.Platform,
		sa.PlatformUserID,
		sa.Username,
		sa.DisplayName,
		sa.ProfilePicture,
		sa.AccessToken,
		sa.RefreshToken,
		sa.TokenExpiresAt,
		sa.PlatformData,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert connected account: %w", err)
	}
	return id, inserted, nil
}

func (r *socialAccountRepository) Exists(ctx context.Context, profileID int64, platform models.Platform, platformUserID string) (bool, error) {
	query := `SELECT 1 FROM connected_accounts WHERE profile_id = $1 AND platform = $2 AND platform_user_id = $3`

	var one int
	err := r.db.QueryRowContext(ctx, query, profileID, platform, platformUserID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check connected account: %w", err)
	}
	return true, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts WHERE id = $1`

	sa, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("connected account %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connected account: %w", err)
	}
	return sa, nil
}

func (r *socialAccountRepository) ListByProfileID(ctx context.Context, profileID int64) ([]*models.ConnectedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM connected_accounts WHERE profile_id = $1 ORDER BY platform, id`
	return r.list(ctx, query, profileID)
}

// ListExpiring returns active accounts holding a refresh token whose access
// token expires before the given time, already expired ones included.
func (r *socialAccountRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.ConnectedAccount, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM connected_accounts
		WHERE is_active
			AND refresh_token <> ''
			AND token_expires_at IS NOT NULL
			AND token_expires_at < $1
		ORDER BY token_expires_at
	`
	return r.list(ctx, query, before)
}

func (r *socialAccountRepository) list(ctx context.Context, query string, args ...any) ([]*models.ConnectedAccount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.ConnectedAccount
	for rows.Next() {
		sa, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connected account: %w", err)
		}
		accounts = append(accounts, sa)
	}
	return accounts, rows.Err()
}

func (r *socialAccountRepository) CountByUserID(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM connected_accounts ca
		JOIN profiles p ON p.id = ca.profile_id
		WHERE p.user_id = $1
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count connected accounts: %w", err)
	}
	return n, nil
}

func (r *socialAccountRepository) SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	query := `
		UPDATE connected_accounts
		SET
			access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at = $4,
			last_synced_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return expectOne(res, "connected account")
}

func (r *socialAccountRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE connected_accounts SET is_active = $2, last_synced_at = NOW(), updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to update account state: %w", err)
	}
	return expectOne(res, "connected account")
}

func (r *socialAccountRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM connected_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove connected account: %w", err)
	}
	return expectOne(res, "connected account")
}
