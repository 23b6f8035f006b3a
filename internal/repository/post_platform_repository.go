package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/crosspost/internal/models"
)

type PostPlatformRepository interface {
	Create(ctx context.Context, pp *models.PostPlatform) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PostPlatform, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostPlatform, error)
	// Update writes the outcome fields of a target row.
	Update(ctx context.Context, pp *models.PostPlatform) error
	// Claim moves a PENDING row to PUBLISHING. It returns false when another
	// worker got there first.
	Claim(ctx context.Context, id int64) (bool, error)
	// Release hands a claimed row back to PENDING so a later attempt can
	// claim it again.
	Release(ctx context.Context, id int64) error
	// ListDue returns PENDING rows on platforms without native scheduling
	// whose post is scheduled at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.PostPlatform, error)
}

type postPlatformRepository struct {
	db DBTX
}

func NewPostPlatformRepository(db DBTX) PostPlatformRepository {
	return &postPlatformRepository{db: db}
}

const postPlatformColumns = `pp.id, pp.post_id, pp.account_id, pp.platform, pp.status, pp.published_id, pp.published_url,
	pp.error_message, pp.published_at, pp.created_at, pp.updated_at`

func scanPostPlatform(row interface{ Scan(...any) error }) (*models.PostPlatform, error) {
	var pp models.PostPlatform
	err := row.Scan(&pp.ID, &pp.PostID, &pp.AccountID, &pp.Platform, &pp.Status, &pp.PublishedID, &pp.PublishedURL,
		&pp.ErrorMessage, &pp.PublishedAt, &pp.CreatedAt, &pp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pp, nil
}

func (r *postPlatformRepository) Create(ctx context.Context, pp *models.PostPlatform) (int64, error) {
	query := `
		INSERT INTO post_platforms (post_id, account_id, platform, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, pp.PostID, pp.AccountID, pp.Platform, pp.Status).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create post platform: %w", err)
	}
	return id, nil
}

func (r *postPlatformRepository) GetByID(ctx context.Context, id int64) (*models.PostPlatform, error) {
	query := `SELECT ` + postPlatformColumns + ` FROM post_platforms pp WHERE pp.id = $1`

	pp, err := scanPostPlatform(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post platform %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get post platform: %w", err)
	}
	return pp, nil
}

func (r *postPlatformRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostPlatform, error) {
	query := `SELECT ` + postPlatformColumns + ` FROM post_platforms pp WHERE pp.post_id = $1 ORDER BY pp.id`
	return r.list(ctx, query, postID)
}

func (r *postPlatformRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.PostPlatform, error) {
	deferred := make([]string, 0, 4)
	for _, p := range models.DeferredPlatforms() {
		deferred = append(deferred, p.String())
	}

	query := `
		SELECT ` + postPlatformColumns + `
		FROM post_platforms pp
		JOIN posts p ON p.id = pp.post_id
		WHERE pp.status = 'PENDING'
			AND p.status = 'SCHEDULED'
			AND p.scheduled_for IS NOT NULL
			AND p.scheduled_for <= $1
			AND pp.platform = ANY($2)
		ORDER BY p.scheduled_for, pp.id
		LIMIT $3
	`
	return r.list(ctx, query, now, pq.Array(deferred), limit)
}

func (r *postPlatformRepository) list(ctx context.Context, query string, args ...any) ([]*models.PostPlatform, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list post platforms: %w", err)
	}
	defer rows.Close()

	var out []*models.PostPlatform
	for rows.Next() {
		pp, err := scanPostPlatform(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post platform: %w", err)
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}

func (r *postPlatformRepository) Update(ctx context.Context, pp *models.PostPlatform) error {
	query := `
		UPDATE post_platforms
		SET
			status = $2,
			published_id = $3,
			published_url = $4,
			error_message = $5,
			published_at = $6,
			updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, pp.ID, pp.Status, pp.PublishedID, pp.PublishedURL, pp.ErrorMessage, pp.PublishedAt)
	if err != nil {
		return fmt.Errorf("failed to update post platform: %w", err)
	}
	return expectOne(res, "post platform")
}

func (r *postPlatformRepository) Claim(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE post_platforms SET status = 'PUBLISHING', updated_at = NOW() WHERE id = $1 AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim post platform: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *postPlatformRepository) Release(ctx context.Context, id int64) error {
	query := `UPDATE post_platforms SET status = 'PENDING', updated_at = NOW() WHERE id = $1 AND status = 'PUBLISHING'`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release post platform: %w", err)
	}
	return nil
}
