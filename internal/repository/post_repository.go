package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/maheshrc27/crosspost/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListByUserID(ctx context.Context, userID int64, limit int) ([]*models.Post, error)
	UpdateStatus(ctx context.Context, id int64, status models.PostStatus) error
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db DBTX
}

func NewPostRepository(db DBTX) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, profile_id, content, media_urls, status, scheduled_for, timezone, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var (
		p       models.Post
		content []byte
		media   pq.StringArray
	)
	err := row.Scan(&p.ID, &p.UserID, &p.ProfileID, &content, &media, &p.Status, &p.ScheduledFor, &p.Timezone,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Content = content
	p.MediaURLs = []string(media)
	return &p, nil
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, profile_id, content, media_urls, status, scheduled_for, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	content := string(post.Content)
	if content == "" {
		content = "null"
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		post.UserID,
		post.ProfileID,
		content,
		pq.Array(post.MediaURLs),
		post.Status,
		post.ScheduledFor,
		post.Timezone,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create post: %w", err)
	}
	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	p, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return p, nil
}

func (r *postRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (r *postRepository) UpdateStatus(ctx context.Context, id int64, status models.PostStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE posts SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update post status: %w", err)
	}
	return expectOne(res, "post")
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to remove post: %w", err)
	}
	return expectOne(res, "post")
}
