package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every repository can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the repositories and runs multi-write operations atomically.
// Repositories obtained from the Store passed to a WithTx callback share that
// transaction.
type Store interface {
	Users() UserRepository
	Profiles() ProfileRepository
	Accounts() SocialAccountRepository
	Posts() PostRepository
	PostPlatforms() PostPlatformRepository
	Usage() UsageRepository

	WithTx(ctx context.Context, fn func(Store) error) error
}

type sqlStore struct {
	db *sql.DB
	q  DBTX
	tx bool
}

func NewStore(db *sql.DB) Store {
	return &sqlStore{db: db, q: db}
}

func (s *sqlStore) Users() UserRepository { return NewUserRepository(s.q) }
func (s *sqlStore) Profiles() ProfileRepository { return NewProfileRepository(s.q) }
func (s *sqlStore) Accounts() SocialAccountRepository { return NewSocialAccountRepository(s.q) }
func (s *sqlStore) Posts() PostRepository { return NewPostRepository(s.q) }
func (s *sqlStore) PostPlatforms() PostPlatformRepository { return NewPostPlatformRepository(s.q) }
func (s *sqlStore) Usage() UsageRepository { return NewUsageRepository(s.q) }

// WithTx commits when fn returns nil and rolls back otherwise. Nested calls
// join the outer transaction.
func (s *sqlStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqlStore{db: s.db, q: tx, tx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			zap.L().Error("transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
