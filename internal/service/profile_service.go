package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"go.uber.org/zap"
)

type ProfileService interface {
	Create(ctx context.Context, userID int64, req *transfer.CreateProfileRequest) (*models.Profile, error)
	List(ctx context.Context, userID int64) ([]*models.Profile, error)
	Delete(ctx context.Context, userID, profileID int64) error
}

type profileService struct {
	store repository.Store
	quota QuotaService
}

func NewProfileService(store repository.Store, quota QuotaService) ProfileService {
	return &profileService{store: store, quota: quota}
}

// Create adds a profile. The first profile of a user always becomes the
// default, and a new default replaces the old one.
func (s *profileService) Create(ctx context.Context, userID int64, req *transfer.CreateProfileRequest) (*models.Profile, error) {
	if err := s.quota.CheckProfiles(ctx, userID); err != nil {
		return nil, err
	}

	profile := &models.Profile{
		UserID:    userID,
		Name:      req.Name,
		Color:     req.Color,
		IsDefault: req.IsDefault,
	}

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		count, err := tx.Profiles().CountByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if count == 0 {
			profile.IsDefault = true
		}
		if profile.IsDefault && count > 0 {
			if err := tx.Profiles().ClearDefault(ctx, userID); err != nil {
				return err
			}
		}

		id, err := tx.Profiles().Create(ctx, profile)
		if err != nil {
			return err
		}
		profile.ID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Wrap(apperror.KindInvalid, err, "a default profile already exists")
		}
		return nil, fmt.Errorf("error creating profile: %w", err)
	}

	zap.L().Info("profile created", zap.Int64("profile_id", profile.ID), zap.Int64("user_id", userID))
	return profile, nil
}

func (s *profileService) List(ctx context.Context, userID int64) ([]*models.Profile, error) {
	return s.store.Profiles().ListByUserID(ctx, userID)
}

// Delete removes a profile with its accounts and posts. When the default
// profile goes, the oldest remaining one takes over.
func (s *profileService) Delete(ctx context.Context, userID, profileID int64) error {
	profile, err := ownedProfile(ctx, s.store, userID, profileID)
	if err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Profiles().Remove(ctx, profileID); err != nil {
			return fmt.Errorf("error removing profile: %w", err)
		}
		if !profile.IsDefault {
			return nil
		}

		rest, err := tx.Profiles().ListByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return nil
		}
		oldest := rest[0]
		for _, p := range rest[1:] {
			if p.CreatedAt.Before(oldest.CreatedAt) || (p.CreatedAt.Equal(oldest.CreatedAt) && p.ID < oldest.ID) {
				oldest = p
			}
		}
		return tx.Profiles().SetDefault(ctx, oldest.ID)
	})
}

// notFound turns a repository miss into an apperror NotFound and passes any
// other error through.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.Wrap(apperror.KindNotFound, err, format, args...)
	}
	return err
}

// ownedProfile loads a profile and hides it from anyone but its owner.
func ownedProfile(ctx context.Context, store repository.Store, userID, profileID int64) (*models.Profile, error) {
	profile, err := store.Profiles().GetByID(ctx, profileID)
	if err != nil {
		return nil, notFound(err, "profile not found")
	}
	if profile.UserID != userID {
		return nil, apperror.New(apperror.KindNotFound, "profile not found")
	}
	return profile, nil
}

func ownedAccount(ctx context.Context, store repository.Store, userID, accountID int64) (*models.ConnectedAccount, error) {
	account, err := store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, notFound(err, "account not found")
	}
	if _, err := ownedProfile(ctx, store, userID, account.ProfileID); err != nil {
		return nil, apperror.New(apperror.KindNotFound, "account not found")
	}
	return account, nil
}
