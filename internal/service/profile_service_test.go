package service

import (
	"context"
	"errors"
	"testing"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProfileUser(t *testing.T, store *repository.MemoryStore, tier models.Tier) int64 {
	t.Helper()
	id, err := store.Users().Create(context.Background(), &models.User{Email: "grace@example.com", Tier: tier})
	require.NoError(t, err)
	return id
}

func TestProfileDefaults(t *testing.T) {
	store := repository.NewMemoryStore()
	userID := newProfileUser(t, store, models.TierPro)
	svc := NewProfileService(store, newQuota(store))
	ctx := context.Background()

	first, err := svc.Create(ctx, userID, &transfer.CreateProfileRequest{Name: "Brand"})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := svc.Create(ctx, userID, &transfer.CreateProfileRequest{Name: "Side"})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	third, err := svc.Create(ctx, userID, &transfer.CreateProfileRequest{Name: "New main", IsDefault: true})
	require.NoError(t, err)
	assert.True(t, third.IsDefault)

	profiles, err := svc.List(ctx, userID)
	require.NoError(t, err)
	defaults := 0
	for _, p := range profiles {
		if p.IsDefault {
			defaults++
			assert.Equal(t, third.ID, p.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	require.NoError(t, svc.Delete(ctx, userID, third.ID))
	profiles, err = svc.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.True(t, profiles[0].IsDefault)
	assert.Equal(t, first.ID, profiles[0].ID)
}

func TestProfileLimit(t *testing.T) {
	store := repository.NewMemoryStore()
	userID := newProfileUser(t, store, models.TierFree)
	svc := NewProfileService(store, newQuota(store))

	_, err := svc.Create(context.Background(), userID, &transfer.CreateProfileRequest{Name: "Only"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), userID, &transfer.CreateProfileRequest{Name: "Another"})
	assert.True(t, errors.Is(err, apperror.ErrQuotaExceeded))
}

func TestProfileDeleteOwnership(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, profileID := seedUser(t, store, models.TierPro)
	svc := NewProfileService(store, newQuota(store))

	assert.True(t, errors.Is(svc.Delete(context.Background(), userID+1, profileID), apperror.ErrNotFound))
	assert.True(t, errors.Is(svc.Delete(context.Background(), userID, 9999), apperror.ErrNotFound))
	require.NoError(t, svc.Delete(context.Background(), userID, profileID))
}
