package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaAiGenerationBoundary(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierPro)
	limit := models.TierPro.Limits().MaxAiGenerationsPerDay
	seedUsage(t, store, models.UsageCounter{UserID: userID, AiGenerationsToday: limit - 1, AiGenerationsThisMonth: limit - 1})

	q := newQuota(store)
	ctx := context.Background()

	image, err := q.Check(ctx, userID, transfer.QuotaRequest{Kind: transfer.QuotaAiGenerations, Weight: transfer.WeightImage})
	require.NoError(t, err)
	assert.False(t, image.Allowed)
	assert.Equal(t, limit-1, image.Current)
	assert.Equal(t, limit, image.Limit)
	assert.False(t, image.UpgradeRequired)

	text, err := q.Check(ctx, userID, transfer.QuotaRequest{Kind: transfer.QuotaAiGenerations, Weight: transfer.WeightText})
	require.NoError(t, err)
	assert.True(t, text.Allowed)
}

func TestQuotaFreeTierHasNoAi(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierFree)

	res, err := newQuota(store).Check(context.Background(), userID, transfer.QuotaRequest{Kind: transfer.QuotaAiGenerations})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.UpgradeRequired)
	assert.Equal(t, 0, res.Limit)
	assert.Equal(t, models.TierFree, res.Tier)

	own, err := newQuota(store).Check(context.Background(), userID, transfer.QuotaRequest{Kind: transfer.QuotaAiGenerations, OwnAPIKey: true})
	require.NoError(t, err)
	assert.True(t, own.Allowed)
}

func TestQuotaUnlimitedTier(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierEnterprise)
	seedUsage(t, store, models.UsageCounter{UserID: userID, PostsToday: 10_000, PostsThisMonth: 100_000})

	res, err := newQuota(store).Check(context.Background(), userID, transfer.QuotaRequest{Kind: transfer.QuotaPosts, Weight: 1})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestQuotaPostsResetLazily(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierFree)
	yesterday := time.Date(testNow.Year(), testNow.Month(), testNow.Day()-1, 0, 0, 0, 0, time.UTC)
	limit := models.TierFree.Limits().MaxPostsPerDay
	seedUsage(t, store, models.UsageCounter{UserID: userID, PostsToday: limit, PostsThisMonth: limit, LastPostResetDate: yesterday})

	q := newQuota(store)
	res, err := q.Check(context.Background(), userID, transfer.QuotaRequest{Kind: transfer.QuotaPosts, Weight: 1})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	usage, err := q.Usage(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Usage.PostsToday)
	assert.Equal(t, limit, usage.Usage.PostsThisMonth)
	assert.Equal(t, models.TierFree.Limits(), usage.Limits)
}

func TestQuotaDailyPostLimit(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierFree)
	limit := models.TierFree.Limits().MaxPostsPerDay
	seedUsage(t, store, models.UsageCounter{UserID: userID, PostsToday: limit, PostsThisMonth: limit})

	res, err := newQuota(store).Check(context.Background(), userID, transfer.QuotaRequest{Kind: transfer.QuotaPosts, Weight: 1})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.UpgradeRequired)
	assert.Contains(t, res.Reason, "daily post")
}

func TestQuotaCheckAccounts(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, profileID := seedUser(t, store, models.TierFree)
	seedAccount(t, store, profileID, models.PlatformReddit, "r1")
	seedAccount(t, store, profileID, models.PlatformTwitter, "t1")

	q := newQuota(store)
	require.NoError(t, q.CheckAccounts(context.Background(), userID, 0))
	require.NoError(t, q.CheckAccounts(context.Background(), userID, 1))

	err := q.CheckAccounts(context.Background(), userID, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrQuotaExceeded))
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.True(t, ae.UpgradeRequired)
}

func TestQuotaIncrementFollowsTransaction(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierPro)
	q := newQuota(store)
	ctx := context.Background()

	_ = store.WithTx(ctx, func(tx repository.Store) error {
		require.NoError(t, q.Increment(ctx, tx, userID, transfer.QuotaPosts, 1))
		return errors.New("abort")
	})
	usage, err := q.Usage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Usage.PostsToday)

	require.NoError(t, q.Increment(ctx, nil, userID, transfer.QuotaAiGenerations, transfer.WeightImage))
	usage, err = q.Usage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, transfer.WeightImage, usage.Usage.AiGenerationsToday)
	assert.Equal(t, transfer.WeightImage, usage.Usage.AiGenerationsThisMonth)
}

func TestQuotaUnknownKind(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierPro)

	_, err := newQuota(store).Check(context.Background(), userID, transfer.QuotaRequest{Kind: "storage"})
	assert.True(t, errors.Is(err, apperror.ErrInvalid))
}

func TestQuotaConsumeChargesUntilDailyLimit(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierPro)
	limit := models.TierPro.Limits().MaxAiGenerationsPerDay
	q := newQuota(store)
	ctx := context.Background()
	image := transfer.QuotaRequest{Kind: transfer.QuotaAiGenerations, Weight: transfer.WeightImage}

	allowed := 0
	for i := 0; i < limit; i++ {
		res, err := q.Consume(ctx, userID, image)
		require.NoError(t, err)
		if !res.Allowed {
			break
		}
		allowed++
	}
	assert.Equal(t, limit/transfer.WeightImage, allowed)

	usage, err := q.Usage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, limit, usage.Usage.AiGenerationsToday)
	assert.Equal(t, limit, usage.Usage.AiGenerationsThisMonth)

	res, err := q.Check(ctx, userID, transfer.QuotaRequest{Kind: transfer.QuotaAiGenerations, Weight: transfer.WeightText})
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	logs := store.UsageLogs()
	require.Len(t, logs, allowed)
	assert.Equal(t, models.UsageActionAiGeneration, logs[0].Action)
}

func TestQuotaConsumeOwnKeyIsFree(t *testing.T) {
	store := repository.NewMemoryStore()
	userID, _ := seedUser(t, store, models.TierFree)
	q := newQuota(store)

	res, err := q.Consume(context.Background(), userID, transfer.QuotaRequest{Kind: transfer.QuotaAiGenerations, Weight: transfer.WeightImage, OwnAPIKey: true})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	usage, err := q.Usage(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Usage.AiGenerationsToday)
	assert.Empty(t, store.UsageLogs())

	_, err = q.Consume(context.Background(), userID, transfer.QuotaRequest{Kind: transfer.QuotaPosts})
	assert.True(t, errors.Is(err, apperror.ErrInvalid))
}
