package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func seedUser(t *testing.T, store *repository.MemoryStore, tier models.Tier) (userID, profileID int64) {
	t.Helper()
	ctx := context.Background()

	userID, err := store.Users().Create(ctx, &models.User{Email: "ada@example.com", Name: "Ada", Tier: tier})
	require.NoError(t, err)
	profileID, err = store.Profiles().Create(ctx, &models.Profile{UserID: userID, Name: "Main", IsDefault: true})
	require.NoError(t, err)
	return userID, profileID
}

type accountOpt func(*models.ConnectedAccount)

func inactive(a *models.ConnectedAccount) { a.IsActive = false }

func withScope(scope string) accountOpt {
	return func(a *models.ConnectedAccount) { a.PlatformData["scope"] = scope }
}

func seedAccount(t *testing.T, store *repository.MemoryStore, profileID int64, platform models.Platform, platformUserID string, opts ...accountOpt) int64 {
	t.Helper()
	ctx := context.Background()

	access, err := utils.EncryptString("access-"+platformUserID, testSecret)
	require.NoError(t, err)
	refresh, err := utils.EncryptString("refresh-"+platformUserID, testSecret)
	require.NoError(t, err)

	a := &models.ConnectedAccount{
		ProfileID:      profileID,
		Platform:       platform,
		PlatformUserID: platformUserID,
		Username:       platformUserID,
		AccessToken:    access,
		RefreshToken:   refresh,
		PlatformData:   models.PlatformData{},
		IsActive:       true,
	}
	for _, o := range opts {
		o(a)
	}

	id, _, err := store.Accounts().Upsert(ctx, a)
	require.NoError(t, err)
	if !a.IsActive {
		require.NoError(t, store.Accounts().SetActive(ctx, id, false))
	}
	return id
}

func seedUsage(t *testing.T, store *repository.MemoryStore, u models.UsageCounter) {
	t.Helper()
	if u.LastPostResetDate.IsZero() {
		u.LastPostResetDate = time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)
	}
	if u.LastMonthReset.IsZero() {
		u.LastMonthReset = time.Date(testNow.Year(), testNow.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	require.NoError(t, store.Usage().Save(context.Background(), &u))
}

func newQuota(store repository.Store) *quotaService {
	return &quotaService{store: store, now: fixedNow}
}

// fakePublisher records every request and fails for the account IDs in failFor.
type fakePublisher struct {
	platform models.Platform
	failFor  map[int64]error

	mu    sync.Mutex
	calls []*transfer.PublishRequest
}

func newFakePublisher(p models.Platform) *fakePublisher {
	return &fakePublisher{platform: p, failFor: map[int64]error{}}
}

func (f *fakePublisher) Platform() models.Platform { return f.platform }

func (f *fakePublisher) Publish(_ context.Context, req *transfer.PublishRequest) (*transfer.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err, ok := f.failFor[req.AccountID]; ok {
		return nil, err
	}
	id := req.PlatformUserID + "-post"
	return &transfer.PublishResult{Success: true, PlatformPostID: id, PlatformPostURL: "https://example.com/" + id}, nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type compensation struct {
	platform       models.Platform
	accountID      int64
	platformPostID string
}

type fakeCompensator struct {
	mu   sync.Mutex
	done []compensation
}

func (f *fakeCompensator) Compensate(_ context.Context, platform models.Platform, accountID int64, platformPostID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, compensation{platform, accountID, platformPostID})
	return nil
}

type fakeScheduler struct {
	mu  sync.Mutex
	ids []int64
	at  []time.Time
}

func (f *fakeScheduler) Schedule(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	f.at = append(f.at, at)
	return nil
}

// fakeConnector serves a fixed identity list and records exchanges.
type fakeConnector struct {
	platform   models.Platform
	pkce       bool
	identities []*transfer.AccountIdentity
	token      *transfer.TokenSet

	revokeErr   error
	validateErr error
	refreshErr  error

	mu        sync.Mutex
	exchanges []string
	verifiers []string
	revoked   []string
	refreshed []string
}

func (f *fakeConnector) Platform() models.Platform { return f.platform }
func (f *fakeConnector) UsesPKCE() bool            { return f.pkce }

func (f *fakeConnector) AuthCodeURL(state, verifier string) string {
	u := "https://auth.example.com/authorize?state=" + state
	if verifier != "" {
		u += "&code_challenge_method=S256"
	}
	return u
}

func (f *fakeConnector) Exchange(_ context.Context, code, verifier string) (*transfer.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, code)
	f.verifiers = append(f.verifiers, verifier)
	if code == "bad" {
		return nil, errors.New("invalid_grant")
	}
	return f.token, nil
}

func (f *fakeConnector) Identify(_ context.Context, _ *transfer.TokenSet) ([]*transfer.AccountIdentity, error) {
	return f.identities, nil
}

func (f *fakeConnector) RevokeToken(_ context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, accessToken)
	return f.revokeErr
}

func (f *fakeConnector) ValidateToken(_ context.Context, _ string) error {
	return f.validateErr
}

func (f *fakeConnector) Refresh(_ context.Context, accessToken, refreshToken string) (*transfer.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, refreshToken)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	exp := testNow.Add(60 * 24 * time.Hour)
	return &transfer.TokenSet{AccessToken: "renewed-" + accessToken, RefreshToken: refreshToken, ExpiresAt: &exp}, nil
}
