package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/connector"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connFixture struct {
	store     *repository.MemoryStore
	svc       *connectionService
	twitter   *fakeConnector
	facebook  *fakeConnector
	userID    int64
	profileID int64
}

func newConnFixture(t *testing.T, tier models.Tier) *connFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	userID, profileID := seedUser(t, store, tier)

	exp := testNow.Add(2 * time.Hour)
	tw := &fakeConnector{
		platform: models.PlatformTwitter,
		pkce:     true,
		token:    &transfer.TokenSet{AccessToken: "tw-access", RefreshToken: "tw-refresh", ExpiresAt: &exp, Scope: "tweet.read tweet.write users.read"},
		identities: []*transfer.AccountIdentity{
			{PlatformUserID: "42", Username: "ada", DisplayName: "Ada"},
		},
	}
	fb := &fakeConnector{
		platform: models.PlatformFacebook,
		token:    &transfer.TokenSet{AccessToken: "user-token"},
		identities: []*transfer.AccountIdentity{
			{PlatformUserID: "p1", DisplayName: "Page One", Token: &transfer.TokenSet{AccessToken: "page-token-1"}},
			{PlatformUserID: "p2", DisplayName: "Page Two", Token: &transfer.TokenSet{AccessToken: "page-token-2"}},
		},
	}

	svc := NewConnectionService(
		store,
		connector.NewRegistry(tw, fb),
		connector.NewStateCodec(testSecret, 10*time.Minute),
		newQuota(store),
		nil,
		testSecret,
	).(*connectionService)
	svc.now = fixedNow

	return &connFixture{store: store, svc: svc, twitter: tw, facebook: fb, userID: userID, profileID: profileID}
}

func (f *connFixture) connect(t *testing.T, platform models.Platform, code string) (*transfer.CompleteConnectionResponse, error) {
	t.Helper()
	init, err := f.svc.Initiate(context.Background(), f.userID, platform, f.profileID)
	require.NoError(t, err)
	return f.svc.Complete(context.Background(), f.userID, platform, &transfer.CompleteConnectionRequest{
		ProfileID: f.profileID,
		Code:      code,
		State:     init.State,
	})
}

func TestInitiateConnection(t *testing.T) {
	f := newConnFixture(t, models.TierPro)

	res, err := f.svc.Initiate(context.Background(), f.userID, models.PlatformTwitter, f.profileID)
	require.NoError(t, err)

	u, err := url.Parse(res.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, res.State, u.Query().Get("state"))
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))

	state, err := f.svc.states.Decode(res.State)
	require.NoError(t, err)
	assert.Equal(t, f.profileID, state.ProfileID)
	assert.Equal(t, f.userID, state.UserID)
	assert.Equal(t, models.PlatformTwitter, state.Platform)
	assert.NotEmpty(t, state.Nonce)
	assert.NotEmpty(t, state.CodeVerifier)

	fb, err := f.svc.Initiate(context.Background(), f.userID, models.PlatformFacebook, f.profileID)
	require.NoError(t, err)
	fbState, err := f.svc.states.Decode(fb.State)
	require.NoError(t, err)
	assert.Empty(t, fbState.CodeVerifier)
}

func TestInitiateConnectionErrors(t *testing.T) {
	f := newConnFixture(t, models.TierPro)

	_, err := f.svc.Initiate(context.Background(), f.userID, models.PlatformTikTok, f.profileID)
	assert.True(t, errors.Is(err, apperror.ErrNotSupported))

	_, err = f.svc.Initiate(context.Background(), f.userID+1, models.PlatformTwitter, f.profileID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestCompleteConnectionStoresEncryptedTokens(t *testing.T) {
	f := newConnFixture(t, models.TierPro)

	res, err := f.connect(t, models.PlatformTwitter, "code-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Accounts, 1)

	account := res.Accounts[0]
	assert.Equal(t, "42", account.PlatformUserID)
	assert.True(t, account.IsActive)
	assert.True(t, account.HasScope(connector.TwitterWriteScope))
	assert.NotEqual(t, "tw-access", account.AccessToken)

	plain, err := utils.DecryptString(account.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "tw-access", plain)

	// the verifier from the state reached the exchange
	require.Len(t, f.twitter.verifiers, 1)
	assert.NotEmpty(t, f.twitter.verifiers[0])
}

func TestReconnectUpdatesExistingAccount(t *testing.T) {
	f := newConnFixture(t, models.TierPro)

	first, err := f.connect(t, models.PlatformTwitter, "code-1")
	require.NoError(t, err)

	f.twitter.token = &transfer.TokenSet{AccessToken: "tw-access-2", Scope: "tweet.read tweet.write"}
	second, err := f.connect(t, models.PlatformTwitter, "code-2")
	require.NoError(t, err)

	assert.Equal(t, first.Accounts[0].ID, second.Accounts[0].ID)

	accounts, err := f.svc.List(context.Background(), f.userID, f.profileID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	access, err := utils.DecryptString(accounts[0].AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "tw-access-2", access)

	// an empty refresh token on reconnect keeps the stored one
	refresh, err := utils.DecryptString(accounts[0].RefreshToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "tw-refresh", refresh)
}

func TestCompleteConnectionRejectsMismatchedState(t *testing.T) {
	f := newConnFixture(t, models.TierPro)
	other, err := f.store.Profiles().Create(context.Background(), &models.Profile{UserID: f.userID, Name: "Side"})
	require.NoError(t, err)

	init, err := f.svc.Initiate(context.Background(), f.userID, models.PlatformTwitter, f.profileID)
	require.NoError(t, err)

	tests := []struct {
		name      string
		userID    int64
		platform  models.Platform
		profileID int64
		state     string
	}{
		{"other profile", f.userID, models.PlatformTwitter, other, init.State},
		{"other platform", f.userID, models.PlatformFacebook, f.profileID, init.State},
		{"other user", f.userID + 1, models.PlatformTwitter, f.profileID, init.State},
		{"tampered", f.userID, models.PlatformTwitter, f.profileID, init.State + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Complete(context.Background(), tt.userID, tt.platform, &transfer.CompleteConnectionRequest{
				ProfileID: tt.profileID,
				Code:      "code",
				State:     tt.state,
			})
			assert.True(t, errors.Is(err, apperror.ErrStateMismatch))
		})
	}

	assert.Empty(t, f.twitter.exchanges)
	assert.Empty(t, f.facebook.exchanges)
}

func TestFacebookFanOutUsesPageTokens(t *testing.T) {
	f := newConnFixture(t, models.TierPro)

	res, err := f.connect(t, models.PlatformFacebook, "code")
	require.NoError(t, err)
	require.Len(t, res.Accounts, 2)

	for i, want := range []string{"page-token-1", "page-token-2"} {
		plain, err := utils.DecryptString(res.Accounts[i].AccessToken, testSecret)
		require.NoError(t, err)
		assert.Equal(t, want, plain)
	}
}

func TestConnectionCountsOnlyNewAccounts(t *testing.T) {
	f := newConnFixture(t, models.TierFree)
	seedAccount(t, f.store, f.profileID, models.PlatformReddit, "spez")
	seedAccount(t, f.store, f.profileID, models.PlatformFacebook, "p1")

	// p1 is a reconnect, so only p2 counts and the third slot is enough
	_, err := f.connect(t, models.PlatformFacebook, "code")
	require.NoError(t, err)

	f.facebook.identities = append(f.facebook.identities, &transfer.AccountIdentity{PlatformUserID: "p3"})
	_, err = f.connect(t, models.PlatformFacebook, "code")
	require.Error(t, err)
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindQuotaExceeded, ae.Kind)
	assert.True(t, ae.UpgradeRequired)

	accounts, err := f.svc.List(context.Background(), f.userID, f.profileID)
	require.NoError(t, err)
	assert.Len(t, accounts, 3)
}

func TestCompleteConnectionExchangeFailure(t *testing.T) {
	f := newConnFixture(t, models.TierPro)

	_, err := f.connect(t, models.PlatformTwitter, "bad")
	require.Error(t, err)

	accounts, err := f.svc.List(context.Background(), f.userID, f.profileID)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestDisconnectIgnoresRevokeFailure(t *testing.T) {
	f := newConnFixture(t, models.TierPro)
	f.twitter.revokeErr = errors.New("revocation endpoint down")
	id := seedAccount(t, f.store, f.profileID, models.PlatformTwitter, "42")

	assert.True(t, errors.Is(f.svc.Disconnect(context.Background(), f.userID+1, id), apperror.ErrNotFound))

	require.NoError(t, f.svc.Disconnect(context.Background(), f.userID, id))
	assert.Equal(t, []string{"access-42"}, f.twitter.revoked)

	_, err := f.store.Accounts().GetByID(context.Background(), id)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestValidateDeactivatesRejectedToken(t *testing.T) {
	f := newConnFixture(t, models.TierPro)
	id := seedAccount(t, f.store, f.profileID, models.PlatformTwitter, "42")

	ok, err := f.svc.Validate(context.Background(), f.userID, id)
	require.NoError(t, err)
	assert.True(t, ok)

	f.twitter.validateErr = errors.New("401")
	ok, err = f.svc.Validate(context.Background(), f.userID, id)
	require.NoError(t, err)
	assert.False(t, ok)

	account, err := f.store.Accounts().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, account.IsActive)
}

func TestRefreshExpiring(t *testing.T) {
	f := newConnFixture(t, models.TierPro)
	soon := testNow.Add(10 * time.Minute)
	later := testNow.Add(48 * time.Hour)
	expiring := func(at time.Time) accountOpt {
		return func(a *models.ConnectedAccount) { a.TokenExpiresAt = &at }
	}

	tw := seedAccount(t, f.store, f.profileID, models.PlatformTwitter, "42", expiring(soon))
	fresh := seedAccount(t, f.store, f.profileID, models.PlatformTwitter, "43", expiring(later))
	seedAccount(t, f.store, f.profileID, models.PlatformFacebook, "p1", expiring(soon))

	n, err := f.svc.RefreshExpiring(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"refresh-42"}, f.twitter.refreshed)
	assert.Equal(t, []string{"refresh-p1"}, f.facebook.refreshed)

	account, err := f.store.Accounts().GetByID(context.Background(), tw)
	require.NoError(t, err)
	access, err := utils.DecryptString(account.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "renewed-access-42", access)
	assert.True(t, account.TokenExpiresAt.After(later))

	untouched, err := f.store.Accounts().GetByID(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, later, *untouched.TokenExpiresAt)

	f.twitter.refreshErr = errors.New("invalid_grant")
	past := testNow.Add(-time.Minute)
	require.NoError(t, f.store.Accounts().SetToken(context.Background(), tw, account.AccessToken, account.RefreshToken, &past))

	_, err = f.svc.RefreshExpiring(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	account, err = f.store.Accounts().GetByID(context.Background(), tw)
	require.NoError(t, err)
	assert.False(t, account.IsActive)
}
