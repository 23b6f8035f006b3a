package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/connector"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type ConnectionService interface {
	Initiate(ctx context.Context, userID int64, platform models.Platform, profileID int64) (*transfer.InitiateConnectionResponse, error)
	Complete(ctx context.Context, userID int64, platform models.Platform, req *transfer.CompleteConnectionRequest) (*transfer.CompleteConnectionResponse, error)
	List(ctx context.Context, userID, profileID int64) ([]*models.ConnectedAccount, error)
	Disconnect(ctx context.Context, userID, accountID int64) error
	Validate(ctx context.Context, userID, accountID int64) (bool, error)
	// RefreshExpiring renews every active account whose token expires
	// within window. It returns how many were refreshed.
	RefreshExpiring(ctx context.Context, window time.Duration) (int, error)
}

type connectionService struct {
	store      repository.Store
	connectors *connector.Registry
	states     *connector.StateCodec
	quota      QuotaService
	metrics    *Metrics
	secretKey  string
	now        func() time.Time
}

func NewConnectionService(
	store repository.Store,
	connectors *connector.Registry,
	states *connector.StateCodec,
	quota QuotaService,
	metrics *Metrics,
	secretKey string,
) ConnectionService {
	return &connectionService{
		store:      store,
		connectors: connectors,
		states:     states,
		quota:      quota,
		metrics:    metrics,
		secretKey:  secretKey,
		now:        time.Now,
	}
}

func (s *connectionService) Initiate(ctx context.Context, userID int64, platform models.Platform, profileID int64) (*transfer.InitiateConnectionResponse, error) {
	if _, err := ownedProfile(ctx, s.store, userID, profileID); err != nil {
		return nil, err
	}

	c, err := s.connectors.Get(platform)
	if err != nil {
		return nil, err
	}

	nonce, err := utils.GenerateRandomKey(16)
	if err != nil {
		return nil, fmt.Errorf("error generating nonce: %w", err)
	}

	var verifier string
	if c.UsesPKCE() {
		verifier = oauth2.GenerateVerifier()
	}

	state, err := s.states.Encode(&connector.State{
		Nonce:        nonce,
		ProfileID:    profileID,
		Platform:     platform,
		UserID:       userID,
		CodeVerifier: verifier,
	})
	if err != nil {
		return nil, err
	}

	return &transfer.InitiateConnectionResponse{
		AuthURL: c.AuthCodeURL(state, verifier),
		State:   state,
	}, nil
}

func (s *connectionService) Complete(ctx context.Context, userID int64, platform models.Platform, req *transfer.CompleteConnectionRequest) (*transfer.CompleteConnectionResponse, error) {
	accounts, err := s.complete(ctx, userID, platform, req)
	if err != nil {
		s.metrics.Connection(ctx, platform.String(), OutcomeFailure)
		return nil, err
	}
	s.metrics.Connection(ctx, platform.String(), OutcomeSuccess)
	return &transfer.CompleteConnectionResponse{Success: true, Accounts: accounts}, nil
}

func (s *connectionService) complete(ctx context.Context, userID int64, platform models.Platform, req *transfer.CompleteConnectionRequest) ([]*models.ConnectedAccount, error) {
	state, err := s.states.Verify(req.State, req.ProfileID, platform, userID)
	if err != nil {
		return nil, err
	}
	if _, err := ownedProfile(ctx, s.store, userID, req.ProfileID); err != nil {
		return nil, err
	}

	c, err := s.connectors.Get(platform)
	if err != nil {
		return nil, err
	}

	token, err := c.Exchange(ctx, req.Code, state.CodeVerifier)
	if err != nil {
		return nil, err
	}

	identities, err := c.Identify(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, apperror.New(apperror.KindTokenExchangeFailure, "no publishable accounts were found for this login").WithPlatform(platform.String())
	}

	// reconnecting an identity already on the profile is free
	adding := 0
	for _, id := range identities {
		exists, err := s.store.Accounts().Exists(ctx, req.ProfileID, platform, id.PlatformUserID)
		if err != nil {
			return nil, err
		}
		if !exists {
			adding++
		}
	}
	if err := s.quota.CheckAccounts(ctx, userID, adding); err != nil {
		return nil, err
	}

	var accounts []*models.ConnectedAccount
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		for _, id := range identities {
			account, err := s.buildAccount(req.ProfileID, platform, token, id)
			if err != nil {
				return err
			}

			accountID, inserted, err := tx.Accounts().Upsert(ctx, account)
			if err != nil {
				return fmt.Errorf("error saving %s account %s: %w", platform.Key(), id.PlatformUserID, err)
			}

			saved, err := tx.Accounts().GetByID(ctx, accountID)
			if err != nil {
				return err
			}
			accounts = append(accounts, saved)

			zap.L().Info("account connected",
				zap.Int64("account_id", accountID),
				zap.String("platform", platform.String()),
				zap.Int64("profile_id", req.ProfileID),
				zap.Bool("inserted", inserted),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return accounts, nil
}

func (s *connectionService) buildAccount(profileID int64, platform models.Platform, token *transfer.TokenSet, id *transfer.AccountIdentity) (*models.ConnectedAccount, error) {
	tok := token
	if id.Token != nil {
		tok = id.Token
	}

	access, err := utils.EncryptString(tok.AccessToken, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("error encrypting access token: %w", err)
	}
	refresh, err := utils.EncryptString(tok.RefreshToken, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("error encrypting refresh token: %w", err)
	}

	data := models.PlatformData{}
	for k, v := range id.PlatformData {
		data[k] = v
	}
	scope := tok.Scope
	if scope == "" {
		scope = token.Scope
	}
	if scope != "" {
		data["scope"] = scope
	}

	now := s.now()
	return &models.ConnectedAccount{
		ProfileID:      profileID,
		Platform:       platform,
		PlatformUserID: id.PlatformUserID,
		Username:       id.Username,
		DisplayName:    id.DisplayName,
		ProfilePicture: id.ProfilePicture,
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiresAt: tok.ExpiresAt,
		PlatformData:   data,
		IsActive:       true,
		LastSyncedAt:   &now,
	}, nil
}

func (s *connectionService) List(ctx context.Context, userID, profileID int64) ([]*models.ConnectedAccount, error) {
	if _, err := ownedProfile(ctx, s.store, userID, profileID); err != nil {
		return nil, err
	}
	return s.store.Accounts().ListByProfileID(ctx, profileID)
}

// Disconnect revokes the token when the platform allows it and removes the
// account. A failed revoke is logged and does not block removal.
func (s *connectionService) Disconnect(ctx context.Context, userID, accountID int64) error {
	account, err := ownedAccount(ctx, s.store, userID, accountID)
	if err != nil {
		return err
	}

	if c, err := s.connectors.Get(account.Platform); err == nil {
		if r, ok := c.(connector.Revoker); ok {
			s.revoke(ctx, r, account)
		}
	}

	if err := s.store.Accounts().Remove(ctx, accountID); err != nil {
		return fmt.Errorf("error removing account: %w", err)
	}
	return nil
}

func (s *connectionService) revoke(ctx context.Context, r connector.Revoker, account *models.ConnectedAccount) {
	token, err := utils.DecryptString(account.AccessToken, s.secretKey)
	if err != nil || token == "" {
		zap.L().Warn("skipping revoke, token unavailable", zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	if err := r.RevokeToken(ctx, token); err != nil {
		zap.L().Warn("token revoke failed",
			zap.Int64("account_id", account.ID),
			zap.String("platform", account.Platform.String()),
			zap.Error(err),
		)
	}
}

// Validate reports whether the stored token still works. An account whose
// token is rejected is deactivated.
func (s *connectionService) Validate(ctx context.Context, userID, accountID int64) (bool, error) {
	account, err := ownedAccount(ctx, s.store, userID, accountID)
	if err != nil {
		return false, err
	}

	c, err := s.connectors.Get(account.Platform)
	if err != nil {
		return false, err
	}
	v, ok := c.(connector.Validator)
	if !ok {
		return false, apperror.New(apperror.KindNotSupported, "validating %s accounts is not supported", account.Platform.Key())
	}

	token, err := utils.DecryptString(account.AccessToken, s.secretKey)
	if err != nil {
		return false, apperror.Wrap(apperror.KindMissingCredential, err, "stored token cannot be read")
	}

	if err := v.ValidateToken(ctx, token); err != nil {
		zap.L().Info("token validation failed", zap.Int64("account_id", accountID), zap.Error(err))
		if err := s.store.Accounts().SetActive(ctx, accountID, false); err != nil {
			return false, err
		}
		return false, nil
	}

	if !account.IsActive {
		if err := s.store.Accounts().SetActive(ctx, accountID, true); err != nil {
			return false, err
		}
	}
	return true, nil
}

const refreshConcurrency = 10

func (s *connectionService) RefreshExpiring(ctx context.Context, window time.Duration) (int, error) {
	accounts, err := s.store.Accounts().ListExpiring(ctx, s.now().Add(window))
	if err != nil {
		return 0, fmt.Errorf("error listing expiring accounts: %w", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		refreshed int
		sem       = make(chan struct{}, refreshConcurrency)
	)

	for _, account := range accounts {
		wg.Add(1)
		sem <- struct{}{}

		go func(account *models.ConnectedAccount) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.refresh(ctx, account); err != nil {
				zap.L().Warn("token refresh failed, deactivating account",
					zap.Int64("account_id", account.ID),
					zap.String("platform", account.Platform.String()),
					zap.Error(err),
				)
				if err := s.store.Accounts().SetActive(ctx, account.ID, false); err != nil {
					zap.L().Error("failed to deactivate account", zap.Int64("account_id", account.ID), zap.Error(err))
				}
				return
			}

			mu.Lock()
			refreshed++
			mu.Unlock()
		}(account)
	}

	wg.Wait()
	return refreshed, nil
}

var errNoRefresher = errors.New("platform tokens cannot be refreshed")

func (s *connectionService) refresh(ctx context.Context, account *models.ConnectedAccount) error {
	c, err := s.connectors.Get(account.Platform)
	if err != nil {
		return err
	}
	r, ok := c.(connector.Refresher)
	if !ok {
		return errNoRefresher
	}

	access, err := utils.DecryptString(account.AccessToken, s.secretKey)
	if err != nil {
		return err
	}
	refresh, err := utils.DecryptString(account.RefreshToken, s.secretKey)
	if err != nil {
		return err
	}

	tok, err := r.Refresh(ctx, access, refresh)
	if err != nil {
		return err
	}

	encAccess, err := utils.EncryptString(tok.AccessToken, s.secretKey)
	if err != nil {
		return err
	}
	encRefresh, err := utils.EncryptString(tok.RefreshToken, s.secretKey)
	if err != nil {
		return err
	}

	return s.store.Accounts().SetToken(ctx, account.ID, encAccess, encRefresh, tok.ExpiresAt)
}
