package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	SessionDuration   = 24 * time.Hour
)

// AuthService signs users in with Google and issues session tokens.
type AuthService interface {
	LoginURL(state string) string
	LoginCallback(ctx context.Context, code string) (int64, error)
	IssueSession(userID int64) (string, error)
}

type authService struct {
	store       repository.Store
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	secretKey   string
}

func NewAuthService(cfg *config.Config, store repository.Store) AuthService {
	return &authService{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURI,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
		httpClient:  http.DefaultClient,
		secretKey:   cfg.SecretKey,
	}
}

func (s *authService) LoginURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// LoginCallback exchanges the Google code and returns the local user,
// creating it on first sign-in.
func (s *authService) LoginCallback(ctx context.Context, code string) (int64, error) {
	if code == "" {
		return 0, apperror.New(apperror.KindInvalid, "authorization code is missing")
	}
	if s.oauth.ClientID == "" || s.oauth.ClientSecret == "" || s.oauth.RedirectURL == "" {
		return 0, errors.New("google oauth configuration is incomplete")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		zap.L().Info("google code exchange failed", zap.Error(err))
		return 0, apperror.Wrap(apperror.KindTokenExchangeFailure, err, "google sign-in failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}
	var info transfer.GoogleUserInfo
	if err := utils.DoJSON(s.oauth.Client(ctx, token), req, &info); err != nil {
		return 0, apperror.Wrap(apperror.KindTokenExchangeFailure, err, "could not read google profile")
	}
	if info.Email == "" {
		return 0, apperror.New(apperror.KindTokenExchangeFailure, "google account has no email")
	}

	user, err := s.store.Users().GetByEmail(ctx, info.Email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		id, err := s.store.Users().Create(ctx, &models.User{
			GoogleID:       info.ID,
			Email:          info.Email,
			Name:           info.Name,
			ProfilePicture: info.Picture,
			Tier:           models.TierFree,
		})
		if err != nil {
			return 0, fmt.Errorf("error creating user: %w", err)
		}
		zap.L().Info("user signed up", zap.Int64("user_id", id))
		return id, nil
	case err != nil:
		return 0, err
	}

	if user.GoogleID == "" || user.Name != info.Name || user.ProfilePicture != info.Picture {
		user.GoogleID, user.Name, user.ProfilePicture = info.ID, info.Name, info.Picture
		if err := s.store.Users().Update(ctx, user); err != nil {
			zap.L().Warn("failed to refresh user profile", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}
	return user.ID, nil
}

func (s *authService) IssueSession(userID int64) (string, error) {
	return utils.GenerateToken(s.secretKey, strconv.FormatInt(userID, 10), SessionDuration)
}
