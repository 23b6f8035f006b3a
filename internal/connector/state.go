package connector

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"go.uber.org/zap"
)

// State binds an authorization request to the callback that completes it.
type State struct {
	Nonce        string
	ProfileID    int64
	Platform     models.Platform
	UserID       int64
	CodeVerifier string
}

type stateClaims struct {
	Nonce     string `json:"nonce"`
	ProfileID int64  `json:"profileId"`
	Platform  string `json:"platform"`
	UserID    int64  `json:"userId"`
	// CodeVerifier is AES-GCM sealed so the PKCE secret is not readable from
	// the redirect URL.
	CodeVerifier string `json:"cv,omitempty"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies OAuth state values. Nothing is stored
// server side.
type StateCodec struct {
	secret string
	ttl    time.Duration
	now    func() time.Time
}

func NewStateCodec(secret string, ttl time.Duration) *StateCodec {
	return &StateCodec{secret: secret, ttl: ttl, now: time.Now}
}

func (c *StateCodec) Encode(s *State) (string, error) {
	if s.Nonce == "" {
		return "", apperror.New(apperror.KindInvalid, "state nonce is required")
	}

	verifier, err := utils.EncryptString(s.CodeVerifier, c.secret)
	if err != nil {
		return "", fmt.Errorf("seal code verifier: %w", err)
	}

	now := c.now()
	claims := stateClaims{
		Nonce:        s.Nonce,
		ProfileID:    s.ProfileID,
		Platform:     string(s.Platform),
		UserID:       s.UserID,
		CodeVerifier: verifier,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secret))
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// Decode checks signature and expiry. Any failure is a StateMismatch.
func (c *StateCodec) Decode(token string) (*State, error) {
	claims := &stateClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, utils.HMACKeyFunc(c.secret),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		zap.L().Info("oauth state rejected", zap.Error(err))
		return nil, apperror.Wrap(apperror.KindStateMismatch, err, "state verification failed")
	}

	verifier, err := utils.DecryptString(claims.CodeVerifier, c.secret)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStateMismatch, err, "state verification failed")
	}

	return &State{
		Nonce:        claims.Nonce,
		ProfileID:    claims.ProfileID,
		Platform:     models.Platform(claims.Platform),
		UserID:       claims.UserID,
		CodeVerifier: verifier,
	}, nil
}

// Verify decodes token and requires it to match the callback's context.
func (c *StateCodec) Verify(token string, profileID int64, platform models.Platform, userID int64) (*State, error) {
	s, err := c.Decode(token)
	if err != nil {
		return nil, err
	}

	if s.Nonce == "" || s.ProfileID != profileID || s.Platform != platform || s.UserID != userID {
		zap.L().Warn("oauth state context mismatch",
			zap.Int64("profile_id", profileID),
			zap.String("platform", platform.String()),
			zap.Int64("user_id", userID),
		)
		return nil, apperror.New(apperror.KindStateMismatch, "state verification failed")
	}
	return s, nil
}
