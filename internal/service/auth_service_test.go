package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newGoogleFake(t *testing.T, name string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"g-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer g-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id": "g-1", "email": "ada@example.com", "name": name, "picture": "https://pics.example.com/ada.png",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newAuth(store repository.Store, srv *httptest.Server) *authService {
	return &authService{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost:3000/login/callback",
			Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		},
		userInfoURL: srv.URL + "/userinfo",
		httpClient:  srv.Client(),
		secretKey:   testSecret,
	}
}

func TestLoginCallbackCreatesThenReusesUser(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newAuth(store, newGoogleFake(t, "Ada"))

	id, err := svc.LoginCallback(context.Background(), "good")
	require.NoError(t, err)

	user, err := store.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "g-1", user.GoogleID)
	assert.Equal(t, models.TierFree, user.Tier)

	again, err := svc.LoginCallback(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	renamed := newAuth(store, newGoogleFake(t, "Ada L."))
	_, err = renamed.LoginCallback(context.Background(), "good")
	require.NoError(t, err)
	user, err = store.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", user.Name)
}

func TestLoginCallbackErrors(t *testing.T) {
	svc := newAuth(repository.NewMemoryStore(), newGoogleFake(t, "Ada"))

	_, err := svc.LoginCallback(context.Background(), "")
	assert.True(t, errors.Is(err, apperror.ErrInvalid))

	_, err = svc.LoginCallback(context.Background(), "expired")
	assert.True(t, errors.Is(err, apperror.ErrTokenExchangeFailure))
}

func TestIssueSession(t *testing.T) {
	svc := newAuth(repository.NewMemoryStore(), newGoogleFake(t, "Ada"))

	token, err := svc.IssueSession(42)
	require.NoError(t, err)

	claims, err := utils.ValidateToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(42), claims.UserID)

	assert.Contains(t, svc.LoginURL("nonce-1"), "state=nonce-1")
}
