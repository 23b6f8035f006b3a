package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"golang.org/x/oauth2"
)

// Authorizer builds the provider's consent URL. verifier is empty for
// platforms that do not use PKCE.
type Authorizer interface {
	AuthCodeURL(state, verifier string) string
}

type Exchanger interface {
	Exchange(ctx context.Context, code, verifier string) (*transfer.TokenSet, error)
}

type Identifier interface {
	Identify(ctx context.Context, token *transfer.TokenSet) ([]*transfer.AccountIdentity, error)
}

// Refresher renews an access token. accessToken and refreshToken are
// plaintext.
type Refresher interface {
	Refresh(ctx context.Context, accessToken, refreshToken string) (*transfer.TokenSet, error)
}

type Validator interface {
	ValidateToken(ctx context.Context, accessToken string) error
}

type Revoker interface {
	RevokeToken(ctx context.Context, accessToken string) error
}

// Connector is the minimum every platform implements. Refresh, validation
// and revocation are discovered with type assertions.
type Connector interface {
	Authorizer
	Exchanger
	Identifier
	Platform() models.Platform
	UsesPKCE() bool
}

type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	// BaseURL replaces every vendor host when set. Paths keep their
	// production shape so a single httptest server can fake a platform.
	BaseURL string
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// endpoint returns def, or BaseURL+path when BaseURL is set.
func (o Options) endpoint(def, path string) string {
	if o.BaseURL == "" {
		return def
	}
	return strings.TrimRight(o.BaseURL, "/") + path
}

// withClient makes oauth2 use the configured client for token calls.
func (o Options) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.client())
}

type Registry struct {
	connectors map[models.Platform]Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[models.Platform]Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Platform()] = c
	}
	return r
}

// NewDefaultRegistry builds a connector for every platform with client
// credentials configured.
func NewDefaultRegistry(cfg *config.Config, opts Options) *Registry {
	if opts.UserAgent == "" {
		opts.UserAgent = cfg.UserAgent
	}

	var cs []Connector
	if cfg.Meta.ClientID != "" {
		cs = append(cs, NewFacebook(cfg.Meta, opts))
	}
	if cfg.Instagram.ClientID != "" {
		cs = append(cs, NewInstagram(cfg.Instagram, opts))
	}
	if cfg.LinkedIn.ClientID != "" {
		cs = append(cs, NewLinkedIn(cfg.LinkedIn, opts))
	}
	if cfg.Twitter.ClientID != "" {
		cs = append(cs, NewTwitter(cfg.Twitter, opts))
	}
	if cfg.Reddit.ClientID != "" {
		cs = append(cs, NewReddit(cfg.Reddit, opts))
	}
	return NewRegistry(cs...)
}

func (r *Registry) Get(p models.Platform) (Connector, error) {
	c, ok := r.connectors[p]
	if !ok {
		return nil, apperror.New(apperror.KindNotSupported, "connecting %s accounts is not supported", p.Key())
	}
	return c, nil
}

// exchangeError turns an oauth2 failure into a TokenExchangeFailure that
// keeps the vendor body for diagnostics.
func exchangeError(p models.Platform, err error) error {
	e := apperror.Wrap(apperror.KindTokenExchangeFailure, err, "token exchange failed").WithPlatform(p.String())

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		body := string(re.Body)
		if re.ErrorDescription != "" {
			e.Message = "token exchange failed: " + re.ErrorDescription
		}
		return e.WithBody(body)
	}

	var he *utils.HTTPError
	if errors.As(err, &he) {
		return e.WithBody(he.Body)
	}
	return e
}

// tokenSet normalizes an oauth2 token. scope comes from the token response
// extras when the provider returns it.
func tokenSet(tok *oauth2.Token) *transfer.TokenSet {
	ts := &transfer.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		ts.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

func expiresIn(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(seconds) * time.Second)
	return &t
}

// refreshWith runs the standard refresh_token grant through cfg.
func refreshWith(ctx context.Context, opts Options, cfg *oauth2.Config, p models.Platform, refreshToken string) (*transfer.TokenSet, error) {
	if refreshToken == "" {
		return nil, apperror.New(apperror.KindMissingCredential, "no refresh token stored").WithPlatform(p.String())
	}

	src := cfg.TokenSource(opts.withClient(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, exchangeError(p, err)
	}

	ts := tokenSet(tok)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

func bearer(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

// identityError wraps a failed identity lookup made right after an exchange.
func identityError(p models.Platform, err error) error {
	return fmt.Errorf("%s identity lookup: %w", p.Key(), exchangeError(p, err))
}
