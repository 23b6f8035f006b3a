package connector

import (
	"context"
	"net/http"
	"net/url"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"golang.org/x/oauth2"
)

const (
	redditWWWURL   = "https://www.reddit.com"
	redditOAuthAPI = "https://oauth.reddit.com"
)

// Reddit needs a follow-up identity call to learn the username, which
// addresses the u_<username> profile subreddit when publishing. Reddit also
// rejects requests without a descriptive User-Agent.
type Reddit struct {
	oauth  *oauth2.Config
	opts   Options
	wwwURL string
	apiURL string
}

func NewReddit(client config.OAuthClient, opts Options) *Reddit {
	wwwURL := opts.endpoint(redditWWWURL, "")
	opts.HTTPClient = withUserAgent(opts.client(), opts.UserAgent)
	return &Reddit{
		oauth: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  client.RedirectURI,
			Scopes:       []string{"identity", "submit", "read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   wwwURL + "/api/v1/authorize",
				TokenURL:  wwwURL + "/api/v1/access_token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		opts:   opts,
		wwwURL: wwwURL,
		apiURL: opts.endpoint(redditOAuthAPI, ""),
	}
}

func (r *Reddit) Platform() models.Platform { return models.PlatformReddit }

func (r *Reddit) UsesPKCE() bool { return false }

func (r *Reddit) AuthCodeURL(state, _ string) string {
	// permanent grants come with a refresh token
	return r.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("duration", "permanent"))
}

func (r *Reddit) Exchange(ctx context.Context, code, _ string) (*transfer.TokenSet, error) {
	tok, err := r.oauth.Exchange(r.opts.withClient(ctx), code)
	if err != nil {
		return nil, exchangeError(r.Platform(), err)
	}
	return tokenSet(tok), nil
}

func (r *Reddit) Identify(ctx context.Context, token *transfer.TokenSet) ([]*transfer.AccountIdentity, error) {
	user, err := r.me(ctx, token.AccessToken)
	if err != nil {
		return nil, identityError(r.Platform(), err)
	}

	return []*transfer.AccountIdentity{{
		PlatformUserID: user.ID,
		Username:       user.Name,
		DisplayName:    user.Name,
		ProfilePicture: user.IconImg,
		PlatformData: models.PlatformData{
			"scope":     token.Scope,
			"subreddit": "u_" + user.Name,
		},
	}}, nil
}

func (r *Reddit) Refresh(ctx context.Context, _, refreshToken string) (*transfer.TokenSet, error) {
	return refreshWith(ctx, r.opts, r.oauth, r.Platform(), refreshToken)
}

func (r *Reddit) ValidateToken(ctx context.Context, accessToken string) error {
	if _, err := r.me(ctx, accessToken); err != nil {
		return exchangeError(r.Platform(), err)
	}
	return nil
}

func (r *Reddit) RevokeToken(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("token", accessToken)
	form.Set("token_type_hint", "access_token")

	req, err := utils.NewFormRequest(ctx, http.MethodPost, r.wwwURL+"/api/v1/revoke_token", form)
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.oauth.ClientID, r.oauth.ClientSecret)
	return utils.DoJSON(r.opts.client(), req, nil)
}

func (r *Reddit) me(ctx context.Context, accessToken string) (*transfer.RedditUser, error) {
	req, err := utils.NewJSONRequest(ctx, http.MethodGet, r.apiURL+"/api/v1/me", nil)
	if err != nil {
		return nil, err
	}
	bearer(req, accessToken)

	var user transfer.RedditUser
	if err := utils.DoJSON(r.opts.client(), req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// withUserAgent returns a copy of c whose requests carry userAgent.
func withUserAgent(c *http.Client, userAgent string) *http.Client {
	if userAgent == "" {
		return c
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	clone := *c
	clone.Transport = &userAgentTransport{base: base, userAgent: userAgent}
	return &clone
}
