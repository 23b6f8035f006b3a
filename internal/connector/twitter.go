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
	twitterAuthURL = "https://twitter.com/i/oauth2/authorize"
	twitterAPIURL  = "https://api.twitter.com"

	// TwitterWriteScope must be present in the granted scope to post.
	TwitterWriteScope = "tweet.write"
)

// Twitter implements OAuth 2.0 with PKCE. The granted scope is kept so the
// publish path can check for write access before calling the API.
type Twitter struct {
	oauth  *oauth2.Config
	opts   Options
	apiURL string
}

func NewTwitter(client config.OAuthClient, opts Options) *Twitter {
	apiURL := opts.endpoint(twitterAPIURL, "")
	return &Twitter{
		oauth: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  client.RedirectURI,
			Scopes:       []string{"tweet.read", TwitterWriteScope, "users.read", "media.write", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.endpoint(twitterAuthURL, "/i/oauth2/authorize"),
				TokenURL:  apiURL + "/2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		opts:   opts,
		apiURL: apiURL,
	}
}

func (t *Twitter) Platform() models.Platform { return models.PlatformTwitter }

func (t *Twitter) UsesPKCE() bool { return true }

func (t *Twitter) AuthCodeURL(state, verifier string) string {
	return t.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (t *Twitter) Exchange(ctx context.Context, code, verifier string) (*transfer.TokenSet, error) {
	tok, err := t.oauth.Exchange(t.opts.withClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, exchangeError(t.Platform(), err)
	}
	return tokenSet(tok), nil
}

func (t *Twitter) Identify(ctx context.Context, token *transfer.TokenSet) ([]*transfer.AccountIdentity, error) {
	user, err := t.me(ctx, token.AccessToken)
	if err != nil {
		return nil, identityError(t.Platform(), err)
	}

	return []*transfer.AccountIdentity{{
		PlatformUserID: user.Data.ID,
		Username:       user.Data.Username,
		DisplayName:    user.Data.Name,
		ProfilePicture: user.Data.ProfileImageURL,
		PlatformData:   models.PlatformData{"scope": token.Scope},
	}}, nil
}

func (t *Twitter) Refresh(ctx context.Context, _, refreshToken string) (*transfer.TokenSet, error) {
	return refreshWith(ctx, t.opts, t.oauth, t.Platform(), refreshToken)
}

func (t *Twitter) ValidateToken(ctx context.Context, accessToken string) error {
	if _, err := t.me(ctx, accessToken); err != nil {
		return exchangeError(t.Platform(), err)
	}
	return nil
}

func (t *Twitter) RevokeToken(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("token", accessToken)
	form.Set("token_type_hint", "access_token")
	form.Set("client_id", t.oauth.ClientID)

	req, err := utils.NewFormRequest(ctx, http.MethodPost, t.apiURL+"/2/oauth2/revoke", form)
	if err != nil {
		return err
	}
	req.SetBasicAuth(url.QueryEscape(t.oauth.ClientID), url.QueryEscape(t.oauth.ClientSecret))
	return utils.DoJSON(t.opts.client(), req, nil)
}

func (t *Twitter) me(ctx context.Context, accessToken string) (*transfer.TwitterUser, error) {
	req, err := utils.NewJSONRequest(ctx, http.MethodGet, t.apiURL+"/2/users/me?user.fields=profile_image_url", nil)
	if err != nil {
		return nil, err
	}
	bearer(req, accessToken)

	var user transfer.TwitterUser
	if err := utils.DoJSON(t.opts.client(), req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
