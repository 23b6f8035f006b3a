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
	instagramAuthURL  = "https://www.instagram.com/oauth/authorize"
	instagramTokenURL = "https://api.instagram.com/oauth/access_token"
	instagramGraphURL = "https://graph.instagram.com"
)

// Instagram uses Instagram business login. There is no page indirection: the
// long-lived user token publishes directly.
type Instagram struct {
	oauth    *oauth2.Config
	opts     Options
	graphURL string
}

func NewInstagram(client config.OAuthClient, opts Options) *Instagram {
	return &Instagram{
		oauth: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  client.RedirectURI,
			// Instagram expects the comma-separated form.
			Scopes: []string{"instagram_business_basic,instagram_business_content_publish"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.endpoint(instagramAuthURL, "/oauth/authorize"),
				TokenURL:  opts.endpoint(instagramTokenURL, "/oauth/access_token"),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		opts:     opts,
		graphURL: opts.endpoint(instagramGraphURL, ""),
	}
}

func (ig *Instagram) Platform() models.Platform { return models.PlatformInstagram }

func (ig *Instagram) UsesPKCE() bool { return false }

func (ig *Instagram) AuthCodeURL(state, _ string) string {
	return ig.oauth.AuthCodeURL(state)
}

func (ig *Instagram) Exchange(ctx context.Context, code, _ string) (*transfer.TokenSet, error) {
	short, err := ig.oauth.Exchange(ig.opts.withClient(ctx), code)
	if err != nil {
		return nil, exchangeError(ig.Platform(), err)
	}

	params := url.Values{}
	params.Set("grant_type", "ig_exchange_token")
	params.Set("client_secret", ig.oauth.ClientSecret)
	params.Set("access_token", short.AccessToken)

	long, err := ig.tokenCall(ctx, "/access_token?"+params.Encode())
	if err != nil {
		return nil, err
	}
	// long-lived tokens are refreshed with themselves
	long.RefreshToken = long.AccessToken
	return long, nil
}

func (ig *Instagram) Identify(ctx context.Context, token *transfer.TokenSet) ([]*transfer.AccountIdentity, error) {
	info, err := ig.me(ctx, token.AccessToken)
	if err != nil {
		return nil, identityError(ig.Platform(), err)
	}

	id := info.UserID
	if id == "" {
		id = info.ID
	}

	return []*transfer.AccountIdentity{{
		PlatformUserID: id,
		Username:       info.Username,
		DisplayName:    info.Name,
		ProfilePicture: info.ProfilePicture,
		PlatformData: models.PlatformData{
			"account_type": info.AccountType,
			"scope":        "instagram_business_basic,instagram_business_content_publish",
		},
	}}, nil
}

// Refresh extends a long-lived token. It must be at least 24h old and not
// yet expired.
func (ig *Instagram) Refresh(ctx context.Context, accessToken, _ string) (*transfer.TokenSet, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	params.Set("access_token", accessToken)

	ts, err := ig.tokenCall(ctx, "/refresh_access_token?"+params.Encode())
	if err != nil {
		return nil, err
	}
	ts.RefreshToken = ts.AccessToken
	return ts, nil
}

func (ig *Instagram) ValidateToken(ctx context.Context, accessToken string) error {
	if _, err := ig.me(ctx, accessToken); err != nil {
		return exchangeError(ig.Platform(), err)
	}
	return nil
}

func (ig *Instagram) me(ctx context.Context, accessToken string) (*transfer.InstagramUserInfo, error) {
	params := url.Values{}
	params.Set("fields", "user_id,username,name,account_type,profile_picture_url")
	params.Set("access_token", accessToken)

	req, err := utils.NewJSONRequest(ctx, http.MethodGet, ig.graphURL+"/me?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var info transfer.InstagramUserInfo
	if err := utils.DoJSON(ig.opts.client(), req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (ig *Instagram) tokenCall(ctx context.Context, pathAndQuery string) (*transfer.TokenSet, error) {
	req, err := utils.NewJSONRequest(ctx, http.MethodGet, ig.graphURL+pathAndQuery, nil)
	if err != nil {
		return nil, err
	}

	var out transfer.GraphAccessToken
	if err := utils.DoJSON(ig.opts.client(), req, &out); err != nil {
		return nil, exchangeError(ig.Platform(), err)
	}

	return &transfer.TokenSet{
		AccessToken: out.AccessToken,
		ExpiresAt:   expiresIn(out.ExpiresIn),
	}, nil
}
