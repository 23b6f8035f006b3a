package connector

import (
	"context"
	"net/http"
	"net/url"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	facebookGraphVersion = "/v21.0"
	facebookAuthURL      = "https://www.facebook.com" + facebookGraphVersion + "/dialog/oauth"
	facebookGraphURL     = "https://graph.facebook.com" + facebookGraphVersion

	// pageFetchLimit bounds /me/accounts pagination.
	pageFetchLimit = 10
)

// Facebook connects Facebook Pages. The user token is upgraded to a
// long-lived one and every administered page becomes its own account with
// its own page token.
type Facebook struct {
	oauth    *oauth2.Config
	opts     Options
	graphURL string
}

func NewFacebook(client config.OAuthClient, opts Options) *Facebook {
	graphURL := opts.endpoint(facebookGraphURL, facebookGraphVersion)
	return &Facebook{
		oauth: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  client.RedirectURI,
			Scopes:       []string{"public_profile", "pages_show_list", "pages_read_engagement", "pages_manage_posts"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.endpoint(facebookAuthURL, facebookGraphVersion+"/dialog/oauth"),
				TokenURL:  graphURL + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		opts:     opts,
		graphURL: graphURL,
	}
}

func (f *Facebook) Platform() models.Platform { return models.PlatformFacebook }

func (f *Facebook) UsesPKCE() bool { return false }

func (f *Facebook) AuthCodeURL(state, _ string) string {
	return f.oauth.AuthCodeURL(state)
}

func (f *Facebook) Exchange(ctx context.Context, code, _ string) (*transfer.TokenSet, error) {
	tok, err := f.oauth.Exchange(f.opts.withClient(ctx), code)
	if err != nil {
		return nil, exchangeError(f.Platform(), err)
	}

	long, err := f.longLived(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	return long, nil
}

// longLived trades a short-lived user token for a ~60 day one.
func (f *Facebook) longLived(ctx context.Context, shortLived string) (*transfer.TokenSet, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", f.oauth.ClientID)
	params.Set("client_secret", f.oauth.ClientSecret)
	params.Set("fb_exchange_token", shortLived)

	req, err := utils.NewJSONRequest(ctx, http.MethodGet, f.graphURL+"/oauth/access_token?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var out transfer.GraphAccessToken
	if err := utils.DoJSON(f.opts.client(), req, &out); err != nil {
		return nil, exchangeError(f.Platform(), err)
	}

	return &transfer.TokenSet{
		AccessToken: out.AccessToken,
		ExpiresAt:   expiresIn(out.ExpiresIn),
	}, nil
}

// Identify returns one identity per administered page. A user without pages
// has nothing publishable and fails the connection.
func (f *Facebook) Identify(ctx context.Context, token *transfer.TokenSet) ([]*transfer.AccountIdentity, error) {
	var me transfer.FacebookUser
	if err := f.get(ctx, "/me?fields=id,name", token.AccessToken, &me); err != nil {
		return nil, identityError(f.Platform(), err)
	}

	next := "/me/accounts?fields=id,name,username,category,access_token,picture{url}&limit=100"
	var identities []*transfer.AccountIdentity
	for i := 0; next != "" && i < pageFetchLimit; i++ {
		var pages transfer.FacebookPages
		if err := f.get(ctx, next, token.AccessToken, &pages); err != nil {
			return nil, identityError(f.Platform(), err)
		}

		for _, p := range pages.Data {
			if p.AccessToken == "" {
				zap.L().Warn("facebook page without access token", zap.String("page_id", p.ID))
				continue
			}
			identities = append(identities, &transfer.AccountIdentity{
				PlatformUserID: p.ID,
				Username:       p.Username,
				DisplayName:    p.Name,
				ProfilePicture: p.Picture.Data.URL,
				PlatformData: models.PlatformData{
					"owner_id":   me.ID,
					"owner_name": me.Name,
					"category":   p.Category,
				},
				// page tokens minted from a long-lived user token do not expire
				Token: &transfer.TokenSet{AccessToken: p.AccessToken},
			})
		}

		next = ""
		if pages.Paging.Next != "" {
			if u, err := url.Parse(pages.Paging.Next); err == nil {
				next = "/me/accounts?" + u.RawQuery
			}
		}
	}

	if len(identities) == 0 {
		return nil, apperror.New(apperror.KindTokenExchangeFailure, "no Facebook pages are administered by this account").
			WithPlatform(f.Platform().String())
	}
	return identities, nil
}

func (f *Facebook) ValidateToken(ctx context.Context, accessToken string) error {
	var me transfer.FacebookUser
	if err := f.get(ctx, "/me?fields=id", accessToken, &me); err != nil {
		return exchangeError(f.Platform(), err)
	}
	return nil
}

func (f *Facebook) get(ctx context.Context, pathAndQuery, accessToken string, out any) error {
	req, err := utils.NewJSONRequest(ctx, http.MethodGet, f.graphURL+pathAndQuery, nil)
	if err != nil {
		return err
	}
	bearer(req, accessToken)
	return utils.DoJSON(f.opts.client(), req, out)
}
