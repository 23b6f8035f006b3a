package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	linkedInOAuthURL  = "https://www.linkedin.com/oauth/v2"
	linkedInAPIURL    = "https://api.linkedin.com"
	linkedInVersion   = "202409"
	linkedInOrgPrefix = "urn:li:organization:"
)

// LinkedIn yields the member's personal profile plus every organization the
// member administers.
type LinkedIn struct {
	oauth    *oauth2.Config
	opts     Options
	oauthURL string
	apiURL   string
}

func NewLinkedIn(client config.OAuthClient, opts Options) *LinkedIn {
	oauthURL := opts.endpoint(linkedInOAuthURL, "/oauth/v2")
	return &LinkedIn{
		oauth: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  client.RedirectURI,
			Scopes:       []string{"openid", "profile", "email", "w_member_social", "r_organization_admin", "w_organization_social"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   oauthURL + "/authorization",
				TokenURL:  oauthURL + "/accessToken",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		opts:     opts,
		oauthURL: oauthURL,
		apiURL:   opts.endpoint(linkedInAPIURL, ""),
	}
}

func (l *LinkedIn) Platform() models.Platform { return models.PlatformLinkedIn }

func (l *LinkedIn) UsesPKCE() bool { return false }

func (l *LinkedIn) AuthCodeURL(state, _ string) string {
	return l.oauth.AuthCodeURL(state)
}

func (l *LinkedIn) Exchange(ctx context.Context, code, _ string) (*transfer.TokenSet, error) {
	tok, err := l.oauth.Exchange(l.opts.withClient(ctx), code)
	if err != nil {
		return nil, exchangeError(l.Platform(), err)
	}
	return tokenSet(tok), nil
}

func (l *LinkedIn) Identify(ctx context.Context, token *transfer.TokenSet) ([]*transfer.AccountIdentity, error) {
	info, err := l.userInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, identityError(l.Platform(), err)
	}

	identities := []*transfer.AccountIdentity{{
		PlatformUserID: info.Sub,
		Username:       info.Email,
		DisplayName:    info.Name,
		ProfilePicture: info.Picture,
		PlatformData: models.PlatformData{
			"author_urn": "urn:li:person:" + info.Sub,
			"kind":       "person",
			"scope":      token.Scope,
		},
	}}

	// Organization access needs extra app review. Without it the member
	// profile is still a valid connection.
	orgs, err := l.organizations(ctx, token.AccessToken)
	if err != nil {
		zap.L().Info("linkedin organizations unavailable", zap.Error(err))
		return identities, nil
	}

	for _, org := range orgs {
		id := fmt.Sprintf("%d", org.ID)
		identities = append(identities, &transfer.AccountIdentity{
			PlatformUserID: linkedInOrgPrefix + id,
			Username:       org.VanityName,
			DisplayName:    org.LocalizedName,
			PlatformData: models.PlatformData{
				"author_urn": linkedInOrgPrefix + id,
				"kind":       "organization",
				"scope":      token.Scope,
			},
		})
	}
	return identities, nil
}

func (l *LinkedIn) organizations(ctx context.Context, accessToken string) ([]*transfer.LinkedInOrganization, error) {
	params := url.Values{}
	params.Set("q", "roleAssignee")
	params.Set("role", "ADMINISTRATOR")
	params.Set("state", "APPROVED")

	var acls transfer.LinkedInOrganizationAcls
	if err := l.get(ctx, "/rest/organizationAcls?"+params.Encode(), accessToken, &acls); err != nil {
		return nil, err
	}

	var orgs []*transfer.LinkedInOrganization
	for _, el := range acls.Elements {
		id := strings.TrimPrefix(el.Organization, linkedInOrgPrefix)
		if id == "" || id == el.Organization {
			continue
		}
		var org transfer.LinkedInOrganization
		if err := l.get(ctx, "/rest/organizations/"+url.PathEscape(id), accessToken, &org); err != nil {
			zap.L().Warn("linkedin organization lookup failed", zap.String("organization", el.Organization), zap.Error(err))
			continue
		}
		orgs = append(orgs, &org)
	}
	return orgs, nil
}

func (l *LinkedIn) Refresh(ctx context.Context, _, refreshToken string) (*transfer.TokenSet, error) {
	return refreshWith(ctx, l.opts, l.oauth, l.Platform(), refreshToken)
}

func (l *LinkedIn) ValidateToken(ctx context.Context, accessToken string) error {
	if _, err := l.userInfo(ctx, accessToken); err != nil {
		return exchangeError(l.Platform(), err)
	}
	return nil
}

func (l *LinkedIn) RevokeToken(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("client_id", l.oauth.ClientID)
	form.Set("client_secret", l.oauth.ClientSecret)
	form.Set("token", accessToken)

	req, err := utils.NewFormRequest(ctx, http.MethodPost, l.oauthURL+"/revoke", form)
	if err != nil {
		return err
	}
	return utils.DoJSON(l.opts.client(), req, nil)
}

func (l *LinkedIn) userInfo(ctx context.Context, accessToken string) (*transfer.LinkedInUserInfo, error) {
	var info transfer.LinkedInUserInfo
	if err := l.get(ctx, "/v2/userinfo", accessToken, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (l *LinkedIn) get(ctx context.Context, pathAndQuery, accessToken string, out any) error {
	req, err := utils.NewJSONRequest(ctx, http.MethodGet, l.apiURL+pathAndQuery, nil)
	if err != nil {
		return err
	}
	bearer(req, accessToken)
	req.Header.Set("LinkedIn-Version", linkedInVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	return utils.DoJSON(l.opts.client(), req, out)
}
