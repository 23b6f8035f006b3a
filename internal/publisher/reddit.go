package publisher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const (
	redditOAuthAPI = "https://oauth.reddit.com"
	redditMaxTitle = 300
)

// Reddit submits to the account's own profile subreddit (u_<username>). A
// preflight identity call both validates the token and resolves the name.
type Reddit struct {
	opts   Options
	apiURL string
}

func NewReddit(opts Options) *Reddit {
	return &Reddit{opts: opts, apiURL: opts.endpoint(redditOAuthAPI, "")}
}

func (r *Reddit) Platform() models.Platform { return models.PlatformReddit }

func (r *Reddit) Publish(ctx context.Context, req *transfer.PublishRequest) (*transfer.PublishResult, error) {
	text := ExtractTextContent(req.Content)

	if err := checkLimits(r.Platform(), req, text); err != nil {
		return nil, err
	}

	title := extractField(req.Content, "title")
	if title == "" {
		title = firstLine(text)
	}
	title = truncate(title, redditMaxTitle)
	if title == "" {
		return nil, apperror.New(apperror.KindInvalid, "a title or text is required").WithPlatform(r.Platform().String())
	}

	if err := validateAll(ctx, r.opts.client(), r.Platform(), req.MediaItems); err != nil {
		return nil, err
	}

	user, err := r.me(ctx, req.AccessToken)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("sr", "u_"+user.Name)
	form.Set("title", title)
	form.Set("resubmit", "true")
	if len(req.MediaItems) == 1 {
		form.Set("kind", "link")
		form.Set("url", req.MediaItems[0])
	} else {
		form.Set("kind", "self")
		form.Set("text", text)
	}

	httpReq, err := utils.NewFormRequest(ctx, http.MethodPost, r.apiURL+"/api/submit", form)
	if err != nil {
		return nil, err
	}
	r.headers(httpReq, req.AccessToken)

	var out transfer.RedditSubmitResponse
	if err := utils.DoJSON(r.opts.client(), httpReq, &out); err != nil {
		return nil, vendorError(r.Platform(), "submit post", err)
	}
	if len(out.JSON.Errors) > 0 {
		return nil, apperror.New(apperror.KindVendorPublishFailure, "submit rejected: %v", out.JSON.Errors[0]).
			WithPlatform(r.Platform().String())
	}

	id := out.JSON.Data.Name
	if id == "" {
		id = out.JSON.Data.ID
	}
	return success(id, out.JSON.Data.URL), nil
}

func (r *Reddit) me(ctx context.Context, accessToken string) (*transfer.RedditUser, error) {
	httpReq, err := utils.NewJSONRequest(ctx, http.MethodGet, r.apiURL+"/api/v1/me", nil)
	if err != nil {
		return nil, err
	}
	r.headers(httpReq, accessToken)

	var user transfer.RedditUser
	if err := utils.DoJSON(r.opts.client(), httpReq, &user); err != nil {
		return nil, vendorError(r.Platform(), "verify account", err)
	}
	if user.Name == "" {
		return nil, apperror.New(apperror.KindVendorPublishFailure, "identity lookup returned no username").WithPlatform(r.Platform().String())
	}
	return &user, nil
}

func (r *Reddit) headers(req *http.Request, accessToken string) {
	bearerAuth(req, accessToken)
	if r.opts.UserAgent != "" {
		req.Header.Set("User-Agent", fmt.Sprintf("%s (by crosspost)", r.opts.UserAgent))
	}
}
