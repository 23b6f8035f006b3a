package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const twitterAPIURL = "https://api.twitter.com"

// Twitter posts through API v2 with the user's OAuth 2.0 token.
type Twitter struct {
	opts   Options
	apiURL string
}

func NewTwitter(opts Options) *Twitter {
	return &Twitter{opts: opts, apiURL: opts.endpoint(twitterAPIURL, "")}
}

func (t *Twitter) Platform() models.Platform { return models.PlatformTwitter }

func (t *Twitter) Publish(ctx context.Context, req *transfer.PublishRequest) (*transfer.PublishResult, error) {
	text := ExtractTextContent(req.Content)

	if err := checkLimits(t.Platform(), req, text); err != nil {
		return nil, err
	}
	if text == "" && len(req.MediaItems) == 0 {
		return nil, apperror.New(apperror.KindInvalid, "tweet has no text or media").WithPlatform(t.Platform().String())
	}
	if err := validateAll(ctx, t.opts.client(), t.Platform(), req.MediaItems); err != nil {
		return nil, err
	}

	// preflight confirms the token is alive and gives the handle for the URL
	user, err := t.me(ctx, req.AccessToken)
	if err != nil {
		return nil, err
	}

	tweet := transfer.TwitterCreateTweet{Text: text}
	if len(req.MediaItems) > 0 {
		ids := make([]string, 0, len(req.MediaItems))
		for _, m := range req.MediaItems {
			id, err := t.uploadMedia(ctx, req.AccessToken, m)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		tweet.Media = &transfer.TwitterTweetMedia{MediaIDs: ids}
	}

	httpReq, err := utils.NewJSONRequest(ctx, http.MethodPost, t.apiURL+"/2/tweets", tweet)
	if err != nil {
		return nil, err
	}
	bearerAuth(httpReq, req.AccessToken)

	var out transfer.TwitterTweet
	if err := utils.DoJSON(t.opts.client(), httpReq, &out); err != nil {
		return nil, t.tweetError(err)
	}

	return success(out.Data.ID, fmt.Sprintf("https://twitter.com/%s/status/%s", user.Data.Username, out.Data.ID)), nil
}

func (t *Twitter) me(ctx context.Context, accessToken string) (*transfer.TwitterUser, error) {
	httpReq, err := utils.NewJSONRequest(ctx, http.MethodGet, t.apiURL+"/2/users/me", nil)
	if err != nil {
		return nil, err
	}
	bearerAuth(httpReq, accessToken)

	var user transfer.TwitterUser
	if err := utils.DoJSON(t.opts.client(), httpReq, &user); err != nil {
		return nil, vendorError(t.Platform(), "verify account", err)
	}
	return &user, nil
}

func (t *Twitter) uploadMedia(ctx context.Context, accessToken, mediaURL string) (string, error) {
	data, contentType, err := downloadMedia(ctx, t.opts.client(), t.Platform(), mediaURL)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("media_category", "tweet_image"); err != nil {
		return "", err
	}
	if err := w.WriteField("media_type", contentType); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("media", "upload")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/2/media/upload", &body)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	bearerAuth(httpReq, accessToken)

	var out transfer.TwitterMediaUpload
	if err := utils.DoJSON(t.opts.client(), httpReq, &out); err != nil {
		return "", vendorError(t.Platform(), "upload media", err)
	}

	id := out.Data.ID
	if id == "" {
		id = out.MediaIDString
	}
	if id == "" {
		return "", apperror.New(apperror.KindVendorPublishFailure, "media upload returned no id").WithPlatform(t.Platform().String())
	}
	return id, nil
}

// tweetError tells a duplicate tweet apart from an app without write access.
// Twitter answers both with 403.
func (t *Twitter) tweetError(err error) error {
	var he *utils.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusForbidden {
		return vendorError(t.Platform(), "create tweet", err)
	}

	var problem transfer.TwitterProblem
	_ = json.Unmarshal([]byte(he.Body), &problem)
	detail := strings.ToLower(problem.Detail + " " + he.Body)

	if strings.Contains(detail, "duplicate") {
		return apperror.Wrap(apperror.KindVendorPublishFailure, err,
			"Twitter rejected this post as duplicate content, change the text and try again").
			WithPlatform(t.Platform().String()).WithBody(he.Body)
	}
	return apperror.Wrap(apperror.KindInsufficientScope, err,
		"the Twitter app is not permitted to post for this account, reconnect to regrant write access").
		WithPlatform(t.Platform().String()).WithBody(he.Body)
}

func bearerAuth(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}
