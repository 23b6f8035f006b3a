package publisher

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"go.uber.org/zap"
)

const instagramGraphURL = "https://graph.instagram.com/v21.0"

// Container status codes returned by the Graph API.
const (
	containerInProgress = "IN_PROGRESS"
	containerFinished   = "FINISHED"
	containerPublished  = "PUBLISHED"
	containerError      = "ERROR"
	containerExpired    = "EXPIRED"
)

// Instagram publishes through media containers: create, wait until the
// container is FINISHED, then media_publish. Carousels wrap child containers
// in a parent container.
type Instagram struct {
	opts     Options
	graphURL string
}

func NewInstagram(opts Options) *Instagram {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 20
	}
	return &Instagram{opts: opts, graphURL: opts.endpoint(instagramGraphURL, "/v21.0")}
}

func (ig *Instagram) Platform() models.Platform { return models.PlatformInstagram }

func (ig *Instagram) Publish(ctx context.Context, req *transfer.PublishRequest) (*transfer.PublishResult, error) {
	caption := ExtractTextContent(req.Content)

	if err := checkLimits(ig.Platform(), req, caption); err != nil {
		return nil, err
	}
	if err := validateAll(ctx, ig.opts.client(), ig.Platform(), req.MediaItems); err != nil {
		return nil, err
	}

	var (
		containerID string
		err         error
	)
	if len(req.MediaItems) == 1 {
		containerID, err = ig.single(ctx, req, caption)
	} else {
		containerID, err = ig.carousel(ctx, req, caption)
	}
	if err != nil {
		return nil, err
	}

	mediaID, err := ig.publish(ctx, req, containerID)
	if err != nil {
		return nil, err
	}

	return success(mediaID, ig.permalink(ctx, req.AccessToken, mediaID)), nil
}

func (ig *Instagram) single(ctx context.Context, req *transfer.PublishRequest, caption string) (string, error) {
	payload := mediaPayload(req.MediaItems[0])
	payload["caption"] = caption

	id, err := ig.createContainer(ctx, req, payload)
	if err != nil {
		return "", err
	}
	if err := ig.waitForContainer(ctx, req.AccessToken, id); err != nil {
		return "", err
	}
	return id, nil
}

func (ig *Instagram) carousel(ctx context.Context, req *transfer.PublishRequest, caption string) (string, error) {
	children := make([]string, 0, len(req.MediaItems))
	for _, m := range req.MediaItems {
		payload := mediaPayload(m)
		payload["is_carousel_item"] = true

		id, err := ig.createContainer(ctx, req, payload)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	for _, id := range children {
		if err := ig.waitForContainer(ctx, req.AccessToken, id); err != nil {
			return "", err
		}
	}

	parent, err := ig.createContainer(ctx, req, map[string]any{
		"media_type": "CAROUSEL",
		"children":   strings.Join(children, ","),
		"caption":    caption,
	})
	if err != nil {
		return "", err
	}
	if err := ig.waitForContainer(ctx, req.AccessToken, parent); err != nil {
		return "", err
	}
	return parent, nil
}

func mediaPayload(mediaURL string) map[string]any {
	if ClassifyMedia(mediaURL) == MediaVideo {
		return map[string]any{"media_type": "REELS", "video_url": mediaURL}
	}
	return map[string]any{"image_url": mediaURL}
}

func (ig *Instagram) createContainer(ctx context.Context, req *transfer.PublishRequest, payload map[string]any) (string, error) {
	payload["access_token"] = req.AccessToken

	httpReq, err := utils.NewJSONRequest(ctx, http.MethodPost, ig.graphURL+"/"+req.PlatformUserID+"/media", payload)
	if err != nil {
		return "", err
	}

	var out transfer.GraphID
	if err := utils.DoJSON(ig.opts.client(), httpReq, &out); err != nil {
		return "", vendorError(ig.Platform(), "create media container", err)
	}
	if out.ID == "" {
		return "", apperror.New(apperror.KindVendorPublishFailure, "no media ID returned from Instagram").WithPlatform(ig.Platform().String())
	}
	return out.ID, nil
}

// waitForContainer polls until the container is FINISHED. Running out of
// attempts is a terminal failure.
func (ig *Instagram) waitForContainer(ctx context.Context, accessToken, containerID string) error {
	params := url.Values{}
	params.Set("fields", "status_code,status")
	params.Set("access_token", accessToken)
	endpoint := ig.graphURL + "/" + containerID + "?" + params.Encode()

	for attempt := 1; attempt <= ig.opts.PollAttempts; attempt++ {
		httpReq, err := utils.NewJSONRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		var status transfer.InstagramContainerStatus
		if err := utils.DoJSON(ig.opts.client(), httpReq, &status); err != nil {
			return vendorError(ig.Platform(), "check container status", err)
		}

		switch status.StatusCode {
		case containerFinished, containerPublished:
			return nil
		case containerError, containerExpired:
			return apperror.New(apperror.KindVendorPublishFailure, "media container %s: %s %s",
				containerID, strings.ToLower(status.StatusCode), status.Status).WithPlatform(ig.Platform().String())
		}

		if attempt == ig.opts.PollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return apperror.Wrap(apperror.KindVendorPublishFailure, ctx.Err(), "waiting for media container %s", containerID).
				WithPlatform(ig.Platform().String())
		case <-time.After(ig.opts.PollInterval):
		}
	}

	return apperror.New(apperror.KindVendorPublishFailure, "media container %s was not ready after %d checks",
		containerID, ig.opts.PollAttempts).WithPlatform(ig.Platform().String())
}

func (ig *Instagram) publish(ctx context.Context, req *transfer.PublishRequest, containerID string) (string, error) {
	payload := map[string]any{
		"creation_id":  containerID,
		"access_token": req.AccessToken,
	}

	httpReq, err := utils.NewJSONRequest(ctx, http.MethodPost, ig.graphURL+"/"+req.PlatformUserID+"/media_publish", payload)
	if err != nil {
		return "", err
	}

	var out transfer.GraphID
	if err := utils.DoJSON(ig.opts.client(), httpReq, &out); err != nil {
		return "", vendorError(ig.Platform(), "publish media", err)
	}
	if out.ID == "" {
		return "", apperror.New(apperror.KindVendorPublishFailure, "publish returned no media ID").WithPlatform(ig.Platform().String())
	}
	return out.ID, nil
}

// permalink is best effort. The post is already live when it runs.
func (ig *Instagram) permalink(ctx context.Context, accessToken, mediaID string) string {
	params := url.Values{}
	params.Set("fields", "permalink")
	params.Set("access_token", accessToken)

	httpReq, err := utils.NewJSONRequest(ctx, http.MethodGet, ig.graphURL+"/"+mediaID+"?"+params.Encode(), nil)
	if err != nil {
		return ""
	}

	var media transfer.InstagramMedia
	if err := utils.DoJSON(ig.opts.client(), httpReq, &media); err != nil {
		zap.L().Info("instagram permalink lookup failed", zap.String("media_id", mediaID), zap.Error(err))
		return ""
	}
	return media.Permalink
}
