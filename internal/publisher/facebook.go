package publisher

import (
	"context"
	"net/http"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const facebookGraphURL = "https://graph.facebook.com/v21.0"

// Facebook publishes to a Page with the page access token. It is the only
// platform with native scheduling.
type Facebook struct {
	opts     Options
	graphURL string
}

func NewFacebook(opts Options) *Facebook {
	return &Facebook{opts: opts, graphURL: opts.endpoint(facebookGraphURL, "/v21.0")}
}

func (f *Facebook) Platform() models.Platform { return models.PlatformFacebook }

func (f *Facebook) Publish(ctx context.Context, req *transfer.PublishRequest) (*transfer.PublishResult, error) {
	text := ExtractTextContent(req.Content)

	// The lead check comes first so a too-soon schedule never reaches the API.
	if req.ScheduledFor != nil {
		lead := f.Platform().Capabilities().MinScheduleLead
		if req.ScheduledFor.Sub(f.opts.now()) < lead {
			return nil, apperror.New(apperror.KindSchedulingTooSoon,
				"scheduled time must be at least %d minutes in the future", int(lead.Minutes())).WithPlatform(f.Platform().String())
		}
	}
	if err := checkLimits(f.Platform(), req, text); err != nil {
		return nil, err
	}
	if text == "" && len(req.MediaItems) == 0 {
		return nil, apperror.New(apperror.KindInvalid, "post has no text or media").WithPlatform(f.Platform().String())
	}
	if err := validateAll(ctx, f.opts.client(), f.Platform(), req.MediaItems); err != nil {
		return nil, err
	}

	var (
		out transfer.GraphID
		err error
	)
	switch {
	case len(req.MediaItems) == 0:
		out, err = f.feed(ctx, req, text, nil)
	case len(req.MediaItems) == 1 && ClassifyMedia(req.MediaItems[0]) == MediaVideo:
		out, err = f.video(ctx, req, text)
	case len(req.MediaItems) == 1:
		out, err = f.photo(ctx, req, text)
	default:
		out, err = f.album(ctx, req, text)
	}
	if err != nil {
		return nil, err
	}

	id := out.PostID
	if id == "" {
		id = out.ID
	}
	return success(id, "https://www.facebook.com/"+id), nil
}

func (f *Facebook) feed(ctx context.Context, req *transfer.PublishRequest, text string, photoIDs []string) (transfer.GraphID, error) {
	payload := map[string]any{"access_token": req.AccessToken}
	if text != "" {
		payload["message"] = text
	}
	if len(photoIDs) > 0 {
		attached := make([]map[string]string, 0, len(photoIDs))
		for _, id := range photoIDs {
			attached = append(attached, map[string]string{"media_fbid": id})
		}
		payload["attached_media"] = attached
	}
	f.schedule(payload, req)

	return f.post(ctx, "/"+req.PlatformUserID+"/feed", payload, "create feed post")
}

func (f *Facebook) photo(ctx context.Context, req *transfer.PublishRequest, text string) (transfer.GraphID, error) {
	payload := map[string]any{
		"url":          req.MediaItems[0],
		"access_token": req.AccessToken,
	}
	if text != "" {
		payload["caption"] = text
	}
	f.schedule(payload, req)

	return f.post(ctx, "/"+req.PlatformUserID+"/photos", payload, "upload photo")
}

func (f *Facebook) video(ctx context.Context, req *transfer.PublishRequest, text string) (transfer.GraphID, error) {
	payload := map[string]any{
		"file_url":     req.MediaItems[0],
		"access_token": req.AccessToken,
	}
	if text != "" {
		payload["description"] = text
	}
	f.schedule(payload, req)

	return f.post(ctx, "/"+req.PlatformUserID+"/videos", payload, "upload video")
}

// album uploads every photo unpublished, then attaches them all to one feed
// post.
func (f *Facebook) album(ctx context.Context, req *transfer.PublishRequest, text string) (transfer.GraphID, error) {
	ids := make([]string, 0, len(req.MediaItems))
	for i, m := range req.MediaItems {
		if ClassifyMedia(m) == MediaVideo {
			return transfer.GraphID{}, apperror.New(apperror.KindNotSupported, "videos cannot be combined with other media").
				WithPlatform(f.Platform().String())
		}

		payload := map[string]any{
			"url":          m,
			"published":    false,
			"access_token": req.AccessToken,
		}
		// scheduled posts need the photos to outlive the unpublished window
		if req.ScheduledFor != nil {
			payload["temporary"] = true
		}

		out, err := f.post(ctx, "/"+req.PlatformUserID+"/photos", payload, stepf("upload album photo %d", i+1))
		if err != nil {
			return transfer.GraphID{}, err
		}
		ids = append(ids, out.ID)
	}

	return f.feed(ctx, req, text, ids)
}

func (f *Facebook) schedule(payload map[string]any, req *transfer.PublishRequest) {
	if req.ScheduledFor == nil {
		return
	}
	payload["published"] = false
	payload["scheduled_publish_time"] = req.ScheduledFor.Unix()
}

func (f *Facebook) post(ctx context.Context, path string, payload map[string]any, step string) (transfer.GraphID, error) {
	var out transfer.GraphID

	httpReq, err := utils.NewJSONRequest(ctx, http.MethodPost, f.graphURL+path, payload)
	if err != nil {
		return out, err
	}
	if err := utils.DoJSON(f.opts.client(), httpReq, &out); err != nil {
		return out, vendorError(f.Platform(), step, err)
	}
	if out.ID == "" && out.PostID == "" {
		return out, apperror.New(apperror.KindVendorPublishFailure, "%s returned no id", step).WithPlatform(f.Platform().String())
	}
	return out, nil
}
