package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const linkedInAPIURL = "https://api.linkedin.com"

// LinkedIn shares through the UGC API. Text posts and image posts use
// different payloads, and each image must be registered and uploaded before
// the share can reference it.
type LinkedIn struct {
	opts   Options
	apiURL string
}

func NewLinkedIn(opts Options) *LinkedIn {
	return &LinkedIn{opts: opts, apiURL: opts.endpoint(linkedInAPIURL, "")}
}

func (l *LinkedIn) Platform() models.Platform { return models.PlatformLinkedIn }

func (l *LinkedIn) Publish(ctx context.Context, req *transfer.PublishRequest) (*transfer.PublishResult, error) {
	text := ExtractTextContent(req.Content)

	if err := checkLimits(l.Platform(), req, text); err != nil {
		return nil, err
	}
	if err := validateAll(ctx, l.opts.client(), l.Platform(), req.MediaItems); err != nil {
		return nil, err
	}

	author := req.PlatformData.String("author_urn")
	if author == "" {
		author = "urn:li:person:" + req.PlatformUserID
	}

	share := map[string]any{
		"shareCommentary":    map[string]string{"text": text},
		"shareMediaCategory": "NONE",
	}

	if len(req.MediaItems) > 0 {
		media := make([]map[string]any, 0, len(req.MediaItems))
		for _, m := range req.MediaItems {
			asset, err := l.uploadImage(ctx, req.AccessToken, author, m)
			if err != nil {
				return nil, err
			}
			media = append(media, map[string]any{"status": "READY", "media": asset})
		}
		share["shareMediaCategory"] = "IMAGE"
		share["media"] = media
	}

	payload := map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": share,
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	id, err := l.createShare(ctx, req.AccessToken, payload)
	if err != nil {
		return nil, err
	}
	return success(id, "https://www.linkedin.com/feed/update/"+url.PathEscape(id)), nil
}

func (l *LinkedIn) createShare(ctx context.Context, accessToken string, payload map[string]any) (string, error) {
	httpReq, err := utils.NewJSONRequest(ctx, http.MethodPost, l.apiURL+"/v2/ugcPosts", payload)
	if err != nil {
		return "", err
	}
	l.headers(httpReq, accessToken)

	resp, err := l.opts.client().Do(httpReq)
	if err != nil {
		return "", vendorError(l.Platform(), "create share", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", vendorError(l.Platform(), "create share", &utils.HTTPError{
			Method: httpReq.Method, URL: httpReq.URL.String(), StatusCode: resp.StatusCode, Body: string(body),
		})
	}

	// the share URN comes back in a header, older versions echo it in the body
	if id := resp.Header.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", apperror.New(apperror.KindVendorPublishFailure, "share created without an id").WithPlatform(l.Platform().String())
	}
	return out.ID, nil
}

// uploadImage registers an upload for owner and PUTs the image bytes to the
// returned URL. It returns the digital media asset URN.
func (l *LinkedIn) uploadImage(ctx context.Context, accessToken, owner, mediaURL string) (string, error) {
	var reg transfer.LinkedInRegisterUploadRequest
	reg.RegisterUploadRequest.Recipes = []string{"urn:li:digitalmediaRecipe:feedshare-image"}
	reg.RegisterUploadRequest.Owner = owner
	reg.RegisterUploadRequest.ServiceRelationships = []struct {
		RelationshipType string `json:"relationshipType"`
		Identifier       string `json:"identifier"`
	}{{RelationshipType: "OWNER", Identifier: "urn:li:userGeneratedContent"}}

	httpReq, err := utils.NewJSONRequest(ctx, http.MethodPost, l.apiURL+"/v2/assets?action=registerUpload", reg)
	if err != nil {
		return "", err
	}
	l.headers(httpReq, accessToken)

	var out transfer.LinkedInRegisterUploadResponse
	if err := utils.DoJSON(l.opts.client(), httpReq, &out); err != nil {
		return "", vendorError(l.Platform(), "register image upload", err)
	}
	uploadURL := out.Value.UploadMechanism.Request.UploadURL
	if uploadURL == "" || out.Value.Asset == "" {
		return "", apperror.New(apperror.KindVendorPublishFailure, "register upload returned no upload URL").WithPlatform(l.Platform().String())
	}

	data, contentType, err := downloadMedia(ctx, l.opts.client(), l.Platform(), mediaURL)
	if err != nil {
		return "", err
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	put.Header.Set("Authorization", "Bearer "+accessToken)
	put.Header.Set("Content-Type", contentType)

	if err := utils.DoJSON(l.opts.client(), put, nil); err != nil {
		return "", vendorError(l.Platform(), "upload image bytes", err)
	}
	return out.Value.Asset, nil
}

func (l *LinkedIn) headers(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
}
