package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

// Publisher performs one platform publish for one target. A nil error means
// the returned result succeeded.
type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, req *transfer.PublishRequest) (*transfer.PublishResult, error)
}

type Options struct {
	HTTPClient *http.Client
	UserAgent  string
	// BaseURL replaces every vendor host when set.
	BaseURL string

	PollInterval time.Duration
	PollAttempts int

	Now func() time.Time
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

func (o Options) endpoint(def, path string) string {
	if o.BaseURL == "" {
		return def
	}
	return strings.TrimRight(o.BaseURL, "/") + path
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

type Registry struct {
	publishers map[models.Platform]Publisher
}

func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[models.Platform]Publisher, len(publishers))}
	for _, p := range publishers {
		r.publishers[p.Platform()] = p
	}
	return r
}

// NewDefaultRegistry wires every platform that has a publisher.
func NewDefaultRegistry(cfg *config.Config, opts Options) *Registry {
	if opts.UserAgent == "" {
		opts.UserAgent = cfg.UserAgent
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = cfg.Publishing.PollInterval.Duration
	}
	if opts.PollAttempts == 0 {
		opts.PollAttempts = cfg.Publishing.PollAttempts
	}

	return NewRegistry(
		NewFacebook(opts),
		NewInstagram(opts),
		NewLinkedIn(opts),
		NewTwitter(opts),
		NewReddit(opts),
	)
}

func (r *Registry) Get(p models.Platform) (Publisher, error) {
	pub, ok := r.publishers[p]
	if !ok {
		return nil, apperror.New(apperror.KindNotSupported, "publishing to %s is not supported", p.Key()).WithPlatform(p.String())
	}
	return pub, nil
}

// checkLimits enforces the capability table before any vendor call.
func checkLimits(p models.Platform, req *transfer.PublishRequest, text string) error {
	caps := p.Capabilities()

	if req.ScheduledFor != nil && !caps.NativeScheduling {
		return apperror.New(apperror.KindNotSupported, "%s does not support native scheduling", p.Key()).WithPlatform(p.String())
	}
	if len(req.MediaItems) > caps.MaxMediaItems {
		return apperror.New(apperror.KindTooManyItems, "maximum of %d items", caps.MaxMediaItems).WithPlatform(p.String())
	}
	if caps.RequiresMedia && len(req.MediaItems) == 0 {
		return apperror.New(apperror.KindInvalid, "at least one image or video is required").WithPlatform(p.String())
	}
	if caps.MaxTextLength > 0 && len([]rune(text)) > caps.MaxTextLength {
		return apperror.New(apperror.KindInvalid, "text exceeds %d characters", caps.MaxTextLength).WithPlatform(p.String())
	}
	if !caps.SupportsVideo {
		for _, m := range req.MediaItems {
			if ClassifyMedia(m) == MediaVideo {
				return apperror.New(apperror.KindNotSupported, "video is not supported").WithPlatform(p.String())
			}
		}
	}
	return nil
}

// vendorError converts a failed vendor call into a VendorPublishFailure. A 401
// means the stored token is dead.
func vendorError(p models.Platform, step string, err error) error {
	var he *utils.HTTPError
	if errors.As(err, &he) {
		if he.StatusCode == http.StatusUnauthorized {
			return apperror.Wrap(apperror.KindMissingCredential, err, "access token rejected, reconnect the account").
				WithPlatform(p.String()).WithBody(he.Body)
		}
		return apperror.Wrap(apperror.KindVendorPublishFailure, err, "%s failed (status %d)", step, he.StatusCode).
			WithPlatform(p.String()).WithBody(he.Body)
	}
	if ae, ok := apperror.As(err); ok {
		return ae
	}
	return apperror.Wrap(apperror.KindVendorPublishFailure, err, "%s failed", step).WithPlatform(p.String())
}

func success(id, url string) *transfer.PublishResult {
	return &transfer.PublishResult{Success: true, PlatformPostID: id, PlatformPostURL: url}
}

func stepf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
