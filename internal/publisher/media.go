package publisher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/h2non/filetype"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
)

type MediaKind int

const (
	MediaUnknown MediaKind = iota
	MediaImage
	MediaVideo
)

// maxMediaBytes caps downloads for platforms that need the raw bytes.
const maxMediaBytes = 50 << 20

// ClassifyMedia guesses image or video from the URL's file extension.
// Extension-less URLs are treated as images.
func ClassifyMedia(rawURL string) MediaKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return MediaUnknown
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if ext == "" {
		return MediaImage
	}

	kind := filetype.GetType(ext)
	switch kind.MIME.Type {
	case "video":
		return MediaVideo
	case "image":
		return MediaImage
	}
	return MediaUnknown
}

// ValidateMediaURL checks that a media URL is reachable. A HEAD is tried first. Servers
// that refuse HEAD get a one-byte ranged GET.
func ValidateMediaURL(ctx context.Context, client *http.Client, p models.Platform, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperror.New(apperror.KindMediaUnreachable, "invalid media URL %q", rawURL).WithPlatform(p.String())
	}

	status, err := fetchStatus(ctx, client, http.MethodHead, rawURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusForbidden) {
		status, err = fetchStatus(ctx, client, http.MethodGet, rawURL)
	}
	if err != nil {
		return apperror.Wrap(apperror.KindMediaUnreachable, err, "media %s could not be reached", rawURL).WithPlatform(p.String())
	}
	if status < 200 || status > 299 {
		return apperror.New(apperror.KindMediaUnreachable, "media %s returned status %d", rawURL, status).WithPlatform(p.String())
	}
	return nil
}

func fetchStatus(ctx context.Context, client *http.Client, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))

	return resp.StatusCode, nil
}

func validateAll(ctx context.Context, client *http.Client, p models.Platform, urls []string) error {
	for _, m := range urls {
		if err := ValidateMediaURL(ctx, client, p, m); err != nil {
			return err
		}
	}
	return nil
}

// downloadMedia fetches a media file and sniffs its MIME type from the bytes.
func downloadMedia(ctx context.Context, client *http.Client, p models.Platform, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", apperror.Wrap(apperror.KindMediaUnreachable, err, "invalid media URL").WithPlatform(p.String())
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", apperror.Wrap(apperror.KindMediaUnreachable, err, "media %s could not be reached", rawURL).WithPlatform(p.String())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", apperror.New(apperror.KindMediaUnreachable, "media %s returned status %d", rawURL, resp.StatusCode).WithPlatform(p.String())
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", apperror.New(apperror.KindInvalid, "media %s is larger than %d bytes", rawURL, maxMediaBytes).WithPlatform(p.String())
	}

	contentType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}
	return data, contentType, nil
}
