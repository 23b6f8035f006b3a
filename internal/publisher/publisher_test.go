package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 64)...)

// fakeVendor serves media under /media/ and counts every other request.
type fakeVendor struct {
	*httptest.Server
	mux   *http.ServeMux
	calls atomic.Int32
}

func newFakeVendor(t *testing.T) *fakeVendor {
	t.Helper()
	f := &fakeVendor{mux: http.NewServeMux()}
	f.mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if r.Method == http.MethodGet {
			_, _ = w.Write(pngBytes)
		}
	})
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/media/") {
			f.calls.Add(1)
		}
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeVendor) opts() Options {
	return Options{
		HTTPClient:   f.Client(),
		BaseURL:      f.URL,
		PollInterval: time.Millisecond,
		PollAttempts: 3,
		UserAgent:    "crosspost-test/1.0",
	}
}

func (f *fakeVendor) media(name string) string {
	return f.URL + "/media/" + name
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

func TestExtractTextContent(t *testing.T) {
	tests := []struct {
		name    string
		content any
		want    string
	}{
		{"string", "hello", "hello"},
		{"caption first", map[string]any{"text": "t", "caption": "c"}, "c"},
		{"text", map[string]any{"text": "t", "body": "b"}, "t"},
		{"message", map[string]any{"message": "m"}, "m"},
		{"body", map[string]any{"body": "b"}, "b"},
		{"empty caption skipped", map[string]any{"caption": "", "body": "b"}, "b"},
		{"none", map[string]any{"title": "x"}, ""},
		{"nil", nil, ""},
		{"number", 42.0, ""},
		{"raw json", json.RawMessage(`{"message":"raw"}`), "raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTextContent(tt.content))
		})
	}
}

func TestClassifyMedia(t *testing.T) {
	assert.Equal(t, MediaImage, ClassifyMedia("https://cdn.example.com/a/photo.JPG"))
	assert.Equal(t, MediaVideo, ClassifyMedia("https://cdn.example.com/clip.mp4?sig=1"))
	assert.Equal(t, MediaImage, ClassifyMedia("https://cdn.example.com/object"))
}

func TestValidateMediaURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.WriteHeader(http.StatusOK)
		case "/nohead.png":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
			w.WriteHeader(http.StatusPartialContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	assert.NoError(t, ValidateMediaURL(ctx, srv.Client(), models.PlatformFacebook, srv.URL+"/ok.png"))
	assert.NoError(t, ValidateMediaURL(ctx, srv.Client(), models.PlatformFacebook, srv.URL+"/nohead.png"))

	err := ValidateMediaURL(ctx, srv.Client(), models.PlatformFacebook, srv.URL+"/gone.png")
	assert.True(t, errors.Is(err, apperror.ErrMediaUnreachable))

	err = ValidateMediaURL(ctx, srv.Client(), models.PlatformFacebook, "ftp://example.com/a.png")
	assert.True(t, errors.Is(err, apperror.ErrMediaUnreachable))
}

func TestFacebookSchedulingTooSoonMakesNoCall(t *testing.T) {
	f := newFakeVendor(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	opts := f.opts()
	opts.Now = func() time.Time { return now }

	at := now.Add(9 * time.Minute)
	_, err := NewFacebook(opts).Publish(context.Background(), &transfer.PublishRequest{
		Platform:       models.PlatformFacebook,
		Content:        "hello",
		AccessToken:    "page-token",
		PlatformUserID: "page1",
		ScheduledFor:   &at,
	})

	assert.True(t, errors.Is(err, apperror.ErrSchedulingTooSoon))
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestFacebookNativeSchedule(t *testing.T) {
	f := newFakeVendor(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := now.Add(time.Hour)

	f.mux.HandleFunc("/v21.0/page1/feed", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "hello", body["message"])
		assert.Equal(t, false, body["published"])
		assert.Equal(t, float64(at.Unix()), body["scheduled_publish_time"])
		writeJSON(w, map[string]string{"id": "page1_99"})
	})

	opts := f.opts()
	opts.Now = func() time.Time { return now }
	res, err := NewFacebook(opts).Publish(context.Background(), &transfer.PublishRequest{
		Content:        map[string]any{"message": "hello"},
		AccessToken:    "page-token",
		PlatformUserID: "page1",
		ScheduledFor:   &at,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "page1_99", res.PlatformPostID)
}

func TestFacebookAlbum(t *testing.T) {
	f := newFakeVendor(t)
	var photos atomic.Int32

	f.mux.HandleFunc("/v21.0/page1/photos", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, false, body["published"])
		n := photos.Add(1)
		writeJSON(w, map[string]string{"id": "photo" + string(rune('0'+n))})
	})
	f.mux.HandleFunc("/v21.0/page1/feed", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		attached, ok := body["attached_media"].([]any)
		require.True(t, ok)
		assert.Len(t, attached, 2)
		writeJSON(w, map[string]string{"id": "page1_1"})
	})

	res, err := NewFacebook(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:        "album",
		MediaItems:     []string{f.media("a.png"), f.media("b.png")},
		AccessToken:    "page-token",
		PlatformUserID: "page1",
	})
	require.NoError(t, err)
	assert.Equal(t, "page1_1", res.PlatformPostID)
	assert.Equal(t, int32(2), photos.Load())
}

func TestFacebookUnreachableMediaMakesNoCall(t *testing.T) {
	f := newFakeVendor(t)

	_, err := NewFacebook(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:        "x",
		MediaItems:     []string{f.media("missing.png")},
		AccessToken:    "t",
		PlatformUserID: "page1",
	})
	assert.True(t, errors.Is(err, apperror.ErrMediaUnreachable))
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestNonNativePlatformsRefuseScheduledPublish(t *testing.T) {
	f := newFakeVendor(t)
	at := time.Now().Add(24 * time.Hour)

	for _, pub := range []Publisher{NewInstagram(f.opts()), NewLinkedIn(f.opts()), NewTwitter(f.opts()), NewReddit(f.opts())} {
		t.Run(pub.Platform().String(), func(t *testing.T) {
			_, err := pub.Publish(context.Background(), &transfer.PublishRequest{
				Content:      "later",
				MediaItems:   []string{f.media("a.png")},
				AccessToken:  "t",
				ScheduledFor: &at,
			})
			assert.True(t, errors.Is(err, apperror.ErrNotSupported), "got %v", err)
		})
	}
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestInstagramCarouselTooManyItems(t *testing.T) {
	f := newFakeVendor(t)

	media := make([]string, 11)
	for i := range media {
		media[i] = f.media("p.png")
	}
	_, err := NewInstagram(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:        "eleven",
		MediaItems:     media,
		AccessToken:    "t",
		PlatformUserID: "ig1",
	})

	require.True(t, errors.Is(err, apperror.ErrTooManyItems))
	assert.Contains(t, err.Error(), "maximum of 10 items")
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestInstagramCarousel(t *testing.T) {
	f := newFakeVendor(t)
	var (
		created atomic.Int32
		mu      sync.Mutex
		polls   = map[string]int{}
	)

	f.mux.HandleFunc("/v21.0/ig1/media", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["media_type"] == "CAROUSEL" {
			assert.Equal(t, "child1,child2", body["children"])
			assert.Equal(t, "two photos", body["caption"])
			writeJSON(w, map[string]string{"id": "parent"})
			return
		}
		assert.Equal(t, true, body["is_carousel_item"])
		n := created.Add(1)
		writeJSON(w, map[string]string{"id": "child" + string(rune('0'+n))})
	})
	f.mux.HandleFunc("/v21.0/ig1/media_publish", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "parent", body["creation_id"])
		writeJSON(w, map[string]string{"id": "media9"})
	})
	f.mux.HandleFunc("/v21.0/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v21.0/")
		if id == "media9" {
			writeJSON(w, map[string]string{"id": "media9", "permalink": "https://instagram.com/p/xyz"})
			return
		}
		mu.Lock()
		polls[id]++
		first := polls[id] == 1
		mu.Unlock()

		status := "FINISHED"
		if first {
			status = "IN_PROGRESS"
		}
		writeJSON(w, map[string]string{"id": id, "status_code": status})
	})

	res, err := NewInstagram(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:        map[string]any{"caption": "two photos"},
		MediaItems:     []string{f.media("a.png"), f.media("b.png")},
		AccessToken:    "t",
		PlatformUserID: "ig1",
	})
	require.NoError(t, err)
	assert.Equal(t, "media9", res.PlatformPostID)
	assert.Equal(t, "https://instagram.com/p/xyz", res.PlatformPostURL)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, polls["parent"])
}

func TestInstagramContainerErrorAndTimeout(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   string
	}{
		{"error", "ERROR", "error"},
		{"expired", "EXPIRED", "expired"},
		{"timeout", "IN_PROGRESS", "not ready after 3 checks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeVendor(t)
			f.mux.HandleFunc("/v21.0/ig1/media", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]string{"id": "c1"})
			})
			f.mux.HandleFunc("/v21.0/c1", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]string{"id": "c1", "status_code": tt.status})
			})
			f.mux.HandleFunc("/v21.0/ig1/media_publish", func(w http.ResponseWriter, r *http.Request) {
				t.Error("publish must not be called")
			})

			_, err := NewInstagram(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
				Content:        "x",
				MediaItems:     []string{f.media("a.png")},
				AccessToken:    "t",
				PlatformUserID: "ig1",
			})
			require.True(t, errors.Is(err, apperror.ErrVendorPublishFailure), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLinkedInImageShare(t *testing.T) {
	f := newFakeVendor(t)
	var uploaded atomic.Bool

	f.mux.HandleFunc("/v2/assets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "registerUpload", r.URL.Query().Get("action"))
		writeJSON(w, map[string]any{"value": map[string]any{
			"asset": "urn:li:digitalmediaAsset:1",
			"uploadMechanism": map[string]any{
				"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest": map[string]any{
					"uploadUrl": f.URL + "/upload/1",
				},
			},
		}})
	})
	f.mux.HandleFunc("/upload/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		uploaded.Store(true)
		w.WriteHeader(http.StatusCreated)
	})
	f.mux.HandleFunc("/v2/ugcPosts", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "urn:li:organization:5", body["author"])
		share := body["specificContent"].(map[string]any)["com.linkedin.ugc.ShareContent"].(map[string]any)
		assert.Equal(t, "IMAGE", share["shareMediaCategory"])
		w.Header().Set("X-RestLi-Id", "urn:li:share:77")
		w.WriteHeader(http.StatusCreated)
	})

	res, err := NewLinkedIn(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:        "launch",
		MediaItems:     []string{f.media("a.png")},
		AccessToken:    "t",
		PlatformUserID: "urn:li:organization:5",
		PlatformData:   models.PlatformData{"author_urn": "urn:li:organization:5"},
	})
	require.NoError(t, err)
	assert.True(t, uploaded.Load())
	assert.Equal(t, "urn:li:share:77", res.PlatformPostID)
}

func TestTwitter403Translation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"duplicate", `{"detail":"You are not allowed to create a Tweet with duplicate content.","status":403}`, apperror.ErrVendorPublishFailure},
		{"permission", `{"detail":"You are not permitted to perform this action.","status":403}`, apperror.ErrInsufficientScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeVendor(t)
			f.mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"data": map[string]string{"id": "1", "username": "gopher"}})
			})
			f.mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := NewTwitter(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
				Content:     "same again",
				AccessToken: "t",
			})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestTwitterPublish(t *testing.T) {
	f := newFakeVendor(t)
	f.mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"data": map[string]string{"id": "1", "username": "gopher"}})
	})
	f.mux.HandleFunc("/2/media/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "tweet_image", r.FormValue("media_category"))
		writeJSON(w, map[string]any{"data": map[string]string{"id": "m1"}})
	})
	f.mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "hi", body["text"])
		writeJSON(w, map[string]any{"data": map[string]string{"id": "t9", "text": "hi"}})
	})

	res, err := NewTwitter(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:     "hi",
		MediaItems:  []string{f.media("a.png")},
		AccessToken: "t",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://twitter.com/gopher/status/t9", res.PlatformPostURL)
}

func TestTwitterTextLimit(t *testing.T) {
	f := newFakeVendor(t)
	_, err := NewTwitter(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:     strings.Repeat("a", 281),
		AccessToken: "t",
	})
	assert.True(t, errors.Is(err, apperror.ErrInvalid))
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestRedditSubmit(t *testing.T) {
	f := newFakeVendor(t)
	f.mux.HandleFunc("/api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "crosspost-test/1.0")
		writeJSON(w, map[string]string{"id": "abc", "name": "spez"})
	})
	f.mux.HandleFunc("/api/submit", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "u_spez", r.PostForm.Get("sr"))
		assert.Equal(t, "self", r.PostForm.Get("kind"))
		assert.Equal(t, "Big news", r.PostForm.Get("title"))
		writeJSON(w, map[string]any{"json": map[string]any{"errors": []any{}, "data": map[string]string{
			"id": "x1", "name": "t3_x1", "url": "https://www.reddit.com/user/spez/comments/x1/",
		}}})
	})

	res, err := NewReddit(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:     map[string]any{"text": "Big news\nmore details"},
		AccessToken: "t",
	})
	require.NoError(t, err)
	assert.Equal(t, "t3_x1", res.PlatformPostID)
}

func TestRedditSingleMediaOnly(t *testing.T) {
	f := newFakeVendor(t)
	_, err := NewReddit(f.opts()).Publish(context.Background(), &transfer.PublishRequest{
		Content:     "two",
		MediaItems:  []string{f.media("a.png"), f.media("b.png")},
		AccessToken: "t",
	})
	assert.True(t, errors.Is(err, apperror.ErrTooManyItems))
}

func TestRegistryUnknownPlatform(t *testing.T) {
	r := NewRegistry(NewReddit(Options{}))
	_, err := r.Get(models.PlatformYouTube)
	assert.True(t, errors.Is(err, apperror.ErrNotSupported))
}
