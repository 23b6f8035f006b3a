package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{"facebook", PlatformFacebook, false},
		{"INSTAGRAM", PlatformInstagram, false},
		{" LinkedIn ", PlatformLinkedIn, false},
		{"x", PlatformTwitter, false},
		{"reddit", PlatformReddit, false},
		{"myspace", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCapabilities(t *testing.T) {
	assert.True(t, PlatformFacebook.Capabilities().NativeScheduling)
	assert.Equal(t, 10*time.Minute, PlatformFacebook.Capabilities().MinScheduleLead)
	assert.False(t, PlatformInstagram.Capabilities().NativeScheduling)
	assert.Equal(t, 10, PlatformInstagram.Capabilities().MaxMediaItems)
	assert.Equal(t, 280, PlatformTwitter.Capabilities().MaxTextLength)
	assert.Equal(t, Capabilities{}, PlatformTikTok.Capabilities())
}

func TestPostContentFor(t *testing.T) {
	perPlatform := &Post{Content: json.RawMessage(`{"facebook":"fb text","twitter":{"text":"tw"}}`)}
	assert.Equal(t, "fb text", perPlatform.ContentFor(PlatformFacebook))
	assert.Equal(t, map[string]any{"text": "tw"}, perPlatform.ContentFor(PlatformTwitter))

	// a platform missing from the map gets the whole object
	whole, ok := perPlatform.ContentFor(PlatformReddit).(map[string]any)
	require.True(t, ok)
	assert.Len(t, whole, 2)

	shared := &Post{Content: json.RawMessage(`"same everywhere"`)}
	assert.Equal(t, "same everywhere", shared.ContentFor(PlatformLinkedIn))

	empty := &Post{}
	assert.Equal(t, "", empty.ContentFor(PlatformLinkedIn))
}

func TestTargetStatusTerminal(t *testing.T) {
	assert.False(t, TargetStatusPending.Terminal())
	assert.False(t, TargetStatusPublishing.Terminal())
	assert.True(t, TargetStatusPublished.Terminal())
	assert.True(t, TargetStatusScheduled.Terminal())
	assert.True(t, TargetStatusFailed.Terminal())
}

func TestTierLimits(t *testing.T) {
	assert.Equal(t, 0, TierFree.Limits().MaxAiGenerationsPerDay)
	assert.Equal(t, Unlimited, TierEnterprise.Limits().MaxPostsPerMonth)
	assert.Equal(t, TierFree.Limits(), Tier("GOLD").Limits())
}

func TestUsageCounterResetIfStale(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	month := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fresh := func() *UsageCounter {
		return &UsageCounter{
			PostsToday:             2,
			PostsThisMonth:         9,
			AiGenerationsToday:     5,
			AiGenerationsThisMonth: 40,
			LastPostResetDate:      day,
			LastMonthReset:         month,
		}
	}

	t.Run("same day", func(t *testing.T) {
		u := fresh()
		assert.False(t, u.ResetIfStale(day.Add(23*time.Hour)))
		assert.Equal(t, 2, u.PostsToday)
		assert.Equal(t, 9, u.PostsThisMonth)
	})

	t.Run("next day", func(t *testing.T) {
		u := fresh()
		assert.True(t, u.ResetIfStale(day.Add(25*time.Hour)))
		assert.Equal(t, 0, u.PostsToday)
		assert.Equal(t, 0, u.AiGenerationsToday)
		assert.Equal(t, 9, u.PostsThisMonth)
		assert.Equal(t, 40, u.AiGenerationsThisMonth)
	})

	t.Run("next month", func(t *testing.T) {
		u := fresh()
		assert.True(t, u.ResetIfStale(time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC)))
		assert.Equal(t, 0, u.PostsToday)
		assert.Equal(t, 0, u.PostsThisMonth)
		assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), u.LastMonthReset)
	})

	t.Run("zero value", func(t *testing.T) {
		u := &UsageCounter{PostsToday: 1}
		assert.True(t, u.ResetIfStale(day))
		assert.Equal(t, 0, u.PostsToday)
	})
}

func TestConnectedAccountHasScope(t *testing.T) {
	a := &ConnectedAccount{PlatformData: PlatformData{"scope": "tweet.read users.read,tweet.write"}}
	assert.True(t, a.HasScope("tweet.write"))
	assert.True(t, a.HasScope("users.read"))
	assert.False(t, a.HasScope("tweet"))

	assert.False(t, (&ConnectedAccount{}).HasScope("tweet.write"))
}

func TestPlatformDataScan(t *testing.T) {
	var d PlatformData
	require.NoError(t, d.Scan([]byte(`{"scope":"a b","n":1}`)))
	assert.Equal(t, "a b", d.String("scope"))
	assert.Equal(t, "", d.String("n"))

	require.NoError(t, d.Scan(nil))
	assert.Empty(t, d)

	assert.Error(t, d.Scan(42))

	v, err := PlatformData(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)
}

func TestDeferredPlatforms(t *testing.T) {
	assert.ElementsMatch(t,
		[]Platform{PlatformInstagram, PlatformTwitter, PlatformLinkedIn, PlatformReddit},
		DeferredPlatforms())
}
