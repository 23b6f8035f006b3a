package models

import (
	"fmt"
	"strings"
	"time"
)

type Platform string

const (
	PlatformFacebook  Platform = "FACEBOOK"
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformTwitter   Platform = "TWITTER"
	PlatformLinkedIn  Platform = "LINKEDIN"
	PlatformTikTok    Platform = "TIKTOK"
	PlatformYouTube   Platform = "YOUTUBE"
	PlatformThreads   Platform = "THREADS"
	PlatformReddit    Platform = "REDDIT"
)

var allPlatforms = []Platform{
	PlatformFacebook,
	PlatformInstagram,
	PlatformTwitter,
	PlatformLinkedIn,
	PlatformTikTok,
	PlatformYouTube,
	PlatformThreads,
	PlatformReddit,
}

// ParsePlatform accepts either the enum value or the lowercase route name.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(s)))
	if p == "X" {
		return PlatformTwitter, nil
	}
	for _, known := range allPlatforms {
		if known == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// Key is the lowercase name used in per-platform content maps and URLs.
func (p Platform) Key() string {
	return strings.ToLower(string(p))
}

func (p Platform) String() string {
	return string(p)
}

type Capabilities struct {
	NativeScheduling bool
	MinScheduleLead  time.Duration
	MaxMediaItems    int
	MaxTextLength    int
	SupportsVideo    bool
	RequiresMedia    bool
}

var capabilityTable = map[Platform]Capabilities{
	PlatformFacebook: {
		NativeScheduling: true,
		MinScheduleLead:  10 * time.Minute,
		MaxMediaItems:    10,
		MaxTextLength:    63206,
		SupportsVideo:    true,
	},
	PlatformInstagram: {
		MaxMediaItems: 10,
		MaxTextLength: 2200,
		SupportsVideo: true,
		RequiresMedia: true,
	},
	PlatformLinkedIn: {
		MaxMediaItems: 9,
		MaxTextLength: 3000,
	},
	PlatformTwitter: {
		MaxMediaItems: 4,
		MaxTextLength: 280,
	},
	PlatformReddit: {
		MaxMediaItems: 1,
		MaxTextLength: 40000,
	},
}

// Capabilities returns the static capability row for p. Platforms without a
// publisher get the zero value, which supports nothing.
func (p Platform) Capabilities() Capabilities {
	return capabilityTable[p]
}

// DeferredPlatforms lists the publishable platforms without native
// scheduling. Their scheduled targets wait for the due-post sweep.
func DeferredPlatforms() []Platform {
	var out []Platform
	for _, p := range allPlatforms {
		caps := p.Capabilities()
		if caps.MaxMediaItems > 0 && !caps.NativeScheduling {
			out = append(out, p)
		}
	}
	return out
}
