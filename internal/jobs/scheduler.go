package job

import (
	"fmt"
	"time"

	"github.com/robfig/cron"
)

// Start registers the periodic jobs and starts the cron runner. The caller
// stops it on shutdown.
func Start(sweepEvery time.Duration, due *DuePostJob, refresh *TokenRefreshJob) (*cron.Cron, error) {
	c := cron.New()

	if err := c.AddFunc(fmt.Sprintf("@every %s", sweepEvery), due.Run); err != nil {
		return nil, fmt.Errorf("error scheduling due post sweep: %w", err)
	}
	if err := c.AddFunc("@every 00h10m00s", refresh.RefreshTokens); err != nil {
		return nil, fmt.Errorf("error scheduling token refresh: %w", err)
	}

	c.Start()
	return c, nil
}
