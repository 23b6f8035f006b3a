package job

import (
	"context"
	"time"

	"github.com/maheshrc27/crosspost/internal/service"
	"go.uber.org/zap"
)

// TokenRefreshJob renews tokens that expire within the refresh window.
type TokenRefreshJob struct {
	connections service.ConnectionService
	window      time.Duration
	timeout     time.Duration
}

func NewTokenRefreshJob(connections service.ConnectionService, window time.Duration) *TokenRefreshJob {
	return &TokenRefreshJob{connections: connections, window: window, timeout: 5 * time.Minute}
}

func (j *TokenRefreshJob) RefreshTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.connections.RefreshExpiring(ctx, j.window)
	if err != nil {
		zap.L().Error("token refresh run failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("tokens refreshed", zap.Int("count", n))
	}
}
