package publisher

import (
	"context"

	"github.com/maheshrc27/crosspost/internal/models"
	"go.uber.org/zap"
)

// Compensator undoes a remote publish whose sibling target failed in the same
// pass. The local rows are already rolled back when it runs.
type Compensator interface {
	Compensate(ctx context.Context, platform models.Platform, accountID int64, platformPostID string) error
}

// LogCompensator only records the orphaned remote post.
type LogCompensator struct{}

func (LogCompensator) Compensate(_ context.Context, platform models.Platform, accountID int64, platformPostID string) error {
	zap.L().Warn("remote post left published after rollback",
		zap.String("platform", platform.String()),
		zap.Int64("account_id", accountID),
		zap.String("platform_post_id", platformPostID),
	)
	return nil
}
