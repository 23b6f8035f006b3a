package job

import (
	"context"
	"time"

	"github.com/maheshrc27/crosspost/internal/service"
	"go.uber.org/zap"
)

// DuePostJob publishes deferred targets whose post time has passed. It backs
// up the queued tasks, which can be lost when Redis is flushed.
type DuePostJob struct {
	posts   service.PostService
	timeout time.Duration
	now     func() time.Time
}

func NewDuePostJob(posts service.PostService, timeout time.Duration) *DuePostJob {
	return &DuePostJob{posts: posts, timeout: timeout, now: time.Now}
}

func (j *DuePostJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.posts.DispatchDue(ctx, j.now())
	if err != nil {
		zap.L().Error("due post sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("due targets published", zap.Int("count", n))
	}
}
