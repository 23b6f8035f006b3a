package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/service"
	"go.uber.org/zap"
)

type Worker struct {
	posts service.PostService
}

func NewWorker(posts service.PostService) *Worker {
	return &Worker{posts: posts}
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypePublishTarget, w.HandlePublishTargetTask)
}

// HandlePublishTargetTask publishes one deferred target. Platform failures
// are already recorded on the row, so only infrastructure errors retry.
func (w *Worker) HandlePublishTargetTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishTargetPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.PostPlatformID <= 0 {
		return fmt.Errorf("invalid post platform id %d: %w", payload.PostPlatformID, asynq.SkipRetry)
	}

	err := w.posts.PublishScheduledTarget(ctx, payload.PostPlatformID)
	if err == nil {
		return nil
	}

	if _, ok := apperror.As(err); ok {
		zap.L().Warn("scheduled publish failed",
			zap.Int64("post_platform_id", payload.PostPlatformID),
			zap.Error(err),
		)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
