package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TaskTypePublishTarget = "publish:post_platform"

type PublishTargetPayload struct {
	PostPlatformID int64 `json:"post_platform_id"`
}

// Enqueuer is the part of *asynq.Client the scheduler uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler queues deferred targets as asynq tasks. The task ID is derived
// from the row so a target is never queued twice.
type Scheduler struct {
	client Enqueuer
}

func NewScheduler(client Enqueuer) *Scheduler {
	return &Scheduler{client: client}
}

func NewPublishTargetTask(postPlatformID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(PublishTargetPayload{PostPlatformID: postPlatformID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePublishTarget, payload), nil
}

func taskID(postPlatformID int64) string {
	return "post_platform:" + strconv.FormatInt(postPlatformID, 10)
}

func (s *Scheduler) Schedule(ctx context.Context, postPlatformID int64, at time.Time) error {
	task, err := NewPublishTargetTask(postPlatformID)
	if err != nil {
		return err
	}

	info, err := s.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.TaskID(taskID(postPlatformID)),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error enqueuing target %d: %w", postPlatformID, err)
	}

	zap.L().Info("target scheduled",
		zap.Int64("post_platform_id", postPlatformID),
		zap.String("task_id", info.ID),
		zap.Time("process_at", at),
	)
	return nil
}
