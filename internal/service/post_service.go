package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/connector"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/publisher"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"go.uber.org/zap"
)

const (
	listLimit = 100
	dueBatch  = 100
)

// TargetScheduler queues a deferred target so it is published at the given
// time. The due-post sweep picks up anything the scheduler loses.
type TargetScheduler interface {
	Schedule(ctx context.Context, postPlatformID int64, at time.Time) error
}

type PostService interface {
	CreateOrSchedulePost(ctx context.Context, userID int64, req *transfer.CreatePostRequest) (*transfer.CreatePostResponse, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	Get(ctx context.Context, userID, postID int64) (*models.Post, error)
	Remove(ctx context.Context, userID, postID int64) error
	// DispatchDue publishes every pending deferred target whose post is due.
	DispatchDue(ctx context.Context, now time.Time) (int, error)
	// PublishScheduledTarget publishes one deferred target. A row that is no
	// longer PENDING is left alone.
	PublishScheduledTarget(ctx context.Context, postPlatformID int64) error
}

type postService struct {
	store       repository.Store
	publishers  *publisher.Registry
	quota       QuotaService
	compensator publisher.Compensator
	scheduler   TargetScheduler
	metrics     *Metrics
	secretKey   string
	txTimeout   time.Duration
	now         func() time.Time
}

func NewPostService(
	store repository.Store,
	publishers *publisher.Registry,
	quota QuotaService,
	compensator publisher.Compensator,
	scheduler TargetScheduler,
	metrics *Metrics,
	secretKey string,
	txTimeout time.Duration,
) PostService {
	if compensator == nil {
		compensator = publisher.LogCompensator{}
	}
	if txTimeout <= 0 {
		txTimeout = 30 * time.Second
	}
	return &postService{
		store:       store,
		publishers:  publishers,
		quota:       quota,
		compensator: compensator,
		scheduler:   scheduler,
		metrics:     metrics,
		secretKey:   secretKey,
		txTimeout:   txTimeout,
		now:         time.Now,
	}
}

// TargetFailure is one target that could not be published.
type TargetFailure struct {
	AccountID int64
	Platform  models.Platform
	Err       error
}

// PublishError collects every failed target of one pass. Its message joins
// the per-target messages with newlines.
type PublishError struct {
	Failures []TargetFailure
}

func (e *PublishError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msg := f.Err.Error()
		if ae, ok := apperror.As(f.Err); ok {
			msg = ae.Message
		}
		if f.Platform == "" {
			msgs = append(msgs, fmt.Sprintf("account %d: %s", f.AccountID, msg))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s (account %d): %s", f.Platform.Key(), f.AccountID, msg))
	}
	return strings.Join(msgs, "\n")
}

func (e *PublishError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// target is one PostPlatform row with the account it publishes through.
type target struct {
	row     *models.PostPlatform
	account *models.ConnectedAccount
}

// published is a remote post created during a pass, kept for compensation.
type published struct {
	platform       models.Platform
	accountID      int64
	platformPostID string
}

const defaultTimezone = "UTC"

func validatePost(req *transfer.CreatePostRequest, now time.Time) error {
	if len(req.Platforms) == 0 {
		return apperror.New(apperror.KindInvalid, "at least one account is required")
	}
	if len(req.Content) == 0 {
		return apperror.New(apperror.KindInvalid, "content is required")
	}

	switch req.PublishingOption {
	case transfer.PublishNow, transfer.PublishDraft:
	case transfer.PublishSchedule:
		if req.ScheduledFor == nil {
			return apperror.New(apperror.KindInvalid, "scheduled_for is required to schedule a post")
		}
		if !req.ScheduledFor.After(now) {
			return apperror.New(apperror.KindSchedulingTooSoon, "scheduled_for must be in the future")
		}
	default:
		return apperror.New(apperror.KindInvalid, "unknown publishing option %q", req.PublishingOption)
	}

	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return apperror.Wrap(apperror.KindInvalid, err, "unknown timezone %q", req.Timezone)
		}
	}

	seen := make(map[int64]bool, len(req.Platforms))
	for _, id := range req.Platforms {
		if seen[id] {
			return apperror.New(apperror.KindInvalid, "account %d is listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// CreateOrSchedulePost stores the post and its targets and, unless it is a
// draft, publishes or schedules every target in request order. Any failed
// target rolls the whole post back.
func (s *postService) CreateOrSchedulePost(ctx context.Context, userID int64, req *transfer.CreatePostRequest) (*transfer.CreatePostResponse, error) {
	if err := validatePost(req, s.now()); err != nil {
		return nil, err
	}
	if _, err := ownedProfile(ctx, s.store, userID, req.ProfileID); err != nil {
		return nil, err
	}

	option := req.PublishingOption
	if option != transfer.PublishDraft {
		res, err := s.quota.Check(ctx, userID, transfer.QuotaRequest{Kind: transfer.QuotaPosts, Weight: 1})
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, quotaError(res)
		}
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var (
		postID   int64
		done     []published
		deferred []int64
	)

	err := s.store.WithTx(txCtx, func(tx repository.Store) error {
		post := &models.Post{
			UserID:       userID,
			ProfileID:    req.ProfileID,
			Content:      req.Content,
			MediaURLs:    req.MediaItems,
			Status:       models.PostStatusPublishing,
			ScheduledFor: req.ScheduledFor,
			Timezone:     req.Timezone,
		}
		if post.Timezone == "" {
			post.Timezone = defaultTimezone
		}
		if option == transfer.PublishDraft {
			post.Status = models.PostStatusDraft
		}

		id, err := tx.Posts().Create(txCtx, post)
		if err != nil {
			return fmt.Errorf("error creating post: %w", err)
		}
		post.ID = id
		postID = id

		targets, failures, err := s.createTargets(txCtx, tx, post, req.Platforms)
		if err != nil {
			return err
		}
		if len(failures) > 0 {
			return &PublishError{Failures: failures}
		}
		if option == transfer.PublishDraft {
			return nil
		}

		for _, t := range targets {
			outcome, err := s.dispatch(txCtx, tx, post, t, option)
			if err != nil {
				s.metrics.PublishAttempt(ctx, t.row.Platform.String(), OutcomeFailure)
				failures = append(failures, TargetFailure{AccountID: t.account.ID, Platform: t.row.Platform, Err: err})
				continue
			}

			switch t.row.Status {
			case models.TargetStatusPending:
				deferred = append(deferred, t.row.ID)
				s.metrics.PublishAttempt(ctx, t.row.Platform.String(), OutcomeDeferred)
			default:
				done = append(done, published{platform: t.row.Platform, accountID: t.account.ID, platformPostID: outcome.PlatformPostID})
				s.metrics.PublishAttempt(ctx, t.row.Platform.String(), OutcomeSuccess)
			}
		}

		if len(failures) > 0 {
			return &PublishError{Failures: failures}
		}

		status, action := models.PostStatusPublished, models.UsageActionPostPublished
		if option == transfer.PublishSchedule {
			status, action = models.PostStatusScheduled, models.UsageActionPostScheduled
		}
		if err := tx.Posts().UpdateStatus(txCtx, post.ID, status); err != nil {
			return err
		}

		if _, err := tx.Usage().AddLog(txCtx, usageLog(userID, post.ID, action, targets)); err != nil {
			return fmt.Errorf("error writing usage log: %w", err)
		}
		return s.quota.Increment(txCtx, tx, userID, transfer.QuotaPosts, 1)
	})
	if err != nil {
		s.compensate(ctx, done)
		zap.L().Info("post creation rolled back", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}

	for _, id := range deferred {
		if s.scheduler == nil {
			break
		}
		if err := s.scheduler.Schedule(ctx, id, *req.ScheduledFor); err != nil {
			zap.L().Warn("failed to enqueue deferred target, the sweep will pick it up",
				zap.Int64("post_platform_id", id),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("post created",
		zap.Int64("post_id", postID),
		zap.String("option", string(option)),
		zap.Int("targets", len(req.Platforms)),
	)
	return &transfer.CreatePostResponse{Success: true, ID: postID}, nil
}

// createTargets inserts one PENDING row per requested account, in request
// order. Accounts that do not exist on the post's profile are failures.
func (s *postService) createTargets(ctx context.Context, tx repository.Store, post *models.Post, accountIDs []int64) ([]*target, []TargetFailure, error) {
	var (
		targets  []*target
		failures []TargetFailure
	)

	for _, accountID := range accountIDs {
		account, err := tx.Accounts().GetByID(ctx, accountID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, err
		}
		if err != nil || account.ProfileID != post.ProfileID {
			failures = append(failures, TargetFailure{
				AccountID: accountID,
				Err:       apperror.New(apperror.KindMissingCredential, "account is not connected to this profile"),
			})
			continue
		}

		row := &models.PostPlatform{
			PostID:    post.ID,
			AccountID: account.ID,
			Platform:  account.Platform,
			Status:    models.TargetStatusPending,
		}
		id, err := tx.PostPlatforms().Create(ctx, row)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating post target: %w", err)
		}
		row.ID = id
		targets = append(targets, &target{row: row, account: account})
	}
	return targets, failures, nil
}

// dispatch moves one target out of PENDING. Deferred targets stay PENDING
// after their credentials are checked.
func (s *postService) dispatch(ctx context.Context, tx repository.Store, post *models.Post, t *target, option transfer.PublishingOption) (*transfer.PublishResult, error) {
	token, err := s.credential(t.account)
	if err != nil {
		return nil, s.fail(ctx, tx, t.row, err)
	}

	var scheduledFor *time.Time
	if option == transfer.PublishSchedule {
		if !t.row.Platform.Capabilities().NativeScheduling {
			return &transfer.PublishResult{}, nil
		}
		scheduledFor = post.ScheduledFor
	}

	t.row.Status = models.TargetStatusPublishing
	res, err := s.publish(ctx, post, t.row, t.account, token, scheduledFor)
	if err != nil {
		return nil, s.fail(ctx, tx, t.row, err)
	}

	t.row.Status = models.TargetStatusPublished
	if scheduledFor != nil {
		t.row.Status = models.TargetStatusScheduled
	}
	now := s.now()
	t.row.PublishedID, t.row.PublishedURL, t.row.PublishedAt = res.PlatformPostID, res.PlatformPostURL, &now
	if err := tx.PostPlatforms().Update(ctx, t.row); err != nil {
		return nil, err
	}
	return res, nil
}

// fail records err on the row and returns it.
func (s *postService) fail(ctx context.Context, store repository.Store, row *models.PostPlatform, err error) error {
	row.Status = models.TargetStatusFailed
	row.ErrorMessage = err.Error()
	if ae, ok := apperror.As(err); ok {
		row.ErrorMessage = ae.Message
	}
	if uerr := store.PostPlatforms().Update(ctx, row); uerr != nil {
		zap.L().Error("failed to record target failure", zap.Int64("post_platform_id", row.ID), zap.Error(uerr))
	}
	return err
}

// credential returns the plaintext access token of a publishable account.
// Twitter accounts must also hold the write scope.
func (s *postService) credential(account *models.ConnectedAccount) (string, error) {
	platform := account.Platform.String()

	if !account.IsActive {
		return "", apperror.New(apperror.KindMissingCredential, "account is disconnected, reconnect it to publish").WithPlatform(platform)
	}
	if account.AccessToken == "" {
		return "", apperror.New(apperror.KindMissingCredential, "account has no access token, reconnect it to publish").WithPlatform(platform)
	}
	if account.Platform == models.PlatformTwitter && !account.HasScope(connector.TwitterWriteScope) {
		return "", apperror.New(apperror.KindInsufficientScope,
			"the account was connected without permission to post, reconnect it to regrant write access").WithPlatform(platform)
	}

	token, err := utils.DecryptString(account.AccessToken, s.secretKey)
	if err != nil || token == "" {
		return "", apperror.Wrap(apperror.KindMissingCredential, err, "stored access token cannot be read, reconnect the account").WithPlatform(platform)
	}
	return token, nil
}

func (s *postService) publish(ctx context.Context, post *models.Post, row *models.PostPlatform, account *models.ConnectedAccount, token string, scheduledFor *time.Time) (*transfer.PublishResult, error) {
	pub, err := s.publishers.Get(row.Platform)
	if err != nil {
		return nil, err
	}

	res, err := pub.Publish(ctx, &transfer.PublishRequest{
		AccountID:      account.ID,
		Platform:       row.Platform,
		Content:        post.ContentFor(row.Platform),
		MediaItems:     post.MediaURLs,
		AccessToken:    token,
		PlatformUserID: account.PlatformUserID,
		PlatformData:   account.PlatformData,
		ScheduledFor:   scheduledFor,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, apperror.New(apperror.KindVendorPublishFailure, "%s", res.Error).WithPlatform(row.Platform.String())
	}
	return res, nil
}

func (s *postService) compensate(ctx context.Context, done []published) {
	for _, p := range done {
		if err := s.compensator.Compensate(ctx, p.platform, p.accountID, p.platformPostID); err != nil {
			zap.L().Error("compensation failed",
				zap.String("platform", p.platform.String()),
				zap.Int64("account_id", p.accountID),
				zap.String("platform_post_id", p.platformPostID),
				zap.Error(err),
			)
		}
	}
}

func usageLog(userID, postID int64, action string, targets []*target) *models.UsageLog {
	outcomes := make([]map[string]any, 0, len(targets))
	for _, t := range targets {
		outcomes = append(outcomes, map[string]any{
			"platform":     t.row.Platform.String(),
			"account_id":   t.row.AccountID,
			"status":       string(t.row.Status),
			"published_id": t.row.PublishedID,
		})
	}
	return &models.UsageLog{
		UserID:  userID,
		PostID:  &postID,
		Action:  action,
		Details: map[string]any{"platforms": outcomes},
	}
}

func (s *postService) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.store.PostPlatforms().ListDue(ctx, now, dueBatch)
	if err != nil {
		return 0, fmt.Errorf("error listing due targets: %w", err)
	}

	dispatched := 0
	for _, row := range rows {
		if err := s.PublishScheduledTarget(ctx, row.ID); err != nil {
			zap.L().Warn("deferred publish failed", zap.Int64("post_platform_id", row.ID), zap.Error(err))
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (s *postService) PublishScheduledTarget(ctx context.Context, postPlatformID int64) error {
	claimed, err := s.store.PostPlatforms().Claim(ctx, postPlatformID)
	if err != nil {
		return err
	}
	if !claimed {
		zap.L().Debug("target already claimed", zap.Int64("post_platform_id", postPlatformID))
		return nil
	}

	row, err := s.store.PostPlatforms().GetByID(ctx, postPlatformID)
	if err != nil {
		return s.release(ctx, postPlatformID, err)
	}
	post, err := s.store.Posts().GetByID(ctx, row.PostID)
	if err != nil {
		return s.release(ctx, postPlatformID, err)
	}

	publishErr := s.publishDeferred(ctx, post, row)
	if publishErr != nil {
		s.metrics.PublishAttempt(ctx, row.Platform.String(), OutcomeFailure)
		_ = s.fail(ctx, s.store, row, publishErr)
	} else {
		s.metrics.PublishAttempt(ctx, row.Platform.String(), OutcomeSuccess)
	}

	if err := s.finalize(ctx, post); err != nil {
		zap.L().Error("failed to finalize post", zap.Int64("post_id", post.ID), zap.Error(err))
	}
	return publishErr
}

// release undoes a claim when the row could not be loaded, so the retry or
// the next sweep picks it up again.
func (s *postService) release(ctx context.Context, postPlatformID int64, err error) error {
	if rerr := s.store.PostPlatforms().Release(ctx, postPlatformID); rerr != nil {
		zap.L().Error("failed to release target", zap.Int64("post_platform_id", postPlatformID), zap.Error(rerr))
	}
	return fmt.Errorf("error loading target %d: %w", postPlatformID, err)
}

func (s *postService) publishDeferred(ctx context.Context, post *models.Post, row *models.PostPlatform) error {
	account, err := s.store.Accounts().GetByID(ctx, row.AccountID)
	if err != nil {
		return notFound(err, "account no longer exists")
	}
	token, err := s.credential(account)
	if err != nil {
		return err
	}

	res, err := s.publish(ctx, post, row, account, token, nil)
	if err != nil {
		return err
	}

	now := s.now()
	row.Status = models.TargetStatusPublished
	row.PublishedID, row.PublishedURL, row.PublishedAt = res.PlatformPostID, res.PlatformPostURL, &now
	row.ErrorMessage = ""
	return s.store.PostPlatforms().Update(ctx, row)
}

// finalize marks the post PUBLISHED once none of its targets can change.
func (s *postService) finalize(ctx context.Context, post *models.Post) error {
	rows, err := s.store.PostPlatforms().ListByPostID(ctx, post.ID)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if !r.Status.Terminal() {
			return nil
		}
	}

	if err := s.store.Posts().UpdateStatus(ctx, post.ID, models.PostStatusPublished); err != nil {
		return err
	}
	targets := make([]*target, 0, len(rows))
	for _, r := range rows {
		targets = append(targets, &target{row: r})
	}
	_, err = s.store.Usage().AddLog(ctx, usageLog(post.UserID, post.ID, models.UsageActionPostPublished, targets))
	return err
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	return s.store.Posts().ListByUserID(ctx, userID, listLimit)
}

func (s *postService) Get(ctx context.Context, userID, postID int64) (*models.Post, error) {
	post, err := s.store.Posts().GetByID(ctx, postID)
	if err != nil {
		return nil, notFound(err, "post not found")
	}
	if post.UserID != userID {
		return nil, apperror.New(apperror.KindNotFound, "post not found")
	}

	post.Platforms, err = s.store.PostPlatforms().ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	if _, err := s.Get(ctx, userID, postID); err != nil {
		return err
	}
	if err := s.store.Posts().Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}
	return nil
}
