package service

import (
	"context"
	"fmt"
	"time"

	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"go.uber.org/zap"
)

// QuotaService gates publishing, AI compose, profile and account creation by
// the caller's tier. Counters reset lazily when read after a UTC day or
// month boundary, so a stored counter may be stale until the next read.
type QuotaService interface {
	Check(ctx context.Context, userID int64, req transfer.QuotaRequest) (*transfer.QuotaResult, error)
	CheckAccounts(ctx context.Context, userID int64, adding int) error
	CheckProfiles(ctx context.Context, userID int64) error
	// Increment charges weight units of kind. It runs against store so the
	// charge commits or rolls back with the caller's transaction.
	Increment(ctx context.Context, store repository.Store, userID int64, kind transfer.QuotaKind, weight int) error
	// Consume checks an AI generation and charges it in one transaction when
	// allowed. Callers with their own provider key are never charged.
	Consume(ctx context.Context, userID int64, req transfer.QuotaRequest) (*transfer.QuotaResult, error)
	Usage(ctx context.Context, userID int64) (*transfer.UsageResponse, error)
}

type quotaService struct {
	store repository.Store
	now   func() time.Time
}

func NewQuotaService(store repository.Store) QuotaService {
	return &quotaService{store: store, now: time.Now}
}

// window is one counter checked against one limit.
type window struct {
	name  string
	used  int
	limit int
}

func (s *quotaService) load(ctx context.Context, store repository.Store, userID int64) (*models.User, *models.UsageCounter, error) {
	user, err := store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading user: %w", err)
	}
	usage, err := store.Usage().Get(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading usage: %w", err)
	}
	if usage.ResetIfStale(s.now()) {
		if err := store.Usage().Save(ctx, usage); err != nil {
			zap.L().Warn("failed to persist usage reset", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return user, usage, nil
}

func (s *quotaService) Check(ctx context.Context, userID int64, req transfer.QuotaRequest) (*transfer.QuotaResult, error) {
	return s.check(ctx, s.store, userID, req)
}

func (s *quotaService) check(ctx context.Context, store repository.Store, userID int64, req transfer.QuotaRequest) (*transfer.QuotaResult, error) {
	user, usage, err := s.load(ctx, store, userID)
	if err != nil {
		return nil, err
	}
	limits := user.Tier.Limits()

	weight := req.Weight
	if weight <= 0 {
		weight = transfer.WeightText
	}

	var windows []window
	switch req.Kind {
	case transfer.QuotaPosts:
		windows = []window{
			{"daily post", usage.PostsToday, limits.MaxPostsPerDay},
			{"monthly post", usage.PostsThisMonth, limits.MaxPostsPerMonth},
		}
	case transfer.QuotaAiGenerations:
		if req.OwnAPIKey {
			return &transfer.QuotaResult{
				Allowed: true,
				Reason:  "using own provider key",
				Current: usage.AiGenerationsToday,
				Limit:   models.Unlimited,
				Tier:    user.Tier,
			}, nil
		}
		windows = []window{
			{"daily AI generation", usage.AiGenerationsToday, limits.MaxAiGenerationsPerDay},
			{"monthly AI generation", usage.AiGenerationsThisMonth, limits.MaxAiGenerationsPerMonth},
		}
	default:
		return nil, apperror.New(apperror.KindInvalid, "unknown quota kind %q", req.Kind)
	}

	return evaluate(user.Tier, windows, weight), nil
}

// evaluate rejects on the first window where used+weight exceeds the limit.
// A zero limit means the feature is not part of the tier at all.
func evaluate(tier models.Tier, windows []window, weight int) *transfer.QuotaResult {
	for _, w := range windows {
		if w.limit == models.Unlimited {
			continue
		}
		if w.limit == 0 {
			return &transfer.QuotaResult{
				Reason:          fmt.Sprintf("%s is not available on the %s plan", w.name, tier),
				Current:         w.used,
				Limit:           0,
				Tier:            tier,
				UpgradeRequired: true,
			}
		}
		if w.used+weight > w.limit {
			return &transfer.QuotaResult{
				Reason:          fmt.Sprintf("%s limit reached (%d of %d used)", w.name, w.used, w.limit),
				Current:         w.used,
				Limit:           w.limit,
				Tier:            tier,
				UpgradeRequired: tier == models.TierFree,
			}
		}
	}

	res := &transfer.QuotaResult{Allowed: true, Tier: tier, Limit: models.Unlimited}
	if len(windows) > 0 {
		res.Current, res.Limit = windows[0].used, windows[0].limit
	}
	return res
}

// quotaError converts a rejected result into a QuotaExceeded error.
func quotaError(res *transfer.QuotaResult) error {
	e := apperror.New(apperror.KindQuotaExceeded, "%s", res.Reason)
	e.UpgradeRequired = res.UpgradeRequired
	return e
}

func (s *quotaService) CheckAccounts(ctx context.Context, userID int64, adding int) error {
	if adding <= 0 {
		return nil
	}
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("error loading user: %w", err)
	}
	current, err := s.store.Accounts().CountByUserID(ctx, userID)
	if err != nil {
		return err
	}

	res := evaluate(user.Tier, []window{{"connected account", current, user.Tier.Limits().MaxConnectedAccounts}}, adding)
	if !res.Allowed {
		return quotaError(res)
	}
	return nil
}

func (s *quotaService) CheckProfiles(ctx context.Context, userID int64) error {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("error loading user: %w", err)
	}
	current, err := s.store.Profiles().CountByUserID(ctx, userID)
	if err != nil {
		return err
	}

	res := evaluate(user.Tier, []window{{"profile", current, user.Tier.Limits().MaxProfiles}}, 1)
	if !res.Allowed {
		return quotaError(res)
	}
	return nil
}

func (s *quotaService) Increment(ctx context.Context, store repository.Store, userID int64, kind transfer.QuotaKind, weight int) error {
	if store == nil {
		store = s.store
	}
	usage, err := store.Usage().Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("error loading usage: %w", err)
	}
	usage.ResetIfStale(s.now())

	switch kind {
	case transfer.QuotaPosts:
		usage.PostsToday += weight
		usage.PostsThisMonth += weight
	case transfer.QuotaAiGenerations:
		usage.AiGenerationsToday += weight
		usage.AiGenerationsThisMonth += weight
	default:
		return apperror.New(apperror.KindInvalid, "unknown quota kind %q", kind)
	}

	return store.Usage().Save(ctx, usage)
}

func (s *quotaService) Consume(ctx context.Context, userID int64, req transfer.QuotaRequest) (*transfer.QuotaResult, error) {
	if req.Kind != transfer.QuotaAiGenerations {
		return nil, apperror.New(apperror.KindInvalid, "only AI generations can be consumed directly")
	}
	weight := req.Weight
	if weight <= 0 {
		weight = transfer.WeightText
	}

	var res *transfer.QuotaResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		res, err = s.check(ctx, tx, userID, req)
		if err != nil || !res.Allowed || req.OwnAPIKey {
			return err
		}

		if err := s.Increment(ctx, tx, userID, transfer.QuotaAiGenerations, weight); err != nil {
			return err
		}
		_, err = tx.Usage().AddLog(ctx, &models.UsageLog{
			UserID:  userID,
			Action:  models.UsageActionAiGeneration,
			Details: map[string]any{"weight": weight},
		})
		if err != nil {
			return fmt.Errorf("error writing usage log: %w", err)
		}
		res.Current += weight
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *quotaService) Usage(ctx context.Context, userID int64) (*transfer.UsageResponse, error) {
	user, usage, err := s.load(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	return &transfer.UsageResponse{Tier: user.Tier, Usage: usage, Limits: user.Tier.Limits()}, nil
}
