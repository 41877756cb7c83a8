package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	"github.com/smallbiznis/famlink/internal/config"
	graphdomain "github.com/smallbiznis/famlink/internal/familygraph/domain"
	obsmetrics "github.com/smallbiznis/famlink/internal/observability/metrics"
	"github.com/smallbiznis/famlink/internal/slotledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockKeyPrefix  = "famlink:slotlock:"
	lockTTL        = 15 * time.Second
	lockRetryDelay = 50 * time.Millisecond
	lockRetryMax   = 40
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	AccountRepo accountdomain.Repository
	Graph       graphdomain.Service
	Policy      *config.PolicyHolder
	Locker      *Locker `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	accountRepo accountdomain.Repository
	graph       graphdomain.Service
	policy      *config.PolicyHolder
	locker      *Locker
	parentLocks *keyedMutex
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("slotledger.service"),
		accountRepo: p.AccountRepo,
		graph:       p.Graph,
		policy:      p.Policy,
		locker:      p.Locker,
		parentLocks: newKeyedMutex(),
	}
}

func (s *Service) ActualUsed(ctx context.Context, parentID snowflake.ID) (int, error) {
	return s.graph.CountChildren(ctx, parentID)
}

func (s *Service) Reconcile(ctx context.Context, parentID snowflake.ID) (domain.Summary, error) {
	owner, err := s.loadOwner(ctx, parentID)
	if err != nil {
		return domain.Summary{}, err
	}

	used, err := s.graph.CountChildren(ctx, parentID)
	if err != nil {
		return domain.Summary{}, err
	}

	available := owner.TotalSlotsPurchased - used
	if available < 0 {
		available = 0
	}

	if err := s.accountRepo.UpdateSlotCounters(ctx, s.db, parentID, used, available, time.Now().UTC()); err != nil {
		return domain.Summary{}, err
	}
	obsmetrics.Sync().IncReconciliation("slot_ledger")

	return domain.Summary{
		ParentID:       parentID,
		TotalPurchased: owner.TotalSlotsPurchased,
		ActualUsed:     used,
		Available:      available,
	}, nil
}

func (s *Service) CheckAvailability(ctx context.Context, parentID snowflake.ID) (domain.Summary, error) {
	summary, err := s.Reconcile(ctx, parentID)
	if err != nil {
		return domain.Summary{}, err
	}

	// The hard ceiling binds even when purchased slots remain.
	if hardMax := s.policy.Get().HardMaxDependents; summary.ActualUsed >= hardMax {
		obsmetrics.Sync().IncSlotRejection("hard_maximum")
		return summary, domain.ErrHardMaximum
	}
	if summary.Available <= 0 {
		obsmetrics.Sync().IncSlotRejection("quota_exceeded")
		return summary, domain.ErrNoAvailableSlot
	}
	return summary, nil
}

func (s *Service) SetPurchased(ctx context.Context, parentID snowflake.ID, total int) (domain.Summary, error) {
	if total < 0 {
		return domain.Summary{}, domain.ErrInvalidSlots
	}
	if _, err := s.loadOwner(ctx, parentID); err != nil {
		return domain.Summary{}, err
	}
	if err := s.accountRepo.UpdatePurchasedSlots(ctx, s.db, parentID, total, time.Now().UTC()); err != nil {
		return domain.Summary{}, err
	}
	return s.Reconcile(ctx, parentID)
}

func (s *Service) AddPurchased(ctx context.Context, parentID snowflake.ID, count int) (domain.Summary, error) {
	if count <= 0 {
		return domain.Summary{}, domain.ErrInvalidSlots
	}
	owner, err := s.loadOwner(ctx, parentID)
	if err != nil {
		return domain.Summary{}, err
	}
	if err := s.accountRepo.UpdatePurchasedSlots(ctx, s.db, parentID, owner.TotalSlotsPurchased+count, time.Now().UTC()); err != nil {
		return domain.Summary{}, err
	}
	return s.Reconcile(ctx, parentID)
}

// WithParentLock holds the per-owner mutex for the duration of fn. When
// a redis locker is configured it is acquired as well, covering
// horizontally scaled deployments.
func (s *Service) WithParentLock(ctx context.Context, parentID snowflake.ID, fn func(ctx context.Context) error) error {
	key := lockKeyPrefix + parentID.String()

	local := s.parentLocks.get(key)
	local.Lock()
	defer local.Unlock()

	if s.locker != nil {
		token, err := s.acquireLease(ctx, key)
		if err != nil {
			return err
		}
		defer func() {
			if releaseErr := s.locker.Release(context.WithoutCancel(ctx), key, token); releaseErr != nil {
				s.log.Warn("slot lock release failed", zap.String("key", key), zap.Error(releaseErr))
			}
		}()
	}

	return fn(ctx)
}

func (s *Service) acquireLease(ctx context.Context, key string) (string, error) {
	for attempt := 0; attempt < lockRetryMax; attempt++ {
		token, ok, err := s.locker.TryLock(ctx, key, lockTTL)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return "", domain.ErrLockUnavailable
}

func (s *Service) loadOwner(ctx context.Context, parentID snowflake.ID) (*accountdomain.Account, error) {
	owner, err := s.accountRepo.FindByID(ctx, s.db, parentID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, domain.ErrOwnerNotFound
	}
	if owner.Role != accountdomain.RoleOwner {
		return nil, domain.ErrNotOwner
	}
	return owner, nil
}
