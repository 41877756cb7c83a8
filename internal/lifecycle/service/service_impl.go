package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	"github.com/smallbiznis/famlink/internal/clock"
	graphdomain "github.com/smallbiznis/famlink/internal/familygraph/domain"
	"github.com/smallbiznis/famlink/internal/lifecycle/domain"
	"github.com/smallbiznis/famlink/internal/notification"
	slotdomain "github.com/smallbiznis/famlink/internal/slotledger/domain"
	syncdomain "github.com/smallbiznis/famlink/internal/syncjob/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	AccountSvc   accountdomain.Service
	AccountRepo  accountdomain.Repository
	Graph        graphdomain.Service
	Slots        slotdomain.Service
	Sync         syncdomain.Scheduler
	Notification notification.Provider
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	accountSvc   accountdomain.Service
	accountRepo  accountdomain.Repository
	graph        graphdomain.Service
	slots        slotdomain.Service
	sync         syncdomain.Scheduler
	notification notification.Provider
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("lifecycle.service"),
		clock:        p.Clock,
		accountSvc:   p.AccountSvc,
		accountRepo:  p.AccountRepo,
		graph:        p.Graph,
		slots:        p.Slots,
		sync:         p.Sync,
		notification: p.Notification,
	}
}

// CreateMember enrolls a dependent under an owner. The slot check and
// the graph insert happen under the owner's lock, so two concurrent
// enrollments cannot both consume the last slot.
func (s *Service) CreateMember(ctx context.Context, req domain.CreateMemberRequest) (*domain.CreateMemberResult, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.OwnerID == 0 || req.Email == "" || !strings.Contains(req.Email, "@") {
		return nil, domain.ErrInvalidRequest
	}

	owner, err := s.loadOwner(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	// Pre-flight duplicate check. The unique index on email is the
	// real guard; this surfaces the common case before any slot work.
	if existing, err := s.accountRepo.FindByEmail(ctx, s.db, req.Email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, accountdomain.ErrDuplicateEmail
	}

	var result domain.CreateMemberResult
	err = s.slots.WithParentLock(ctx, req.OwnerID, func(ctx context.Context) error {
		if _, err := s.slots.CheckAvailability(ctx, req.OwnerID); err != nil {
			return err
		}

		account, err := s.accountSvc.Create(ctx, accountdomain.CreateAccountRequest{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      accountdomain.RoleMember,
			ParentID:  req.OwnerID.String(),
		})
		if err != nil {
			return err
		}
		result.Account = &account

		if err := s.graph.AddEdge(ctx, req.OwnerID, account.ID); err != nil {
			return err
		}

		if _, err := s.slots.Reconcile(ctx, req.OwnerID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	memberID := result.Account.ID

	job, err := s.sync.ScheduleCreate(ctx, memberID, req.OwnerID)
	if err != nil {
		// Queue unavailable, fall back to synchronous sync so the
		// member is not left unmirrored.
		s.log.Warn("sync enqueue failed, running inline",
			zap.String("account_id", memberID.String()),
			zap.Error(err))
		if syncErr := s.sync.ExecuteCreateNow(ctx, memberID, req.OwnerID); syncErr != nil {
			s.log.Warn("inline sync failed",
				zap.String("account_id", memberID.String()),
				zap.Error(syncErr))
		}
	} else {
		result.SyncQueued = true
		result.SyncJobID = job.ID
	}

	// The member role is confirmed once the mirror sync is underway.
	if err := s.accountSvc.AssignRole(ctx, memberID.String(), accountdomain.RoleMember); err != nil {
		return nil, err
	}

	// Entitlement activation happens after the sync is underway.
	now := s.clock.Now()
	if err := s.accountRepo.ApplyMembershipSnapshot(ctx, s.db, memberID, accountdomain.SnapshotFrom(owner), now); err != nil {
		return nil, err
	}

	if refreshed, err := s.accountRepo.FindByID(ctx, s.db, memberID); err == nil && refreshed != nil {
		result.Account = refreshed
	}

	if err := s.notification.SendWelcome(ctx, notification.WelcomeMessage{
		Email:     req.Email,
		FirstName: req.FirstName,
		OwnerName: strings.TrimSpace(owner.FirstName + " " + owner.LastName),
		Origin:    notification.OriginFamilyEnrollment,
	}); err != nil {
		// Mail failure never fails enrollment.
		s.log.Warn("welcome mail failed",
			zap.String("email", req.Email),
			zap.Error(err))
	}

	return &result, nil
}

// RemoveMembers detaches dependents from an owner. CRM cleanup data is
// captured before the local rows are deleted so the delete job can
// still find the mirrored pair. Failures on one member do not stop the
// rest of the batch.
func (s *Service) RemoveMembers(ctx context.Context, ownerID snowflake.ID, memberIDs []snowflake.ID) (*domain.RemoveMembersResult, error) {
	if len(memberIDs) == 0 {
		return nil, domain.ErrNoMembersGiven
	}

	owner, err := s.loadOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	result := &domain.RemoveMembersResult{}
	var batchErr error

	for _, memberID := range memberIDs {
		if err := s.removeOne(ctx, owner, memberID); err != nil {
			batchErr = errors.Join(batchErr, err)
			continue
		}
		result.Removed = append(result.Removed, memberID)
	}

	// Final reconcile runs even when every removal failed, so partial
	// local effects never leave the cached counters stale.
	if _, err := s.slots.Reconcile(ctx, ownerID); err != nil {
		batchErr = errors.Join(batchErr, err)
	}

	return result, batchErr
}

func (s *Service) removeOne(ctx context.Context, owner *accountdomain.Account, memberID snowflake.ID) error {
	if memberID == owner.ID {
		return domain.ErrSelfRemoval
	}

	member, err := s.accountRepo.FindByID(ctx, s.db, memberID)
	if err != nil {
		return err
	}
	if member == nil {
		return domain.ErrMemberNotFound
	}

	linked, err := s.graph.HasEdge(ctx, owner.ID, memberID)
	if err != nil {
		return err
	}
	if !linked {
		return domain.ErrNotFamilyMember
	}

	// Capture CRM identifiers now, the account row is about to go.
	payload := syncdomain.DeletePayload{
		AccountID:  memberID,
		ParentID:   owner.ID,
		ChildEmail: member.Email,
	}
	if member.ExternalID != nil {
		payload.ChildExternalID = *member.ExternalID
	}
	if owner.ExternalID != nil {
		payload.ParentExternalID = *owner.ExternalID
	}
	if member.ParentToChildRelationshipID != nil {
		payload.ParentToChildID = *member.ParentToChildRelationshipID
	}
	if member.ChildToParentRelationshipID != nil {
		payload.ChildToParentID = *member.ChildToParentRelationshipID
	}

	if _, err := s.sync.ScheduleDelete(ctx, payload); err != nil {
		s.log.Warn("delete sync enqueue failed, running inline",
			zap.String("account_id", memberID.String()),
			zap.Error(err))
		if syncErr := s.sync.ExecuteDeleteNow(ctx, payload); syncErr != nil {
			s.log.Warn("inline delete sync failed",
				zap.String("account_id", memberID.String()),
				zap.Error(syncErr))
		}
	}

	if err := s.accountRepo.Delete(ctx, s.db, memberID); err != nil {
		return err
	}
	if err := s.graph.RemoveEdge(ctx, owner.ID, memberID); err != nil && !errors.Is(err, graphdomain.ErrEdgeNotFound) {
		return err
	}

	// Refresh the counters per removal so later members in the same
	// batch see accurate slot state.
	if _, err := s.slots.Reconcile(ctx, owner.ID); err != nil {
		return err
	}

	s.log.Info("family member removed",
		zap.String("owner_id", owner.ID.String()),
		zap.String("account_id", memberID.String()),
	)
	return nil
}

func (s *Service) ListMembers(ctx context.Context, ownerID snowflake.ID) ([]accountdomain.Account, error) {
	if _, err := s.loadOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	childIDs, err := s.graph.ListChildren(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	members := make([]accountdomain.Account, 0, len(childIDs))
	for _, id := range childIDs {
		member, err := s.accountRepo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if member == nil {
			continue
		}
		members = append(members, *member)
	}
	return members, nil
}

func (s *Service) loadOwner(ctx context.Context, ownerID snowflake.ID) (*accountdomain.Account, error) {
	owner, err := s.accountRepo.FindByID(ctx, s.db, ownerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, slotdomain.ErrOwnerNotFound
	}
	if owner.Role != accountdomain.RoleOwner {
		return nil, slotdomain.ErrNotOwner
	}
	return owner, nil
}
