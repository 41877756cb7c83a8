package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	"github.com/smallbiznis/famlink/internal/clock"
	"github.com/smallbiznis/famlink/internal/config"
	crmdomain "github.com/smallbiznis/famlink/internal/crm/domain"
	obsmetrics "github.com/smallbiznis/famlink/internal/observability/metrics"
	relationshipdomain "github.com/smallbiznis/famlink/internal/relationship/domain"
	"github.com/smallbiznis/famlink/internal/syncjob/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	AccountRepo  accountdomain.Repository
	Relationship relationshipdomain.Service
	Policy       *config.PolicyHolder
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	accountRepo  accountdomain.Repository
	relationship relationshipdomain.Service
	policy       *config.PolicyHolder

	// wake is signaled on enqueue so the worker picks new jobs up
	// before the next tick.
	wake chan struct{}
}

func New(p Params) domain.Scheduler {
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("syncjob.scheduler"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		accountRepo:  p.AccountRepo,
		relationship: p.Relationship,
		policy:       p.Policy,
		wake:         make(chan struct{}, 1),
	}
}

func (s *Scheduler) ScheduleCreate(ctx context.Context, accountID, parentID snowflake.ID) (*domain.SyncJob, error) {
	if pending, err := s.repo.FindPending(ctx, s.db, domain.KindCreate, accountID); err != nil {
		return nil, err
	} else if pending != nil {
		return pending, nil
	}

	now := s.clock.Now()
	job := &domain.SyncJob{
		ID:          s.genID.Generate(),
		Kind:        domain.KindCreate,
		Status:      domain.StatusQueued,
		AccountID:   accountID,
		ParentID:    parentID,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, job); err != nil {
		return nil, err
	}
	if err := s.accountRepo.MarkSyncQueued(ctx, s.db, accountID, now); err != nil {
		return nil, err
	}

	s.notify()
	return job, nil
}

func (s *Scheduler) ScheduleDelete(ctx context.Context, payload domain.DeletePayload) (*domain.SyncJob, error) {
	if pending, err := s.repo.FindPending(ctx, s.db, domain.KindDelete, payload.AccountID); err != nil {
		return nil, err
	} else if pending != nil {
		return pending, nil
	}

	now := s.clock.Now()
	job := &domain.SyncJob{
		ID:        s.genID.Generate(),
		Kind:      domain.KindDelete,
		Status:    domain.StatusQueued,
		AccountID: payload.AccountID,
		ParentID:  payload.ParentID,
		Context: datatypes.JSONMap{
			domain.CtxChildExternalID:  payload.ChildExternalID,
			domain.CtxParentExternalID: payload.ParentExternalID,
			domain.CtxParentToChildID:  payload.ParentToChildID,
			domain.CtxChildToParentID:  payload.ChildToParentID,
			domain.CtxChildEmail:       payload.ChildEmail,
		},
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, job); err != nil {
		return nil, err
	}

	s.notify()
	return job, nil
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	pol := s.policy.Get()
	now := s.clock.Now()

	jobs, err := s.repo.ClaimDue(ctx, s.db, now, pol.WorkerBatchSize)
	if err != nil {
		return err
	}

	var runErr error
	for i := range jobs {
		if ctx.Err() != nil {
			return errors.Join(runErr, ctx.Err())
		}
		if err := s.runJob(ctx, &jobs[i], pol); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.policy.Get().WorkerInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)
	syncMetrics := obsmetrics.Sync()

	for {
		if lag := s.loopLag(nextRun); lag > 0 {
			syncMetrics.ObserveWorkerLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sync worker run failed", zap.Error(err))
		}
		nextRun = s.clock.Now().Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// loopLag measures how far behind schedule the worker is, on the same
// clock that produced nextRun.
func (s *Scheduler) loopLag(nextRun time.Time) time.Duration {
	return s.clock.Now().Sub(nextRun)
}

func (s *Scheduler) runJob(ctx context.Context, job *domain.SyncJob, pol config.MembershipPolicy) error {
	syncMetrics := obsmetrics.Sync()
	syncMetrics.IncJobRun(string(job.Kind))
	start := s.clock.Now()

	log := s.log.With(
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("account_id", job.AccountID.String()),
		zap.Int("attempt", job.Attempt+1),
	)

	var err error
	switch job.Kind {
	case domain.KindCreate:
		err = s.syncCreate(ctx, job.AccountID, job.ParentID)
	case domain.KindDelete:
		err = s.syncDelete(ctx, payloadFromJob(job))
	default:
		err = fmt.Errorf("sync_job_unknown_kind_%s", job.Kind)
	}
	syncMetrics.ObserveJobDuration(string(job.Kind), s.clock.Now().Sub(start))

	now := s.clock.Now()
	if err == nil {
		if markErr := s.repo.MarkCompleted(ctx, s.db, job.ID, now); markErr != nil {
			return markErr
		}
		syncMetrics.IncJobOutcome(string(job.Kind), obsmetrics.SyncOutcomeCompleted)
		log.Info("sync job completed")
		return nil
	}

	attempt := job.Attempt + 1
	nextRun := now.Add(pol.SyncRetryDelay)
	maxAttempts := pol.SyncMaxAttempts
	if !retryable(err) {
		// Configuration problems do not heal with retries.
		maxAttempts = attempt
	}

	status, markErr := s.repo.MarkFailed(ctx, s.db, job.ID, attempt, maxAttempts, err.Error(), nextRun, now)
	if markErr != nil {
		return errors.Join(err, markErr)
	}

	if status == domain.StatusDead {
		syncMetrics.IncJobOutcome(string(job.Kind), obsmetrics.SyncOutcomeDead)
		log.Error("sync job dead lettered", zap.Error(err))
	} else {
		syncMetrics.IncJobRetry(string(job.Kind))
		syncMetrics.IncJobOutcome(string(job.Kind), obsmetrics.SyncOutcomeFailed)
		log.Warn("sync job failed, rescheduled", zap.Time("next_run", nextRun), zap.Error(err))
	}

	if job.Kind == domain.KindCreate {
		if accErr := s.accountRepo.MarkSyncFailed(ctx, s.db, job.AccountID, err.Error(), now); accErr != nil {
			return errors.Join(err, accErr)
		}
	}
	// The failure is recorded on the job row, the run itself is handled.
	return nil
}

func (s *Scheduler) ExecuteCreateNow(ctx context.Context, accountID, parentID snowflake.ID) error {
	if err := s.syncCreate(ctx, accountID, parentID); err != nil {
		now := s.clock.Now()
		if accErr := s.accountRepo.MarkSyncFailed(ctx, s.db, accountID, err.Error(), now); accErr != nil {
			return errors.Join(err, accErr)
		}
		return err
	}
	return nil
}

func (s *Scheduler) ExecuteDeleteNow(ctx context.Context, payload domain.DeletePayload) error {
	return s.syncDelete(ctx, payload)
}

// syncCreate mirrors the parent/child link into the CRM. Each step is
// idempotent: already assigned external ids and already stored
// relationship ids are not recreated, so a retried job resumes where
// the previous attempt stopped.
func (s *Scheduler) syncCreate(ctx context.Context, accountID, parentID snowflake.ID) error {
	child, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return err
	}
	if child == nil {
		// Removed locally before the job ran, nothing left to mirror.
		return nil
	}
	parent, err := s.accountRepo.FindByID(ctx, s.db, parentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return domain.ErrAccountGone
	}

	parentExternalID, err := s.ensureExternalID(ctx, parent)
	if err != nil {
		return err
	}
	childExternalID, err := s.ensureExternalID(ctx, child)
	if err != nil {
		return err
	}

	var existing relationshipdomain.Pair
	if child.ParentToChildRelationshipID != nil {
		existing.ParentToChildID = *child.ParentToChildRelationshipID
	}
	if child.ChildToParentRelationshipID != nil {
		existing.ChildToParentID = *child.ChildToParentRelationshipID
	}
	if existing.ParentToChildID != 0 && existing.ChildToParentID != 0 {
		return s.accountRepo.MarkSyncProcessed(ctx, s.db, accountID, s.clock.Now())
	}

	pair, pairErr := s.relationship.CreatePair(ctx,
		relationshipdomain.Party{ExternalID: parentExternalID, Email: parent.Email, FirstName: parent.FirstName, LastName: parent.LastName},
		relationshipdomain.Party{ExternalID: childExternalID, Email: child.Email, FirstName: child.FirstName, LastName: child.LastName},
		existing,
	)

	// Persist whatever side succeeded so a retry does not duplicate it.
	var parentToChild, childToParent *int64
	if pair.ParentToChildID != 0 {
		parentToChild = &pair.ParentToChildID
	}
	if pair.ChildToParentID != 0 {
		childToParent = &pair.ChildToParentID
	}
	if parentToChild != nil || childToParent != nil {
		if err := s.accountRepo.UpdateRelationshipIDs(ctx, s.db, accountID, childToParent, parentToChild, s.clock.Now()); err != nil {
			return errors.Join(pairErr, err)
		}
	}
	if pairErr != nil {
		return pairErr
	}

	return s.accountRepo.MarkSyncProcessed(ctx, s.db, accountID, s.clock.Now())
}

func (s *Scheduler) syncDelete(ctx context.Context, payload domain.DeletePayload) error {
	return s.relationship.DeletePair(ctx,
		relationshipdomain.Party{ExternalID: payload.ParentExternalID},
		relationshipdomain.Party{ExternalID: payload.ChildExternalID, Email: payload.ChildEmail},
		relationshipdomain.Pair{
			ParentToChildID: payload.ParentToChildID,
			ChildToParentID: payload.ChildToParentID,
		},
	)
}

func (s *Scheduler) ensureExternalID(ctx context.Context, account *accountdomain.Account) (string, error) {
	if account.ExternalID != nil && *account.ExternalID != "" {
		return *account.ExternalID, nil
	}
	externalID, err := s.relationship.EnsureConstituent(ctx, relationshipdomain.Party{
		Email:     account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
	})
	if err != nil {
		return "", err
	}
	if err := s.accountRepo.UpdateExternalID(ctx, s.db, account.ID, externalID, s.clock.Now()); err != nil {
		return "", err
	}
	account.ExternalID = &externalID
	return externalID, nil
}

func (s *Scheduler) RequeueJob(ctx context.Context, id snowflake.ID) (*domain.SyncJob, error) {
	job, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}

	ok, err := s.repo.Requeue(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrJobNotRetryable
	}

	s.notify()
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Scheduler) ListJobs(ctx context.Context, filter domain.ListFilter) ([]domain.SyncJob, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func retryable(err error) bool {
	if errors.Is(err, crmdomain.ErrNotConfigured) ||
		errors.Is(err, relationshipdomain.ErrTypeNotConfigured) ||
		errors.Is(err, relationshipdomain.ErrMissingExternalID) {
		return false
	}
	return true
}

func payloadFromJob(job *domain.SyncJob) domain.DeletePayload {
	return domain.DeletePayload{
		AccountID:        job.AccountID,
		ParentID:         job.ParentID,
		ChildExternalID:  ctxString(job.Context, domain.CtxChildExternalID),
		ParentExternalID: ctxString(job.Context, domain.CtxParentExternalID),
		ParentToChildID:  ctxInt64(job.Context, domain.CtxParentToChildID),
		ChildToParentID:  ctxInt64(job.Context, domain.CtxChildToParentID),
		ChildEmail:       ctxString(job.Context, domain.CtxChildEmail),
	}
}

func ctxString(m datatypes.JSONMap, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func ctxInt64(m datatypes.JSONMap, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}
