package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// DeletePayload is captured before the local account row is removed so
// the delete job can still reach the CRM afterwards.
type DeletePayload struct {
	AccountID        snowflake.ID
	ParentID         snowflake.ID
	ChildExternalID  string
	ParentExternalID string
	ParentToChildID  int64
	ChildToParentID  int64
	ChildEmail       string
}

// Scheduler enqueues and executes CRM sync jobs. Schedule* dedupes
// against unfinished jobs for the same account. Execute*Now runs the
// synchronization inline, used as a fallback when enqueueing is not
// possible and by the worker itself.
type Scheduler interface {
	ScheduleCreate(ctx context.Context, accountID, parentID snowflake.ID) (*SyncJob, error)
	ScheduleDelete(ctx context.Context, payload DeletePayload) (*SyncJob, error)

	ExecuteCreateNow(ctx context.Context, accountID, parentID snowflake.ID) error
	ExecuteDeleteNow(ctx context.Context, payload DeletePayload) error

	RunOnce(ctx context.Context) error
	RunForever(ctx context.Context)

	RequeueJob(ctx context.Context, id snowflake.ID) (*SyncJob, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]SyncJob, error)
}

var (
	ErrJobNotFound     = errors.New("sync_job_not_found")
	ErrJobNotRetryable = errors.New("sync_job_not_retryable")
	ErrAccountGone     = errors.New("sync_account_not_found")
)
