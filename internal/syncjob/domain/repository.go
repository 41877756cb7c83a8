package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status    Status
	AccountID snowflake.ID
	Limit     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *SyncJob) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SyncJob, error)
	// FindPending returns an unfinished job of the same kind for the
	// same account, used to dedupe enqueues.
	FindPending(ctx context.Context, db *gorm.DB, kind Kind, accountID snowflake.ID) (*SyncJob, error)
	// ClaimDue moves up to limit due queued jobs to processing and
	// returns the claimed rows. Each job is claimed by exactly one
	// caller.
	ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]SyncJob, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	// MarkFailed reschedules the job at nextRun, or parks it as dead
	// when attempts reached maxAttempts.
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, maxAttempts int, message string, nextRun time.Time, now time.Time) (Status, error)
	// Requeue returns a failed or dead job to the queue for another
	// attempt.
	Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]SyncJob, error)
}
