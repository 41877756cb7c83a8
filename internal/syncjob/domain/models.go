// Package domain defines the persisted CRM sync job queue.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind identifies what a job synchronizes toward the CRM.
type Kind string

const (
	// KindCreate mirrors a new parent/child link into the CRM.
	KindCreate Kind = "create"
	// KindDelete removes a mirrored pair from the CRM.
	KindDelete Kind = "delete"
)

// Status is the lifecycle state of a sync job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// SyncJob is one unit of CRM synchronization work. Jobs are claimed by
// the worker with a compare-and-set on status, so a job is delivered to
// at most one worker at a time.
type SyncJob struct {
	ID      snowflake.ID `gorm:"primaryKey"`
	Kind    Kind         `gorm:"type:text;not null;index:idx_sync_jobs_dedupe"`
	Status  Status       `gorm:"type:text;not null;index"`
	Attempt int          `gorm:"not null;default:0"`

	// AccountID is the dependent account this job is about. ParentID is
	// the owning account.
	AccountID snowflake.ID `gorm:"not null;index:idx_sync_jobs_dedupe"`
	ParentID  snowflake.ID `gorm:"not null"`

	// Context carries the data a delete job needs after the local
	// account row is gone: external ids and stored relationship ids.
	Context datatypes.JSONMap `gorm:"type:jsonb"`

	ScheduledAt time.Time  `gorm:"not null;index"`
	StartedAt   *time.Time `gorm:""`
	CompletedAt *time.Time `gorm:""`
	LastError   *string    `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SyncJob) TableName() string { return "sync_jobs" }

// Context keys for delete jobs.
const (
	CtxChildExternalID  = "child_external_id"
	CtxParentExternalID = "parent_external_id"
	CtxParentToChildID  = "parent_to_child_relationship_id"
	CtxChildToParentID  = "child_to_parent_relationship_id"
	CtxChildEmail       = "child_email"
)
