// Package domain contains persistence models for member accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Role represents the entitlement class of an account.
type Role string

const (
	// RoleOwner is the paying account that holds purchased slots.
	RoleOwner Role = "owner"
	// RoleMember is a dependent account inheriting the owner's entitlement.
	RoleMember Role = "member"
)

// Account captures a local member identity plus its CRM linkage.
//
// Owner rows carry the slot counters; member rows carry the membership
// snapshot copied from their owner and the CRM relationship ids needed
// to delete the mirrored pair later.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Email     string       `gorm:"uniqueIndex;not null"`
	FirstName string       `gorm:"type:text"`
	LastName  string       `gorm:"type:text"`
	Role      Role         `gorm:"type:text;not null"`

	// ExternalID is the CRM constituent id, nil until first synced.
	ExternalID *string       `gorm:"column:external_id;index"`
	ParentID   *snowflake.ID `gorm:"index"`

	MembershipLevel    string     `gorm:"type:text"`
	MembershipStart    *time.Time `gorm:""`
	MembershipRenewal  *time.Time `gorm:""`
	SubscriptionID     *string    `gorm:"type:text"`
	SubscriptionStatus *string    `gorm:"type:text"`

	// CRM relationship ids for the mirrored pair. Stored ids are the
	// fast path at delete time; query reconciliation is the backstop.
	ChildToParentRelationshipID *int64 `gorm:"column:child_to_parent_relationship_id"`
	ParentToChildRelationshipID *int64 `gorm:"column:parent_to_child_relationship_id"`

	// Slot counters, meaningful on owner rows only. SlotsUsedCached and
	// SlotsAvailable are denormalized caches; the family graph is the
	// source of truth.
	TotalSlotsPurchased int `gorm:"not null;default:0"`
	SlotsUsedCached     int `gorm:"not null;default:0"`
	SlotsAvailable      int `gorm:"not null;default:0"`

	SyncQueuedAt    *time.Time `gorm:""`
	SyncProcessedAt *time.Time `gorm:""`
	SyncFailedAt    *time.Time `gorm:""`
	SyncError       *string    `gorm:"type:text"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// MembershipSnapshot is the set of entitlement fields copied from an
// owner onto a new dependent. Later owner changes do not propagate.
type MembershipSnapshot struct {
	Level              string
	Start              *time.Time
	Renewal            *time.Time
	SubscriptionID     *string
	SubscriptionStatus *string
}

// SnapshotFrom extracts the membership snapshot of an owner account.
func SnapshotFrom(owner *Account) MembershipSnapshot {
	return MembershipSnapshot{
		Level:              owner.MembershipLevel,
		Start:              owner.MembershipStart,
		Renewal:            owner.MembershipRenewal,
		SubscriptionID:     owner.SubscriptionID,
		SubscriptionStatus: owner.SubscriptionStatus,
	}
}
