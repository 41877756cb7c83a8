package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Account, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, role Role, now time.Time) error
	UpdateExternalID(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, now time.Time) error
	UpdateRelationshipIDs(ctx context.Context, db *gorm.DB, id snowflake.ID, childToParent, parentToChild *int64, now time.Time) error
	UpdateSlotCounters(ctx context.Context, db *gorm.DB, id snowflake.ID, used, available int, now time.Time) error
	UpdatePurchasedSlots(ctx context.Context, db *gorm.DB, id snowflake.ID, total int, now time.Time) error
	ApplyMembershipSnapshot(ctx context.Context, db *gorm.DB, id snowflake.ID, snapshot MembershipSnapshot, now time.Time) error

	MarkSyncQueued(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkSyncProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkSyncFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) error
}
