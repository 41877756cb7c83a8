package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/famlink/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Create(account).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Where("id = ?", id).Take(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).Take(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Account{}).Error
}

func (r *repo) UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, role domain.Role, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET role = ?, updated_at = ? WHERE id = ?`,
		role, now, id,
	).Error
}

func (r *repo) UpdateExternalID(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET external_id = ?, updated_at = ? WHERE id = ?`,
		externalID, now, id,
	).Error
}

func (r *repo) UpdateRelationshipIDs(ctx context.Context, db *gorm.DB, id snowflake.ID, childToParent, parentToChild *int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET child_to_parent_relationship_id = ?,
		     parent_to_child_relationship_id = ?,
		     updated_at = ?
		 WHERE id = ?`,
		childToParent, parentToChild, now, id,
	).Error
}

func (r *repo) UpdateSlotCounters(ctx context.Context, db *gorm.DB, id snowflake.ID, used, available int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET slots_used_cached = ?, slots_available = ?, updated_at = ?
		 WHERE id = ?`,
		used, available, now, id,
	).Error
}

func (r *repo) UpdatePurchasedSlots(ctx context.Context, db *gorm.DB, id snowflake.ID, total int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET total_slots_purchased = ?, updated_at = ? WHERE id = ?`,
		total, now, id,
	).Error
}

func (r *repo) ApplyMembershipSnapshot(ctx context.Context, db *gorm.DB, id snowflake.ID, snapshot domain.MembershipSnapshot, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET membership_level = ?,
		     membership_start = ?,
		     membership_renewal = ?,
		     subscription_id = ?,
		     subscription_status = ?,
		     updated_at = ?
		 WHERE id = ?`,
		snapshot.Level,
		snapshot.Start,
		snapshot.Renewal,
		snapshot.SubscriptionID,
		snapshot.SubscriptionStatus,
		now,
		id,
	).Error
}

func (r *repo) MarkSyncQueued(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET sync_queued_at = ?, sync_failed_at = NULL, sync_error = NULL, updated_at = ?
		 WHERE id = ?`,
		now, now, id,
	).Error
}

func (r *repo) MarkSyncProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET sync_processed_at = ?, sync_failed_at = NULL, sync_error = NULL, updated_at = ?
		 WHERE id = ?`,
		now, now, id,
	).Error
}

func (r *repo) MarkSyncFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET sync_failed_at = ?, sync_error = ?, updated_at = ?
		 WHERE id = ?`,
		now, message, now, id,
	).Error
}
