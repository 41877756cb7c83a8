// Package domain defines slot-entitlement accounting for owner accounts.
//
// Purchased slots are a counter on the owner row; used slots are always
// recomputed from the family graph. The cached columns exist for display
// only and are re-synced on every edge mutation.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Summary is the reconciled slot state of one owner.
type Summary struct {
	ParentID       snowflake.ID `json:"parent_id"`
	TotalPurchased int          `json:"total_purchased"`
	ActualUsed     int          `json:"actual_used"`
	Available      int          `json:"available"`
}

type Service interface {
	// ActualUsed queries the family graph for the current dependent count.
	ActualUsed(ctx context.Context, parentID snowflake.ID) (int, error)

	// Reconcile recomputes availability from the graph and persists the
	// cached counters. Called after every edge mutation.
	Reconcile(ctx context.Context, parentID snowflake.ID) (Summary, error)

	// CheckAvailability reconciles and validates both the purchased quota
	// and the non-purchasable hard ceiling. Returns the summary so callers
	// can report remaining capacity.
	CheckAvailability(ctx context.Context, parentID snowflake.ID) (Summary, error)

	// SetPurchased replaces the purchased-slot counter, then reconciles.
	SetPurchased(ctx context.Context, parentID snowflake.ID, total int) (Summary, error)

	// AddPurchased increments the purchased-slot counter by a bundle size.
	AddPurchased(ctx context.Context, parentID snowflake.ID, count int) (Summary, error)

	// WithParentLock serializes the critical check-then-act section for a
	// single owner so concurrent create requests cannot both consume the
	// last slot.
	WithParentLock(ctx context.Context, parentID snowflake.ID, fn func(ctx context.Context) error) error
}

var (
	ErrNoAvailableSlot = errors.New("no_available_slot")
	ErrHardMaximum     = errors.New("hard_maximum_reached")
	ErrNotOwner        = errors.New("not_owner")
	ErrOwnerNotFound   = errors.New("owner_not_found")
	ErrInvalidSlots    = errors.New("invalid_slot_count")
	ErrLockUnavailable = errors.New("slot_lock_unavailable")
)
