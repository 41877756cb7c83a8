package domain

import (
	"context"
	"errors"
)

// Pair identifies the two directed CRM relationship records that mirror
// one parent/child link. Either side may be zero when its creation
// failed or its ID was never captured.
type Pair struct {
	ParentToChildID int64
	ChildToParentID int64
}

// Party is one end of a relationship pair as known to the CRM.
type Party struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
}

// Service manages mirrored relationship pairs in the CRM. CreatePair
// and DeletePair issue the two directed calls independently, a partial
// result is returned together with the error so callers can persist
// whatever side succeeded. Sides already present in existing are not
// recreated, which keeps retried sync jobs from duplicating records.
type Service interface {
	CreatePair(ctx context.Context, parent, child Party, existing Pair) (Pair, error)
	DeletePair(ctx context.Context, parent, child Party, pair Pair) error
	ReconcileOrphans(ctx context.Context, parent, child Party) (int, error)
	EnsureConstituent(ctx context.Context, party Party) (string, error)
}

var (
	ErrTypeNotConfigured = errors.New("relationship_type_not_configured")
	ErrMissingExternalID = errors.New("relationship_missing_external_id")
)

const (
	// TypeNameParent tags the record on the child's constituent that
	// points at the parent.
	TypeNameParent = "Parent"
	// TypeNameChild tags the record on the parent's constituent that
	// points at the child.
	TypeNameChild = "Child"
)
