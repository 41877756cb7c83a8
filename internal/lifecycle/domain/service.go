// Package domain defines the family membership lifecycle operations.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
)

// CreateMemberRequest enrolls a new dependent under an owner.
type CreateMemberRequest struct {
	OwnerID   snowflake.ID
	Email     string
	FirstName string
	LastName  string
}

// CreateMemberResult reports the created account and whether the CRM
// sync was queued or had to run inline.
type CreateMemberResult struct {
	Account    *accountdomain.Account
	SyncQueued bool
	SyncJobID  snowflake.ID
}

// RemoveMembersResult lists which removals succeeded. Failed removals
// are reported through the accompanying error without aborting the
// rest of the batch.
type RemoveMembersResult struct {
	Removed []snowflake.ID
}

type Service interface {
	CreateMember(ctx context.Context, req CreateMemberRequest) (*CreateMemberResult, error)
	RemoveMembers(ctx context.Context, ownerID snowflake.ID, memberIDs []snowflake.ID) (*RemoveMembersResult, error)
	ListMembers(ctx context.Context, ownerID snowflake.ID) ([]accountdomain.Account, error)
}

var (
	ErrInvalidRequest  = errors.New("lifecycle_invalid_request")
	ErrMemberNotFound  = errors.New("lifecycle_member_not_found")
	ErrNotFamilyMember = errors.New("lifecycle_not_family_member")
	ErrSelfRemoval     = errors.New("lifecycle_cannot_remove_owner")
	ErrNoMembersGiven  = errors.New("lifecycle_no_members_given")
)
