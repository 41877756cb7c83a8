package domain

import (
	"context"
	"errors"
)

type CreateAccountRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
	ParentID  string `json:"parent_id,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Delete(ctx context.Context, id string) error
	AssignRole(ctx context.Context, id string, role Role) error
	SetExternalID(ctx context.Context, id string, externalID string) error
}

var (
	ErrInvalidEmail   = errors.New("invalid_email")
	ErrInvalidRole    = errors.New("invalid_role")
	ErrInvalidID      = errors.New("invalid_id")
	ErrDuplicateEmail = errors.New("duplicate_email")
	ErrNotFound       = errors.New("not_found")
)
