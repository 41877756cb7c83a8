package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Relationship is one directed half of a mirrored CRM relationship pair.
type Relationship struct {
	ID                int64     `json:"id"`
	ConstituentID     string    `json:"constituent_id"`
	RelationshipType  string    `json:"relationship_type"`
	RelationTypeID    int64     `json:"relation_type_id"`
	RelatedExternalID string    `json:"related_external_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// RelationshipType is a configured relationship kind in the CRM tenant.
type RelationshipType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Constituent is the CRM-side record mirroring a local account.
type Constituent struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type CreateRelationshipRequest struct {
	ConstituentID     string
	RelationTypeID    int64
	RelatedExternalID string
}

// Connector is the outbound CRM client. Implementations must wrap
// recoverable failures (timeouts, 5xx, 429) with ErrTransient so
// callers can schedule a retry.
type Connector interface {
	RegisterOrUpdateConstituent(ctx context.Context, c Constituent) (externalID string, err error)
	CreateRelationship(ctx context.Context, req CreateRelationshipRequest) (relationshipID int64, err error)
	DeleteRelationship(ctx context.Context, constituentID string, relationshipID int64) error
	ListRelationships(ctx context.Context, constituentID string) ([]Relationship, error)
	ListRelationshipTypes(ctx context.Context) ([]RelationshipType, error)
}

var (
	ErrTransient        = errors.New("crm_transient")
	ErrNotConfigured    = errors.New("crm_not_configured")
	ErrRelationshipGone = errors.New("crm_relationship_not_found")
)

// Transient wraps err so it matches ErrTransient under errors.Is.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
