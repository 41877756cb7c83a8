package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/famlink/internal/cache"
	crmdomain "github.com/smallbiznis/famlink/internal/crm/domain"
	obsmetrics "github.com/smallbiznis/famlink/internal/observability/metrics"
	"github.com/smallbiznis/famlink/internal/relationship/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const typeCacheTTL = 10 * time.Minute

type Params struct {
	fx.In

	Log       *zap.Logger
	Connector crmdomain.Connector
}

type Service struct {
	log       *zap.Logger
	connector crmdomain.Connector
	typeIDs   cache.Cache[string, int64]
}

func New(p Params) domain.Service {
	return &Service{
		log:       p.Log.Named("relationship.service"),
		connector: p.Connector,
		typeIDs:   cache.NewTTLCache[string, int64](),
	}
}

func (s *Service) EnsureConstituent(ctx context.Context, party domain.Party) (string, error) {
	externalID, err := s.connector.RegisterOrUpdateConstituent(ctx, crmdomain.Constituent{
		ExternalID: party.ExternalID,
		Email:      party.Email,
		FirstName:  party.FirstName,
		LastName:   party.LastName,
	})
	if err != nil {
		return "", err
	}
	return externalID, nil
}

// CreatePair writes both directed relationship records. The two calls
// are independent, a failure on one side does not roll back the other.
// The returned pair carries whichever IDs were created so callers can
// persist partial progress before surfacing the error. Sides already
// present in existing are carried over untouched, so a retried job
// only creates what its previous attempt missed.
func (s *Service) CreatePair(ctx context.Context, parent, child domain.Party, existing domain.Pair) (domain.Pair, error) {
	if parent.ExternalID == "" || child.ExternalID == "" {
		return domain.Pair{}, domain.ErrMissingExternalID
	}

	childTypeID, err := s.lookupTypeID(ctx, domain.TypeNameChild)
	if err != nil {
		return domain.Pair{}, err
	}
	parentTypeID, err := s.lookupTypeID(ctx, domain.TypeNameParent)
	if err != nil {
		return domain.Pair{}, err
	}

	pair := existing
	var errs []error

	if pair.ParentToChildID == 0 {
		pair.ParentToChildID, err = s.connector.CreateRelationship(ctx, crmdomain.CreateRelationshipRequest{
			ConstituentID:     parent.ExternalID,
			RelationTypeID:    childTypeID,
			RelatedExternalID: child.ExternalID,
		})
		if err != nil {
			s.log.Warn("parent side relationship create failed",
				zap.String("parent_external_id", parent.ExternalID),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if pair.ChildToParentID == 0 {
		pair.ChildToParentID, err = s.connector.CreateRelationship(ctx, crmdomain.CreateRelationshipRequest{
			ConstituentID:     child.ExternalID,
			RelationTypeID:    parentTypeID,
			RelatedExternalID: parent.ExternalID,
		})
		if err != nil {
			s.log.Warn("child side relationship create failed",
				zap.String("child_external_id", child.ExternalID),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	return pair, errors.Join(errs...)
}

// DeletePair removes both sides by their stored IDs. A side whose ID
// was never stored, whose stored ID is stale upstream, or whose delete
// fails falls back to a query-based sweep over the constituents'
// relationships, so the pair never leaks.
func (s *Service) DeletePair(ctx context.Context, parent, child domain.Party, pair domain.Pair) error {
	var errs []error
	needFallback := false

	if pair.ParentToChildID != 0 && parent.ExternalID != "" {
		if err := s.connector.DeleteRelationship(ctx, parent.ExternalID, pair.ParentToChildID); err != nil {
			needFallback = true
			if !errors.Is(err, crmdomain.ErrRelationshipGone) {
				errs = append(errs, err)
			}
		}
	} else {
		needFallback = true
	}

	if pair.ChildToParentID != 0 && child.ExternalID != "" {
		if err := s.connector.DeleteRelationship(ctx, child.ExternalID, pair.ChildToParentID); err != nil {
			needFallback = true
			if !errors.Is(err, crmdomain.ErrRelationshipGone) {
				errs = append(errs, err)
			}
		}
	} else {
		needFallback = true
	}

	if needFallback {
		if _, err := s.ReconcileOrphans(ctx, parent, child); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ReconcileOrphans sweeps both constituents' relationship lists and
// deletes records that link the two parties, matching the type name by
// case-insensitive substring. Used when stored IDs are missing or
// stale.
func (s *Service) ReconcileOrphans(ctx context.Context, parent, child domain.Party) (int, error) {
	obsmetrics.Sync().IncReconciliation("relationship_fallback")

	deleted := 0
	var errs []error

	if parent.ExternalID != "" && child.ExternalID != "" {
		n, err := s.sweepConstituent(ctx, parent.ExternalID, domain.TypeNameChild, child.ExternalID)
		deleted += n
		if err != nil {
			errs = append(errs, err)
		}

		n, err = s.sweepConstituent(ctx, child.ExternalID, domain.TypeNameParent, parent.ExternalID)
		deleted += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	return deleted, errors.Join(errs...)
}

func (s *Service) sweepConstituent(ctx context.Context, constituentID, typeName, relatedExternalID string) (int, error) {
	relationships, err := s.connector.ListRelationships(ctx, constituentID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rel := range relationships {
		if !strings.Contains(strings.ToLower(rel.RelationshipType), strings.ToLower(typeName)) {
			continue
		}
		if rel.RelatedExternalID != relatedExternalID {
			continue
		}
		if err := s.connector.DeleteRelationship(ctx, constituentID, rel.ID); err != nil {
			if errors.Is(err, crmdomain.ErrRelationshipGone) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *Service) lookupTypeID(ctx context.Context, name string) (int64, error) {
	key := strings.ToLower(name)
	if id, ok := s.typeIDs.Get(key); ok {
		return id, nil
	}

	types, err := s.connector.ListRelationshipTypes(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range types {
		s.typeIDs.Set(strings.ToLower(t.Name), t.ID, typeCacheTTL)
	}

	for _, t := range types {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}
	return 0, domain.ErrTypeNotConfigured
}
