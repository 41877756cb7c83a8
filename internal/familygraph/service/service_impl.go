package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/famlink/internal/familygraph/domain"
	"github.com/smallbiznis/famlink/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("familygraph.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// AddEdge records a new owner→dependent adjacency. Re-adding an existing
// edge is a no-op so duplicate triggers cannot inflate the graph.
func (s *Service) AddEdge(ctx context.Context, parentID, childID snowflake.ID) error {
	if parentID == 0 || childID == 0 || parentID == childID {
		return domain.ErrInvalidEdge
	}

	edge := domain.Edge{
		ID:        s.genID.Generate(),
		ParentID:  parentID,
		ChildID:   childID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, &edge); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) RemoveEdge(ctx context.Context, parentID, childID snowflake.ID) error {
	if parentID == 0 || childID == 0 {
		return domain.ErrInvalidEdge
	}
	removed, err := s.repo.DeletePair(ctx, s.db, parentID, childID)
	if err != nil {
		return err
	}
	if !removed {
		return domain.ErrEdgeNotFound
	}
	return nil
}

func (s *Service) ListChildren(ctx context.Context, parentID snowflake.ID) ([]snowflake.ID, error) {
	return s.repo.ListChildren(ctx, s.db, parentID)
}

func (s *Service) CountChildren(ctx context.Context, parentID snowflake.ID) (int, error) {
	return s.repo.CountChildren(ctx, s.db, parentID)
}

func (s *Service) HasEdge(ctx context.Context, parentID, childID snowflake.ID) (bool, error) {
	return s.repo.Exists(ctx, s.db, parentID, childID)
}
