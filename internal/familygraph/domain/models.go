// Package domain contains the family relationship graph model. The graph
// is the single source of truth for how many dependents an owner has;
// every slot counter is derived from it.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Edge is a directed owner→dependent adjacency record.
type Edge struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ParentID  snowflake.ID `gorm:"not null;uniqueIndex:idx_family_edges_pair"`
	ChildID   snowflake.ID `gorm:"not null;uniqueIndex:idx_family_edges_pair"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Edge) TableName() string { return "family_edges" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, edge *Edge) error
	DeletePair(ctx context.Context, db *gorm.DB, parentID, childID snowflake.ID) (bool, error)
	ListChildren(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]snowflake.ID, error)
	CountChildren(ctx context.Context, db *gorm.DB, parentID snowflake.ID) (int, error)
	Exists(ctx context.Context, db *gorm.DB, parentID, childID snowflake.ID) (bool, error)
}

// Service is the graph store contract consumed by the slot ledger and
// the lifecycle controller.
type Service interface {
	AddEdge(ctx context.Context, parentID, childID snowflake.ID) error
	RemoveEdge(ctx context.Context, parentID, childID snowflake.ID) error
	ListChildren(ctx context.Context, parentID snowflake.ID) ([]snowflake.ID, error)
	CountChildren(ctx context.Context, parentID snowflake.ID) (int, error)
	HasEdge(ctx context.Context, parentID, childID snowflake.ID) (bool, error)
}

var (
	ErrInvalidEdge  = errors.New("invalid_edge")
	ErrEdgeNotFound = errors.New("edge_not_found")
)
