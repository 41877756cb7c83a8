package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/famlink/internal/familygraph/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, edge *domain.Edge) error {
	return db.WithContext(ctx).Create(edge).Error
}

func (r *repo) DeletePair(ctx context.Context, db *gorm.DB, parentID, childID snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).
		Where("parent_id = ? AND child_id = ?", parentID, childID).
		Delete(&domain.Edge{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListChildren(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]snowflake.ID, error) {
	var children []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Edge{}).
		Where("parent_id = ?", parentID).
		Order("created_at asc, id asc").
		Pluck("child_id", &children).Error
	if err != nil {
		return nil, err
	}
	return children, nil
}

func (r *repo) CountChildren(ctx context.Context, db *gorm.DB, parentID snowflake.ID) (int, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Edge{}).
		Where("parent_id = ?", parentID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, parentID, childID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Edge{}).
		Where("parent_id = ? AND child_id = ?", parentID, childID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
