package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/famlink/internal/syncjob/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.SyncJob) error {
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SyncJob, error) {
	var job domain.SyncJob
	err := db.WithContext(ctx).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repo) FindPending(ctx context.Context, db *gorm.DB, kind domain.Kind, accountID snowflake.ID) (*domain.SyncJob, error) {
	var job domain.SyncJob
	err := db.WithContext(ctx).
		Where("kind = ? AND account_id = ? AND status IN ?", kind, accountID,
			[]domain.Status{domain.StatusQueued, domain.StatusProcessing, domain.StatusFailed}).
		Order("created_at ASC").
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimDue selects due queued or retry-pending jobs and flips each to
// processing with a compare-and-set. A job whose CAS loses (claimed by
// another worker in between) is skipped. On postgres the candidate
// select additionally takes row locks with SKIP LOCKED to avoid CAS
// contention.
func (r *repo) ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id FROM sync_jobs
	 WHERE status IN (?, ?) AND scheduled_at <= ?
	 ORDER BY scheduled_at ASC
	 LIMIT ?`
	if db.Dialector.Name() == "postgres" {
		query += `
	 FOR UPDATE SKIP LOCKED`
	}

	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(query, domain.StatusQueued, domain.StatusFailed, now, limit).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed := make([]domain.SyncJob, 0, len(ids))
	for _, id := range ids {
		res := db.WithContext(ctx).Exec(
			`UPDATE sync_jobs
			 SET status = ?, started_at = ?, updated_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			domain.StatusProcessing, now, now, id, domain.StatusQueued, domain.StatusFailed,
		)
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		var job domain.SyncJob
		if err := db.WithContext(ctx).Where("id = ?", id).Take(&job).Error; err != nil {
			return claimed, err
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sync_jobs
		 SET status = ?, completed_at = ?, last_error = NULL, updated_at = ?
		 WHERE id = ?`,
		domain.StatusCompleted, now, now, id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt, maxAttempts int, message string, nextRun, now time.Time) (domain.Status, error) {
	status := domain.StatusFailed
	if attempt >= maxAttempts {
		status = domain.StatusDead
	}
	err := db.WithContext(ctx).Exec(
		`UPDATE sync_jobs
		 SET status = ?, attempt = ?, last_error = ?, scheduled_at = ?, updated_at = ?
		 WHERE id = ?`,
		status, attempt, message, nextRun, now, id,
	).Error
	return status, err
}

func (r *repo) Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE sync_jobs
		 SET status = ?, attempt = 0, scheduled_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.StatusQueued, now, now, id, domain.StatusFailed, domain.StatusDead,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.SyncJob, error) {
	q := db.WithContext(ctx).Model(&domain.SyncJob{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.AccountID != 0 {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var jobs []domain.SyncJob
	if err := q.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
