package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	syncdomain "github.com/smallbiznis/famlink/internal/syncjob/domain"
)

type syncJobView struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Status      string  `json:"status"`
	Attempt     int     `json:"attempt"`
	AccountID   string  `json:"account_id"`
	ParentID    string  `json:"parent_id"`
	ScheduledAt string  `json:"scheduled_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	LastError   *string `json:"last_error,omitempty"`
}

func (s *Server) ListSyncJobs(c *gin.Context) {
	var query struct {
		Status    string `form:"status"`
		AccountID string `form:"account_id"`
		Limit     int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	filter := syncdomain.ListFilter{
		Status: syncdomain.Status(strings.TrimSpace(query.Status)),
		Limit:  query.Limit,
	}
	if raw := strings.TrimSpace(query.AccountID); raw != "" {
		id, err := parseSnowflake(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.AccountID = id
	}

	jobs, err := s.syncSvc.ListJobs(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]syncJobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, toSyncJobView(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) RetrySyncJob(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.syncSvc.RequeueJob(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view := toSyncJobView(job)
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func toSyncJobView(job *syncdomain.SyncJob) syncJobView {
	view := syncJobView{
		ID:          job.ID.String(),
		Kind:        string(job.Kind),
		Status:      string(job.Status),
		Attempt:     job.Attempt,
		AccountID:   job.AccountID.String(),
		ParentID:    job.ParentID.String(),
		ScheduledAt: job.ScheduledAt.UTC().Format(time.RFC3339),
		LastError:   job.LastError,
	}
	if job.CompletedAt != nil {
		completed := job.CompletedAt.UTC().Format(time.RFC3339)
		view.CompletedAt = &completed
	}
	return view
}
