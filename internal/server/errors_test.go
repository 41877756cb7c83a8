package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	crmdomain "github.com/smallbiznis/famlink/internal/crm/domain"
	lifecycledomain "github.com/smallbiznis/famlink/internal/lifecycle/domain"
	slotdomain "github.com/smallbiznis/famlink/internal/slotledger/domain"
	syncdomain "github.com/smallbiznis/famlink/internal/syncjob/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"invalid request", lifecycledomain.ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{"self removal", lifecycledomain.ErrSelfRemoval, http.StatusBadRequest, "validation_error"},
		{"duplicate email", accountdomain.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
		{"quota exhausted", slotdomain.ErrNoAvailableSlot, http.StatusConflict, "no_available_slot"},
		{"hard ceiling", slotdomain.ErrHardMaximum, http.StatusConflict, "hard_maximum_reached"},
		{"job not retryable", syncdomain.ErrJobNotRetryable, http.StatusConflict, "job_not_retryable"},
		{"not owner", slotdomain.ErrNotOwner, http.StatusForbidden, "forbidden"},
		{"not family member", lifecycledomain.ErrNotFamilyMember, http.StatusForbidden, "forbidden"},
		{"owner missing", slotdomain.ErrOwnerNotFound, http.StatusNotFound, "not_found"},
		{"job missing", syncdomain.ErrJobNotFound, http.StatusNotFound, "not_found"},
		{"lock contention", slotdomain.ErrLockUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"transient crm failure", crmdomain.Transient(errors.New("timeout")), http.StatusServiceUnavailable, "service_unavailable"},
		{"crm not configured", crmdomain.ErrNotConfigured, http.StatusInternalServerError, "configuration_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantType, payload.Type)
		})
	}
}

func TestMapErrorUnwrapsJoinedErrors(t *testing.T) {
	err := errors.Join(
		fmt.Errorf("removing member 42: %w", lifecycledomain.ErrMemberNotFound),
	)
	status, payload := mapError(err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", payload.Type)
}

func TestErrorHandlingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	engine.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, slotdomain.ErrNoAvailableSlot)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":{"type":"no_available_slot","message":"no membership slots available"}}`, rec.Body.String())
}
