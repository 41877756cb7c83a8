package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	crmdomain "github.com/smallbiznis/famlink/internal/crm/domain"
	graphdomain "github.com/smallbiznis/famlink/internal/familygraph/domain"
	lifecycledomain "github.com/smallbiznis/famlink/internal/lifecycle/domain"
	relationshipdomain "github.com/smallbiznis/famlink/internal/relationship/domain"
	slotdomain "github.com/smallbiznis/famlink/internal/slotledger/domain"
	syncdomain "github.com/smallbiznis/famlink/internal/syncjob/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, accountdomain.ErrDuplicateEmail):
		return http.StatusConflict, errorPayload{
			Type:    "duplicate_email",
			Message: "an account with this email already exists",
		}
	case errors.Is(err, slotdomain.ErrNoAvailableSlot):
		return http.StatusConflict, errorPayload{
			Type:    "no_available_slot",
			Message: "no membership slots available",
		}
	case errors.Is(err, slotdomain.ErrHardMaximum):
		return http.StatusConflict, errorPayload{
			Type:    "hard_maximum_reached",
			Message: "family member limit reached",
		}
	case errors.Is(err, syncdomain.ErrJobNotRetryable):
		return http.StatusConflict, errorPayload{
			Type:    "job_not_retryable",
			Message: "sync job is not in a retryable state",
		}
	case errors.Is(err, slotdomain.ErrNotOwner),
		errors.Is(err, lifecycledomain.ErrNotFamilyMember):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, slotdomain.ErrLockUnavailable),
		crmdomain.IsTransient(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "temporarily unavailable, retry later",
		}
	case errors.Is(err, crmdomain.ErrNotConfigured),
		errors.Is(err, relationshipdomain.ErrTypeNotConfigured):
		return http.StatusInternalServerError, errorPayload{
			Type:    "configuration_error",
			Message: "CRM integration is not configured",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, accountdomain.ErrInvalidEmail),
		errors.Is(err, accountdomain.ErrInvalidRole),
		errors.Is(err, accountdomain.ErrInvalidID),
		errors.Is(err, slotdomain.ErrInvalidSlots),
		errors.Is(err, lifecycledomain.ErrInvalidRequest),
		errors.Is(err, lifecycledomain.ErrNoMembersGiven),
		errors.Is(err, lifecycledomain.ErrSelfRemoval):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, slotdomain.ErrOwnerNotFound),
		errors.Is(err, lifecycledomain.ErrMemberNotFound),
		errors.Is(err, syncdomain.ErrJobNotFound),
		errors.Is(err, graphdomain.ErrEdgeNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, err.Error()
}
