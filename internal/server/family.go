package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	lifecycledomain "github.com/smallbiznis/famlink/internal/lifecycle/domain"
)

type createAccountRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	account, err := s.accountSvc.Create(c.Request.Context(), accountdomain.CreateAccountRequest{
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      accountdomain.Role(strings.TrimSpace(req.Role)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) GetAccount(c *gin.Context) {
	account, err := s.accountSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if account == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

type createFamilyMemberRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (s *Server) CreateFamilyMember(c *gin.Context) {
	ownerID, err := parseSnowflakeParam(c, "owner_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createFamilyMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.lifecycleSvc.CreateMember(c.Request.Context(), lifecycledomain.CreateMemberRequest{
		OwnerID:   ownerID,
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":        result.Account,
		"sync_queued": result.SyncQueued,
	})
}

type removeFamilyMembersRequest struct {
	MemberIDs []string `json:"member_ids"`
}

func (s *Server) RemoveFamilyMembers(c *gin.Context) {
	ownerID, err := parseSnowflakeParam(c, "owner_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req removeFamilyMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	memberIDs := make([]snowflake.ID, 0, len(req.MemberIDs))
	for _, raw := range req.MemberIDs {
		id, err := parseSnowflake(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		memberIDs = append(memberIDs, id)
	}

	result, err := s.lifecycleSvc.RemoveMembers(c.Request.Context(), ownerID, memberIDs)
	if err != nil && result == nil {
		AbortWithError(c, err)
		return
	}

	removed := make([]string, 0, len(result.Removed))
	for _, id := range result.Removed {
		removed = append(removed, id.String())
	}

	resp := gin.H{"removed": removed}
	if err != nil {
		// Partial failure, report which removals went through.
		resp["failed"] = err.Error()
		c.JSON(http.StatusMultiStatus, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListFamilyMembers(c *gin.Context) {
	ownerID, err := parseSnowflakeParam(c, "owner_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	members, err := s.lifecycleSvc.ListMembers(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members})
}

func (s *Server) GetSlotSummary(c *gin.Context) {
	ownerID, err := parseSnowflakeParam(c, "owner_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.slotSvc.Reconcile(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"owner_id":        summary.ParentID.String(),
		"total_purchased": summary.TotalPurchased,
		"used":            summary.ActualUsed,
		"available":       summary.Available,
	}})
}

type purchaseSlotsRequest struct {
	Count int `json:"count"`
}

func (s *Server) PurchaseSlots(c *gin.Context) {
	ownerID, err := parseSnowflakeParam(c, "owner_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req purchaseSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	summary, err := s.slotSvc.AddPurchased(c.Request.Context(), ownerID, req.Count)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"owner_id":        summary.ParentID.String(),
		"total_purchased": summary.TotalPurchased,
		"used":            summary.ActualUsed,
		"available":       summary.Available,
	}})
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := parseSnowflake(c.Param(name))
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}

func parseSnowflake(raw string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, ErrInvalidRequest
	}
	return snowflake.ID(parsed), nil
}
