package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) ResolveSubscription(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	var userID *string
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		userID = &raw
	}

	resolution, err := s.entitlementSvc.Resolve(c.Request.Context(), email, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resolution)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := s.entitlementSvc.List(c.Request.Context(), limit, offset)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": items})
}

func (s *Server) SubscriptionStats(c *gin.Context) {
	stats, err := s.entitlementSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

type cancelSubscriptionRequest struct {
	Email string `json:"email"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	if err := s.entitlementSvc.Cancel(c.Request.Context(), req.Email); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelada"})
}

type extendSubscriptionRequest struct {
	Email string `json:"email"`
	Days  int    `json:"days"`
}

func (s *Server) ExtendSubscription(c *gin.Context) {
	var req extendSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}
	if req.Days <= 0 {
		AbortWithError(c, newValidationError("days", "invalid", "days must be positive"))
		return
	}

	row, err := s.entitlementSvc.Extend(c.Request.Context(), req.Email, req.Days)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, row)
}

func (s *Server) ExpireSubscriptions(c *gin.Context) {
	n, err := s.entitlementSvc.ExpireStale(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"expired": n})
}
