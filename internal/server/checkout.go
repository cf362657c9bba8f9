package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	checkoutdomain "github.com/vidaalinhada/alinhada/internal/checkout/domain"
)

type startCheckoutRequest struct {
	Email  string  `json:"email"`
	Name   string  `json:"name"`
	UserID *string `json:"user_id"`
}

func (s *Server) StartCheckout(c *gin.Context) {
	var req startCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	session, err := s.checkoutSvc.StartCheckout(c.Request.Context(), checkoutdomain.StartInput{
		UserEmail: req.Email,
		UserName:  req.Name,
		UserID:    req.UserID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// CheckoutReturn receives the gateway redirect. The query parameters are
// hints; the verifier decides what actually happened.
func (s *Server) CheckoutReturn(c *gin.Context) {
	params := checkoutdomain.RedirectParams{
		Status:            c.Query("status"),
		CollectionStatus:  c.Query("collection_status"),
		PaymentID:         c.Query("payment_id"),
		ExternalReference: c.Query("external_reference"),
	}

	attempt, err := s.checkoutSvc.DetectFromRedirect(c.Request.Context(), params)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

func (s *Server) GetCheckoutAttempt(c *gin.Context) {
	attempt, err := s.checkoutSvc.GetAttempt(c.Request.Context(), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

func (s *Server) RecheckCheckout(c *gin.Context) {
	attempt, err := s.checkoutSvc.ManualRecheck(c.Request.Context(), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

func (s *Server) CancelCheckout(c *gin.Context) {
	if err := s.checkoutSvc.Cancel(c.Request.Context(), c.Param("reference")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// The gateway sends numeric ids in some webhook versions and strings in
// others; json.Number absorbs both.
type webhookBody struct {
	ID   json.Number `json:"id"`
	Type string      `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, checkoutdomain.ErrInvalidWebhookPayload)
		return
	}

	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		AbortWithError(c, checkoutdomain.ErrInvalidWebhookPayload)
		return
	}

	delivery := checkoutdomain.WebhookDelivery{
		EventID:   body.ID.String(),
		EventType: body.Type,
		PaymentID: body.Data.ID.String(),
		Payload:   payload,
		Signature: c.GetHeader("x-signature"),
	}

	if err := s.checkoutSvc.HandleWebhook(c.Request.Context(), delivery); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
