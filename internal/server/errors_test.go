package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"gorm.io/gorm"

	checkoutdomain "github.com/vidaalinhada/alinhada/internal/checkout/domain"
	entitlementdomain "github.com/vidaalinhada/alinhada/internal/entitlement/domain"
	gatewaydomain "github.com/vidaalinhada/alinhada/internal/gateway/domain"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal_error"},
		{"validation", newValidationError("email", "required", "email is required"), http.StatusBadRequest, "validation_error"},
		{"invalid request", ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{"entitlement invalid request", entitlementdomain.ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{"invalid signature", checkoutdomain.ErrInvalidSignature, http.StatusUnauthorized, "unauthorized"},
		{"payment rejected", checkoutdomain.ErrPaymentRejected, http.StatusUnprocessableEntity, "payment_rejected"},
		{"identity not ready", checkoutdomain.ErrIdentityNotReady, http.StatusConflict, "identity_not_ready"},
		{"attempt not found", checkoutdomain.ErrAttemptNotFound, http.StatusNotFound, "not_found"},
		{"entitlement not found", entitlementdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"payment not found", gatewaydomain.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
		{"gorm record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"too many requests", ErrTooManyRequests, http.StatusTooManyRequests, "too_many_requests"},
		{"gateway unavailable", gatewaydomain.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
		{"persistence failure", entitlementdomain.ErrPersistenceFailure, http.StatusServiceUnavailable, "persistence_failure"},
		{"wrapped domain error", fmt.Errorf("handler: %w", checkoutdomain.ErrAttemptNotFound), http.StatusNotFound, "not_found"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			if status != tc.wantStatus {
				t.Fatalf("status = %d, want %d", status, tc.wantStatus)
			}
			if payload.Type != tc.wantType {
				t.Fatalf("type = %s, want %s", payload.Type, tc.wantType)
			}
		})
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	if typ, class := classifyErrorForLog(checkoutdomain.ErrPaymentRejected); typ != "payment_rejected" || class != "client_error" {
		t.Fatalf("unexpected classification: %s/%s", typ, class)
	}
	if typ, class := classifyErrorForLog(errors.New("boom")); typ != "internal_error" || class != "server_error" {
		t.Fatalf("unexpected classification: %s/%s", typ, class)
	}
	if typ, class := classifyErrorForLog(nil); typ != "" || class != "" {
		t.Fatalf("nil error should classify empty, got %s/%s", typ, class)
	}
}

func TestValidationErrorsPayloadShape(t *testing.T) {
	err := newValidationError("days", "min", "days must be positive")
	_, payload := mapError(err)
	if len(payload.Errors) != 1 {
		t.Fatalf("expected 1 validation entry, got %d", len(payload.Errors))
	}
	if payload.Errors[0].Field != "days" || payload.Errors[0].Code != "min" {
		t.Fatalf("unexpected validation entry: %+v", payload.Errors[0])
	}
}
