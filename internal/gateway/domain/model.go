package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGatewayUnavailable covers network failures and gateway 5xx responses.
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrInvalidCredentials = errors.New("gateway_invalid_credentials")
)

// Gateway payment statuses consumed by the reconciliation flow.
const (
	StatusApproved = "approved"
	StatusPending  = "pending"
	StatusRejected = "rejected"
)

// Instant transfer method identifier as reported by the gateway.
const PaymentTypeInstantTransfer = "pix"

// PreferenceRequest describes a checkout session to be created.
type PreferenceRequest struct {
	ExternalReference string
	PayerEmail        string
	PayerName         string
	Title             string
	Amount            float64
	Currency          string
	BackURL           string
}

// Preference is the created checkout session.
type Preference struct {
	ID        string
	InitPoint string
}

// PaymentStatus is the authoritative status of one gateway payment.
type PaymentStatus struct {
	ID                string
	Status            string
	StatusDetail      string
	TransactionAmount float64
	PaymentTypeID     string
	ExternalReference string
	PayerEmail        string
	DateApproved      *time.Time
	ReceiptURL        string
}

// Approved reports whether the gateway considers the payment settled.
func (p PaymentStatus) Approved() bool {
	return p.Status == StatusApproved
}

// Client is the outbound payment gateway surface.
type Client interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentStatus, error)
	SearchRecentPayments(ctx context.Context, payerEmail string, since time.Time) ([]PaymentStatus, error)
}
