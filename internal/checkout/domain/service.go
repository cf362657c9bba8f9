package domain

import (
	"context"
	"time"
)

// StartInput identifies the payer opening a checkout session.
type StartInput struct {
	UserEmail string
	UserName  string
	UserID    *string
}

// Session is what the caller needs to hand the user to the gateway.
type Session struct {
	ExternalReference string  `json:"external_reference"`
	PreferenceID      string  `json:"preference_id"`
	InitPoint         string  `json:"init_point"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
}

// RedirectParams are the query parameters the gateway appends to the
// back URL. CollectionStatus takes precedence over Status when both are
// present; the generic field is unreliable for instant transfers.
type RedirectParams struct {
	Status            string
	CollectionStatus  string
	PaymentID         string
	ExternalReference string
}

// WebhookDelivery is one parsed inbound notification.
type WebhookDelivery struct {
	EventID   string
	EventType string
	PaymentID string
	Payload   []byte
	Signature string
}

// Service owns the reconciliation engine: session initiation, the
// detection channels, the per-attempt state machine and its timers.
type Service interface {
	StartCheckout(ctx context.Context, in StartInput) (*Session, error)
	// DetectFromRedirect normalizes redirect parameters and, when a
	// payment id is present, verifies it against the gateway.
	DetectFromRedirect(ctx context.Context, params RedirectParams) (*PaymentAttempt, error)
	// HandleWebhook records the delivery for dedup and triggers a
	// verification. It never activates an entitlement directly.
	HandleWebhook(ctx context.Context, delivery WebhookDelivery) error
	GetAttempt(ctx context.Context, externalReference string) (*PaymentAttempt, error)
	// ManualRecheck re-enters a timed-out or cancelled attempt: verify
	// the known payment id, else fall back to ambient discovery.
	ManualRecheck(ctx context.Context, externalReference string) (*PaymentAttempt, error)
	// Cancel clears both timer disciplines without forcing a transition.
	Cancel(ctx context.Context, externalReference string) error
	// RunDue advances every attempt whose ladder retry or poll tick is
	// due at now. The scheduler calls it on every tick.
	RunDue(ctx context.Context, now time.Time) error
}
