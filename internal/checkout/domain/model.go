package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrAttemptNotFound = errors.New("attempt_not_found")
	// ErrPaymentRejected is the gateway's authoritative terminal no.
	ErrPaymentRejected = errors.New("payment_rejected")
	// ErrVerificationPending drives the retry ladder; callers polling an
	// attempt see it as a non-terminal state, not a failure.
	ErrVerificationPending = errors.New("verification_pending")
	// ErrIdentityNotReady means a confirmation event arrived before the
	// payer identity could be attached to it.
	ErrIdentityNotReady      = errors.New("identity_not_ready")
	ErrInvalidSignature      = errors.New("webhook_invalid_signature")
	ErrInvalidWebhookPayload = errors.New("webhook_invalid_payload")
)

// Attempt lifecycle states.
type State string

const (
	StateInitiated            State = "INITIATED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateApproved             State = "APPROVED"
	StateRejected             State = "REJECTED"
	StateTimedOut             State = "TIMED_OUT"
)

// Terminal reports whether the state admits no further automatic
// transitions. TIMED_OUT is terminal for the scheduler but re-enterable
// through a manual recheck.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateTimedOut
}

// Channels a confirmation candidate can arrive on.
const (
	ChannelRedirect = "redirect"
	ChannelWebhook  = "webhook"
	ChannelAmbient  = "ambient"
	ChannelManual   = "manual"
)

// Normalized candidate statuses produced by the detector.
const (
	CandidateApproved = "approved"
	CandidatePending  = "pending"
	CandidateRejected = "rejected"
)

// PaymentAttempt is the in-memory record of one checkout, alive from
// session creation to a terminal state. The external reference is its
// identity and the sole idempotency key for activation.
type PaymentAttempt struct {
	ExternalReference string     `json:"external_reference"`
	PaymentID         string     `json:"payment_id,omitempty"`
	PayerEmail        string     `json:"payer_email"`
	UserID            *string    `json:"user_id,omitempty"`
	PreferenceID      string     `json:"-"`
	InitPoint         string     `json:"init_point,omitempty"`
	State             State      `json:"state"`
	AttemptCount      int        `json:"attempt_count"`
	LastRawStatus     string     `json:"last_raw_status,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	NextPollAt        *time.Time `json:"next_poll_at,omitempty"`
}

// CandidateEvent is the normalized form of any confirmation signal.
// All channels funnel through it into the same transition function.
type CandidateEvent struct {
	PaymentID         string
	ExternalReference string
	RawStatus         string
	Channel           string
}

// WebhookEvent is the durable dedup record of one inbound gateway
// notification. The (provider, provider_event_id) pair is unique;
// replays insert zero rows and are dropped.
type WebhookEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:idx_webhook_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:idx_webhook_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text"`
	PaymentID       string         `json:"payment_id" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload"`
	Processed       bool           `json:"processed"`
	ReceivedAt      time.Time      `json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "payment_webhook_events" }
