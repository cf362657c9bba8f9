package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("entitlement_not_found")
	// ErrPersistenceFailure means every backend, fallback included,
	// rejected the write. The caller must not drop a confirmed payment.
	ErrPersistenceFailure = errors.New("entitlement_persistence_failure")
	ErrInvalidRequest     = errors.New("entitlement_invalid_request")
)

// ActivateInput carries a confirmed payment into the persistence chain.
type ActivateInput struct {
	OrderNsu   string
	UserEmail  string
	UserID     *string
	Valor      float64
	Metodo     string
	ReceiptURL string
	ApprovedAt *time.Time
}

// Resolution answers "is this user currently entitled?".
type Resolution struct {
	Entitled       bool       `json:"entitled"`
	Source         string     `json:"source,omitempty"`
	DataVencimento *time.Time `json:"data_vencimento,omitempty"`
	DiasRestantes  int        `json:"dias_restantes"`
	OrderNsu       string     `json:"order_nsu,omitempty"`
}

// Resolution sources.
const (
	SourceStore    = "store"
	SourceFallback = "fallback"
)

// Service owns durable activation and the read side of entitlements.
type Service interface {
	// Activate durably records an approved payment. It is idempotent on
	// OrderNsu and survives a primary-store outage via the fallback cache.
	Activate(ctx context.Context, in ActivateInput) error
	// IsActivated reports whether OrderNsu already produced a row.
	IsActivated(ctx context.Context, orderNsu string) (bool, error)
	Resolve(ctx context.Context, userEmail string, userID *string) (Resolution, error)

	List(ctx context.Context, limit, offset int) ([]Entitlement, error)
	Cancel(ctx context.Context, userEmail string) error
	Extend(ctx context.Context, userEmail string, days int) (*Entitlement, error)
	ExpireStale(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}
