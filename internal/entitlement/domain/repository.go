package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the raw persistence surface over the assinaturas table.
type Repository interface {
	// Upsert inserts the row or, when order_nsu already exists, leaves the
	// existing activation untouched. Returns true when a new row was written.
	Upsert(ctx context.Context, db *gorm.DB, row *Entitlement) (bool, error)
	FindByOrderNsu(ctx context.Context, db *gorm.DB, orderNsu string) (*Entitlement, error)
	FindCurrentByUserID(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*Entitlement, error)
	FindCurrentByEmail(ctx context.Context, db *gorm.DB, userEmail string, now time.Time) (*Entitlement, error)
	FindLatestByEmail(ctx context.Context, db *gorm.DB, userEmail string) (*Entitlement, error)
	List(ctx context.Context, db *gorm.DB, limit, offset int) ([]Entitlement, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) (bool, error)
	UpdateVencimento(ctx context.Context, db *gorm.DB, id snowflake.ID, vencimento time.Time, now time.Time) (bool, error)
	ExpireStale(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	Stats(ctx context.Context, db *gorm.DB, now time.Time) (Stats, error)
}
