package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status values persisted on assinaturas rows. The column vocabulary is
// Portuguese because the canonical store schema predates this service.
type Status string

const (
	StatusAtiva     Status = "ativa"
	StatusCancelada Status = "cancelada"
	StatusExpirada  Status = "expirada"
)

// Payment methods persisted on assinaturas rows.
const (
	MethodPix    = "pix"
	MethodCartao = "cartao"
)

// Entitlement is the durable record granting a user premium access for
// a bounded period. A user may accumulate rows across renewals;
// "currently entitled" means status=ativa and data_vencimento >= now,
// evaluated lazily at read time.
type Entitlement struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID         *string      `json:"user_id" gorm:"type:text"`
	UserEmail      string       `json:"user_email" gorm:"type:text;not null;index"`
	Status         Status       `json:"status" gorm:"type:text;not null"`
	DataInicio     time.Time    `json:"data_inicio" gorm:"not null"`
	DataVencimento time.Time    `json:"data_vencimento" gorm:"not null"`
	Valor          float64      `json:"valor" gorm:"not null"`
	FormaPagamento string       `json:"forma_pagamento" gorm:"type:text;not null"`
	OrderNsu       string       `json:"order_nsu" gorm:"type:text;not null;uniqueIndex"`
	Slug           string       `json:"slug" gorm:"type:text"`
	ReceiptURL     string       `json:"receipt_url" gorm:"type:text"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (Entitlement) TableName() string { return "assinaturas" }

// CurrentlyEntitled applies the lazy-expiry read predicate.
func (e Entitlement) CurrentlyEntitled(now time.Time) bool {
	return e.Status == StatusAtiva && !e.DataVencimento.Before(now)
}

// DaysRemaining is a display helper; never negative.
func (e Entitlement) DaysRemaining(now time.Time) int {
	if e.DataVencimento.Before(now) {
		return 0
	}
	return int(e.DataVencimento.Sub(now).Hours() / 24)
}

// Stats aggregates entitlement rows for the admin dashboard.
// ReceitaMes covers rows created in the current calendar month.
type Stats struct {
	Total        int64   `json:"total"`
	Ativas       int64   `json:"ativas"`
	Canceladas   int64   `json:"canceladas"`
	Expiradas    int64   `json:"expiradas"`
	ReceitaTotal float64 `json:"receita_total"`
	ReceitaMes   float64 `json:"receita_mes"`
}
