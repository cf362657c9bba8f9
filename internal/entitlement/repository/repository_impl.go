package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/vidaalinhada/alinhada/internal/entitlement/domain"
)

type repo struct{}

// Provide returns the entitlement repository implementation.
func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, row *domain.Entitlement) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		INSERT INTO assinaturas (
			id, user_id, user_email, status,
			data_inicio, data_vencimento, valor, forma_pagamento,
			order_nsu, slug, receipt_url, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (order_nsu) DO NOTHING
	`,
		row.ID, row.UserID, row.UserEmail, row.Status,
		row.DataInicio, row.DataVencimento, row.Valor, row.FormaPagamento,
		row.OrderNsu, row.Slug, row.ReceiptURL, row.CreatedAt, row.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (r *repo) FindByOrderNsu(ctx context.Context, db *gorm.DB, orderNsu string) (*domain.Entitlement, error) {
	var item domain.Entitlement
	if err := db.WithContext(ctx).Raw(`
		SELECT * FROM assinaturas WHERE order_nsu = ? LIMIT 1
	`, orderNsu).Scan(&item).Error; err != nil {
		return nil, err
	}

	if item.ID == 0 {
		return nil, nil
	}

	return &item, nil
}

func (r *repo) FindCurrentByUserID(ctx context.Context, db *gorm.DB, userID string, now time.Time) (*domain.Entitlement, error) {
	var item domain.Entitlement
	if err := db.WithContext(ctx).Raw(`
		SELECT * FROM assinaturas
		WHERE user_id = ? AND status = ? AND data_vencimento >= ?
		ORDER BY data_vencimento DESC
		LIMIT 1
	`, userID, domain.StatusAtiva, now).Scan(&item).Error; err != nil {
		return nil, err
	}

	if item.ID == 0 {
		return nil, nil
	}

	return &item, nil
}

func (r *repo) FindCurrentByEmail(ctx context.Context, db *gorm.DB, userEmail string, now time.Time) (*domain.Entitlement, error) {
	var item domain.Entitlement
	if err := db.WithContext(ctx).Raw(`
		SELECT * FROM assinaturas
		WHERE user_email = ? AND status = ? AND data_vencimento >= ?
		ORDER BY data_vencimento DESC
		LIMIT 1
	`, userEmail, domain.StatusAtiva, now).Scan(&item).Error; err != nil {
		return nil, err
	}

	if item.ID == 0 {
		return nil, nil
	}

	return &item, nil
}

func (r *repo) FindLatestByEmail(ctx context.Context, db *gorm.DB, userEmail string) (*domain.Entitlement, error) {
	var item domain.Entitlement
	if err := db.WithContext(ctx).Raw(`
		SELECT * FROM assinaturas
		WHERE user_email = ?
		ORDER BY data_vencimento DESC
		LIMIT 1
	`, userEmail).Scan(&item).Error; err != nil {
		return nil, err
	}

	if item.ID == 0 {
		return nil, nil
	}

	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, limit, offset int) ([]domain.Entitlement, error) {
	var items []domain.Entitlement
	if err := db.WithContext(ctx).Raw(`
		SELECT * FROM assinaturas
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset).Scan(&items).Error; err != nil {
		return nil, err
	}

	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE assinaturas SET status = ?, updated_at = ? WHERE id = ?
	`, status, now, id)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateVencimento(ctx context.Context, db *gorm.DB, id snowflake.ID, vencimento, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE assinaturas
		SET data_vencimento = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, vencimento, domain.StatusAtiva, now, id)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (r *repo) ExpireStale(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE assinaturas
		SET status = ?, updated_at = ?
		WHERE status = ? AND data_vencimento < ?
	`, domain.StatusExpirada, now, domain.StatusAtiva, now)
	if res.Error != nil {
		return 0, res.Error
	}

	return res.RowsAffected, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, now time.Time) (domain.Stats, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	nextMonth := monthStart.AddDate(0, 1, 0)

	var stats domain.Stats
	if err := db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'ativa' THEN 1 ELSE 0 END), 0) AS ativas,
			COALESCE(SUM(CASE WHEN status = 'cancelada' THEN 1 ELSE 0 END), 0) AS canceladas,
			COALESCE(SUM(CASE WHEN status = 'expirada' THEN 1 ELSE 0 END), 0) AS expiradas,
			COALESCE(SUM(valor), 0) AS receita_total,
			COALESCE(SUM(CASE WHEN created_at >= ? AND created_at < ? THEN valor ELSE 0 END), 0) AS receita_mes
		FROM assinaturas
	`, monthStart, nextMonth).Scan(&stats).Error; err != nil {
		return domain.Stats{}, err
	}

	return stats, nil
}
