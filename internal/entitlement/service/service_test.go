package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vidaalinhada/alinhada/internal/clock"
	"github.com/vidaalinhada/alinhada/internal/config"
	"github.com/vidaalinhada/alinhada/internal/entitlement/domain"
	"github.com/vidaalinhada/alinhada/internal/entitlement/repository"
	"github.com/vidaalinhada/alinhada/internal/fallbackcache"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:entdb_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	if err := db.Exec(`
		CREATE TABLE assinaturas (
			id INTEGER PRIMARY KEY,
			user_id TEXT,
			user_email TEXT NOT NULL,
			status TEXT NOT NULL,
			data_inicio DATETIME NOT NULL,
			data_vencimento DATETIME NOT NULL,
			valor REAL NOT NULL,
			forma_pagamento TEXT NOT NULL,
			order_nsu TEXT NOT NULL UNIQUE,
			slug TEXT,
			receipt_url TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error; err != nil {
		t.Fatalf("create assinaturas table: %v", err)
	}

	return db
}

func newTestService(t *testing.T, db *gorm.DB, cache fallbackcache.Cache, clk clock.Clock) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	return Provide(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  repository.Provide(),
		Cache: cache,
		Clock: clk,
		Node:  node,
		Cfg: config.Config{
			Plan: config.PlanConfig{
				Amount:   19.90,
				Currency: "BRL",
				Duration: 30 * 24 * time.Hour,
				Slug:     "plano-mensal",
			},
		},
	})
}

func activateInput(orderNsu string) domain.ActivateInput {
	return domain.ActivateInput{
		OrderNsu:  orderNsu,
		UserEmail: "user@example.com",
		Valor:     19.90,
		Metodo:    domain.MethodPix,
	}
}

func TestActivate_IdempotentOnOrderNsu(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, fallbackcache.NewMemory(), clock.NewFakeClock(time.Unix(1700000000, 0)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Activate(ctx, activateInput("sub_1700000000_userexamplecom")); err != nil {
			t.Fatalf("activation %d failed: %v", i+1, err)
		}
	}

	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM assinaturas").Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after 3 activations, got %d", count)
	}

	ok, err := svc.IsActivated(ctx, "sub_1700000000_userexamplecom")
	if err != nil {
		t.Fatalf("is activated: %v", err)
	}
	if !ok {
		t.Fatalf("expected order to be activated")
	}
}

func TestActivate_InvalidInput(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, fallbackcache.NewMemory(), clock.NewFakeClock(time.Unix(1700000000, 0)))

	if err := svc.Activate(context.Background(), domain.ActivateInput{OrderNsu: "x"}); err != domain.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for empty email, got %v", err)
	}
	if err := svc.Activate(context.Background(), domain.ActivateInput{UserEmail: "user@example.com"}); err != domain.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for empty order_nsu, got %v", err)
	}
}

// The store being down must not lose a confirmed payment: activation
// lands in the fallback cache and resolution serves from it.
func TestActivate_FallbackWhenStoreIsDown(t *testing.T) {
	db := setupTestDB(t)
	cache := fallbackcache.NewMemory()
	svc := newTestService(t, db, cache, clock.NewFakeClock(time.Unix(1700000000, 0)))
	ctx := context.Background()

	if err := db.Exec("DROP TABLE assinaturas").Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}

	if err := svc.Activate(ctx, activateInput("sub_1700000000_userexamplecom")); err != nil {
		t.Fatalf("activation with store down failed: %v", err)
	}

	res, err := svc.Resolve(ctx, "user@example.com", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Entitled {
		t.Fatalf("expected entitled via fallback")
	}
	if res.Source != domain.SourceFallback {
		t.Fatalf("expected fallback source, got %s", res.Source)
	}
	if res.OrderNsu != "sub_1700000000_userexamplecom" {
		t.Fatalf("unexpected order_nsu: %s", res.OrderNsu)
	}
}

func TestResolve_StoreWinsOverCache(t *testing.T) {
	db := setupTestDB(t)
	cache := fallbackcache.NewMemory()
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	svc := newTestService(t, db, cache, fakeClock)
	ctx := context.Background()

	if err := svc.Activate(ctx, activateInput("sub_1700000000_userexamplecom")); err != nil {
		t.Fatalf("activate: %v", err)
	}

	res, err := svc.Resolve(ctx, "User@Example.com", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Entitled || res.Source != domain.SourceStore {
		t.Fatalf("expected store-sourced entitlement, got %+v", res)
	}
	if res.DiasRestantes != 30 {
		t.Fatalf("expected 30 days remaining, got %d", res.DiasRestantes)
	}
}

// Expiry is lazy: a row past its vencimento stops answering entitled on
// read even while its status column still says ativa.
func TestResolve_LazyExpiry(t *testing.T) {
	db := setupTestDB(t)
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	svc := newTestService(t, db, fallbackcache.NewMemory(), fakeClock)
	ctx := context.Background()

	if err := svc.Activate(ctx, activateInput("sub_1700000000_userexamplecom")); err != nil {
		t.Fatalf("activate: %v", err)
	}

	fakeClock.Advance(31 * 24 * time.Hour)

	res, err := svc.Resolve(ctx, "user@example.com", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Entitled {
		t.Fatalf("expected not entitled past vencimento")
	}

	var status string
	if err := db.Raw("SELECT status FROM assinaturas").Scan(&status).Error; err != nil {
		t.Fatalf("status query: %v", err)
	}
	if status != string(domain.StatusAtiva) {
		t.Fatalf("lazy expiry mutated the row: %s", status)
	}
}

func TestResolve_EvictsExpiredCacheEntry(t *testing.T) {
	db := setupTestDB(t)
	cache := fallbackcache.NewMemory()
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	svc := newTestService(t, db, cache, fakeClock)
	ctx := context.Background()

	if err := cache.Set(ctx, "user@example.com", fallbackcache.Entry{
		Ativa:          true,
		DataVencimento: fakeClock.Now().Add(-time.Hour),
		OrderNsu:       "sub_old",
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res, err := svc.Resolve(ctx, "user@example.com", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Entitled {
		t.Fatalf("expected not entitled from expired entry")
	}

	entry, err := cache.Get(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if entry != nil {
		t.Fatalf("expired entry was not evicted")
	}
}

func TestCancel(t *testing.T) {
	db := setupTestDB(t)
	cache := fallbackcache.NewMemory()
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	svc := newTestService(t, db, cache, fakeClock)
	ctx := context.Background()

	if err := svc.Activate(ctx, activateInput("sub_1700000000_userexamplecom")); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := svc.Cancel(ctx, "user@example.com"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	res, err := svc.Resolve(ctx, "user@example.com", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Entitled {
		t.Fatalf("expected not entitled after cancel")
	}

	if err := svc.Cancel(ctx, "user@example.com"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound on second cancel, got %v", err)
	}
}

func TestExtend_StacksOnActiveAndRestartsLapsed(t *testing.T) {
	db := setupTestDB(t)
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	svc := newTestService(t, db, fallbackcache.NewMemory(), fakeClock)
	ctx := context.Background()

	if err := svc.Activate(ctx, activateInput("sub_1700000000_userexamplecom")); err != nil {
		t.Fatalf("activate: %v", err)
	}

	row, err := svc.Extend(ctx, "user@example.com", 10)
	if err != nil {
		t.Fatalf("extend active: %v", err)
	}
	want := fakeClock.Now().Add(40 * 24 * time.Hour)
	if !row.DataVencimento.Equal(want) {
		t.Fatalf("active extension should stack: got %v, want %v", row.DataVencimento, want)
	}

	// Let it lapse, then extend again: the new window restarts from now.
	fakeClock.Advance(50 * 24 * time.Hour)
	row, err = svc.Extend(ctx, "user@example.com", 7)
	if err != nil {
		t.Fatalf("extend lapsed: %v", err)
	}
	want = fakeClock.Now().Add(7 * 24 * time.Hour)
	if !row.DataVencimento.Equal(want) {
		t.Fatalf("lapsed extension should restart: got %v, want %v", row.DataVencimento, want)
	}
	if row.Status != domain.StatusAtiva {
		t.Fatalf("extension should reactivate, got %s", row.Status)
	}

	if _, err := svc.Extend(ctx, "user@example.com", 0); err != domain.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for zero days, got %v", err)
	}
}

func TestExpireStaleAndStats(t *testing.T) {
	db := setupTestDB(t)
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	svc := newTestService(t, db, fallbackcache.NewMemory(), fakeClock)
	ctx := context.Background()

	for i, in := range []domain.ActivateInput{
		{OrderNsu: "sub_a", UserEmail: "a@example.com", Valor: 19.90},
		{OrderNsu: "sub_b", UserEmail: "b@example.com", Valor: 19.90},
		{OrderNsu: "sub_c", UserEmail: "c@example.com", Valor: 19.90},
	} {
		if err := svc.Activate(ctx, in); err != nil {
			t.Fatalf("activate %d: %v", i, err)
		}
	}
	if err := svc.Cancel(ctx, "c@example.com"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ReceitaMes < 59.69 || stats.ReceitaMes > 59.71 {
		t.Fatalf("rows created this month should count toward receita_mes: %f", stats.ReceitaMes)
	}

	fakeClock.Advance(31 * 24 * time.Hour)

	n, err := svc.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expired rows, got %d", n)
	}

	stats, err = svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Ativas != 0 || stats.Canceladas != 1 || stats.Expiradas != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ReceitaTotal < 59.69 || stats.ReceitaTotal > 59.71 {
		t.Fatalf("unexpected receita total: %f", stats.ReceitaTotal)
	}
	// The clock moved into the next month; last month's rows no longer
	// count toward receita_mes.
	if stats.ReceitaMes != 0 {
		t.Fatalf("receita_mes should reset across the month boundary: %f", stats.ReceitaMes)
	}

	rows, err := svc.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 listed rows, got %d", len(rows))
	}
}
