package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vidaalinhada/alinhada/internal/clock"
	"github.com/vidaalinhada/alinhada/internal/config"
	"github.com/vidaalinhada/alinhada/internal/entitlement/domain"
	"github.com/vidaalinhada/alinhada/internal/fallbackcache"
	"github.com/vidaalinhada/alinhada/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Cache   fallbackcache.Cache
	Clock   clock.Clock
	Node    *snowflake.Node
	Cfg     config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	cache   fallbackcache.Cache
	clock   clock.Clock
	node    *snowflake.Node
	cfg     config.Config
	metrics *metrics.Metrics
}

func Provide(p Params) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("entitlement.service"),
		repo:    p.Repo,
		cache:   p.Cache,
		clock:   p.Clock,
		node:    p.Node,
		cfg:     p.Cfg,
		metrics: p.Metrics,
	}
}

// Activate runs the persistence chain: primary store first, fallback
// cache when the store is down. A confirmed payment must land somewhere;
// only when every backend fails does the caller see an error.
func (s *service) Activate(ctx context.Context, in domain.ActivateInput) error {
	email := normalizeEmail(in.UserEmail)
	if email == "" || in.OrderNsu == "" {
		return domain.ErrInvalidRequest
	}

	now := s.clock.Now()
	valor := in.Valor
	if valor == 0 {
		valor = s.cfg.Plan.Amount
	}
	metodo := in.Metodo
	if metodo == "" {
		metodo = domain.MethodPix
	}

	row := &domain.Entitlement{
		ID:             s.node.Generate(),
		UserID:         in.UserID,
		UserEmail:      email,
		Status:         domain.StatusAtiva,
		DataInicio:     now,
		DataVencimento: now.Add(s.cfg.Plan.Duration),
		Valor:          valor,
		FormaPagamento: metodo,
		OrderNsu:       in.OrderNsu,
		Slug:           slug.Make(s.cfg.Plan.Slug),
		ReceiptURL:     in.ReceiptURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, backend := range s.writeChain(email, metodo, row) {
		if err := backend.write(ctx); err != nil {
			s.log.Error("activation backend failed",
				zap.String("backend", backend.name),
				zap.String("order_nsu", in.OrderNsu),
				zap.Error(err))
			continue
		}
		return nil
	}

	return domain.ErrPersistenceFailure
}

// writeBackend is one link of the activation persistence chain: tried
// in priority order, first success wins.
type writeBackend struct {
	name  string
	write func(ctx context.Context) error
}

func (s *service) writeChain(email, metodo string, row *domain.Entitlement) []writeBackend {
	return []writeBackend{
		{name: "store", write: func(ctx context.Context) error {
			inserted, err := s.repo.Upsert(ctx, s.db, row)
			if err != nil {
				return err
			}
			if !inserted {
				s.log.Info("activation already recorded",
					zap.String("order_nsu", row.OrderNsu))
				return nil
			}

			if s.metrics != nil {
				s.metrics.RecordActivation(ctx, metodo, "store")
			}
			s.log.Info("entitlement activated",
				zap.String("order_nsu", row.OrderNsu),
				zap.Time("data_vencimento", row.DataVencimento))

			// Best effort mirror. The store row is canonical; a cache
			// miss here only costs a later store read.
			s.mirrorToCache(ctx, email, row.DataVencimento, row.OrderNsu)
			return nil
		}},
		{name: "fallback", write: func(ctx context.Context) error {
			err := s.cache.Set(ctx, email, fallbackcache.Entry{
				Ativa:          true,
				DataVencimento: row.DataVencimento,
				OrderNsu:       row.OrderNsu,
			})
			if err != nil {
				return err
			}

			if s.metrics != nil {
				s.metrics.RecordActivation(ctx, metodo, "fallback")
				s.metrics.RecordFallbackWrite(ctx, "store_unavailable")
			}
			return nil
		}},
	}
}

func (s *service) IsActivated(ctx context.Context, orderNsu string) (bool, error) {
	row, err := s.repo.FindByOrderNsu(ctx, s.db, orderNsu)
	if err != nil {
		return false, err
	}

	return row != nil, nil
}

// Resolve answers the entitlement question for a user. The primary store
// wins; the fallback cache covers rows that never reached the store and
// store outages. Expiry is evaluated lazily against the clock, and stale
// cache entries are evicted on read.
func (s *service) Resolve(ctx context.Context, userEmail string, userID *string) (domain.Resolution, error) {
	email := normalizeEmail(userEmail)
	if email == "" {
		return domain.Resolution{}, domain.ErrInvalidRequest
	}

	now := s.clock.Now()

	row, storeErr := s.lookupCurrent(ctx, email, userID, now)
	if storeErr != nil {
		s.log.Warn("store read failed, consulting fallback cache",
			zap.Error(storeErr))
	}
	if row != nil {
		return domain.Resolution{
			Entitled:       true,
			Source:         domain.SourceStore,
			DataVencimento: &row.DataVencimento,
			DiasRestantes:  row.DaysRemaining(now),
			OrderNsu:       row.OrderNsu,
		}, nil
	}

	entry, cacheErr := s.cache.Get(ctx, email)
	if cacheErr != nil {
		s.log.Warn("fallback cache read failed", zap.Error(cacheErr))
	}
	if entry != nil {
		if entry.Ativa && !entry.DataVencimento.Before(now) {
			venc := entry.DataVencimento
			return domain.Resolution{
				Entitled:       true,
				Source:         domain.SourceFallback,
				DataVencimento: &venc,
				DiasRestantes:  int(venc.Sub(now).Hours() / 24),
				OrderNsu:       entry.OrderNsu,
			}, nil
		}

		// Lazy eviction: the entry outlived its vencimento.
		if err := s.cache.Delete(ctx, email); err != nil {
			s.log.Warn("fallback cache eviction failed", zap.Error(err))
		}
	}

	if storeErr != nil && cacheErr != nil {
		return domain.Resolution{}, storeErr
	}

	return domain.Resolution{Entitled: false}, nil
}

func (s *service) lookupCurrent(ctx context.Context, email string, userID *string, now time.Time) (*domain.Entitlement, error) {
	if userID != nil && *userID != "" {
		row, err := s.repo.FindCurrentByUserID(ctx, s.db, *userID, now)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
	}

	return s.repo.FindCurrentByEmail(ctx, s.db, email, now)
}

func (s *service) List(ctx context.Context, limit, offset int) ([]domain.Entitlement, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, s.db, limit, offset)
}

func (s *service) Cancel(ctx context.Context, userEmail string) error {
	email := normalizeEmail(userEmail)
	now := s.clock.Now()

	row, err := s.repo.FindCurrentByEmail(ctx, s.db, email, now)
	if err != nil {
		return err
	}
	if row == nil {
		return domain.ErrNotFound
	}

	updated, err := s.repo.UpdateStatus(ctx, s.db, row.ID, domain.StatusCancelada, now)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotFound
	}

	if err := s.cache.Delete(ctx, email); err != nil {
		s.log.Warn("fallback cache delete failed", zap.Error(err))
	}

	s.log.Info("entitlement cancelled",
		zap.String("order_nsu", row.OrderNsu))

	return nil
}

func (s *service) Extend(ctx context.Context, userEmail string, days int) (*domain.Entitlement, error) {
	if days <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	email := normalizeEmail(userEmail)
	now := s.clock.Now()

	row, err := s.repo.FindLatestByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}

	// Extending a lapsed row restarts from now; an active one stacks.
	base := row.DataVencimento
	if base.Before(now) {
		base = now
	}
	vencimento := base.Add(time.Duration(days) * 24 * time.Hour)

	updated, err := s.repo.UpdateVencimento(ctx, s.db, row.ID, vencimento, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrNotFound
	}

	row.Status = domain.StatusAtiva
	row.DataVencimento = vencimento
	row.UpdatedAt = now

	s.mirrorToCache(ctx, email, vencimento, row.OrderNsu)

	s.log.Info("entitlement extended",
		zap.String("order_nsu", row.OrderNsu),
		zap.Int("days", days),
		zap.Time("data_vencimento", vencimento))

	return row, nil
}

func (s *service) ExpireStale(ctx context.Context) (int64, error) {
	now := s.clock.Now()

	n, err := s.repo.ExpireStale(ctx, s.db, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired stale entitlements", zap.Int64("count", n))
	}

	return n, nil
}

func (s *service) Stats(ctx context.Context) (domain.Stats, error) {
	return s.repo.Stats(ctx, s.db, s.clock.Now())
}

func (s *service) mirrorToCache(ctx context.Context, email string, vencimento time.Time, orderNsu string) {
	err := s.cache.Set(ctx, email, fallbackcache.Entry{
		Ativa:          true,
		DataVencimento: vencimento,
		OrderNsu:       orderNsu,
	})
	if err != nil {
		s.log.Warn("fallback cache mirror failed", zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
