package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	checkoutdomain "github.com/vidaalinhada/alinhada/internal/checkout/domain"
	"github.com/vidaalinhada/alinhada/internal/clock"
	entitlementdomain "github.com/vidaalinhada/alinhada/internal/entitlement/domain"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log            *zap.Logger
	CheckoutSvc    checkoutdomain.Service
	EntitlementSvc entitlementdomain.Service
	Clock          clock.Clock
	Config         Config `optional:"true"`
}

// Scheduler owns the single loop that drives every attempt timer: the
// bounded retry ladder, the continuous poll, deferred identity retries,
// and the periodic expiry sweep. One loop, one clock; tests drive it
// with RunOnce and a fake clock.
type Scheduler struct {
	log            *zap.Logger
	cfg            Config
	clock          clock.Clock
	checkoutSvc    checkoutdomain.Service
	entitlementSvc entitlementdomain.Service

	nextExpirySweep time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.CheckoutSvc == nil || p.EntitlementSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:            p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:            cfg,
		clock:          p.Clock,
		checkoutSvc:    p.CheckoutSvc,
		entitlementSvc: p.EntitlementSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now()
	var err error

	jobs := []struct {
		Name string
		Due  bool
		Run  func(context.Context) error
	}{
		{"reconcile_attempts", true, func(ctx context.Context) error {
			return s.checkoutSvc.RunDue(ctx, now)
		}},
		{"expire_stale", s.expirySweepDue(now), func(ctx context.Context) error {
			_, sweepErr := s.entitlementSvc.ExpireStale(ctx)
			return sweepErr
		}},
	}

	for _, job := range jobs {
		if job.Due {
			err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
		}
	}

	return err
}

func (s *Scheduler) expirySweepDue(now time.Time) bool {
	if now.Before(s.nextExpirySweep) {
		return false
	}
	s.nextExpirySweep = now.Add(s.cfg.ExpirySweepInterval)
	return true
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
