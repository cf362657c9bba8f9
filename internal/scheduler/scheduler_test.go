package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	checkoutdomain "github.com/vidaalinhada/alinhada/internal/checkout/domain"
	"github.com/vidaalinhada/alinhada/internal/clock"
	entitlementdomain "github.com/vidaalinhada/alinhada/internal/entitlement/domain"
)

type fakeCheckout struct {
	runDueCalls int
	lastNow     time.Time
	err         error
}

func (f *fakeCheckout) StartCheckout(ctx context.Context, in checkoutdomain.StartInput) (*checkoutdomain.Session, error) {
	return nil, nil
}

func (f *fakeCheckout) DetectFromRedirect(ctx context.Context, params checkoutdomain.RedirectParams) (*checkoutdomain.PaymentAttempt, error) {
	return nil, nil
}

func (f *fakeCheckout) HandleWebhook(ctx context.Context, delivery checkoutdomain.WebhookDelivery) error {
	return nil
}

func (f *fakeCheckout) GetAttempt(ctx context.Context, externalReference string) (*checkoutdomain.PaymentAttempt, error) {
	return nil, nil
}

func (f *fakeCheckout) ManualRecheck(ctx context.Context, externalReference string) (*checkoutdomain.PaymentAttempt, error) {
	return nil, nil
}

func (f *fakeCheckout) Cancel(ctx context.Context, externalReference string) error { return nil }

func (f *fakeCheckout) RunDue(ctx context.Context, now time.Time) error {
	f.runDueCalls++
	f.lastNow = now
	return f.err
}

type fakeEntitlements struct {
	expireCalls int
}

func (f *fakeEntitlements) Activate(ctx context.Context, in entitlementdomain.ActivateInput) error {
	return nil
}

func (f *fakeEntitlements) IsActivated(ctx context.Context, orderNsu string) (bool, error) {
	return false, nil
}

func (f *fakeEntitlements) Resolve(ctx context.Context, userEmail string, userID *string) (entitlementdomain.Resolution, error) {
	return entitlementdomain.Resolution{}, nil
}

func (f *fakeEntitlements) List(ctx context.Context, limit, offset int) ([]entitlementdomain.Entitlement, error) {
	return nil, nil
}

func (f *fakeEntitlements) Cancel(ctx context.Context, userEmail string) error { return nil }

func (f *fakeEntitlements) Extend(ctx context.Context, userEmail string, days int) (*entitlementdomain.Entitlement, error) {
	return nil, nil
}

func (f *fakeEntitlements) ExpireStale(ctx context.Context) (int64, error) {
	f.expireCalls++
	return 0, nil
}

func (f *fakeEntitlements) Stats(ctx context.Context) (entitlementdomain.Stats, error) {
	return entitlementdomain.Stats{}, nil
}

func newTestScheduler(t *testing.T, checkout *fakeCheckout, ents *fakeEntitlements, clk clock.Clock) *Scheduler {
	t.Helper()

	s, err := New(Params{
		Log:            zap.NewNop(),
		CheckoutSvc:    checkout,
		EntitlementSvc: ents,
		Clock:          clk,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestNew_RejectsMissingDeps(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRunOnce_DrivesReconciliationEveryTick(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	checkout := &fakeCheckout{}
	s := newTestScheduler(t, checkout, &fakeEntitlements{}, fakeClock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
		fakeClock.Advance(time.Second)
	}

	if checkout.runDueCalls != 3 {
		t.Fatalf("expected 3 reconcile runs, got %d", checkout.runDueCalls)
	}
	if !checkout.lastNow.Equal(time.Unix(1700000002, 0).UTC()) {
		t.Fatalf("reconcile did not receive the scheduler clock: %v", checkout.lastNow)
	}
}

func TestRunOnce_ExpirySweepCadence(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	ents := &fakeEntitlements{}
	s := newTestScheduler(t, &fakeCheckout{}, ents, fakeClock)
	ctx := context.Background()

	// First tick sweeps, the next ticks within the hour do not.
	for i := 0; i < 5; i++ {
		if err := s.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
		fakeClock.Advance(time.Second)
	}
	if ents.expireCalls != 1 {
		t.Fatalf("expected 1 sweep inside the hour, got %d", ents.expireCalls)
	}

	fakeClock.Advance(time.Hour)
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if ents.expireCalls != 2 {
		t.Fatalf("expected second sweep after the interval, got %d", ents.expireCalls)
	}
}

func TestRunOnce_SurfacesJobErrors(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Unix(1700000000, 0))
	boom := errors.New("gateway exploded")
	s := newTestScheduler(t, &fakeCheckout{err: boom}, &fakeEntitlements{}, fakeClock)

	err := s.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped job error, got %v", err)
	}
}
