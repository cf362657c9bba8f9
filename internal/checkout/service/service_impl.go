package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vidaalinhada/alinhada/internal/checkout/domain"
	"github.com/vidaalinhada/alinhada/internal/checkout/repository"
	"github.com/vidaalinhada/alinhada/internal/clock"
	"github.com/vidaalinhada/alinhada/internal/config"
	entitlementdomain "github.com/vidaalinhada/alinhada/internal/entitlement/domain"
	gatewaydomain "github.com/vidaalinhada/alinhada/internal/gateway/domain"
	"github.com/vidaalinhada/alinhada/internal/observability/metrics"
)

// Config tunes the scheduler-driven disciplines. Zero values take the
// production defaults; tests override them next to a fake clock.
type Config struct {
	// RetryDelays is the bounded ladder used after a pending
	// verification. Indexed by how many verification calls already ran.
	RetryDelays []time.Duration
	// MaxVerifications bounds the ladder, counting the initial call.
	MaxVerifications int
	// PollInterval paces the continuous background poll.
	PollInterval time.Duration
	// DiscoveryHorizon bounds how old an attempt may be and still match
	// an ambient "recent payment" search.
	DiscoveryHorizon time.Duration
	// IdentityRetryDelay is the single grace delay before retrying an
	// event that arrived without payer identity.
	IdentityRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}
	}
	if c.MaxVerifications <= 0 {
		c.MaxVerifications = len(c.RetryDelays) + 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 8 * time.Second
	}
	if c.DiscoveryHorizon <= 0 {
		c.DiscoveryHorizon = 15 * time.Minute
	}
	if c.IdentityRetryDelay <= 0 {
		c.IdentityRetryDelay = 2 * time.Second
	}
	return c
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Gateway      gatewaydomain.Client
	Events       repository.EventRepository
	Entitlements entitlementdomain.Service
	Clock        clock.Clock
	Node         *snowflake.Node
	AppCfg       config.Config
	Metrics      *metrics.Metrics `optional:"true"`
	Cfg          Config           `optional:"true"`
}

type pendingEvent struct {
	ev    domain.CandidateEvent
	dueAt time.Time
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	gateway      gatewaydomain.Client
	events       repository.EventRepository
	entitlements entitlementdomain.Service
	clock        clock.Clock
	node         *snowflake.Node
	appCfg       config.Config
	metrics      *metrics.Metrics
	cfg          Config

	mu        sync.Mutex
	attempts  map[string]*domain.PaymentAttempt
	byPayment map[string]string
	deferred  []pendingEvent
}

func Provide(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("checkout.service"),
		gateway:      p.Gateway,
		events:       p.Events,
		entitlements: p.Entitlements,
		clock:        p.Clock,
		node:         p.Node,
		appCfg:       p.AppCfg,
		metrics:      p.Metrics,
		cfg:          p.Cfg.withDefaults(),
		attempts:     map[string]*domain.PaymentAttempt{},
		byPayment:    map[string]string{},
	}
}

func (s *service) StartCheckout(ctx context.Context, in domain.StartInput) (*domain.Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.UserEmail))
	if email == "" {
		return nil, domain.ErrIdentityNotReady
	}

	now := s.clock.Now()
	ref := mintReference(email, now)

	pref, err := s.gateway.CreatePreference(ctx, gatewaydomain.PreferenceRequest{
		ExternalReference: ref,
		PayerEmail:        email,
		PayerName:         in.UserName,
		Title:             "Assinatura Vida Alinhada",
		Amount:            s.appCfg.Plan.Amount,
		Currency:          s.appCfg.Plan.Currency,
		BackURL:           s.appCfg.Plan.CheckoutBack,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordCheckoutSession(ctx, "gateway_error")
		}
		// No attempt is retained when the gateway refuses the session.
		return nil, err
	}

	pollAt := now.Add(s.cfg.PollInterval)
	attempt := &domain.PaymentAttempt{
		ExternalReference: ref,
		PayerEmail:        email,
		UserID:            in.UserID,
		PreferenceID:      pref.ID,
		InitPoint:         pref.InitPoint,
		State:             domain.StateInitiated,
		CreatedAt:         now,
		UpdatedAt:         now,
		NextPollAt:        &pollAt,
	}

	s.mu.Lock()
	s.attempts[ref] = attempt
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCheckoutSession(ctx, "created")
	}
	s.log.Info("checkout session created",
		zap.String("external_reference", ref),
		zap.String("preference_id", pref.ID))

	return &domain.Session{
		ExternalReference: ref,
		PreferenceID:      pref.ID,
		InitPoint:         pref.InitPoint,
		Amount:            s.appCfg.Plan.Amount,
		Currency:          s.appCfg.Plan.Currency,
	}, nil
}

func (s *service) DetectFromRedirect(ctx context.Context, params domain.RedirectParams) (*domain.PaymentAttempt, error) {
	ref := params.ExternalReference
	if ref == "" {
		return nil, domain.ErrAttemptNotFound
	}

	raw := params.CollectionStatus
	if raw == "" {
		raw = params.Status
	}
	candidate := normalizeCandidate(raw)

	if s.metrics != nil {
		s.metrics.RecordCandidateEvent(ctx, domain.ChannelRedirect, raw)
	}

	ev := domain.CandidateEvent{
		PaymentID:         params.PaymentID,
		ExternalReference: ref,
		RawStatus:         candidate,
		Channel:           domain.ChannelRedirect,
	}

	switch {
	case ev.PaymentID != "":
		if err := s.processCandidate(ctx, ev); err != nil && !isFlowError(err) {
			return nil, err
		}
	case candidate == domain.CandidateRejected:
		// Nothing to verify; the gateway already sent the user back
		// with a failure and no payment id.
		s.mu.Lock()
		if attempt, ok := s.attempts[ref]; ok && !attempt.State.Terminal() {
			s.transitionLocked(ctx, attempt, domain.StateRejected)
			s.clearTimersLocked(attempt)
		}
		s.mu.Unlock()
	default:
		// Pending or approved with no payment id in the redirect: fall
		// back to an ambient search for the payment.
		if attempt := s.snapshot(ref); attempt != nil {
			if err := s.ambientDiscover(ctx, *attempt); err != nil && !isFlowError(err) {
				return nil, err
			}
		}
	}

	attempt := s.snapshot(ref)
	if attempt == nil {
		return nil, domain.ErrAttemptNotFound
	}

	return attempt, nil
}

func (s *service) HandleWebhook(ctx context.Context, delivery domain.WebhookDelivery) error {
	if secret := s.appCfg.Gateway.WebhookSecret; secret != "" {
		if !validSignature(delivery.Payload, delivery.Signature, secret) {
			if s.metrics != nil {
				s.metrics.RecordWebhookEvent(ctx, delivery.EventType, "invalid_signature")
			}
			return domain.ErrInvalidSignature
		}
	}

	eventID := delivery.EventID
	if eventID == "" {
		eventID = delivery.EventType + ":" + delivery.PaymentID
	}

	now := s.clock.Now()
	record := &domain.WebhookEvent{
		ID:              s.node.Generate(),
		Provider:        "mercadopago",
		ProviderEventID: eventID,
		EventType:       delivery.EventType,
		PaymentID:       delivery.PaymentID,
		Payload:         datatypes.JSON(delivery.Payload),
		ReceivedAt:      now,
	}

	inserted, err := s.events.InsertEvent(ctx, s.db, record)
	if err != nil {
		// Dedup store being down must not drop a confirmation; the
		// activation path is idempotent on external reference anyway.
		s.log.Warn("webhook event record failed", zap.Error(err))
	} else if !inserted {
		if s.metrics != nil {
			s.metrics.RecordWebhookEvent(ctx, delivery.EventType, "duplicate")
		}
		return nil
	}

	if delivery.EventType != "payment" || delivery.PaymentID == "" {
		if s.metrics != nil {
			s.metrics.RecordWebhookEvent(ctx, delivery.EventType, "ignored")
		}
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(ctx, delivery.EventType, "accepted")
		s.metrics.RecordCandidateEvent(ctx, domain.ChannelWebhook, domain.CandidatePending)
	}

	ev := domain.CandidateEvent{
		PaymentID: delivery.PaymentID,
		RawStatus: domain.CandidatePending,
		Channel:   domain.ChannelWebhook,
	}

	procErr := s.processCandidate(ctx, ev)
	switch {
	case procErr == nil:
		if err == nil {
			if markErr := s.events.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); markErr != nil {
				s.log.Warn("webhook event mark processed failed", zap.Error(markErr))
			}
		}
		return nil
	case errors.Is(procErr, domain.ErrIdentityNotReady):
		s.deferEvent(ev)
		return nil
	case isFlowError(procErr):
		return nil
	default:
		return procErr
	}
}

func (s *service) GetAttempt(ctx context.Context, externalReference string) (*domain.PaymentAttempt, error) {
	attempt := s.snapshot(externalReference)
	if attempt == nil {
		return nil, domain.ErrAttemptNotFound
	}

	return attempt, nil
}

func (s *service) ManualRecheck(ctx context.Context, externalReference string) (*domain.PaymentAttempt, error) {
	now := s.clock.Now()

	s.mu.Lock()
	attempt, ok := s.attempts[externalReference]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrAttemptNotFound
	}
	// Re-enter: a timed-out attempt gets a fresh ladder.
	if attempt.State == domain.StateTimedOut {
		s.transitionLocked(ctx, attempt, domain.StateAwaitingConfirmation)
		attempt.AttemptCount = 0
	}
	paymentID := attempt.PaymentID
	snap := *attempt
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCandidateEvent(ctx, domain.ChannelManual, domain.CandidatePending)
	}

	var err error
	if paymentID != "" {
		err = s.processCandidate(ctx, domain.CandidateEvent{
			PaymentID:         paymentID,
			ExternalReference: externalReference,
			RawStatus:         domain.CandidatePending,
			Channel:           domain.ChannelManual,
		})
	} else {
		err = domain.ErrVerificationPending
	}
	if errors.Is(err, domain.ErrVerificationPending) || errors.Is(err, gatewaydomain.ErrPaymentNotFound) {
		err = s.ambientDiscover(ctx, snap)
	}
	if err != nil && !isFlowError(err) {
		return nil, err
	}

	s.mu.Lock()
	if attempt, ok := s.attempts[externalReference]; ok && !attempt.State.Terminal() {
		if now.Sub(attempt.CreatedAt) < s.cfg.DiscoveryHorizon {
			pollAt := now.Add(s.cfg.PollInterval)
			attempt.NextPollAt = &pollAt
		}
	}
	s.mu.Unlock()

	result := s.snapshot(externalReference)
	if result == nil {
		return nil, domain.ErrAttemptNotFound
	}

	return result, nil
}

func (s *service) Cancel(ctx context.Context, externalReference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[externalReference]
	if !ok {
		return domain.ErrAttemptNotFound
	}

	// The attempt keeps whatever state it last reached; only the timer
	// disciplines stop. A manual recheck can still resume it.
	s.clearTimersLocked(attempt)
	attempt.UpdatedAt = s.clock.Now()

	s.log.Info("checkout wait cancelled",
		zap.String("external_reference", externalReference),
		zap.String("state", string(attempt.State)))

	return nil
}

func (s *service) RunDue(ctx context.Context, now time.Time) error {
	type dueWork struct {
		snap  domain.PaymentAttempt
		retry bool
		poll  bool
	}

	var work []dueWork

	s.mu.Lock()
	for _, attempt := range s.attempts {
		if attempt.State == domain.StateApproved || attempt.State == domain.StateRejected {
			continue
		}

		if now.Sub(attempt.CreatedAt) > s.cfg.DiscoveryHorizon {
			if attempt.State != domain.StateTimedOut {
				s.transitionLocked(ctx, attempt, domain.StateTimedOut)
			}
			s.clearTimersLocked(attempt)
			continue
		}

		w := dueWork{}
		if attempt.NextRetryAt != nil && !now.Before(*attempt.NextRetryAt) {
			attempt.NextRetryAt = nil
			w.retry = true
		}
		if attempt.NextPollAt != nil && !now.Before(*attempt.NextPollAt) {
			pollAt := now.Add(s.cfg.PollInterval)
			attempt.NextPollAt = &pollAt
			w.poll = true
		}
		if w.retry || w.poll {
			w.snap = *attempt
			work = append(work, w)
		}
	}
	due := s.takeDeferredLocked(now)
	s.mu.Unlock()

	var errs []error
	for _, w := range work {
		if w.retry && w.snap.PaymentID != "" {
			err := s.processCandidate(ctx, domain.CandidateEvent{
				PaymentID:         w.snap.PaymentID,
				ExternalReference: w.snap.ExternalReference,
				RawStatus:         domain.CandidatePending,
				Channel:           domain.ChannelAmbient,
			})
			if err != nil && !isFlowError(err) {
				errs = append(errs, err)
			}
			continue
		}
		if w.poll {
			if err := s.ambientDiscover(ctx, w.snap); err != nil && !isFlowError(err) {
				errs = append(errs, err)
			}
		}
	}

	for _, ev := range due {
		if err := s.processCandidate(ctx, ev); err != nil {
			if errors.Is(err, domain.ErrIdentityNotReady) {
				s.log.Warn("dropping event, payer identity never arrived",
					zap.String("payment_id", ev.PaymentID))
				continue
			}
			if !isFlowError(err) {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// processCandidate is the single funnel every channel feeds: advance the
// attempt to AWAITING_CONFIRMATION, verify against the gateway, apply
// the authoritative result. Safe under concurrent re-entry; every write
// is keyed on the external reference.
func (s *service) processCandidate(ctx context.Context, ev domain.CandidateEvent) error {
	s.mu.Lock()
	ref := ev.ExternalReference
	if ref == "" && ev.PaymentID != "" {
		ref = s.byPayment[ev.PaymentID]
	}
	attempt := s.attempts[ref]
	if attempt != nil {
		if attempt.State == domain.StateApproved {
			s.mu.Unlock()
			return nil
		}
		if attempt.State == domain.StateInitiated {
			s.transitionLocked(ctx, attempt, domain.StateAwaitingConfirmation)
		}
		if ev.PaymentID != "" {
			attempt.PaymentID = ev.PaymentID
			s.byPayment[ev.PaymentID] = attempt.ExternalReference
		}
		attempt.LastRawStatus = ev.RawStatus
	}
	s.mu.Unlock()

	if ev.PaymentID == "" {
		return domain.ErrVerificationPending
	}

	status, err := s.gateway.GetPayment(ctx, ev.PaymentID)

	s.mu.Lock()
	if attempt != nil {
		attempt.AttemptCount++
		attempt.UpdatedAt = s.clock.Now()
	}
	s.mu.Unlock()

	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordVerificationCall(ctx, "gateway_error")
		}
		if errors.Is(err, gatewaydomain.ErrGatewayUnavailable) && attempt != nil {
			// The ladder absorbs transient gateway failures.
			s.scheduleRetry(ctx, attempt.ExternalReference)
			return domain.ErrVerificationPending
		}
		return err
	}

	return s.applyVerification(ctx, ref, status)
}

// applyVerification turns the gateway's authoritative answer into a
// state transition. Approval activates the entitlement idempotently.
func (s *service) applyVerification(ctx context.Context, ref string, status *gatewaydomain.PaymentStatus) error {
	if ref == "" {
		ref = status.ExternalReference
	}

	if s.metrics != nil {
		s.metrics.RecordVerificationCall(ctx, status.Status)
	}

	switch status.Status {
	case gatewaydomain.StatusApproved:
		email := status.PayerEmail
		var userID *string
		if snap := s.snapshot(ref); snap != nil {
			if email == "" {
				email = snap.PayerEmail
			}
			userID = snap.UserID
		}
		if email == "" {
			return domain.ErrIdentityNotReady
		}

		orderNsu := status.ExternalReference
		if orderNsu == "" {
			orderNsu = ref
		}

		err := s.entitlements.Activate(ctx, entitlementdomain.ActivateInput{
			OrderNsu:   orderNsu,
			UserEmail:  email,
			UserID:     userID,
			Valor:      status.TransactionAmount,
			Metodo:     methodFrom(status.PaymentTypeID),
			ReceiptURL: status.ReceiptURL,
			ApprovedAt: status.DateApproved,
		})
		if err != nil {
			return err
		}

		s.mu.Lock()
		if attempt, ok := s.attempts[ref]; ok && attempt.State != domain.StateApproved {
			s.transitionLocked(ctx, attempt, domain.StateApproved)
			s.clearTimersLocked(attempt)
		}
		s.mu.Unlock()

		s.log.Info("payment confirmed",
			zap.String("external_reference", orderNsu),
			zap.String("payment_id", status.ID),
			zap.String("method", status.PaymentTypeID))

		return nil

	case gatewaydomain.StatusRejected:
		s.mu.Lock()
		if attempt, ok := s.attempts[ref]; ok && !attempt.State.Terminal() {
			s.transitionLocked(ctx, attempt, domain.StateRejected)
			s.clearTimersLocked(attempt)
		}
		s.mu.Unlock()
		return domain.ErrPaymentRejected

	default:
		s.scheduleRetry(ctx, ref)
		return domain.ErrVerificationPending
	}
}

// scheduleRetry arms the next ladder step or, once the ladder is
// exhausted, times the attempt out.
func (s *service) scheduleRetry(ctx context.Context, ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[ref]
	if !ok || attempt.State.Terminal() {
		return
	}

	if attempt.AttemptCount >= s.cfg.MaxVerifications {
		s.transitionLocked(ctx, attempt, domain.StateTimedOut)
		attempt.NextRetryAt = nil
		return
	}

	idx := attempt.AttemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.cfg.RetryDelays) {
		idx = len(s.cfg.RetryDelays) - 1
	}

	retryAt := s.clock.Now().Add(s.cfg.RetryDelays[idx])
	attempt.NextRetryAt = &retryAt
}

// ambientDiscover searches the gateway for a recent approved payment by
// the attempt's payer when no explicit event carried a payment id.
func (s *service) ambientDiscover(ctx context.Context, snap domain.PaymentAttempt) error {
	now := s.clock.Now()
	if now.Sub(snap.CreatedAt) > s.cfg.DiscoveryHorizon {
		return nil
	}

	payments, err := s.gateway.SearchRecentPayments(ctx, snap.PayerEmail, now.Add(-s.cfg.DiscoveryHorizon))
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrGatewayUnavailable) {
			return domain.ErrVerificationPending
		}
		return err
	}

	var match *gatewaydomain.PaymentStatus
	for i := range payments {
		p := payments[i]
		if !p.Approved() {
			continue
		}
		if p.ExternalReference == snap.ExternalReference {
			match = &p
			break
		}
		if match == nil {
			match = &p
		}
	}
	if match == nil {
		return domain.ErrVerificationPending
	}

	if s.metrics != nil {
		s.metrics.RecordCandidateEvent(ctx, domain.ChannelAmbient, match.Status)
	}

	// The search result is a hint; the verifier stays the source of
	// truth for activation.
	return s.processCandidate(ctx, domain.CandidateEvent{
		PaymentID:         match.ID,
		ExternalReference: snap.ExternalReference,
		RawStatus:         domain.CandidatePending,
		Channel:           domain.ChannelAmbient,
	})
}

func (s *service) deferEvent(ev domain.CandidateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deferred = append(s.deferred, pendingEvent{
		ev:    ev,
		dueAt: s.clock.Now().Add(s.cfg.IdentityRetryDelay),
	})
}

func (s *service) takeDeferredLocked(now time.Time) []domain.CandidateEvent {
	var due []domain.CandidateEvent
	var rest []pendingEvent
	for _, p := range s.deferred {
		if now.Before(p.dueAt) {
			rest = append(rest, p)
			continue
		}
		due = append(due, p.ev)
	}
	s.deferred = rest
	return due
}

func (s *service) transitionLocked(ctx context.Context, attempt *domain.PaymentAttempt, to domain.State) {
	from := attempt.State
	attempt.State = to
	attempt.UpdatedAt = s.clock.Now()

	if s.metrics != nil {
		s.metrics.RecordAttemptTransition(ctx, string(from), string(to))
	}
	s.log.Debug("attempt transition",
		zap.String("external_reference", attempt.ExternalReference),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (s *service) clearTimersLocked(attempt *domain.PaymentAttempt) {
	attempt.NextRetryAt = nil
	attempt.NextPollAt = nil
}

func (s *service) snapshot(ref string) *domain.PaymentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[ref]
	if !ok {
		return nil
	}

	snap := *attempt
	if attempt.NextRetryAt != nil {
		t := *attempt.NextRetryAt
		snap.NextRetryAt = &t
	}
	if attempt.NextPollAt != nil {
		t := *attempt.NextPollAt
		snap.NextPollAt = &t
	}

	return &snap
}

// isFlowError reports whether the error is part of the reconciliation
// flow rather than a failure to surface.
func isFlowError(err error) bool {
	return errors.Is(err, domain.ErrVerificationPending) ||
		errors.Is(err, domain.ErrPaymentRejected) ||
		errors.Is(err, gatewaydomain.ErrGatewayUnavailable)
}

func normalizeCandidate(raw string) string {
	switch strings.ToLower(raw) {
	case "approved", "success":
		return domain.CandidateApproved
	case "pending", "in_process":
		return domain.CandidatePending
	default:
		return domain.CandidateRejected
	}
}

func methodFrom(paymentTypeID string) string {
	switch paymentTypeID {
	case gatewaydomain.PaymentTypeInstantTransfer, "bank_transfer", "account_money":
		return entitlementdomain.MethodPix
	default:
		return entitlementdomain.MethodCartao
	}
}

// mintReference builds the idempotency key other systems correlate on.
// The suffix keeps only alphanumerics; slug substitutions would insert
// words ("@" becomes "at") and break the established format.
func mintReference(email string, now time.Time) string {
	return fmt.Sprintf("sub_%d_%s", now.Unix(), sanitizeEmail(email))
}

func sanitizeEmail(email string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(email) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validSignature(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimSpace(signature)))
}
