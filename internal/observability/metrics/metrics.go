package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	checkoutSessions   metric.Int64Counter
	candidateEvents    metric.Int64Counter
	verificationCalls  metric.Int64Counter
	activations        metric.Int64Counter
	fallbackWrites     metric.Int64Counter
	webhookEvents      metric.Int64Counter
	attemptTransitions metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "alinhada"
	}
	meter := provider.Meter(name)

	checkoutSessions, err := meter.Int64Counter("alinhada_checkout_sessions_total")
	if err != nil {
		return nil, err
	}
	candidateEvents, err := meter.Int64Counter("alinhada_candidate_events_total")
	if err != nil {
		return nil, err
	}
	verificationCalls, err := meter.Int64Counter("alinhada_verification_calls_total")
	if err != nil {
		return nil, err
	}
	activations, err := meter.Int64Counter("alinhada_activations_total")
	if err != nil {
		return nil, err
	}
	fallbackWrites, err := meter.Int64Counter("alinhada_fallback_writes_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("alinhada_webhook_events_total")
	if err != nil {
		return nil, err
	}
	attemptTransitions, err := meter.Int64Counter("alinhada_attempt_transitions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		checkoutSessions:   checkoutSessions,
		candidateEvents:    candidateEvents,
		verificationCalls:  verificationCalls,
		activations:        activations,
		fallbackWrites:     fallbackWrites,
		webhookEvents:      webhookEvents,
		attemptTransitions: attemptTransitions,
	}, nil
}

// RecordCheckoutSession increments checkout session counts.
func (m *Metrics) RecordCheckoutSession(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.checkoutSessions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCandidateEvent increments candidate event counts per return channel.
func (m *Metrics) RecordCandidateEvent(ctx context.Context, channel, rawStatus string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("raw_status", strings.TrimSpace(rawStatus)),
	)
	m.candidateEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVerificationCall increments gateway status lookup counts.
func (m *Metrics) RecordVerificationCall(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.verificationCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordActivation increments entitlement activation counts.
func (m *Metrics) RecordActivation(ctx context.Context, method, backend string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("method", strings.TrimSpace(method)),
		attribute.String("backend", strings.TrimSpace(backend)),
	)
	m.activations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFallbackWrite increments fallback cache write counts.
func (m *Metrics) RecordFallbackWrite(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.fallbackWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments inbound webhook counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAttemptTransition increments state machine transition counts.
func (m *Metrics) RecordAttemptTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
	)
	m.attemptTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":     {},
	"channel":     {},
	"raw_status":  {},
	"result":      {},
	"method":      {},
	"backend":     {},
	"reason":      {},
	"event_type":  {},
	"from":        {},
	"to":          {},
	"status_code": {},
	"endpoint":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
