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
	usageRecorded    metric.Int64Counter
	usageRejected    metric.Int64Counter
	tokensDebited    metric.Int64Counter
	alertsRaised     metric.Int64Counter
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
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
		name = "tokenledger"
	}
	meter := provider.Meter(name)

	usageRecorded, err := meter.Int64Counter("tokenledger_usage_recorded_total")
	if err != nil {
		return nil, err
	}
	usageRejected, err := meter.Int64Counter("tokenledger_usage_rejected_total")
	if err != nil {
		return nil, err
	}
	tokensDebited, err := meter.Int64Counter("tokenledger_tokens_debited_total")
	if err != nil {
		return nil, err
	}
	alertsRaised, err := meter.Int64Counter("tokenledger_alerts_total")
	if err != nil {
		return nil, err
	}
	cacheHits, err := meter.Int64Counter("tokenledger_cache_hits_total")
	if err != nil {
		return nil, err
	}
	cacheMisses, err := meter.Int64Counter("tokenledger_cache_misses_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("tokenledger_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("tokenledger_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageRecorded:    usageRecorded,
		usageRejected:    usageRejected,
		tokensDebited:    tokensDebited,
		alertsRaised:     alertsRaised,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordUsageRecorded increments accepted usage event counts.
func (m *Metrics) RecordUsageRecorded(ctx context.Context, taskType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("task_type", strings.TrimSpace(taskType)))
	m.usageRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageRejected increments rejected usage event counts.
func (m *Metrics) RecordUsageRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.usageRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokensDebited adds the applied debit amount.
func (m *Metrics) RecordTokensDebited(ctx context.Context, taskType string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("task_type", strings.TrimSpace(taskType)))
	m.tokensDebited.Add(ctx, amount, metric.WithAttributes(attrs...))
}

// RecordAlert increments alert counts by type and severity.
func (m *Metrics) RecordAlert(ctx context.Context, alertType, severity string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("alert_type", strings.TrimSpace(alertType)),
		attribute.String("severity", strings.TrimSpace(severity)),
	)
	m.alertsRaised.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheHit increments cache hit counts for the named cache.
func (m *Metrics) RecordCacheHit(ctx context.Context, cacheName string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("cache", strings.TrimSpace(cacheName)))
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheMiss increments cache miss counts for the named cache.
func (m *Metrics) RecordCacheMiss(ctx context.Context, cacheName string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("cache", strings.TrimSpace(cacheName)))
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"task_type":  {},
	"alert_type": {},
	"severity":   {},
	"cache":      {},
	"endpoint":   {},
	"reason":     {},
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
