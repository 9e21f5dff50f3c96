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

// Metrics exposes billing instruments. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	pricingResolutions metric.Int64Counter
	entriesDerived     metric.Int64Counter
	itemTransitions    metric.Int64Counter
	invoicesGenerated  metric.Int64Counter
	invoiceConflicts   metric.Int64Counter
	invoiceAmount      metric.Float64Histogram
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the billing instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "casebill"
	}
	meter := provider.Meter(name)

	pricingResolutions, err := meter.Int64Counter("casebill_pricing_resolutions_total")
	if err != nil {
		return nil, err
	}
	entriesDerived, err := meter.Int64Counter("casebill_time_entries_derived_total")
	if err != nil {
		return nil, err
	}
	itemTransitions, err := meter.Int64Counter("casebill_billing_item_transitions_total")
	if err != nil {
		return nil, err
	}
	invoicesGenerated, err := meter.Int64Counter("casebill_invoices_generated_total")
	if err != nil {
		return nil, err
	}
	invoiceConflicts, err := meter.Int64Counter("casebill_invoice_conflicts_total")
	if err != nil {
		return nil, err
	}
	invoiceAmount, err := meter.Float64Histogram("casebill_invoice_subtotal")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		pricingResolutions: pricingResolutions,
		entriesDerived:     entriesDerived,
		itemTransitions:    itemTransitions,
		invoicesGenerated:  invoicesGenerated,
		invoiceConflicts:   invoiceConflicts,
		invoiceAmount:      invoiceAmount,
	}, nil
}

// RecordPricingResolution counts rate resolutions by the waterfall stage that answered.
func (m *Metrics) RecordPricingResolution(ctx context.Context, source, scope string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("scope", strings.TrimSpace(scope)),
	)
	m.pricingResolutions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEntriesDerived(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.entriesDerived.Add(ctx, int64(count))
}

func (m *Metrics) RecordItemTransition(ctx context.Context, event, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event", strings.TrimSpace(event)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.itemTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoiceGenerated counts issued invoices and observes their subtotal.
func (m *Metrics) RecordInvoiceGenerated(ctx context.Context, orgID string, subtotal float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_id", strings.TrimSpace(orgID)))
	m.invoicesGenerated.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.invoiceAmount.Record(ctx, subtotal, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInvoiceConflict(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.invoiceConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"org_id":      {},
	"endpoint":    {},
	"status_code": {},
	"source":      {},
	"scope":       {},
	"event":       {},
	"status":      {},
	"reason":      {},
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
