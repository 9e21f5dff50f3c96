package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("case_id", "456"),
		attribute.String("source", "pricing_profile"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("org_id"))
	assert.Contains(t, keys, attribute.Key("source"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPricingResolution(context.Background(), "unpriced", "none")
		m.RecordInvoiceGenerated(context.Background(), "1", 250)
		m.RecordInvoiceConflict(context.Background(), "already_billed")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordEntriesDerived(context.Background(), 3)
		m.RecordItemTransition(context.Background(), "approve", "approved")
	})
}
