package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsFreeText(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("case_id", "1"),
		attribute.String("decline_reason", "client disputes hours"),
		attribute.String("api_token", "x"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("case_id"), attrs[0].Key)
}

func TestSafeErrorHidesMessage(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	err := SafeError(errors.New("item 123 belongs to case 456"))
	assert.NotContains(t, err.Error(), "123")
}
