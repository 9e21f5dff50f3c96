package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateBillingConfig(t *testing.T) {
	assert.NoError(t, validateBillingConfig(DefaultBillingConfig()))

	cfg := DefaultBillingConfig()
	cfg.RetainerOverflow = "truncate"
	assert.Error(t, validateBillingConfig(cfg))

	cfg = DefaultBillingConfig()
	cfg.MinimumHours = "-1"
	assert.Error(t, validateBillingConfig(cfg))

	cfg = DefaultBillingConfig()
	cfg.GenerationLockTTL = -time.Second
	assert.Error(t, validateBillingConfig(cfg))
}

func TestMinimumHoursFallback(t *testing.T) {
	cfg := BillingConfig{MinimumHours: "abc"}
	assert.Equal(t, "0.25", cfg.MinimumHoursDecimal().String())

	cfg.MinimumHours = "0.5"
	assert.Equal(t, "0.5", cfg.MinimumHoursDecimal().String())
}

func TestBillingConfigHolderNilSafe(t *testing.T) {
	var holder *BillingConfigHolder
	assert.Equal(t, DefaultBillingConfig(), holder.Get())

	static := NewStaticBillingConfig(BillingConfig{MinimumHours: "1", RetainerOverflow: RetainerOverflowClamp})
	assert.True(t, static.Get().ClampRetainer())
}
