package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// RetainerOverflow decides what happens when a requested retainer exceeds what can be applied.
type RetainerOverflow string

const (
	RetainerOverflowReject RetainerOverflow = "reject"
	RetainerOverflowClamp  RetainerOverflow = "clamp"
)

// BillingConfig is the hot-reloadable billing policy.
type BillingConfig struct {
	MinimumHours        string           `mapstructure:"minimumHours"`
	RetainerOverflow    RetainerOverflow `mapstructure:"retainerOverflow"`
	InvoiceNumberPrefix string           `mapstructure:"invoiceNumberPrefix"`
	GenerationLockTTL   time.Duration    `mapstructure:"generationLockTTL"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		MinimumHours:        "0.25",
		RetainerOverflow:    RetainerOverflowReject,
		InvoiceNumberPrefix: "INV-",
		GenerationLockTTL:   30 * time.Second,
	}
}

// MinimumHoursDecimal returns the minimum billable hours, falling back to 0.25.
func (c BillingConfig) MinimumHoursDecimal() decimal.Decimal {
	parsed, err := decimal.NewFromString(strings.TrimSpace(c.MinimumHours))
	if err != nil || !parsed.IsPositive() {
		return decimal.RequireFromString("0.25")
	}
	return parsed
}

// ClampRetainer reports whether an over-sized retainer request is clamped instead of rejected.
func (c BillingConfig) ClampRetainer() bool {
	return c.RetainerOverflow == RetainerOverflowClamp
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfig returns a holder that never reloads. Used by tests and tooling.
func NewStaticBillingConfig(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/casebill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CASEBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.minimumHours", defaults.MinimumHours)
	v.SetDefault("billing.retainerOverflow", string(defaults.RetainerOverflow))
	v.SetDefault("billing.invoiceNumberPrefix", defaults.InvoiceNumberPrefix)
	v.SetDefault("billing.generationLockTTL", defaults.GenerationLockTTL)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func validateBillingConfig(cfg BillingConfig) error {
	minimum, err := decimal.NewFromString(strings.TrimSpace(cfg.MinimumHours))
	if err != nil || !minimum.IsPositive() {
		return errors.New("billing.minimumHours must be a positive decimal")
	}
	switch cfg.RetainerOverflow {
	case RetainerOverflowReject, RetainerOverflowClamp:
	default:
		return errors.New("billing.retainerOverflow must be reject or clamp")
	}
	if cfg.GenerationLockTTL < 0 {
		return errors.New("billing.generationLockTTL cannot be negative")
	}
	return nil
}
