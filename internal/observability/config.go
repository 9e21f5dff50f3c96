package observability

import (
	"strings"

	"github.com/smallbiznis/casebill/internal/config"
	"github.com/spf13/viper"
)

const defaultSamplingRatio = 0.1

// Config carries the logging and telemetry settings of one casebill process.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig overlays the standard OTEL_* and LOG_* variables on the application config.
// When both are set, the traces specific protocol wins over the generic one.
func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	bind(v, "service.name", firstNonEmpty(cfg.AppName, "casebill"), "OTEL_SERVICE_NAME")
	bind(v, "service.environment", cfg.Environment, "DEPLOYMENT_ENV")
	bind(v, "service.version", cfg.AppVersion, "SERVICE_VERSION")
	bind(v, "log.level", "info", "LOG_LEVEL")
	bind(v, "log.format", "json", "LOG_FORMAT")
	// Exporters stay off unless a collector is configured explicitly.
	bind(v, "otel.enabled", false, "OTEL_ENABLED")
	bind(v, "otel.endpoint", cfg.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	bind(v, "otel.protocol", "grpc", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL")
	bind(v, "otel.samplingRatio", defaultSamplingRatio, "OTEL_SAMPLING_RATIO")

	ratio := v.GetFloat64("otel.samplingRatio")
	if ratio < 0 || ratio > 1 {
		ratio = defaultSamplingRatio
	}

	return Config{
		ServiceName:          trimmed(v, "service.name"),
		Environment:          trimmed(v, "service.environment"),
		Version:              trimmed(v, "service.version"),
		LogLevel:             strings.ToLower(trimmed(v, "log.level")),
		LogFormat:            strings.ToLower(trimmed(v, "log.format")),
		OtelEnabled:          v.GetBool("otel.enabled"),
		OtelExporterEndpoint: trimmed(v, "otel.endpoint"),
		OtelExporterProtocol: strings.ToLower(trimmed(v, "otel.protocol")),
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on verbose logging and stack traces.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func bind(v *viper.Viper, key string, def any, envs ...string) {
	v.SetDefault(key, def)
	_ = v.BindEnv(append([]string{key}, envs...)...)
}

func trimmed(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
