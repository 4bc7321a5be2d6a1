package observability

import (
	"testing"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/stretchr/testify/assert"
)

func fakeEnv(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadConfigFallsBackToServiceConfig(t *testing.T) {
	cfg := loadConfig(config.Config{
		AppName:      "storefront",
		AppVersion:   "1.2.0",
		Environment:  "production",
		OTLPEndpoint: "collector:4317",
	}, fakeEnv(nil))

	assert.Equal(t, "storefront", cfg.ServiceName)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.InDelta(t, 0.1, cfg.OtelSamplingRatio, 1e-9)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	cfg := loadConfig(config.Config{Environment: "production"}, fakeEnv(map[string]string{
		"LOG_LEVEL":                          " DEBUG ",
		"OTEL_ENABLED":                       "false",
		"OTEL_EXPORTER_OTLP_PROTOCOL":        "grpc",
		"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL": "HTTP/protobuf",
		"OTEL_SAMPLING_RATIO":                "7",
	}))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Debug())
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "http/protobuf", cfg.OtelExporterProtocol)
	assert.InDelta(t, 0.1, cfg.OtelSamplingRatio, 1e-9)
}

func TestLoadConfigSamplesEverythingOutsideProduction(t *testing.T) {
	cfg := loadConfig(config.Config{Environment: "development"}, fakeEnv(nil))

	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}
