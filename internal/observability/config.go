package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/storefront/internal/config"
)

// Config is the observability slice of the service configuration. Identity
// comes from config.Config; LOG_* and OTEL_* variables tune the pipelines.
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

const defaultSamplingRatio = 0.1

func LoadConfig(cfg config.Config) Config {
	return loadConfig(cfg, os.LookupEnv)
}

func loadConfig(cfg config.Config, lookup func(string) (string, bool)) Config {
	env := envReader(lookup)

	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "storefront"),
		Environment:          firstNonEmpty(env.str("DEPLOYMENT_ENV"), cfg.Environment),
		Version:              firstNonEmpty(env.str("SERVICE_VERSION"), cfg.AppVersion),
		LogLevel:             strings.ToLower(firstNonEmpty(env.str("LOG_LEVEL"), "info")),
		LogFormat:            strings.ToLower(firstNonEmpty(env.str("LOG_FORMAT"), "json")),
		OtelEnabled:          env.boolean("OTEL_ENABLED", true),
		OtelExporterEndpoint: firstNonEmpty(env.str("OTEL_EXPORTER_OTLP_ENDPOINT"), cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(firstNonEmpty(
			env.str("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"),
			env.str("OTEL_EXPORTER_OTLP_PROTOCOL"),
			"grpc",
		)),
		OtelSamplingRatio: env.ratio("OTEL_SAMPLING_RATIO", defaultSamplingRatio),
	}
	if !cfg.IsProduction() && env.str("OTEL_SAMPLING_RATIO") == "" {
		out.OtelSamplingRatio = 1
	}
	return out
}

// Debug reports whether verbose logging and gin debug mode are on.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

type envReader func(string) (string, bool)

func (r envReader) str(key string) string {
	value, _ := r(key)
	return strings.TrimSpace(value)
}

func (r envReader) boolean(key string, def bool) bool {
	parsed, err := strconv.ParseBool(r.str(key))
	if err != nil {
		return def
	}
	return parsed
}

func (r envReader) ratio(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(r.str(key), 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return def
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
