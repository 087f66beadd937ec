package config

import (
	"os"
	"strings"
	"time"
)

// Config holds runtime settings for the pipewatch service.
type Config struct {
	Environment   string
	API           APIConfig
	Postgres      PostgresConfig
	Registry      RegistryConfig
	Orchestration OrchestrationConfig
	Poller        PollerConfig
	Telemetry     TelemetryConfig
	Metrics       MetricsConfig
}

type APIConfig struct {
	Listen string
}

type PostgresConfig struct {
	DSN string
}

// RegistryConfig selects the connector config registry backend. An empty
// type disables the registry; connectors then run on inline configs.
type RegistryConfig struct {
	Type    string
	DSN     string
	URL     string
	Token   string
	Timeout time.Duration
	Cache   bool
}

type OrchestrationConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// PollerConfig tunes the periodic status poll and the post-command burst.
type PollerConfig struct {
	Interval    time.Duration
	BurstDelays []time.Duration
}

type TelemetryConfig struct {
	ServiceName string
}

type MetricsConfig struct {
	Enabled bool
}

// Load loads config from environment for now. File parsing will be added later.
func Load(_ string) (*Config, error) {
	cfg := &Config{
		Environment: getenv("PIPEWATCH_ENV", "dev"),
		API: APIConfig{
			Listen: getenv("PIPEWATCH_API_LISTEN", ":8080"),
		},
		Postgres: PostgresConfig{
			DSN: getenv("PIPEWATCH_POSTGRES_DSN", ""),
		},
		Registry: RegistryConfig{
			Type:    getenv("PIPEWATCH_REGISTRY_TYPE", ""),
			DSN:     getenv("PIPEWATCH_REGISTRY_DSN", ""),
			URL:     getenv("PIPEWATCH_REGISTRY_URL", ""),
			Token:   getenv("PIPEWATCH_REGISTRY_TOKEN", ""),
			Timeout: getenvDuration("PIPEWATCH_REGISTRY_TIMEOUT", 10*time.Second),
			Cache:   getenvBool("PIPEWATCH_REGISTRY_CACHE", true),
		},
		Orchestration: OrchestrationConfig{
			BaseURL: getenv("PIPEWATCH_ORCHESTRATION_URL", ""),
			Token:   getenv("PIPEWATCH_ORCHESTRATION_TOKEN", ""),
			Timeout: getenvDuration("PIPEWATCH_ORCHESTRATION_TIMEOUT", 15*time.Second),
		},
		Poller: PollerConfig{
			Interval:    getenvDuration("PIPEWATCH_POLL_INTERVAL", 10*time.Second),
			BurstDelays: getenvDurationCSV("PIPEWATCH_BURST_DELAYS", "1s,2s,3s"),
		},
		Telemetry: TelemetryConfig{
			ServiceName: getenv("PIPEWATCH_OTEL_SERVICE", "pipewatch"),
		},
		Metrics: MetricsConfig{
			Enabled: getenvBool("PIPEWATCH_METRICS_ENABLED", true),
		},
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		switch value {
		case "1", "true", "TRUE", "yes", "YES":
			return true
		case "0", "false", "FALSE", "no", "NO":
			return false
		default:
			return fallback
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// getenvDurationCSV parses a comma-separated list of durations. A list
// with any unparseable element falls back wholesale, so a typo cannot
// silently change the burst shape.
func getenvDurationCSV(key, fallback string) []time.Duration {
	parse := func(raw string) []time.Duration {
		parts := strings.Split(raw, ",")
		out := make([]time.Duration, 0, len(parts))
		for _, part := range parts {
			trim := strings.TrimSpace(part)
			if trim == "" {
				continue
			}
			d, err := time.ParseDuration(trim)
			if err != nil {
				return nil
			}
			out = append(out, d)
		}
		return out
	}

	if value, ok := os.LookupEnv(key); ok {
		if out := parse(value); len(out) > 0 {
			return out
		}
	}
	return parse(fallback)
}
