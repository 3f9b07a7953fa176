package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// OSRMEndpoint is the distance oracle; empty falls back to the
	// straight-line estimator for local runs.
	OSRMEndpoint string
	// OracleTimeout bounds each individual oracle round trip.
	OracleTimeout time.Duration
	// OptimizerDeadline bounds a whole insertion search (O(n^2) oracle calls).
	OptimizerDeadline time.Duration
	// MeasureCacheTTL controls the route measurement cache.
	MeasureCacheTTL time.Duration

	// RequestTTL is the bounded waiting period for pending join requests;
	// the store enforces it, not application logic.
	RequestTTL time.Duration

	DefaultSpeedMps float64

	FCMEndpoint string
	FCMKey      string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RedisGeoKey:       "user_locations",
		KafkaTopic:        "location-updates",
		OracleTimeout:     10 * time.Second,
		OptimizerDeadline: 45 * time.Second,
		MeasureCacheTTL:   30 * time.Second,
		RequestTTL:        60 * time.Second,
		DefaultSpeedMps:   10,
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setDurationFromEnv(&cfg.OracleTimeout, "ORACLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.OptimizerDeadline, "OPTIMIZER_DEADLINE", &errs)
	setDurationFromEnv(&cfg.MeasureCacheTTL, "MEASURE_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.RequestTTL, "REQUEST_TTL", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)

	cfg.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	cfg.FCMKey = os.Getenv("FCM_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.RequestTTL <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TTL must be > 0"))
	}
	if cfg.OracleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ORACLE_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
