// Package config provides the environment-backed configuration loader used by
// the approvald bootstrap.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string

	KafkaBrokers []string
	KafkaGroupID string

	SweepInterval   time.Duration
	MetricsInterval time.Duration
	IdempotencyTTL  time.Duration
	BoundsWindow    time.Duration
	Retention       time.Duration
	VerifyTimeout   time.Duration

	VerifierKeyB64      string
	AllowStaticVerifier bool

	AuditBucket string
	AuditPrefix string
}

const (
	defaultAddr            = ":8070"
	defaultSweepInterval   = 60 * time.Second
	defaultMetricsInterval = 60 * time.Second
	defaultIdempotencyTTL  = time.Hour
	defaultBoundsWindow    = 5 * time.Minute
	defaultRetention       = 24 * time.Hour
	defaultVerifyTimeout   = 5 * time.Second
)

func Load() (Config, error) {
	cfg := Config{
		Addr:                getEnv("APPROVALD_ADDR", defaultAddr),
		DatabaseURL:         firstNonEmpty(os.Getenv("APPROVALD_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaGroupID:        getEnv("APPROVALD_KAFKA_GROUP", "approvald"),
		SweepInterval:       getDuration("APPROVALD_SWEEP_INTERVAL", defaultSweepInterval),
		MetricsInterval:     getDuration("APPROVALD_METRICS_INTERVAL", defaultMetricsInterval),
		IdempotencyTTL:      getDuration("APPROVALD_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		BoundsWindow:        getDuration("APPROVALD_BOUNDS_WINDOW", defaultBoundsWindow),
		Retention:           getDuration("APPROVALD_RETENTION", defaultRetention),
		VerifyTimeout:       getDuration("APPROVALD_VERIFY_TIMEOUT", defaultVerifyTimeout),
		VerifierKeyB64:      os.Getenv("APPROVALD_VERIFIER_KEY_B64"),
		AllowStaticVerifier: getBool("APPROVALD_ALLOW_STATIC_VERIFIER", false),
		AuditBucket:         os.Getenv("APPROVALD_AUDIT_BUCKET"),
		AuditPrefix:         getEnv("APPROVALD_AUDIT_PREFIX", "approvald"),
	}
	if v := os.Getenv("APPROVALD_KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if cfg.VerifierKeyB64 == "" && !cfg.AllowStaticVerifier {
		return Config{}, fmt.Errorf("APPROVALD_VERIFIER_KEY_B64 required unless APPROVALD_ALLOW_STATIC_VERIFIER=true")
	}
	nodeEnv := os.Getenv("NODE_ENV")
	if nodeEnv == "production" && cfg.AllowStaticVerifier {
		return Config{}, fmt.Errorf("APPROVALD_ALLOW_STATIC_VERIFIER=true is forbidden in production")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
