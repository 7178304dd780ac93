package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultUploadDir      = "uploads"
	defaultMaxUploadBytes = "26214400" // 25 MiB
	defaultAllowedTypes   = ""
	defaultStreamTimeout  = "30s"
	defaultSweepGrace     = "1h"
	defaultBusyRetries    = "5"
	defaultBusyBackoff    = "50ms"
)

type UploadRuntimeConfig struct {
	UploadDir           string
	MaxUploadBytes      int64
	AllowedContentTypes []string
	StreamTimeout       time.Duration
	SweepGracePeriod    time.Duration
	StoreBusyRetries    int
	StoreBusyBackoff    time.Duration
}

func LoadUploadRuntimeConfig() (*UploadRuntimeConfig, error) {
	cfg := &UploadRuntimeConfig{}

	cfg.UploadDir = strings.TrimSpace(getEnv("UPLOAD_DIR", defaultUploadDir))
	cfg.AllowedContentTypes = parseListEnv("ALLOWED_CONTENT_TYPES", defaultAllowedTypes)

	var err error
	cfg.MaxUploadBytes, err = parseInt64Env("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)
	if err != nil {
		return nil, err
	}

	cfg.StreamTimeout, err = parseDurationEnv("UPLOAD_STREAM_TIMEOUT", defaultStreamTimeout)
	if err != nil {
		return nil, err
	}

	cfg.SweepGracePeriod, err = parseDurationEnv("SWEEP_GRACE_PERIOD", defaultSweepGrace)
	if err != nil {
		return nil, err
	}

	retries, err := parseInt64Env("STORE_BUSY_RETRIES", defaultBusyRetries)
	if err != nil {
		return nil, err
	}
	cfg.StoreBusyRetries = int(retries)

	cfg.StoreBusyBackoff, err = parseDurationEnv("STORE_BUSY_BACKOFF", defaultBusyBackoff)
	if err != nil {
		return nil, err
	}

	if err := validateUploadConfig(cfg); err != nil {
		return nil, err
	}

	log.Printf("upload config: dir=%s max_bytes=%d types=%d stream_timeout=%s sweep_grace=%s",
		cfg.UploadDir, cfg.MaxUploadBytes, len(cfg.AllowedContentTypes), cfg.StreamTimeout, cfg.SweepGracePeriod)

	return cfg, nil
}

func validateUploadConfig(cfg *UploadRuntimeConfig) error {
	if cfg.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.StreamTimeout <= 0 {
		return fmt.Errorf("UPLOAD_STREAM_TIMEOUT must be > 0")
	}
	if cfg.SweepGracePeriod <= 0 {
		return fmt.Errorf("SWEEP_GRACE_PERIOD must be > 0")
	}
	if cfg.StoreBusyRetries < 0 {
		return fmt.Errorf("STORE_BUSY_RETRIES must be >= 0")
	}
	if cfg.StoreBusyBackoff <= 0 {
		return fmt.Errorf("STORE_BUSY_BACKOFF must be > 0")
	}
	return nil
}

func parseDurationEnv(name, fallback string) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func parseInt64Env(name, fallback string) (int64, error) {
	value := strings.TrimSpace(getEnv(name, fallback))
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return n, nil
}

func parseListEnv(name, fallback string) []string {
	value := strings.TrimSpace(getEnv(name, fallback))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
