package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type GatewayConfig struct {
	// Secret signs scope tokens.
	Secret   []byte
	ScopeTTL time.Duration
	// ScopeIdleTTL closes scopes that saw no request for this long.
	ScopeIdleTTL   time.Duration
	ReapInterval   time.Duration
	NoticeCapacity int

	LensEndpoint   string
	LensOrigin     string
	LensUserAgent  string
	LensTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	CBTimeout      time.Duration
	// CBFailureThreshold consecutive transport failures open the breaker.
	CBFailureThreshold uint32

	RateLimit float64
	RateBurst int
}

func LoadGateway() (GatewayConfig, error) {
	secret := strings.TrimSpace(os.Getenv("GATEWAY_SECRET"))
	if secret == "" {
		return GatewayConfig{}, errors.New("GATEWAY_SECRET is required")
	}
	if len(secret) < 32 {
		return GatewayConfig{}, errors.New("GATEWAY_SECRET must be at least 32 bytes")
	}
	idle := envDuration("SCOPE_IDLE_TTL", 30*time.Minute)
	reap := envDuration("SCOPE_REAP_INTERVAL", idle/2)
	if reap < time.Second {
		reap = time.Second
	}

	return GatewayConfig{
		Secret:             []byte(secret),
		ScopeTTL:           envDuration("SCOPE_TOKEN_TTL", 24*time.Hour),
		ScopeIdleTTL:       idle,
		ReapInterval:       reap,
		NoticeCapacity:     envInt("NOTICE_CAPACITY", 64),
		LensEndpoint:       strings.TrimSpace(os.Getenv("LENS_API_URL")),
		LensOrigin:         strings.TrimSpace(os.Getenv("LENS_ORIGIN")),
		LensUserAgent:      strings.TrimSpace(os.Getenv("LENS_USER_AGENT")),
		LensTimeout:        envDuration("LENS_TIMEOUT", 10*time.Second),
		MaxRetries:         envInt("LENS_MAX_RETRIES", 2),
		RetryBaseDelay:     envDuration("LENS_RETRY_BASE_DELAY", 300*time.Millisecond),
		CBTimeout:          envDuration("CB_TIMEOUT", 30*time.Second),
		CBFailureThreshold: uint32(envInt("CB_FAILURE_THRESHOLD", 5)),
		RateLimit:          envFloat("RATE_LIMIT_RPS", 10),
		RateBurst:          envInt("RATE_LIMIT_BURST", 20),
	}, nil
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
