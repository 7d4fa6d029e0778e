// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// The auto-chat policy is validated once at startup via Policy.Validate; a bad
// policy must prevent the service from running rather than degrade silently.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AutoChatPolicy is the single externally tunable contract for the burst engine.
// It is immutable for the lifetime of a burst: orchestrators copy it at
// construction, so changing env and restarting is the only way to retune.
type AutoChatPolicy struct {
	// MaxTurnsPerBurst caps committed messages per burst.
	MaxTurnsPerBurst int
	// MaxConsecutiveBySame ends a burst early when the last N room messages
	// all belong to the same persona.
	MaxConsecutiveBySame int
	// MinBurstInterval is the minimum wall-clock gap between burst starts
	// for one room; earlier triggers are skipped whole.
	MinBurstInterval time.Duration
	// PerPersonaCooldown keeps a persona unselectable after it speaks.
	PerPersonaCooldown time.Duration
	// SimilarityThreshold in [0,1]; candidate lines at or above it against
	// recent room text are discarded.
	SimilarityThreshold float64
}

// Validate reports the first policy misconfiguration found. Durations of zero
// are allowed (they disable the respective guard); negatives are not.
func (p AutoChatPolicy) Validate() error {
	if p.MaxTurnsPerBurst <= 0 {
		return fmt.Errorf("AUTOCHAT_MAX_TURNS must be > 0, got %d", p.MaxTurnsPerBurst)
	}
	if p.MaxConsecutiveBySame <= 0 {
		return fmt.Errorf("AUTOCHAT_MAX_CONSECUTIVE must be > 0, got %d", p.MaxConsecutiveBySame)
	}
	if p.MinBurstInterval < 0 {
		return fmt.Errorf("AUTOCHAT_MIN_BURST_INTERVAL must be >= 0, got %s", p.MinBurstInterval)
	}
	if p.PerPersonaCooldown < 0 {
		return fmt.Errorf("AUTOCHAT_PERSONA_COOLDOWN must be >= 0, got %s", p.PerPersonaCooldown)
	}
	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
		return fmt.Errorf("AUTOCHAT_SIMILARITY_THRESHOLD must be in [0,1], got %g", p.SimilarityThreshold)
	}
	return nil
}

type Config struct {
	// HTTP
	HTTPAddr string

	// Line generation collaborator (OpenAI-compatible chat completions)
	GenBaseURL string
	GenAPIKey  string
	GenModel   string
	GenTimeout time.Duration

	// Content analysis collaborator
	AnalysisBaseURL string
	AnalysisAPIKey  string
	AnalysisTimeout time.Duration

	// Database (optional archive sink; empty disables archiving)
	DBDsn string

	// Burst engine
	Policy AutoChatPolicy

	// Idle scheduler
	IdleTickInterval    time.Duration
	IdleQuietAfter      time.Duration
	IdleFireProbability float64
}

// Load reads environment variables and applies defaults. It doesn't fail if
// collaborator credentials are missing; features degrade instead (no archive
// sink without DB_DSN). Policy validation is separate so startup can decide
// how loudly to fail.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.GenBaseURL = os.Getenv("GEN_API_BASE_URL")
	if cfg.GenBaseURL == "" {
		cfg.GenBaseURL = "https://api.openai.com/v1"
	}
	cfg.GenAPIKey = os.Getenv("GEN_API_KEY")
	cfg.GenModel = os.Getenv("GEN_MODEL")
	if cfg.GenModel == "" {
		cfg.GenModel = "gpt-4o-mini"
	}
	cfg.GenTimeout = envDuration("GEN_TIMEOUT", 20*time.Second)

	cfg.AnalysisBaseURL = os.Getenv("ANALYSIS_API_BASE_URL")
	cfg.AnalysisAPIKey = os.Getenv("ANALYSIS_API_KEY")
	cfg.AnalysisTimeout = envDuration("ANALYSIS_TIMEOUT", 10*time.Second)

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.Policy = AutoChatPolicy{
		MaxTurnsPerBurst:     envInt("AUTOCHAT_MAX_TURNS", 6),
		MaxConsecutiveBySame: envInt("AUTOCHAT_MAX_CONSECUTIVE", 2),
		MinBurstInterval:     envDuration("AUTOCHAT_MIN_BURST_INTERVAL", 15*time.Second),
		PerPersonaCooldown:   envDuration("AUTOCHAT_PERSONA_COOLDOWN", 20*time.Second),
	}
	cfg.Policy.SimilarityThreshold = 0.8
	if v := os.Getenv("AUTOCHAT_SIMILARITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTOCHAT_SIMILARITY_THRESHOLD: %w", err)
		}
		cfg.Policy.SimilarityThreshold = f
	}

	cfg.IdleTickInterval = envDuration("IDLE_TICK_INTERVAL", 10*time.Second)
	cfg.IdleQuietAfter = envDuration("IDLE_QUIET_AFTER", 120*time.Second)
	cfg.IdleFireProbability = 0.3
	if v := os.Getenv("IDLE_FIRE_PROBABILITY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid IDLE_FIRE_PROBABILITY: %w", err)
		}
		if f < 0 || f > 1 {
			return nil, fmt.Errorf("IDLE_FIRE_PROBABILITY must be in [0,1], got %g", f)
		}
		cfg.IdleFireProbability = f
	}

	return cfg, nil
}

// ValidateGenReady checks required fields when real line generation is expected.
func (c *Config) ValidateGenReady() error {
	if c.GenAPIKey == "" {
		return fmt.Errorf("missing generation env: require GEN_API_KEY")
	}
	return nil
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
