package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollTimeout      = 10 * time.Second
	DefaultRemoteTimeout    = 30 * time.Second
	DefaultRateLimitBackoff = 2 * time.Minute
	DefaultFlowTimeout      = 15 * time.Minute
	DefaultMaxLinks         = 50
)

// ParseDuration parses a Go duration string. Empty means 0; negative is rejected.
func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr returns def for empty, zero or unparsable values.
// Use it after Validate, which has already rejected bad strings.
func DurationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDuration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Orchestrator settings with defaults applied.
type OrchestratorSettings struct {
	RateLimitBackoff time.Duration
	FlowTimeout      time.Duration
	ProgressMessages bool
	MaxLinks         int
}

func (c OrchestratorConfig) Settings() OrchestratorSettings {
	s := OrchestratorSettings{
		RateLimitBackoff: DurationOr(c.RateLimitBackoff, DefaultRateLimitBackoff),
		FlowTimeout:      DurationOr(c.FlowTimeout, DefaultFlowTimeout),
		ProgressMessages: c.ProgressMessages,
		MaxLinks:         c.MaxLinks,
	}
	if s.MaxLinks <= 0 {
		s.MaxLinks = DefaultMaxLinks
	}
	return s
}
