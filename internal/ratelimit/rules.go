package ratelimit

import (
	"errors"
	"time"

	"github.com/questline/questline-bot/pkg/config"
)

const (
	defaultPerUserLimit  = 20
	defaultPerUserWindow = time.Minute
)

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// IsWhitelisted returns true if the userID bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	for _, id := range r.config.Whitelist {
		if id == userID {
			return true
		}
	}
	return false
}

// GetPerUserLimit returns the per-user rate limiting rule.
func (r *Rules) GetPerUserLimit() (int, time.Duration, error) {
	limit := r.config.PerUserLimit
	window := r.config.PerUserWindow

	if limit == 0 {
		limit = defaultPerUserLimit
	}
	if window == 0 {
		window = defaultPerUserWindow
	}

	if limit < 0 || window < 0 {
		return 0, 0, errors.New("rate limit rule must be non-negative")
	}

	return limit, window, nil
}
