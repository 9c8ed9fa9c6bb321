package config

import (
	"strings"
	"time"
)

// RateLimitConfig configures the login and API sliding-window limiters.
type RateLimitConfig struct {
	Enabled       bool
	Backend       string // "memory" or "redis"
	Prefix        string
	LoginMax      int
	LoginWindow   time.Duration
	APIMax        int
	APIWindow     time.Duration
	SweepInterval time.Duration
}

func defaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Enabled:       true,
		Backend:       "memory",
		Prefix:        "rl",
		LoginMax:      5,
		LoginWindow:   15 * time.Minute,
		APIMax:        100,
		APIWindow:     15 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

func loadRateLimitConfig(def RateLimitConfig) RateLimitConfig {
	def.Enabled = envBool("RATE_LIMIT_ENABLED", def.Enabled)
	def.Backend = strings.ToLower(envStr("RATE_LIMIT_BACKEND", def.Backend))
	def.Prefix = envStr("RATE_LIMIT_PREFIX", def.Prefix)
	def.LoginMax = envInt("RATE_LIMIT_LOGIN_MAX", def.LoginMax)
	def.LoginWindow = envDur("RATE_LIMIT_LOGIN_WINDOW", def.LoginWindow)
	def.APIMax = envInt("RATE_LIMIT_API_MAX", def.APIMax)
	def.APIWindow = envDur("RATE_LIMIT_API_WINDOW", def.APIWindow)
	def.SweepInterval = envDur("RATE_LIMIT_SWEEP_INTERVAL", def.SweepInterval)
	if def.LoginMax < 1 {
		def.LoginMax = 1
	}
	if def.APIMax < 1 {
		def.APIMax = 1
	}
	if def.LoginWindow <= 0 {
		def.LoginWindow = 15 * time.Minute
	}
	if def.APIWindow <= 0 {
		def.APIWindow = 15 * time.Minute
	}
	if def.SweepInterval <= 0 {
		def.SweepInterval = 5 * time.Minute
	}
	return def
}
