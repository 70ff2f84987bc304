package reconcile

import (
	"time"

	"github.com/smallbiznis/clubhouse/internal/config"
)

// Config controls when stalled onboarding is resumed or given up on.
type Config struct {
	Enabled             bool
	Schedule            string
	GracePeriod         time.Duration
	AbandonAfter        time.Duration
	RunTimeout          time.Duration
	LockTTL             time.Duration
	BatchSize           int
	MaxCheckoutAttempts int
	MaxInviteAttempts   int
}

func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Schedule:            "@every 5m",
		GracePeriod:         15 * time.Minute,
		AbandonAfter:        72 * time.Hour,
		RunTimeout:          2 * time.Minute,
		LockTTL:             5 * time.Minute,
		BatchSize:           50,
		MaxCheckoutAttempts: 5,
		MaxInviteAttempts:   5,
	}
}

func ProvideConfig(cfg config.Config) Config {
	rc := cfg.Reconcile
	return Config{
		Enabled:             rc.Enabled,
		Schedule:            rc.Schedule,
		GracePeriod:         rc.GracePeriod,
		AbandonAfter:        rc.AbandonAfter,
		RunTimeout:          rc.RunTimeout,
		LockTTL:             rc.LockTTL,
		BatchSize:           rc.BatchSize,
		MaxCheckoutAttempts: rc.MaxCheckoutAttempts,
		MaxInviteAttempts:   rc.MaxInviteAttempts,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Schedule == "" {
		c.Schedule = defaults.Schedule
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaults.GracePeriod
	}
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = defaults.AbandonAfter
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxCheckoutAttempts <= 0 {
		c.MaxCheckoutAttempts = defaults.MaxCheckoutAttempts
	}
	if c.MaxInviteAttempts <= 0 {
		c.MaxInviteAttempts = defaults.MaxInviteAttempts
	}
	return c
}
