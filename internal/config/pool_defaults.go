package config

import "time"

// PoolDefaults are the connection-pool parameters applied to every
// segment's pool. A Segment carries no pool settings of its own, so
// there is no per-segment override.
type PoolDefaults struct {
	MinConnections int
	MaxConnections int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
	DialTimeout    time.Duration
}

// DefaultPoolDefaults returns the built-in pool sizing. The app config
// has no pool settings, so these values are not overridden from it.
func DefaultPoolDefaults() PoolDefaults {
	return PoolDefaults{
		MinConnections: 2,
		MaxConnections: 20,
		IdleTimeout:    5 * time.Minute,
		MaxLifetime:    30 * time.Minute,
		AcquireTimeout: 10 * time.Second,
		DialTimeout:    5 * time.Second,
	}
}
