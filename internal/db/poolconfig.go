package db

import (
	"time"

	"outreach-mcp/internal/config"
)

// PoolConfig captures the connection pool policy shared by the synchronous
// and asynchronous pools. It is built once at process start and never
// mutated; both pools derive their settings from the same value so SSL and
// recycling behavior cannot diverge.
type PoolConfig struct {
	PoolSize       int
	MaxOverflow    int
	RecycleSeconds int
	SSLRequired    bool
	Serverless     bool
	AcquireTimeout time.Duration
}

// PoolPolicy is the resolved per-pool policy derived from a PoolConfig.
// Equal PoolConfigs always produce equal policies.
type PoolPolicy struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	SSLRequired     bool
}

// FromConfig builds the PoolConfig from application configuration. A
// serverless target gets a smaller pool and aggressive recycling because the
// backend drops idle connections unilaterally.
func FromConfig(cfg *config.Config) PoolConfig {
	pc := PoolConfig{
		PoolSize:       cfg.DB.PoolSize,
		MaxOverflow:    cfg.DB.MaxOverflow,
		RecycleSeconds: cfg.DB.RecycleSeconds,
		SSLRequired:    cfg.DB.SSLMode != "disable",
		Serverless:     cfg.DB.Serverless,
		AcquireTimeout: time.Duration(cfg.DB.AcquireTimeoutSeconds) * time.Second,
	}
	if pc.Serverless {
		if pc.PoolSize > 5 {
			pc.PoolSize = 5
		}
		if pc.MaxOverflow > 2 {
			pc.MaxOverflow = 2
		}
		if pc.RecycleSeconds == 0 || pc.RecycleSeconds > 120 {
			pc.RecycleSeconds = 120
		}
		pc.SSLRequired = true
	}
	return pc
}

// Policy resolves the pool policy applied to both pools.
func (c PoolConfig) Policy() PoolPolicy {
	return PoolPolicy{
		MaxConns:        int32(c.PoolSize + c.MaxOverflow),
		MinConns:        0,
		MaxConnLifetime: time.Duration(c.RecycleSeconds) * time.Second,
		MaxConnIdleTime: time.Duration(c.RecycleSeconds) * time.Second,
		SSLRequired:     c.SSLRequired,
	}
}
