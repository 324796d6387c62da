package db

import "errors"

// Sentinel errors for pool and session failures. Callers distinguish pool
// exhaustion from connection trouble so they can apply backpressure instead
// of retrying.
var (
	ErrConnectionSetup = errors.New("database connection setup failed")
	ErrPoolExhausted   = errors.New("connection pool exhausted")
)
