// Package logging provides the shared application logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. DEV environments get the
// human-readable development encoder; everything else logs JSON.
func NewLogger(environment string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if strings.ToUpper(environment) == "DEV" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		// zap only fails here on an invalid build config; fall back to a
		// no-op logger rather than crashing before main can report.
		return zap.NewNop()
	}
	return logger
}
