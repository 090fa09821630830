// Package logging provides the structured logger shared by the
// fabric's components.
package logging

import "go.uber.org/zap"

// New builds a *zap.Logger honoring the debug option: when debug is
// false, Debug-level fields are suppressed.
func New(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		// Build only fails on a malformed config; ours is static, so fall
		// back to a no-op logger rather than panicking the fabric.
		return zap.NewNop()
	}
	return logger
}

// Nop returns a logger that discards everything, used by cmd/flockd's
// one-shot status command.
func Nop() *zap.Logger {
	return zap.NewNop()
}
