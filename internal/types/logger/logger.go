// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package logger defines the Logf type threaded through the broker so no
// package reaches for a global logger, mirroring tailscale.com/types/logger.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Logf is the logging function type every internal package accepts
// instead of holding a logger of its own.
type Logf func(format string, args ...any)

// Discard is a Logf that throws everything away.
func Discard(string, ...any) {}

// FromZap adapts a *zap.SugaredLogger into a Logf.
func FromZap(z *zap.SugaredLogger) Logf {
	return func(format string, args ...any) {
		z.Infof(format, args...)
	}
}

// WithPrefix returns a Logf that prepends prefix to every message, the
// same trick used to scope a single logger across Connection instances
// without constructing a new zap logger per connection.
func WithPrefix(logf Logf, prefix string) Logf {
	return func(format string, args ...any) {
		logf(prefix+": "+format, args...)
	}
}

// Errorf is a convenience for formatting an error for a Logf call site;
// exists purely so callers don't import fmt just for this.
func Errorf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
