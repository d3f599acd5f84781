// Package logging constructs the slog loggers used across the miner service.
//
// It provides a console handler that renders key=value lines with the
// component prefix pulled out of the attribute list, a JSON handler for
// machine-readable output, and small attr helpers so call sites stay terse.
package logging
