/*
Package log provides structured logging for the range-table master, using
zerolog for JSON-structured output with component-specific loggers,
configurable levels, and helper functions for common logging patterns.

# Usage

Initializing the Logger:

	import "github.com/hyperrange/rangemaster/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("master started")
	log.Warn("disk fill threshold exceeded")
	log.Error("failed to connect to name service")

Structured Logging:

	log.Logger.Info().
		Str("proxy", "rs3").
		Int64("operation_id", id).
		Msg("server registered")

Context Loggers:

	opLog := log.WithOperation(op.ID)
	opLog.Info().Msg("operation dispatched")

	rangeLog := log.WithRange(table, startRow)
	rangeLog.Warn().Msg("range move stalled")

# Design

A single package-level Logger instance is initialized once via Init and
used directly or through the WithComponent/WithOperation/WithProxy/
WithRange helpers, which attach the relevant identifier as a structured
field rather than interpolating it into the message string -- the same
convention pkg/operation and pkg/connection use when logging operation or
connection lifecycle events.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
