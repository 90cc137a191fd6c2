// Package metrics defines and registers the Prometheus metrics for the
// operation processor, connection manager, and maintenance scheduler, and
// exposes them over the standard /metrics HTTP handler.
package metrics
