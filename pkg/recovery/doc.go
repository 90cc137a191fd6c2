// Package recovery implements the Recovery Step Future fan-in and the
// live-quorum predicate that gates promoting a failover Recover operation.
package recovery
