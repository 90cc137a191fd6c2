// Package types defines the data model shared by the operation processor,
// connection manager, balancers, and maintenance scheduler: operations,
// range-server connections, balance plans, and the transient range/access-
// group snapshots gathered once per maintenance cycle.
package types
