// Package connection tracks range-server membership and connectivity for
// the master: which servers exist, whether they are connected, balanced,
// removed, or recovering, and which one should receive the next range
// placement.
package connection
