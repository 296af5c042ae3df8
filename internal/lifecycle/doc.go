// Package lifecycle owns the track state machine: start, stop, retry, and
// upload completion, each implemented as a guarded store transition followed
// by derived-view cache invalidation.
package lifecycle
