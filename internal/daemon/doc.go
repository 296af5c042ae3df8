// Package daemon runs the background services: the worker pool, the
// stale-task reclaim loop, and the HTTP management and webhook API, guarded
// by a single-instance file lock.
package daemon
