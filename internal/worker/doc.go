// Package worker runs the daemon's task workers: claim, heartbeat, execute,
// and acknowledge, with status re-validation and cooperative stop detection.
package worker
