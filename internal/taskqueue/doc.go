// Package taskqueue provides the task queue gateway: dispatch to named
// queues, TTL-cached statistics, health grading, stale-claim reclaim, and
// dead-letter management on top of a pluggable broker backend.
package taskqueue
