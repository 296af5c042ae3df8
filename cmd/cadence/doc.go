// Command cadence is the operator CLI for the cadence daemon: track
// lifecycle actions, queue inspection, dead-letter management, upload
// batches, and webhook audit.
package main
