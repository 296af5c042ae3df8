// Package track defines the track lifecycle model and the SQLite-backed
// authoritative store for tracks, batch runs, and the webhook event log.
//
// Status transitions are conditional updates: each transition names the
// statuses it may move from, and a transition that matches no row reports
// blocked instead of failing. Concurrent writers therefore serialize through
// the store without any out-of-band locking.
package track
