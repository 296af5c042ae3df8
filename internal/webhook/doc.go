// Package webhook verifies and ingests inbound provider events: HMAC-SHA256
// signature checks, typed per-provider payload validation, idempotent
// routing into the track lifecycle, and an append-only audit log.
package webhook
