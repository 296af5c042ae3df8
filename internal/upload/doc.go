// Package upload orchestrates batched video uploads: per-track eligibility
// gating, staggered asynchronous dispatch, bounded retries with linear
// backoff, and batch run bookkeeping with cooperative cancellation.
package upload
