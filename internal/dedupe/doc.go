// Package dedupe provides an idempotency cache: a time-bounded map from a
// client-supplied key to the ID of the record the first request created.
package dedupe
