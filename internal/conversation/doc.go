// Package conversation implements the write path for two-party conversations.
//
// # Overview
//
// The Service sits between the HTTP/WebSocket handlers and the store. It
// resolves the single conversation for a pair of users, persists messages,
// applies read receipts and hands committed changes to a Publisher for live
// delivery.
//
// # Resolution
//
// ResolveOrCreate looks a pair up by its order-independent key and creates the
// conversation when it is missing. The store's unique pair constraint decides
// concurrent creations; the loser re-reads the winner's row, so callers never
// see the race.
//
// # Sending
//
// Send trims and validates the text, checks participation, then under the
// per-conversation lock:
//
//  1. Append the message and update the LastMessage summary (one transaction)
//  2. Remember the ClientID, if any, for idempotent retries
//  3. Publish the stored message exactly once
//
// A failed write publishes nothing.
//
// # Read receipts
//
// MarkRead flips read=true on the other participant's unread messages and
// marks the summary read when the reader did not send it. Calling it again is
// a no-op that reports zero.
//
// # Locking
//
// Locker has two implementations: LocalLocker for a single process, and
// RedisLocker (redsync) when several gateway nodes share one database.
//
// # Errors
//
// Every error wraps one of ErrValidation, ErrForbidden, ErrNotFound,
// ErrConflict or ErrStore.
package conversation
