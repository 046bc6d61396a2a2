// Package store provides persistent storage for parley.
//
// # Architecture
//
// A single Store interface covers the three durable entities:
//
//   - User: registered accounts (email unique, password hash never serialized)
//   - Conversation: a two-party thread with a denormalized LastMessage summary
//   - Message: immutable text messages with a read flag
//
// Three implementations are provided:
//
//   - SQLiteStore: default, backed by modernc.org/sqlite ("sqlite") or
//     mattn/go-sqlite3 ("sqlite3") for cgo builds
//   - PostgresStore: pgx/v5 connection pool for shared deployments
//   - MockStore: in-memory, for tests in other packages
//
// # Uniqueness
//
// Conversations carry a PairKey (see PairKey) under a unique constraint. Two
// concurrent creations for the same pair result in exactly one row; the loser
// gets ErrDuplicateConversation and is expected to look the pair up again.
//
// # Ordering
//
// Messages are returned ascending by CreatedAt with insertion order as the
// tie-break (rowid in SQLite, a bigserial column in Postgres). Timestamps are
// stored with nanosecond precision in a fixed-width format so lexical and
// chronological order agree.
//
// # Transactions
//
// AppendMessage and MarkConversationRead each run in one transaction, so the
// LastMessage summary never points at a message that isn't queryable and read
// transitions land together with the summary flag.
//
// # Errors
//
// Lookups return ErrNotFound for missing rows. Constraint violations map to
// ErrDuplicateConversation and ErrDuplicateEmail. Everything else is wrapped
// with context using %w.
package store
