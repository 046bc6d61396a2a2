// Package contract holds tests that pin parley's external surfaces: the
// SQLite schema, the HTTP routes and the JSON field names clients read.
// A failure here means a client-visible or data-visible break.
package contract
