// Package users is the user directory: accounts, credentials and the public
// profiles embedded in conversation responses.
//
// Emails are stored lower-cased and are unique. Passwords are bcrypt hashed
// via the auth package, and Register and Login both hand back a signed token.
// Profiles are cached in an LRU keyed by user ID and evicted when the user's
// avatar changes.
package users
