// Package auth provides authentication for parley.
//
// # Tokens
//
// Users authenticate with HS256 JWTs signed with the configured jwt_secret
// (at least MinSecretLength bytes). The "sub" claim carries the user ID and
// "exp" the expiry; login and registration issue a fresh token.
//
// # Passwords
//
// HashPassword and CheckPassword wrap bcrypt. Hashes live on the user row
// and are never serialized to clients.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware reads "Authorization: Bearer <token>", verifies it,
// resolves the subject to an existing user and stores an AuthContext on the
// request context. Websocket handshakes may pass the token as ?token= since
// browsers cannot set headers there. Failures answer 401 with a JSON body.
package auth
