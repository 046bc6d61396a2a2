// Package gateway orchestrates the parley server components.
//
// # Overview
//
// The gateway package is the central coordinator of the parley server. It
// owns the store, the conversation service, the user directory, the realtime
// router and session registry, and the HTTP server that exposes them.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config        *config.Config
//	    store         store.Store
//	    conversations *conversation.Service
//	    users         *users.Directory
//	    router        *realtime.Router
//	    registry      *realtime.Registry
//	    httpServer    *http.Server
//	    redis         *redis.Client          // nil in single-node mode
//	    relay         *realtime.RedisRelay   // nil in single-node mode
//	    // ...
//	}
//
// # HTTP API
//
// Public:
//
//	POST  /api/register                    {name, email, password} -> 201 {user, token}
//	POST  /api/login                       {email, password} -> {user, token}
//	GET   /health                          liveness
//	GET   /health/ready                    store (and redis) reachable
//	GET   /metrics                         when metrics.enabled
//
// Authenticated with "Authorization: Bearer <jwt>":
//
//	GET   /api/users
//	GET   /api/users/{id}
//	POST  /api/users/avatar
//	GET   /api/conversations
//	POST  /api/conversations               {participantId} -> 201 created, 200 existing
//	GET   /api/conversations/{id}
//	GET   /api/conversations/{id}/messages
//	POST  /api/conversations/{id}/messages {text, clientId?} -> 201
//	PATCH /api/conversations/{id}/read     -> {success, updated}
//
// # Websocket
//
// GET /ws upgrades an authenticated request. Browsers may pass the token as
// ?token= because they cannot set headers on the handshake. Each text message
// is one JSON frame.
//
// Client frames:
//
//	{"type":"join","conversationId":"..."}
//	{"type":"leave","conversationId":"..."}
//	{"type":"typing","conversationId":"...","isTyping":true}
//	{"type":"read","conversationId":"..."}
//
// Server frames:
//
//	{"type":"connected","data":{"sessionId","userId"}}
//	{"type":"joined","data":{"conversationId"}}
//	{"type":"left","data":{"conversationId"}}
//	{"type":"message","data":<message>}
//	{"type":"typing","data":{"conversationId","user","isTyping"}}
//	{"type":"read","data":{"conversationId","reader","count","readAt"}}
//	{"type":"error","data":{"code","error"}}
//
// Live events are best effort. A client that reconnects must re-join and
// re-fetch messages; nothing is replayed.
//
// # Multi-node
//
// With redis.url set, conversation writes are serialized with a redsync lock
// and events are relayed between nodes over Redis pub/sub.
package gateway
