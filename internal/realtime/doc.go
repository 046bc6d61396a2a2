// Package realtime fans conversation events out to live websocket sessions.
//
// # Router
//
// Router keeps, per conversation, the set of subscribed sessions and which
// users are currently typing. Publishing copies the targets under a read
// lock and queues the event on each session without blocking; a full queue
// drops the event for that session only. Empty subscriber sets are deleted,
// so nothing persists once everyone has left.
//
// Message and read events reach every subscriber, the originating user's
// sessions included. Typing events skip every session of the typing user.
//
// # Registry
//
// Registry owns sessions and their joined conversations. Forget unsubscribes
// a session everywhere before closing it, and a user whose last session
// leaves while marked typing gets a typing(false) published for them.
//
// # Relay
//
// With Redis configured, RedisRelay forwards every locally published event
// to a pub/sub channel and delivers events from other nodes to local
// sessions. Each node tags envelopes with its ID and ignores its own.
package realtime
