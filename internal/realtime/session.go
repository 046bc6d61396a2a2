// ABOUTME: Session is the server side of one live connection
// ABOUTME: Holds a bounded outbound queue that the connection's writer drains

package realtime

import "sync"

// Session represents one connected client. Its outbound channel is never
// closed; writers stop on Done instead.
type Session struct {
	ID     string
	UserID string

	out       chan *Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id, userID string, buffer int) *Session {
	if buffer < 1 {
		buffer = 1
	}
	return &Session{
		ID:     id,
		UserID: userID,
		out:    make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
}

// Events returns the queue of events waiting to be written to the client.
func (s *Session) Events() <-chan *Event {
	return s.out
}

// Done is closed once the session has been forgotten.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// deliver queues ev without blocking. It reports false when the buffer is full
// or the session is closed.
func (s *Session) deliver(ev *Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.out <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
