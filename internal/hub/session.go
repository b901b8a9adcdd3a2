package hub

import (
	"sync"

	"github.com/rs/xid"
)

// sendBuffer bounds the per-session outbound queue. A session that falls this
// far behind the dispatch point is dropped instead of blocking it.
const sendBuffer = 256

// Session is one live connection. It holds no transport state itself: the
// websocket layer pumps Events into the wire and feeds signals back to the Hub.
type Session struct {
	ID string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewSession() *Session {
	return &Session{
		ID:   xid.New().String(),
		send: make(chan []byte, sendBuffer),
	}
}

// Events returns the outbound queue. The channel is closed when the session
// is unregistered from the hub.
func (s *Session) Events() <-chan []byte {
	return s.send
}

// Enqueue offers payload to the outbound queue without blocking.
// It reports false if the session is closed or the queue is full.
func (s *Session) Enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
