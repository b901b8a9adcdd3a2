package hub

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bootstrap(t *testing.T) *Hub {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	return New(logger.Sugar())
}

// drain empties the session's outbound queue without blocking
func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case payload, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, payload)
		default:
			return out
		}
	}
}

func TestPublishReachesOnlySubscribers(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s1, s2, s3 := NewSession(), NewSession(), NewSession()
	for _, s := range []*Session{s1, s2, s3} {
		h.Register(s)
	}
	h.Join(s1, "general")
	h.Join(s2, "general")
	h.Join(s3, "random")

	delivered := h.Publish("general", []byte("hello"))
	require.Equal(t, 2, delivered)

	require.Len(t, drain(s1), 1)
	require.Len(t, drain(s2), 1)
	require.Empty(t, drain(s3))
}

func TestPublisherOwnSessionNotSuppressed(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s := NewSession()
	h.Register(s)
	h.Join(s, "general")

	require.Equal(t, 1, h.Publish("general", []byte("self")))
	require.Len(t, drain(s), 1)
}

func TestJoinIdempotent(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s := NewSession()
	h.Register(s)
	h.Join(s, "general")
	h.Join(s, "general")

	require.Equal(t, 1, h.Publish("general", []byte("once")))
	require.Len(t, drain(s), 1)
}

func TestLeaveStopsDelivery(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s := NewSession()
	h.Register(s)
	h.Join(s, "general")
	h.Leave(s, "general")
	h.Leave(s, "general") // leaving twice is a no-op

	require.Equal(t, 0, h.Publish("general", []byte("gone")))
	require.Empty(t, drain(s))
}

func TestPublishAfterDisconnect(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s, other := NewSession(), NewSession()
	h.Register(s)
	h.Register(other)
	h.Join(s, "general")
	h.Join(other, "general")

	h.Unregister(s)

	require.Equal(t, 1, h.Publish("general", []byte("after")))
	require.Len(t, drain(other), 1)

	// the disconnected session's queue is closed
	_, ok := <-s.Events()
	require.False(t, ok)
}

func TestPublishOrderPerRoom(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s := NewSession()
	h.Register(s)
	h.Join(s, "general")

	for i := 0; i < 10; i++ {
		h.Publish("general", []byte(strconv.Itoa(i)))
	}

	payloads := drain(s)
	require.Len(t, payloads, 10)
	for i, payload := range payloads {
		require.Equal(t, strconv.Itoa(i), string(payload))
	}
}

func TestSlowSessionDropped(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s := NewSession()
	h.Register(s)
	h.Join(s, "general")

	for i := 0; i < sendBuffer; i++ {
		require.Equal(t, 1, h.Publish("general", []byte("fill")))
	}

	// queue is full now, the session gets dropped instead of blocking dispatch
	require.Equal(t, 0, h.Publish("general", []byte("overflow")))
	require.Equal(t, 0, h.Publish("general", []byte("noop")))

	payloads := drain(s)
	require.Len(t, payloads, sendBuffer)
}

func TestPublishEmptyRoom(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	require.Equal(t, 0, h.Publish("nobody-here", []byte("echo")))
}

func TestCloseUnregistersEverySession(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s1, s2 := NewSession(), NewSession()
	h.Register(s1)
	h.Register(s2)
	h.Join(s1, "general")

	h.Close()

	require.Equal(t, 0, h.Publish("general", []byte("closed")))
	_, ok := <-s1.Events()
	require.False(t, ok)
	_, ok = <-s2.Events()
	require.False(t, ok)
}

func TestJoinBeforeRegisterIgnored(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	s := NewSession()
	h.Join(s, "general")

	require.Equal(t, 0, h.Publish("general", []byte("ghost")))
}
