package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Session is one live client connection bound to an authenticated user.
// Frames are queued on a bounded outbox drained by the transport writer.
type Session struct {
	ID     string
	UserID string

	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewSession(userID string, outboxSize int) *Session {
	if outboxSize <= 0 {
		outboxSize = 1
	}
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		out:    make(chan Frame, outboxSize),
		done:   make(chan struct{}),
	}
}

// Deliver queues f without blocking. It returns false when the session is
// closed or its outbox is full.
func (s *Session) Deliver(f Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- f:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Session) Outbox() <-chan Frame {
	return s.out
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close marks the session finished. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Dropped is the number of frames discarded because the outbox was full.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}
