package realtime

import (
	"log/slog"
)

// Publisher is the write side of the bus as seen by command handlers.
type Publisher interface {
	Publish(roomID string, ev Event) error
}

// Bus fans events out to the members of a room.
type Bus struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

func NewBus(registry *Registry, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{registry: registry, logger: logger}
}

// WithMetrics makes the bus record traffic on m.
func (b *Bus) WithMetrics(m *Metrics) *Bus {
	b.metrics = m
	return b
}

// Publish delivers ev to every session in roomID at call time. A session
// that cannot accept the frame is skipped; the error is only for encoding.
func (b *Bus) Publish(roomID string, ev Event) error {
	frame, err := EncodeEvent(roomID, ev)
	if err != nil {
		return err
	}

	members := b.registry.MembersOf(roomID)
	delivered := 0
	for _, s := range members {
		if s.Deliver(frame) {
			delivered++
			continue
		}
		b.logger.Warn("dropped event for session",
			"event", frame.Type, "room", roomID, "session", s.ID, "dropped_total", s.Dropped())
	}
	b.metrics.observePublish(ev.Name(), delivered, len(members)-delivered)
	b.logger.Debug("published event", "event", frame.Type, "room", roomID, "delivered", delivered, "members", len(members))
	return nil
}

// Send queues a frame for a single session, used for acks and errors.
func (b *Bus) Send(s *Session, f Frame) {
	ok := s.Deliver(f)
	b.metrics.observeReply(ok)
	if !ok {
		b.logger.Warn("dropped reply for session", "type", f.Type, "session", s.ID)
	}
}
