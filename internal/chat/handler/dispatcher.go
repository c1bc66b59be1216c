// Package handler exposes the chat commands over WebSocket, a gRPC stream and
// plain HTTP reads. Both streaming transports feed the same Dispatcher.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"filehub/internal/chat/service"
	"filehub/internal/common"
	"filehub/internal/realtime"
)

// Dispatcher turns inbound command frames into service calls. Replies go to
// the issuing session only; domain events go through the bus.
type Dispatcher struct {
	chat       *service.ChatService
	registry   *realtime.Registry
	bus        *realtime.Bus
	outboxSize int
	logger     *slog.Logger

	// per-session command limiters, unlimited when limit is zero
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDispatcher(chat *service.ChatService, registry *realtime.Registry, bus *realtime.Bus, outboxSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		chat:       chat,
		registry:   registry,
		bus:        bus,
		outboxSize: outboxSize,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// WithRateLimit caps each session at rps commands per second with the given
// burst. A non-positive rps disables the cap.
func (d *Dispatcher) WithRateLimit(rps float64, burst int) *Dispatcher {
	if rps <= 0 {
		d.limit = 0
		return d
	}
	if burst <= 0 {
		burst = 1
	}
	d.limit = rate.Limit(rps)
	d.burst = burst
	return d
}

func (d *Dispatcher) allow(sessionID string) bool {
	if d.limit == 0 {
		return true
	}
	d.mu.Lock()
	l, ok := d.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(d.limit, d.burst)
		d.limiters[sessionID] = l
	}
	d.mu.Unlock()
	return l.Allow()
}

// Attach registers a new session for an authenticated user.
func (d *Dispatcher) Attach(userID string) *realtime.Session {
	s := realtime.NewSession(userID, d.outboxSize)
	d.registry.Register(s)
	d.logger.Info("session connected", "session", s.ID, "user", userID)
	return s
}

// Detach removes the session from every room and closes its outbox.
func (d *Dispatcher) Detach(s *realtime.Session) {
	rooms := d.registry.RoomsOf(s.ID)
	d.registry.Unregister(s.ID)
	d.mu.Lock()
	delete(d.limiters, s.ID)
	d.mu.Unlock()
	d.logger.Info("session disconnected", "session", s.ID, "user", s.UserID, "rooms", len(rooms), "dropped", s.Dropped())
}

// Handle executes one command and queues its ack or error frame.
func (d *Dispatcher) Handle(ctx context.Context, s *realtime.Session, f realtime.Frame) {
	result, err := d.dispatch(ctx, s, f)
	if err != nil {
		d.logger.Debug("command rejected", "type", f.Type, "session", s.ID, "code", common.ErrorCode(err), "error", err)
		d.bus.Send(s, realtime.ErrorFrame(f.Ref, f.Room, err))
		return
	}
	ack, err := realtime.AckFrame(f.Ref, f.Room, result)
	if err != nil {
		d.logger.Error("encode ack", "type", f.Type, "error", err)
		d.bus.Send(s, realtime.ErrorFrame(f.Ref, f.Room, err))
		return
	}
	d.bus.Send(s, ack)
}

// Reject reports a frame that could not be parsed at all.
func (d *Dispatcher) Reject(s *realtime.Session, err error) {
	d.bus.Send(s, realtime.ErrorFrame("", "", fmt.Errorf("malformed frame: %w: %v", common.ErrInvalidInput, err)))
}

func (d *Dispatcher) dispatch(ctx context.Context, s *realtime.Session, f realtime.Frame) (interface{}, error) {
	if !d.allow(s.ID) {
		return nil, fmt.Errorf("%s: rate limit exceeded, retry later: %w", f.Type, common.ErrTransient)
	}
	switch f.Type {
	case realtime.FrameJoinRoom:
		if err := d.chat.Authorize(ctx, s.UserID, f.Room); err != nil {
			return nil, err
		}
		if err := d.registry.Join(s.ID, f.Room); err != nil {
			return nil, err
		}
		return realtime.JoinResult{Room: f.Room}, nil

	case realtime.FrameLeaveRoom:
		if err := common.ValidateRoomID(f.Room); err != nil {
			return nil, err
		}
		d.registry.Leave(s.ID, f.Room)
		return realtime.JoinResult{Room: f.Room}, nil

	case realtime.FrameSendMessage:
		var p realtime.SendMessagePayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return d.chat.Send(ctx, service.SendInput{
			RoomID:       f.Room,
			SenderID:     s.UserID,
			Body:         p.Body,
			ParentID:     p.ParentID,
			AttachmentID: p.AttachmentID,
			TempID:       p.TempID,
		})

	case realtime.FrameEditMessage:
		var p realtime.EditMessagePayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return d.chat.Edit(ctx, p.MessageID, s.UserID, p.Body)

	case realtime.FrameDeleteMessage:
		var p realtime.MessageRefPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		if err := d.chat.Delete(ctx, p.MessageID, s.UserID); err != nil {
			return nil, err
		}
		return realtime.DeleteResult{MessageID: p.MessageID}, nil

	case realtime.FrameToggleReaction:
		var p realtime.ToggleReactionPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		added, err := d.chat.ToggleReaction(ctx, p.MessageID, s.UserID, p.Emoji)
		if err != nil {
			return nil, err
		}
		return realtime.ReactionResult{MessageID: p.MessageID, Emoji: p.Emoji, Added: added}, nil

	case realtime.FrameTogglePin:
		var p realtime.MessageRefPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return d.chat.TogglePin(ctx, p.MessageID, s.UserID)

	default:
		return nil, fmt.Errorf("unknown command %q: %w", f.Type, common.ErrInvalidInput)
	}
}

func decode(f realtime.Frame, v interface{}) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s: missing payload: %w", f.Type, common.ErrInvalidInput)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%s: %w: %v", f.Type, common.ErrInvalidInput, err)
	}
	return nil
}
