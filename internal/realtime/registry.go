package realtime

import (
	"fmt"
	"log/slog"
	"sync"

	"filehub/internal/common"
)

// Registry maps rooms to the sessions currently joined to them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // sessionID -> Session
	rooms    map[string]map[string]*Session // roomID -> sessionID -> Session
	joined   map[string]map[string]struct{} // sessionID -> set of roomIDs
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		joined:   make(map[string]map[string]struct{}),
		logger:   logger,
	}
}

// Register adds a freshly connected session.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s
	r.joined[s.ID] = make(map[string]struct{})
	r.logger.Debug("session registered", "session", s.ID, "user", s.UserID)
}

// Join adds the session to roomID. Joining twice is a no-op.
func (r *Registry) Join(sessionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	if _, already := r.joined[sessionID][roomID]; already {
		return nil
	}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Session)
	}
	r.rooms[roomID][sessionID] = s
	r.joined[sessionID][roomID] = struct{}{}
	r.logger.Debug("session joined room", "session", sessionID, "room", roomID)
	return nil
}

// Leave removes the session from roomID. Leaving a room not joined is a no-op.
func (r *Registry) Leave(sessionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, roomID)
}

func (r *Registry) leaveLocked(sessionID, roomID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if rooms, ok := r.joined[sessionID]; ok {
		delete(rooms, roomID)
	}
}

// LeaveAll removes the session from every room and returns the rooms it left.
func (r *Registry) LeaveAll(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make([]string, 0, len(r.joined[sessionID]))
	for roomID := range r.joined[sessionID] {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		r.leaveLocked(sessionID, roomID)
	}
	return left
}

// Unregister is the disconnect path: it leaves all rooms, forgets the
// session and closes it.
func (r *Registry) Unregister(sessionID string) {
	left := r.LeaveAll(sessionID)

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	delete(r.joined, sessionID)
	r.mu.Unlock()

	if ok {
		s.Close()
		r.logger.Debug("session unregistered", "session", sessionID, "rooms_left", len(left))
	}
}

// MembersOf returns the sessions joined to roomID at call time.
func (r *Registry) MembersOf(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Session, 0, len(r.rooms[roomID]))
	for _, s := range r.rooms[roomID] {
		members = append(members, s)
	}
	return members
}

func (r *Registry) RoomsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.joined[sessionID]))
	for roomID := range r.joined[sessionID] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// CloseAll closes every session so transports drop their connections. The
// sessions unregister themselves as their transports exit.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}
