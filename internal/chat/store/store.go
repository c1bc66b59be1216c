// Package store holds the canonical in-memory message log of every active
// room. Messages live in a per-room arena keyed by id; thread linkage is kept
// in a ThreadIndex rather than in back-pointers.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"filehub/internal/common"
)

type record struct {
	msg       common.Message
	reactions common.Reactions
}

// Store owns one RoomLog per room and the message -> room index.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*RoomLog
	index map[string]string // messageID -> roomID
}

func New() *Store {
	return &Store{
		rooms: make(map[string]*RoomLog),
		index: make(map[string]string),
	}
}

// NewID returns a lexically sortable, creation-ordered message id.
func NewID() string {
	return ulid.Make().String()
}

// Room returns the log for roomID, creating an empty unloaded one if needed.
func (s *Store) Room(roomID string) *RoomLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = &RoomLog{
			id:      roomID,
			store:   s,
			byID:    make(map[string]*record),
			threads: NewThreadIndex(),
		}
		s.rooms[roomID] = room
	}
	return room
}

// Locate returns the room a loaded message belongs to.
func (s *Store) Locate(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.index[messageID]
	return roomID, ok
}

func (s *Store) track(messageID, roomID string) {
	s.mu.Lock()
	s.index[messageID] = roomID
	s.mu.Unlock()
}

func (s *Store) untrack(messageID string) {
	s.mu.Lock()
	delete(s.index, messageID)
	s.mu.Unlock()
}

// RoomLog is the ordered message log of one room. Writers hold Lock for the
// whole command; readers use Snapshot and Thread, which take the read lock.
type RoomLog struct {
	sync.RWMutex

	id      string
	store   *Store
	loaded  bool
	order   []string
	byID    map[string]*record
	threads *ThreadIndex
}

func (r *RoomLog) ID() string { return r.id }

// Loaded reports whether the log was hydrated. Caller holds a lock.
func (r *RoomLog) Loaded() bool { return r.loaded }

// Load replaces the log contents with persisted state. Caller holds Lock.
func (r *RoomLog) Load(messages []common.Message, reactions map[string]common.Reactions) {
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })

	r.order = r.order[:0]
	r.byID = make(map[string]*record, len(messages))
	r.threads = NewThreadIndex()
	for _, m := range messages {
		rx := reactions[m.ID]
		if rx == nil {
			rx = common.Reactions{}
		}
		r.byID[m.ID] = &record{msg: m, reactions: rx}
		r.order = append(r.order, m.ID)
		r.store.track(m.ID, r.id)
	}
	for _, id := range r.order {
		m := r.byID[id].msg
		if m.ParentID == nil {
			continue
		}
		if _, ok := r.byID[*m.ParentID]; ok {
			r.threads.Add(*m.ParentID, m.ID)
		}
	}
	r.loaded = true
}

// Has reports whether id is a live message in this room. Caller holds a lock.
func (r *RoomLog) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Get returns a view of message id. Caller holds a lock.
func (r *RoomLog) Get(id string) (common.Message, bool) {
	rec, ok := r.byID[id]
	if !ok {
		return common.Message{}, false
	}
	return r.view(rec), true
}

// Reactions returns a copy of the aggregate of id. Caller holds a lock.
func (r *RoomLog) Reactions(id string) common.Reactions {
	rec, ok := r.byID[id]
	if !ok {
		return nil
	}
	return rec.reactions.Clone()
}

// Append adds a new message and links it into its parent's thread.
// Caller holds Lock.
func (r *RoomLog) Append(m common.Message) common.Message {
	rec := &record{msg: m, reactions: common.Reactions{}}
	r.byID[m.ID] = rec
	r.order = append(r.order, m.ID)
	if m.ParentID != nil {
		r.threads.Add(*m.ParentID, m.ID)
	}
	r.store.track(m.ID, r.id)
	return r.view(rec)
}

// Update stores the mutable fields of m. Caller holds Lock.
func (r *RoomLog) Update(m common.Message) (common.Message, bool) {
	rec, ok := r.byID[m.ID]
	if !ok {
		return common.Message{}, false
	}
	rec.msg.Body = m.Body
	rec.msg.Edited = m.Edited
	rec.msg.EditedAt = m.EditedAt
	rec.msg.Pinned = m.Pinned
	rec.msg.UpdatedAt = m.UpdatedAt
	rec.msg.Revision = m.Revision
	return r.view(rec), true
}

// SetReactions swaps the aggregate of id and bumps its revision.
// Caller holds Lock.
func (r *RoomLog) SetReactions(id string, rx common.Reactions, revision uint64, at time.Time) (common.Message, bool) {
	rec, ok := r.byID[id]
	if !ok {
		return common.Message{}, false
	}
	rec.reactions = rx
	rec.msg.Revision = revision
	rec.msg.UpdatedAt = at
	return r.view(rec), true
}

// Remove deletes id from the log. A reply is unlinked from its parent's
// thread. A removed parent loses its thread entry while its replies stay in
// the log as orphans. It returns the removed message and, for a reply of a
// live parent, the parent's updated thread summary. Caller holds Lock.
func (r *RoomLog) Remove(id string) (common.Message, *common.ThreadSummary, bool) {
	rec, ok := r.byID[id]
	if !ok {
		return common.Message{}, nil, false
	}
	removed := r.view(rec)
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.store.untrack(id)
	r.threads.Drop(id)

	var summary *common.ThreadSummary
	if rec.msg.ParentID != nil {
		parentID := *rec.msg.ParentID
		if r.threads.Remove(parentID, id) {
			s := r.threads.Summary(parentID)
			summary = &s
		}
	}
	return removed, summary, true
}

// ThreadSummary returns the reply state of parentID. Caller holds a lock.
func (r *RoomLog) ThreadSummary(parentID string) common.ThreadSummary {
	return r.threads.Summary(parentID)
}

// Snapshot returns a consistent copy of the room's messages in creation order.
func (r *RoomLog) Snapshot() []common.Message {
	r.RLock()
	defer r.RUnlock()

	out := make([]common.Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.view(r.byID[id]))
	}
	return out
}

// Thread returns the parent and its replies in order. ok is false when the
// parent is not in the log.
func (r *RoomLog) Thread(parentID string) (common.Message, []common.Message, bool) {
	r.RLock()
	defer r.RUnlock()

	rec, ok := r.byID[parentID]
	if !ok {
		return common.Message{}, nil, false
	}
	parent := r.view(rec)
	summary := r.threads.Summary(parentID)
	replies := make([]common.Message, 0, len(summary.Replies))
	for _, id := range summary.Replies {
		if rec, ok := r.byID[id]; ok {
			replies = append(replies, r.view(rec))
		}
	}
	return parent, replies, true
}

func (r *RoomLog) view(rec *record) common.Message {
	m := rec.msg.Clone()
	m.Reactions = rec.reactions.Groups()
	m.ReplyCount = r.threads.Count(rec.msg.ID)
	return m
}
