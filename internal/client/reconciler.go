package client

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"filehub/internal/common"
	"filehub/internal/realtime"
)

// Reconciler merges server events for one room into local message state
// without losing optimistic entries that are still in flight.
//
// Every server mutation carries a (revision, updated-at) stamp. Each field
// group of a message (body, pin flag, reactions) remembers the stamp it was
// last written at and only accepts newer writes, so the final state does not
// depend on delivery order. message-updated touches the body group only,
// message-pinned the pin group and reaction events the reactions. A deleted id
// is tombstoned and ignores everything after.
type Reconciler struct {
	mu         sync.RWMutex
	room       string
	messages   map[string]common.Message
	stamps     map[string]*fieldStamps
	pending    map[string]common.Message // tempID -> optimistic message
	pendingSeq []string
	tombstones map[string]struct{}
	logger     *slog.Logger
}

func NewReconciler(room string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		room:       room,
		messages:   make(map[string]common.Message),
		stamps:     make(map[string]*fieldStamps),
		pending:    make(map[string]common.Message),
		tombstones: make(map[string]struct{}),
		logger:     logger,
	}
}

func (r *Reconciler) Room() string { return r.room }

// Load replaces server state with a snapshot. Pending entries and tombstones survive.
func (r *Reconciler) Load(snapshot []common.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = make(map[string]common.Message, len(snapshot))
	r.stamps = make(map[string]*fieldStamps, len(snapshot))
	for _, m := range snapshot {
		if _, dead := r.tombstones[m.ID]; dead {
			continue
		}
		r.insert(m)
	}
}

// AddPending shows an optimistic message under its temp id until the server echoes it.
func (r *Reconciler) AddPending(tempID string, m common.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m.ID = tempID
	if _, ok := r.pending[tempID]; !ok {
		r.pendingSeq = append(r.pendingSeq, tempID)
	}
	r.pending[tempID] = m
}

// DropPending discards an optimistic message whose command failed.
func (r *Reconciler) DropPending(tempID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropPendingLocked(tempID)
}

func (r *Reconciler) dropPendingLocked(tempID string) bool {
	if _, ok := r.pending[tempID]; !ok {
		return false
	}
	delete(r.pending, tempID)
	for i, id := range r.pendingSeq {
		if id == tempID {
			r.pendingSeq = append(r.pendingSeq[:i:i], r.pendingSeq[i+1:]...)
			break
		}
	}
	return true
}

// ApplyFrame decodes and applies an event frame. Frames that do not decode
// are logged and ignored.
func (r *Reconciler) ApplyFrame(f realtime.Frame) bool {
	ev, err := realtime.DecodeEvent(f)
	if err != nil {
		r.logger.Warn("ignoring malformed event", "room", r.room, "type", f.Type, "error", err)
		return false
	}
	return r.Apply(ev)
}

// Apply merges one event and reports whether local state changed.
func (r *Reconciler) Apply(ev realtime.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case realtime.NewMessage:
		return r.applyNewMessage(e)
	case realtime.MessageUpdated:
		return r.applyEdit(e.Message)
	case realtime.MessageDeleted:
		return r.applyDeleted(e)
	case realtime.ReactionAdded:
		return r.applyReactions(e.ReactionChange)
	case realtime.ReactionRemoved:
		return r.applyReactions(e.ReactionChange)
	case realtime.MessagePinned:
		return r.applyPinned(e)
	case realtime.Notification:
		return false
	default:
		r.logger.Warn("ignoring unknown event", "room", r.room, "type", ev)
		return false
	}
}

func (r *Reconciler) applyNewMessage(e realtime.NewMessage) bool {
	if e.ID == "" {
		r.logger.Warn("ignoring new-message without id", "room", r.room)
		return false
	}
	changed := false
	if e.TempID != "" {
		changed = r.dropPendingLocked(e.TempID)
	}
	if r.applyRecord(e.Message) {
		changed = true
	}
	if e.Thread != nil && r.applyThread(*e.Thread) {
		changed = true
	}
	return changed
}

// applyRecord inserts m, or merges every field group of m that is newer than
// the local copy.
func (r *Reconciler) applyRecord(m common.Message) bool {
	if m.ID == "" {
		return false
	}
	if _, dead := r.tombstones[m.ID]; dead {
		return false
	}
	local, ok := r.messages[m.ID]
	if !ok {
		r.insert(m)
		return true
	}
	st := stampOf(m.Revision, m.UpdatedAt)
	fs := r.stamps[m.ID]
	changed := false
	if fs.body.before(st) {
		setBody(&local, m)
		fs.body = st
		changed = true
	}
	if fs.pin.before(st) {
		local.Pinned = m.Pinned
		fs.pin = st
		changed = true
	}
	if fs.reactions.before(st) {
		local.Reactions = cloneGroups(m.Reactions)
		fs.reactions = st
		changed = true
	}
	if changed {
		r.store(local, st)
	}
	return changed
}

// applyEdit merges the body of an edited message. Reactions and the pin flag
// in the record are ignored.
func (r *Reconciler) applyEdit(m common.Message) bool {
	if m.ID == "" {
		return false
	}
	if _, dead := r.tombstones[m.ID]; dead {
		return false
	}
	local, ok := r.messages[m.ID]
	if !ok {
		r.insert(m)
		return true
	}
	st := stampOf(m.Revision, m.UpdatedAt)
	fs := r.stamps[m.ID]
	if !fs.body.before(st) {
		return false
	}
	setBody(&local, m)
	fs.body = st
	r.store(local, st)
	return true
}

func (r *Reconciler) applyDeleted(e realtime.MessageDeleted) bool {
	if e.MessageID == "" {
		return false
	}
	_, existed := r.messages[e.MessageID]
	delete(r.messages, e.MessageID)
	delete(r.stamps, e.MessageID)
	r.tombstones[e.MessageID] = struct{}{}
	if e.Thread != nil {
		r.applyThread(*e.Thread)
	}
	return existed
}

func (r *Reconciler) applyReactions(c realtime.ReactionChange) bool {
	local, ok := r.messages[c.MessageID]
	if !ok {
		return false
	}
	st := stampOf(c.Revision, c.UpdatedAt)
	fs := r.stamps[c.MessageID]
	if !fs.reactions.before(st) {
		return false
	}
	local.Reactions = cloneGroups(c.Reactions)
	fs.reactions = st
	r.store(local, st)
	return true
}

func (r *Reconciler) applyPinned(e realtime.MessagePinned) bool {
	local, ok := r.messages[e.MessageID]
	if !ok {
		return false
	}
	st := stampOf(e.Revision, e.UpdatedAt)
	fs := r.stamps[e.MessageID]
	if !fs.pin.before(st) {
		return false
	}
	local.Pinned = e.Pinned
	fs.pin = st
	r.store(local, st)
	return true
}

// insert stores m as a whole; all of its field groups take m's stamp.
func (r *Reconciler) insert(m common.Message) {
	st := stampOf(m.Revision, m.UpdatedAt)
	r.messages[m.ID] = m.Clone()
	r.stamps[m.ID] = &fieldStamps{body: st, pin: st, reactions: st}
}

// store saves local, advancing its revision and updated-at to st's.
func (r *Reconciler) store(local common.Message, st stamp) {
	if st.rev > local.Revision {
		local.Revision = st.rev
	}
	if st.at.After(local.UpdatedAt) {
		local.UpdatedAt = st.at
	}
	r.messages[local.ID] = local
}

func (r *Reconciler) applyThread(s common.ThreadSummary) bool {
	parent, ok := r.messages[s.ParentID]
	if !ok || parent.ReplyCount == s.ReplyCount {
		return false
	}
	parent.ReplyCount = s.ReplyCount
	r.messages[s.ParentID] = parent
	return true
}

// Messages returns confirmed messages in creation order followed by pending ones.
func (r *Reconciler) Messages() []common.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Message, 0, len(r.messages)+len(r.pending))
	for _, m := range r.messages {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for _, id := range r.pendingSeq {
		out = append(out, r.pending[id].Clone())
	}
	return out
}

func (r *Reconciler) Get(id string) (common.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.messages[id]; ok {
		return m.Clone(), true
	}
	if m, ok := r.pending[id]; ok {
		return m.Clone(), true
	}
	return common.Message{}, false
}

// IsPending reports whether tempID is still awaiting its echo.
func (r *Reconciler) IsPending(tempID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pending[tempID]
	return ok
}

func (r *Reconciler) Deleted(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tombstones[id]
	return ok
}

type stamp struct {
	rev uint64
	at  time.Time
}

func stampOf(rev uint64, at time.Time) stamp { return stamp{rev: rev, at: at} }

// before orders by revision, then by updated-at.
func (s stamp) before(o stamp) bool {
	if s.rev != o.rev {
		return s.rev < o.rev
	}
	return s.at.Before(o.at)
}

type fieldStamps struct {
	body      stamp
	pin       stamp
	reactions stamp
}

func setBody(dst *common.Message, src common.Message) {
	dst.Body = src.Body
	dst.Edited = src.Edited
	dst.EditedAt = nil
	if src.EditedAt != nil {
		at := *src.EditedAt
		dst.EditedAt = &at
	}
}

func cloneGroups(groups []common.ReactionGroup) []common.ReactionGroup {
	out := make([]common.ReactionGroup, len(groups))
	for i, g := range groups {
		out[i] = common.ReactionGroup{Emoji: g.Emoji, Count: g.Count, Users: append([]string(nil), g.Users...)}
	}
	return out
}
