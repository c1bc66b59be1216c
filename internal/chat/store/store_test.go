package store

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filehub/internal/common"
)

func msg(room, id string, parent *string) common.Message {
	kind := common.KindPlain
	if parent != nil {
		kind = common.KindThreadReply
	}
	return common.Message{ID: id, RoomID: room, SenderID: "alice", Body: "body " + id, Kind: kind, ParentID: parent, CreatedAt: time.Now()}
}

func ptr(s string) *string { return &s }

func TestNewID_IsSortableByCreation(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		next := NewID()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestRoomLog_AppendAndThread(t *testing.T) {
	s := New()
	room := s.Room("folder:1")
	room.Lock()
	room.Append(msg("folder:1", "p", nil))
	room.Append(msg("folder:1", "r1", ptr("p")))
	room.Append(msg("folder:1", "r2", ptr("p")))
	room.Unlock()

	parent, replies, ok := room.Thread("p")
	require.True(t, ok)
	assert.Equal(t, 2, parent.ReplyCount)
	require.Len(t, replies, 2)
	assert.Equal(t, "r1", replies[0].ID)
	assert.Equal(t, "r2", replies[1].ID)

	roomID, ok := s.Locate("r2")
	assert.True(t, ok)
	assert.Equal(t, "folder:1", roomID)
}

func TestRoomLog_RemoveReplyDecrementsParent(t *testing.T) {
	s := New()
	room := s.Room("folder:1")
	room.Lock()
	defer room.Unlock()

	room.Append(msg("folder:1", "p", nil))
	room.Append(msg("folder:1", "r1", ptr("p")))

	_, summary, ok := room.Remove("r1")
	require.True(t, ok)
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.ReplyCount)

	parent, _ := room.Get("p")
	assert.Equal(t, 0, parent.ReplyCount)

	_, ok = s.Locate("r1")
	assert.False(t, ok)
}

func TestRoomLog_RemoveParentOrphansReplies(t *testing.T) {
	s := New()
	room := s.Room("folder:1")
	room.Lock()
	room.Append(msg("folder:1", "p", nil))
	room.Append(msg("folder:1", "r1", ptr("p")))
	_, summary, ok := room.Remove("p")
	room.Unlock()

	require.True(t, ok)
	assert.Nil(t, summary)

	_, _, ok = room.Thread("p")
	assert.False(t, ok)
	assert.Equal(t, common.ThreadSummary{ParentID: "p", ReplyCount: 0, Replies: []string{}}, room.ThreadSummary("p"))

	snap := room.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "r1", snap[0].ID)
	require.NotNil(t, snap[0].ParentID)
	assert.Equal(t, "p", *snap[0].ParentID)

	// Deleting the orphan afterwards has no thread to report.
	room.Lock()
	_, summary, ok = room.Remove("r1")
	room.Unlock()
	require.True(t, ok)
	assert.Nil(t, summary)
}

func TestRoomLog_LoadSkipsThreadsOfMissingParents(t *testing.T) {
	s := New()
	room := s.Room("folder:1")
	room.Lock()
	room.Load([]common.Message{
		msg("folder:1", "01B", ptr("01A")),
		msg("folder:1", "01C", nil),
		msg("folder:1", "01D", ptr("01C")),
	}, nil)
	room.Unlock()

	assert.Equal(t, 0, room.ThreadSummary("01A").ReplyCount)
	assert.Equal(t, 1, room.ThreadSummary("01C").ReplyCount)
	_, _, ok := room.Thread("01A")
	assert.False(t, ok)
}

func TestRoomLog_SnapshotIsACopy(t *testing.T) {
	s := New()
	room := s.Room("folder:1")
	room.Lock()
	room.Append(msg("folder:1", "m1", nil))
	rx := common.Reactions{}
	rx.Toggle("👍", "bob")
	room.SetReactions("m1", rx, 1, time.Now())
	room.Unlock()

	snap := room.Snapshot()
	snap[0].Body = "mutated"
	snap[0].Reactions[0].Users[0] = "mallory"

	again := room.Snapshot()
	assert.Equal(t, "body m1", again[0].Body)
	assert.Equal(t, []string{"bob"}, again[0].Reactions[0].Users)
}

func TestRoomLog_LoadOrdersAndIndexes(t *testing.T) {
	s := New()
	room := s.Room("folder:1")
	room.Lock()
	rx := map[string]common.Reactions{"01B": {"👍": {"bob": {}}}}
	room.Load([]common.Message{
		msg("folder:1", "01C", ptr("01A")),
		msg("folder:1", "01A", nil),
		msg("folder:1", "01B", nil),
	}, rx)
	assert.True(t, room.Loaded())
	room.Unlock()

	snap := room.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"01A", "01B", "01C"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.Equal(t, 1, snap[0].ReplyCount)
	assert.Equal(t, 1, snap[1].Reactions[0].Count)
}

// Any sequence of sends and deletes keeps every live parent's count equal to
// the number of live replies pointing at it.
func TestThreadIndex_ConsistentUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := New()
	room := s.Room("folder:1")
	room.Lock()
	defer room.Unlock()

	var live []string
	for i := 0; i < 500; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(live))
			_, _, ok := room.Remove(live[idx])
			require.True(t, ok)
			live = append(live[:idx], live[idx+1:]...)
			continue
		}
		id := NewID()
		var parent *string
		if len(live) > 0 && rng.Intn(2) == 0 {
			parent = ptr(live[rng.Intn(len(live))])
		}
		room.Append(msg("folder:1", id, parent))
		live = append(live, id)
	}

	alive := map[string]bool{}
	for _, id := range live {
		alive[id] = true
	}
	expected := map[string]int{}
	for _, id := range live {
		m, ok := room.Get(id)
		require.True(t, ok)
		if m.ParentID != nil && alive[*m.ParentID] {
			expected[*m.ParentID]++
		}
	}
	for parentID, n := range expected {
		summary := room.ThreadSummary(parentID)
		assert.Equal(t, n, summary.ReplyCount)
		assert.Len(t, summary.Replies, summary.ReplyCount)
	}
	for _, id := range live {
		summary := room.ThreadSummary(id)
		assert.Equal(t, expected[id], summary.ReplyCount)
	}
}

func TestThreadIndex_AddIsDeduplicated(t *testing.T) {
	ti := NewThreadIndex()
	ti.Add("p", "r1")
	ti.Add("p", "r1")
	assert.Equal(t, 1, ti.Count("p"))
	assert.False(t, ti.Remove("p", "missing"))
	assert.True(t, ti.Remove("p", "r1"))
	assert.Equal(t, 0, ti.Count("p"))
}
