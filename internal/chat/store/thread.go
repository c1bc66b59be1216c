package store

import "filehub/internal/common"

// ThreadIndex maps a parent message id to its ordered reply ids. The reply
// count is the length of that list, so the two cannot diverge.
type ThreadIndex struct {
	replies map[string][]string
}

func NewThreadIndex() *ThreadIndex {
	return &ThreadIndex{replies: make(map[string][]string)}
}

// Add appends replyID under parentID unless it is already listed.
func (t *ThreadIndex) Add(parentID, replyID string) {
	for _, id := range t.replies[parentID] {
		if id == replyID {
			return
		}
	}
	t.replies[parentID] = append(t.replies[parentID], replyID)
}

// Remove drops replyID from parentID's thread and reports whether it was there.
func (t *ThreadIndex) Remove(parentID, replyID string) bool {
	list := t.replies[parentID]
	for i, id := range list {
		if id != replyID {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(t.replies, parentID)
		} else {
			t.replies[parentID] = list
		}
		return true
	}
	return false
}

// Drop forgets parentID's thread. The replies themselves are untouched.
func (t *ThreadIndex) Drop(parentID string) {
	delete(t.replies, parentID)
}

func (t *ThreadIndex) Count(parentID string) int {
	return len(t.replies[parentID])
}

func (t *ThreadIndex) Summary(parentID string) common.ThreadSummary {
	return common.ThreadSummary{
		ParentID:   parentID,
		ReplyCount: len(t.replies[parentID]),
		Replies:    append([]string{}, t.replies[parentID]...),
	}
}
