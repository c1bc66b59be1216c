package client

import (
	"sync"
	"time"

	"filehub/internal/common"
	"filehub/internal/realtime"
)

// FeedCapacity is how many entries the notification feed keeps.
const FeedCapacity = 10

type EntrySource string

const (
	SourceMessage        EntrySource = "message"
	SourceReaction       EntrySource = "reaction"
	SourceFileShare      EntrySource = "file-share"
	SourceGroupInvite    EntrySource = "group-invite"
	SourceAccessActivity EntrySource = "access-activity"
)

type FeedEntry struct {
	ID         string                      `json:"id"`
	Source     EntrySource                 `json:"source"`
	Title      string                      `json:"title"`
	Body       string                      `json:"body"`
	Metadata   common.NotificationMetadata `json:"metadata,omitempty"`
	ReceivedAt time.Time                   `json:"received_at"`
}

// EntryFromNotification converts a user-room notification into a feed entry.
func EntryFromNotification(n realtime.Notification, receivedAt time.Time) FeedEntry {
	source := SourceMessage
	switch n.Type {
	case common.FileSharedType:
		source = SourceFileShare
	case common.SharedFileAccessedType:
		source = SourceAccessActivity
	case common.GroupInvitationType:
		source = SourceGroupInvite
	}
	return FeedEntry{
		ID:         n.ID,
		Source:     source,
		Title:      n.Header,
		Body:       n.Content,
		Metadata:   n.Metadata,
		ReceivedAt: receivedAt,
	}
}

// Feed is a bounded most-recent-first buffer. Entries are not deduplicated,
// so a notification delivered twice shows twice.
type Feed struct {
	mu       sync.RWMutex
	entries  []FeedEntry
	capacity int
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = FeedCapacity
	}
	return &Feed{capacity: capacity, entries: make([]FeedEntry, 0, capacity)}
}

// Append puts e at the front, evicting the oldest entry beyond capacity.
func (f *Feed) Append(e FeedEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.entries) < f.capacity {
		f.entries = append(f.entries, FeedEntry{})
	}
	copy(f.entries[1:], f.entries)
	f.entries[0] = e
}

// Entries returns a copy, newest first.
func (f *Feed) Entries() []FeedEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]FeedEntry(nil), f.entries...)
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

func (f *Feed) Clear() {
	f.mu.Lock()
	f.entries = f.entries[:0]
	f.mu.Unlock()
}
