package common

import (
	"sort"
	"time"
)

type MessageKind string

const (
	KindPlain       MessageKind = "plain"
	KindSystem      MessageKind = "system"
	KindThreadReply MessageKind = "thread-reply"
)

type RoomRole string

const (
	RoleMember  RoomRole = "member"
	RoleAdmin   RoomRole = "admin"
	RoleCreator RoomRole = "creator"
)

// CanModerate reports whether the role may pin messages in a room.
func (r RoomRole) CanModerate() bool {
	return r == RoleAdmin || r == RoleCreator
}

// Attachment is a reference to a file held by the file service.
type Attachment struct {
	FileID   string        `json:"file_id"`
	FileName string        `json:"file_name,omitempty"`
	FileType MediaFileType `json:"file_type,omitempty"`
	Size     int64         `json:"size,omitempty"`
}

// ReactionGroup is the display form of one emoji on a message.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Reactions maps emoji to the set of user ids that applied it.
type Reactions map[string]map[string]struct{}

// Toggle adds userID under emoji, or removes it when already present.
// It reports whether the user ended up present.
func (r Reactions) Toggle(emoji, userID string) bool {
	users, ok := r[emoji]
	if ok {
		if _, present := users[userID]; present {
			delete(users, userID)
			if len(users) == 0 {
				delete(r, emoji)
			}
			return false
		}
	} else {
		users = make(map[string]struct{})
		r[emoji] = users
	}
	users[userID] = struct{}{}
	return true
}

func (r Reactions) Has(emoji, userID string) bool {
	_, ok := r[emoji][userID]
	return ok
}

func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, users := range r {
		cp := make(map[string]struct{}, len(users))
		for u := range users {
			cp[u] = struct{}{}
		}
		out[emoji] = cp
	}
	return out
}

// Groups renders the aggregate sorted by emoji, users sorted by id.
func (r Reactions) Groups() []ReactionGroup {
	groups := make([]ReactionGroup, 0, len(r))
	for emoji, users := range r {
		ids := make([]string, 0, len(users))
		for u := range users {
			ids = append(ids, u)
		}
		sort.Strings(ids)
		groups = append(groups, ReactionGroup{Emoji: emoji, Count: len(ids), Users: ids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Emoji < groups[j].Emoji })
	return groups
}

// Message is the record carried by message events and snapshots.
type Message struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"room_id"`
	SenderID   string          `json:"sender_id"`
	Body       string          `json:"body"`
	Kind       MessageKind     `json:"kind"`
	Attachment *Attachment     `json:"attachment,omitempty"`
	ParentID   *string         `json:"parent_id,omitempty"`
	Edited     bool            `json:"edited"`
	EditedAt   *time.Time      `json:"edited_at,omitempty"`
	Pinned     bool            `json:"pinned"`
	Reactions  []ReactionGroup `json:"reactions"`
	ReplyCount int             `json:"reply_count"`
	Revision   uint64          `json:"revision"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.Attachment != nil {
		a := *m.Attachment
		out.Attachment = &a
	}
	if m.ParentID != nil {
		p := *m.ParentID
		out.ParentID = &p
	}
	if m.EditedAt != nil {
		e := *m.EditedAt
		out.EditedAt = &e
	}
	out.Reactions = make([]ReactionGroup, len(m.Reactions))
	for i, g := range m.Reactions {
		out.Reactions[i] = ReactionGroup{Emoji: g.Emoji, Count: g.Count, Users: append([]string(nil), g.Users...)}
	}
	return out
}

// ThreadSummary is the reply state of a parent message.
type ThreadSummary struct {
	ParentID   string   `json:"parent_id"`
	ReplyCount int      `json:"reply_count"`
	Replies    []string `json:"replies,omitempty"`
}

type NotificationType string

const (
	FileSharedType         NotificationType = "file-shared-with-you"
	SharedFileAccessedType NotificationType = "shared-file-accessed"
	GroupInvitationType    NotificationType = "study-group-invitation"
)

type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
)

type NotificationMetadata map[string]interface{}

// NotificationEvent is a cross-feature alert addressed to one user.
type NotificationEvent struct {
	ID            string
	Type          NotificationType
	UserID        string
	TriggerUserID *string
	Header        string
	Content       string
	Metadata      NotificationMetadata
	CreatedAt     time.Time
}
