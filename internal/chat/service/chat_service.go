package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"filehub/internal/chat/repository"
	"filehub/internal/chat/store"
	"filehub/internal/common"
	"filehub/internal/realtime"
)

// AttachmentResolver turns an attachment id into file metadata.
type AttachmentResolver interface {
	Resolve(ctx context.Context, fileID string) (*common.Attachment, error)
}

// RefOnly accepts any non-empty attachment id without looking it up. It is
// used when no file store is configured.
type RefOnly struct{}

func (RefOnly) Resolve(_ context.Context, fileID string) (*common.Attachment, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, fmt.Errorf("attachment id is empty: %w", common.ErrInvalidInput)
	}
	return &common.Attachment{FileID: fileID, FileType: common.MediaFileTypeDocument}, nil
}

type SendInput struct {
	RoomID       string
	SenderID     string
	Body         string
	ParentID     *string
	AttachmentID *string
	TempID       string
}

// ChatService applies message commands to the room logs and publishes the
// resulting events. Every command holds the room lock from validation until
// the event is published, so a room's events leave in mutation order.
type ChatService struct {
	repo        repository.ChatRepository
	store       *store.Store
	access      common.RoomAccess
	attachments AttachmentResolver
	publisher   realtime.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

func NewChatService(
	repo repository.ChatRepository,
	st *store.Store,
	access common.RoomAccess,
	attachments AttachmentResolver,
	publisher realtime.Publisher,
	logger *slog.Logger,
) *ChatService {
	if attachments == nil {
		attachments = RefOnly{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		repo:        repo,
		store:       st,
		access:      access,
		attachments: attachments,
		publisher:   publisher,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Authorize checks that userID may join roomID.
func (s *ChatService) Authorize(ctx context.Context, userID, roomID string) error {
	if userID == "" {
		return common.ErrUnauthorized
	}
	if err := common.ValidateRoomID(roomID); err != nil {
		return err
	}
	ok, err := s.access.CanJoin(ctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", roomID, err)
	}
	if !ok {
		return fmt.Errorf("user %s is not a member of %s: %w", userID, roomID, common.ErrUnauthorized)
	}
	return nil
}

func (s *ChatService) Send(ctx context.Context, in SendInput) (common.Message, error) {
	if err := common.ValidateBody(in.Body); err != nil {
		return common.Message{}, err
	}
	if err := s.Authorize(ctx, in.SenderID, in.RoomID); err != nil {
		return common.Message{}, err
	}

	var attachment *common.Attachment
	if in.AttachmentID != nil {
		a, err := s.attachments.Resolve(ctx, *in.AttachmentID)
		if err != nil {
			return common.Message{}, fmt.Errorf("resolve attachment: %w", err)
		}
		attachment = a
	}

	room := s.store.Room(in.RoomID)
	room.Lock()
	defer room.Unlock()

	if err := s.hydrate(ctx, room); err != nil {
		return common.Message{}, err
	}

	kind := common.KindPlain
	if in.ParentID != nil {
		if !room.Has(*in.ParentID) {
			return common.Message{}, fmt.Errorf("parent %s in %s: %w", *in.ParentID, in.RoomID, common.ErrNotFound)
		}
		kind = common.KindThreadReply
	}

	now := s.now()
	msg := common.Message{
		ID:         store.NewID(),
		RoomID:     in.RoomID,
		SenderID:   in.SenderID,
		Body:       in.Body,
		Kind:       kind,
		Attachment: attachment,
		ParentID:   in.ParentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		return common.Message{}, transient("save message", err)
	}

	stored := room.Append(msg)
	ev := realtime.NewMessage{Message: stored, TempID: in.TempID}
	if in.ParentID != nil {
		summary := room.ThreadSummary(*in.ParentID)
		ev.Thread = &summary
	}
	s.publish(in.RoomID, ev)
	return stored, nil
}

func (s *ChatService) Edit(ctx context.Context, messageID, editorID, body string) (common.Message, error) {
	if err := common.ValidateBody(body); err != nil {
		return common.Message{}, err
	}
	room, err := s.lockRoomOf(ctx, messageID)
	if err != nil {
		return common.Message{}, err
	}
	defer room.Unlock()

	if err := s.Authorize(ctx, editorID, room.ID()); err != nil {
		return common.Message{}, err
	}
	msg, ok := room.Get(messageID)
	if !ok {
		return common.Message{}, fmt.Errorf("message %s: %w", messageID, common.ErrNotFound)
	}
	if msg.SenderID != editorID {
		return common.Message{}, fmt.Errorf("only the sender may edit %s: %w", messageID, common.ErrForbidden)
	}

	now := nextStamp(s.now(), msg.UpdatedAt)
	msg.Body = body
	msg.Edited = true
	msg.EditedAt = &now
	msg.UpdatedAt = now
	msg.Revision++
	if err := s.repo.UpdateMessage(ctx, msg); err != nil {
		return common.Message{}, transient("update message", err)
	}

	updated, _ := room.Update(msg)
	s.publish(room.ID(), realtime.MessageUpdated{Message: updated})
	return updated, nil
}

func (s *ChatService) Delete(ctx context.Context, messageID, requesterID string) error {
	room, err := s.lockRoomOf(ctx, messageID)
	if err != nil {
		return err
	}
	defer room.Unlock()

	if err := s.Authorize(ctx, requesterID, room.ID()); err != nil {
		return err
	}
	msg, ok := room.Get(messageID)
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, common.ErrNotFound)
	}
	if msg.SenderID != requesterID {
		return fmt.Errorf("only the sender may delete %s: %w", messageID, common.ErrForbidden)
	}

	if err := s.repo.DeleteMessage(ctx, messageID); err != nil {
		return transient("delete message", err)
	}

	_, summary, _ := room.Remove(messageID)
	s.publish(room.ID(), realtime.MessageDeleted{MessageID: messageID, Thread: summary})
	return nil
}

// ToggleReaction adds userID under emoji, or removes it if already there.
// It reports whether the reaction is present afterwards.
func (s *ChatService) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if err := common.ValidateEmoji(emoji); err != nil {
		return false, err
	}
	room, err := s.lockRoomOf(ctx, messageID)
	if err != nil {
		return false, err
	}
	defer room.Unlock()

	if err := s.Authorize(ctx, userID, room.ID()); err != nil {
		return false, err
	}
	msg, ok := room.Get(messageID)
	if !ok {
		return false, fmt.Errorf("message %s: %w", messageID, common.ErrNotFound)
	}

	rx := room.Reactions(messageID)
	added := rx.Toggle(emoji, userID)
	revision := msg.Revision + 1
	now := nextStamp(s.now(), msg.UpdatedAt)

	if added {
		err = s.repo.AddReaction(ctx, messageID, userID, emoji, revision, now)
	} else {
		err = s.repo.RemoveReaction(ctx, messageID, userID, emoji, revision, now)
	}
	if err != nil {
		return false, transient("toggle reaction", err)
	}

	updated, _ := room.SetReactions(messageID, rx, revision, now)
	change := realtime.ReactionChange{
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    userID,
		Reactions: updated.Reactions,
		Revision:  revision,
		UpdatedAt: updated.UpdatedAt,
	}
	if added {
		s.publish(room.ID(), realtime.ReactionAdded{ReactionChange: change})
	} else {
		s.publish(room.ID(), realtime.ReactionRemoved{ReactionChange: change})
	}
	return added, nil
}

// TogglePin flips the pinned flag. Only room admins and creators may pin.
func (s *ChatService) TogglePin(ctx context.Context, messageID, requesterID string) (common.Message, error) {
	room, err := s.lockRoomOf(ctx, messageID)
	if err != nil {
		return common.Message{}, err
	}
	defer room.Unlock()

	if err := s.Authorize(ctx, requesterID, room.ID()); err != nil {
		return common.Message{}, err
	}
	role, err := s.access.Role(ctx, requesterID, room.ID())
	if err != nil {
		return common.Message{}, fmt.Errorf("pin %s: %w", messageID, err)
	}
	if !role.CanModerate() {
		return common.Message{}, fmt.Errorf("role %s may not pin: %w", role, common.ErrForbidden)
	}

	msg, ok := room.Get(messageID)
	if !ok {
		return common.Message{}, fmt.Errorf("message %s: %w", messageID, common.ErrNotFound)
	}
	msg.Pinned = !msg.Pinned
	msg.UpdatedAt = nextStamp(s.now(), msg.UpdatedAt)
	msg.Revision++
	if err := s.repo.UpdateMessage(ctx, msg); err != nil {
		return common.Message{}, transient("pin message", err)
	}

	updated, _ := room.Update(msg)
	s.publish(room.ID(), realtime.MessagePinned{
		MessageID: messageID,
		Pinned:    updated.Pinned,
		UpdatedAt: updated.UpdatedAt,
		Revision:  updated.Revision,
	})
	return updated, nil
}

// Snapshot returns the room's messages in creation order.
func (s *ChatService) Snapshot(ctx context.Context, userID, roomID string) ([]common.Message, error) {
	if err := s.Authorize(ctx, userID, roomID); err != nil {
		return nil, err
	}
	room := s.store.Room(roomID)
	if err := s.ensureLoaded(ctx, room); err != nil {
		return nil, err
	}
	return room.Snapshot(), nil
}

// Thread returns a parent message and its replies. A deleted parent has no
// thread: the lookup fails with ErrNotFound even if orphaned replies remain.
func (s *ChatService) Thread(ctx context.Context, userID, parentID string) (*common.Message, []common.Message, error) {
	roomID, err := s.locate(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Authorize(ctx, userID, roomID); err != nil {
		return nil, nil, err
	}
	room := s.store.Room(roomID)
	if err := s.ensureLoaded(ctx, room); err != nil {
		return nil, nil, err
	}
	parent, replies, ok := room.Thread(parentID)
	if !ok {
		return nil, nil, fmt.Errorf("thread %s: %w", parentID, common.ErrNotFound)
	}
	return &parent, replies, nil
}

func (s *ChatService) locate(ctx context.Context, messageID string) (string, error) {
	if messageID == "" {
		return "", fmt.Errorf("message id is empty: %w", common.ErrInvalidInput)
	}
	if roomID, ok := s.store.Locate(messageID); ok {
		return roomID, nil
	}
	roomID, err := s.repo.RoomOf(ctx, messageID)
	if err != nil {
		return "", transient("locate message", err)
	}
	return roomID, nil
}

// lockRoomOf finds, locks and hydrates the room holding messageID. On
// success the caller must Unlock the returned room.
func (s *ChatService) lockRoomOf(ctx context.Context, messageID string) (*store.RoomLog, error) {
	roomID, err := s.locate(ctx, messageID)
	if err != nil {
		return nil, err
	}
	room := s.store.Room(roomID)
	room.Lock()
	if err := s.hydrate(ctx, room); err != nil {
		room.Unlock()
		return nil, err
	}
	return room, nil
}

func (s *ChatService) ensureLoaded(ctx context.Context, room *store.RoomLog) error {
	room.RLock()
	loaded := room.Loaded()
	room.RUnlock()
	if loaded {
		return nil
	}
	room.Lock()
	defer room.Unlock()
	return s.hydrate(ctx, room)
}

// hydrate loads persisted state into room on first use. Caller holds Lock.
func (s *ChatService) hydrate(ctx context.Context, room *store.RoomLog) error {
	if room.Loaded() {
		return nil
	}
	messages, reactions, err := s.repo.LoadRoom(ctx, room.ID())
	if err != nil {
		return transient("load room", err)
	}
	room.Load(messages, reactions)
	s.logger.Debug("hydrated room", "room", room.ID(), "messages", len(messages))
	return nil
}

func (s *ChatService) publish(roomID string, ev realtime.Event) {
	if err := s.publisher.Publish(roomID, ev); err != nil {
		s.logger.Error("publish failed", "room", roomID, "event", ev.Name(), "error", err)
	}
}

// transient marks a repository failure as retryable unless the repository
// already classified it.
func transient(op string, err error) error {
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrTransient) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, common.ErrTransient, err)
}

// nextStamp keeps a message's updated-at strictly increasing.
func nextStamp(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Millisecond)
}
