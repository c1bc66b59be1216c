// Package client is the client side of the sync layer: a connection that
// routes server frames to per-room reconcilers and to the notification feed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"filehub/internal/common"
	"filehub/internal/realtime"
)

var ErrClosed = errors.New("connection closed")

type Options struct {
	// UserID is the authenticated user. When set, Dial joins the user's
	// notification room, and activity by other users in joined rooms is
	// added to the feed.
	UserID string
	// APIBase is the HTTP base for snapshot reads. Derived from the
	// WebSocket endpoint when empty.
	APIBase    string
	Feed       *Feed
	HTTPClient *http.Client
	Logger     *slog.Logger
	// OnEvent runs after an event has been applied, on the read goroutine.
	OnEvent func(room string, ev realtime.Event)
}

type joinedRoom struct {
	rec  *Reconciler
	refs int
}

// Conn is one authenticated session with the sync server.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	token   string
	opts    Options
	logger  *slog.Logger

	seq     atomic.Uint64
	mu      sync.Mutex
	waiting map[string]chan realtime.Frame
	rooms   map[string]*joinedRoom
	joinMu  sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens a WebSocket session authenticated with token and starts reading.
func Dial(ctx context.Context, endpoint, token string, opts Options) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Feed == nil {
		opts.Feed = NewFeed(FeedCapacity)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.APIBase == "" {
		base, err := apiBase(endpoint)
		if err != nil {
			return nil, err
		}
		opts.APIBase = base
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", endpoint, common.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &Conn{
		ws:      ws,
		token:   token,
		opts:    opts,
		logger:  opts.Logger,
		waiting: make(map[string]chan realtime.Frame),
		rooms:   make(map[string]*joinedRoom),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	if opts.UserID != "" {
		if _, err := c.Join(ctx, realtime.UserRoom(opts.UserID), nil); err != nil {
			c.Close()
			return nil, fmt.Errorf("join notification room: %w", err)
		}
	}
	return c, nil
}

func apiBase(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

func (c *Conn) Feed() *Feed { return c.opts.Feed }

// Done is closed once the read loop has stopped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection stopped, if it has.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	c.shutdown(ErrClosed)
	return err
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Conn) readLoop() {
	defer c.ws.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection lost", "error", err)
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("ignoring malformed frame", "error", err)
			continue
		}
		c.route(f)
	}
}

func (c *Conn) route(f realtime.Frame) {
	switch f.Type {
	case realtime.FrameAck, realtime.FrameTypeError:
		if f.Ref == "" {
			c.logger.Warn("server error", "error", f.Error)
			return
		}
		c.mu.Lock()
		ch, ok := c.waiting[f.Ref]
		delete(c.waiting, f.Ref)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
		return
	}

	ev, err := realtime.DecodeEvent(f)
	if err != nil {
		c.logger.Warn("ignoring malformed event", "type", f.Type, "room", f.Room, "error", err)
		return
	}
	if n, ok := ev.(realtime.Notification); ok {
		c.opts.Feed.Append(EntryFromNotification(n, time.Now()))
	} else {
		c.mu.Lock()
		room := c.rooms[f.Room]
		c.mu.Unlock()
		if room == nil {
			return
		}
		c.recordActivity(f.Room, room.rec, ev)
		room.rec.Apply(ev)
	}
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(f.Room, ev)
	}
}

// recordActivity adds feed entries for other users' messages and for
// reactions on our own messages.
func (c *Conn) recordActivity(room string, rec *Reconciler, ev realtime.Event) {
	if c.opts.UserID == "" {
		return
	}
	now := time.Now()
	switch e := ev.(type) {
	case realtime.NewMessage:
		if e.SenderID == c.opts.UserID {
			return
		}
		c.opts.Feed.Append(FeedEntry{
			ID:         e.ID,
			Source:     SourceMessage,
			Title:      "New message in " + room,
			Body:       e.Body,
			Metadata:   common.NotificationMetadata{"room_id": room, "sender_id": e.SenderID},
			ReceivedAt: now,
		})
	case realtime.ReactionAdded:
		if e.UserID == c.opts.UserID {
			return
		}
		m, ok := rec.Get(e.MessageID)
		if !ok || m.SenderID != c.opts.UserID {
			return
		}
		c.opts.Feed.Append(FeedEntry{
			ID:         e.MessageID + ":" + strconv.FormatUint(e.Revision, 10),
			Source:     SourceReaction,
			Title:      e.UserID + " reacted " + e.Emoji,
			Body:       m.Body,
			Metadata:   common.NotificationMetadata{"room_id": room, "message_id": e.MessageID},
			ReceivedAt: now,
		})
	}
}

// call sends a command and waits for its ack or error frame.
func (c *Conn) call(ctx context.Context, typ, room string, payload interface{}) (json.RawMessage, error) {
	ref := strconv.FormatUint(c.seq.Add(1), 10)
	f := realtime.Frame{Type: typ, Ref: ref, Room: room}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", typ, err)
		}
		f.Payload = raw
	}

	ch := make(chan realtime.Frame, 1)
	c.mu.Lock()
	c.waiting[ref] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiting, ref)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, f); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply.Type == realtime.FrameTypeError {
			if reply.Error == nil {
				return nil, fmt.Errorf("%s: empty error frame", typ)
			}
			return nil, reply.Error
		}
		return reply.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.err
	}
}

func (c *Conn) write(ctx context.Context, f realtime.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return c.err
	default:
	}
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}
	return nil
}

// Join subscribes to room. Joins are reference counted: a second Join on the
// same room reuses the first reconciler, and the server leave is sent when
// the last lease is released. rec may be nil.
func (c *Conn) Join(ctx context.Context, room string, rec *Reconciler) (*RoomLease, error) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	joined, ok := c.rooms[room]
	if ok {
		joined.refs++
		c.mu.Unlock()
		return &RoomLease{conn: c, room: room, rec: joined.rec}, nil
	}
	c.mu.Unlock()

	if rec == nil {
		rec = NewReconciler(room, c.logger)
	}
	// register before the ack so events published right after the join are kept
	c.mu.Lock()
	c.rooms[room] = &joinedRoom{rec: rec, refs: 1}
	c.mu.Unlock()

	if _, err := c.call(ctx, realtime.FrameJoinRoom, room, nil); err != nil {
		c.mu.Lock()
		delete(c.rooms, room)
		c.mu.Unlock()
		return nil, err
	}
	return &RoomLease{conn: c, room: room, rec: rec}, nil
}

func (c *Conn) release(ctx context.Context, room string) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	c.mu.Lock()
	joined, ok := c.rooms[room]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	joined.refs--
	if joined.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.rooms, room)
	c.mu.Unlock()

	_, err := c.call(ctx, realtime.FrameLeaveRoom, room, nil)
	return err
}

// Rooms lists the rooms currently joined.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// FetchSnapshot reads the current messages of room over HTTP.
func (c *Conn) FetchSnapshot(ctx context.Context, room string) ([]common.Message, error) {
	endpoint := c.opts.APIBase + "/api/v1/rooms/" + url.PathEscape(room) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Code == "" {
			body.Code = "internal"
			body.Message = resp.Status
		}
		return nil, &realtime.FrameError{Code: body.Code, Message: body.Message}
	}

	var out struct {
		Messages []common.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return out.Messages, nil
}

// RoomLease is a joined room. Commands issued through it update the room's
// reconciler optimistically or from the ack.
type RoomLease struct {
	conn     *Conn
	room     string
	rec      *Reconciler
	released atomic.Bool
}

func (l *RoomLease) Room() string { return l.room }

func (l *RoomLease) Reconciler() *Reconciler { return l.rec }

// Release drops this lease. It is safe to call more than once.
func (l *RoomLease) Release(ctx context.Context) error {
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}
	return l.conn.release(ctx, l.room)
}

// Refresh replaces the reconciler state with a fresh snapshot, as done after a
// reconnect.
func (l *RoomLease) Refresh(ctx context.Context) error {
	messages, err := l.conn.FetchSnapshot(ctx, l.room)
	if err != nil {
		return err
	}
	l.rec.Load(messages)
	return nil
}

type SendOptions struct {
	ParentID     *string
	AttachmentID *string
}

// Send shows the message immediately under a temporary id and swaps in the
// server record once it arrives. The optimistic entry is dropped on error.
func (l *RoomLease) Send(ctx context.Context, body string, opts SendOptions) (common.Message, error) {
	tempID := "tmp-" + uuid.NewString()
	kind := common.KindPlain
	if opts.ParentID != nil {
		kind = common.KindThreadReply
	}
	now := time.Now().UTC()
	l.rec.AddPending(tempID, common.Message{
		RoomID:    l.room,
		SenderID:  l.conn.opts.UserID,
		Body:      body,
		Kind:      kind,
		ParentID:  opts.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	})

	raw, err := l.conn.call(ctx, realtime.FrameSendMessage, l.room, realtime.SendMessagePayload{
		Body:         body,
		ParentID:     opts.ParentID,
		AttachmentID: opts.AttachmentID,
		TempID:       tempID,
	})
	if err != nil {
		l.rec.DropPending(tempID)
		return common.Message{}, err
	}
	var m common.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		l.rec.DropPending(tempID)
		return common.Message{}, fmt.Errorf("decode send ack: %w", err)
	}
	l.rec.Apply(realtime.NewMessage{Message: m, TempID: tempID})
	return m, nil
}

func (l *RoomLease) Edit(ctx context.Context, messageID, body string) (common.Message, error) {
	raw, err := l.conn.call(ctx, realtime.FrameEditMessage, l.room, realtime.EditMessagePayload{MessageID: messageID, Body: body})
	if err != nil {
		return common.Message{}, err
	}
	var m common.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return common.Message{}, fmt.Errorf("decode edit ack: %w", err)
	}
	l.rec.Apply(realtime.MessageUpdated{Message: m})
	return m, nil
}

func (l *RoomLease) Delete(ctx context.Context, messageID string) error {
	if _, err := l.conn.call(ctx, realtime.FrameDeleteMessage, l.room, realtime.MessageRefPayload{MessageID: messageID}); err != nil {
		return err
	}
	l.rec.Apply(realtime.MessageDeleted{MessageID: messageID})
	return nil
}

// ToggleReaction reports whether the reaction is present afterwards. The
// aggregate itself arrives with the reaction event.
func (l *RoomLease) ToggleReaction(ctx context.Context, messageID, emoji string) (bool, error) {
	raw, err := l.conn.call(ctx, realtime.FrameToggleReaction, l.room, realtime.ToggleReactionPayload{MessageID: messageID, Emoji: emoji})
	if err != nil {
		return false, err
	}
	var res realtime.ReactionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, fmt.Errorf("decode reaction ack: %w", err)
	}
	return res.Added, nil
}

func (l *RoomLease) TogglePin(ctx context.Context, messageID string) (common.Message, error) {
	raw, err := l.conn.call(ctx, realtime.FrameTogglePin, l.room, realtime.MessageRefPayload{MessageID: messageID})
	if err != nil {
		return common.Message{}, err
	}
	var m common.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return common.Message{}, fmt.Errorf("decode pin ack: %w", err)
	}
	l.rec.Apply(realtime.MessagePinned{MessageID: m.ID, Pinned: m.Pinned, UpdatedAt: m.UpdatedAt, Revision: m.Revision})
	return m, nil
}
