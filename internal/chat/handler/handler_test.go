package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"filehub/internal/chat/repository"
	"filehub/internal/chat/service"
	"filehub/internal/chat/store"
	"filehub/internal/common"
	"filehub/internal/config"
	"filehub/internal/dbmysql"
	"filehub/internal/realtime"
	"filehub/internal/rooms"
)

type harness struct {
	server     *httptest.Server
	tokens     *common.TokenManager
	access     *rooms.Access
	registry   *realtime.Registry
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, opts ...func(*Dispatcher)) *harness {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(dbmysql.Models()...))

	access := rooms.NewAccess(db)
	registry := realtime.NewRegistry(nil)
	bus := realtime.NewBus(registry, nil)
	chat := service.NewChatService(repository.NewChatRepository(db), store.New(), access, nil, bus, nil)
	dispatcher := NewDispatcher(chat, registry, bus, 32, nil)
	for _, opt := range opts {
		opt(dispatcher)
	}
	tokens := common.NewTokenManager("test-secret", "filehub", time.Hour)

	ws := NewWSHandler(dispatcher, tokens, config.RealtimeConfig{
		OutboxSize:   32,
		WriteTimeout: time.Second,
		PingInterval: time.Minute,
		PongTimeout:  time.Minute,
		MaxFrameSize: 64 << 10,
	}, nil)
	router := mux.NewRouter()
	NewHTTPHandler(chat, registry, tokens, nil).RegisterRoutes(router, ws)

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		sqlDB.Close()
	})
	return &harness{server: server, tokens: tokens, access: access, registry: registry, dispatcher: dispatcher}
}

func (h *harness) token(t *testing.T, userID string) string {
	tok, err := h.tokens.GenerateToken(userID, userID)
	require.NoError(t, err)
	return tok
}

func (h *harness) dial(t *testing.T, userID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?access_token=" + h.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) get(t *testing.T, userID, path string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func command(t *testing.T, typ, ref, room string, payload interface{}) realtime.Frame {
	f := realtime.Frame{Type: typ, Ref: ref, Room: room}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		f.Payload = raw
	}
	return f
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f realtime.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) realtime.Frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := readFrame(t, conn); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return realtime.Frame{}
}

func join(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(command(t, realtime.FrameJoinRoom, "join-"+room, room, nil)))
	ack := readUntil(t, conn, realtime.FrameAck)
	require.Equal(t, "join-"+room, ack.Ref)
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var f realtime.Frame
	err := conn.ReadJSON(&f)
	assert.Error(t, err, "unexpected frame %s", f.Type)
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// u1 and u2 share folder f1, u3 is in f2. Only f1 members see the message.
func TestWebSocket_FanOutIsRoomScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.access.Grant(ctx, "folder:f1", "u1", common.RoleMember))
	require.NoError(t, h.access.Grant(ctx, "folder:f1", "u2", common.RoleMember))
	require.NoError(t, h.access.Grant(ctx, "folder:f2", "u3", common.RoleMember))

	c1, c2, c3 := h.dial(t, "u1"), h.dial(t, "u2"), h.dial(t, "u3")
	join(t, c1, "folder:f1")
	join(t, c2, "folder:f1")
	join(t, c3, "folder:f2")

	require.NoError(t, c1.WriteJSON(command(t, realtime.FrameSendMessage, "r1", "folder:f1",
		realtime.SendMessagePayload{Body: "hi", TempID: "tmp-1"})))

	ack := readUntil(t, c1, realtime.FrameAck)
	assert.Equal(t, "r1", ack.Ref)
	var sent common.Message
	require.NoError(t, json.Unmarshal(ack.Payload, &sent))
	assert.Equal(t, "hi", sent.Body)

	for _, c := range []*websocket.Conn{c2} {
		f := readUntil(t, c, string(realtime.EventNewMessage))
		ev, err := realtime.DecodeEvent(f)
		require.NoError(t, err)
		nm := ev.(realtime.NewMessage)
		assert.Equal(t, sent.ID, nm.ID)
		assert.Equal(t, "tmp-1", nm.TempID)
		assert.Equal(t, "u1", nm.SenderID)
	}
	assertSilent(t, c3)
}

func TestWebSocket_JoinUnauthorizedRoom(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "u1")

	require.NoError(t, conn.WriteJSON(command(t, realtime.FrameJoinRoom, "j1", "user:u2", nil)))
	f := readFrame(t, conn)
	assert.Equal(t, realtime.FrameTypeError, f.Type)
	assert.Equal(t, "j1", f.Ref)
	require.NotNil(t, f.Error)
	assert.Equal(t, "unauthorized", f.Error.Code)

	join(t, conn, "user:u1")
}

func TestWebSocket_MalformedAndUnknownFrames(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "u1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, conn)
	assert.Equal(t, realtime.FrameTypeError, f.Type)
	assert.Equal(t, "invalid_input", f.Error.Code)

	require.NoError(t, conn.WriteJSON(command(t, "teleport", "x1", "user:u1", nil)))
	f = readFrame(t, conn)
	assert.Equal(t, "x1", f.Ref)
	assert.Equal(t, "invalid_input", f.Error.Code)

	require.NoError(t, conn.WriteJSON(command(t, realtime.FrameSendMessage, "x2", "user:u1", nil)))
	f = readFrame(t, conn)
	assert.Equal(t, "invalid_input", f.Error.Code)

	join(t, conn, "user:u1")
}

func TestWebSocket_RateLimitedCommands(t *testing.T) {
	h := newHarness(t, func(d *Dispatcher) { d.WithRateLimit(0.001, 2) })
	conn := h.dial(t, "u1")

	join(t, conn, "user:u1")
	require.NoError(t, conn.WriteJSON(command(t, realtime.FrameLeaveRoom, "l1", "user:u1", nil)))
	assert.Equal(t, realtime.FrameAck, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(command(t, realtime.FrameJoinRoom, "j2", "user:u1", nil)))
	f := readFrame(t, conn)
	assert.Equal(t, realtime.FrameTypeError, f.Type)
	assert.Equal(t, "j2", f.Ref)
	assert.Equal(t, "transient", f.Error.Code)

	// the budget is per session
	other := h.dial(t, "u1")
	join(t, other, "user:u1")
}

func TestWebSocket_CommandErrorsGoToIssuerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.access.Grant(ctx, "group:g1", "u1", common.RoleMember))
	require.NoError(t, h.access.Grant(ctx, "group:g1", "u2", common.RoleMember))

	c1, c2 := h.dial(t, "u1"), h.dial(t, "u2")
	join(t, c1, "group:g1")
	join(t, c2, "group:g1")

	require.NoError(t, c1.WriteJSON(command(t, realtime.FrameSendMessage, "s1", "group:g1",
		realtime.SendMessagePayload{Body: "mine"})))
	ack := readUntil(t, c1, realtime.FrameAck)
	var sent common.Message
	require.NoError(t, json.Unmarshal(ack.Payload, &sent))
	readUntil(t, c2, string(realtime.EventNewMessage))

	require.NoError(t, c2.WriteJSON(command(t, realtime.FrameEditMessage, "e1", "group:g1",
		realtime.EditMessagePayload{MessageID: sent.ID, Body: "not yours"})))
	f := readFrame(t, c2)
	assert.Equal(t, realtime.FrameTypeError, f.Type)
	assert.Equal(t, "forbidden", f.Error.Code)

	require.NoError(t, c2.WriteJSON(command(t, realtime.FrameTogglePin, "p1", "group:g1",
		realtime.MessageRefPayload{MessageID: sent.ID})))
	f = readFrame(t, c2)
	assert.Equal(t, "forbidden", f.Error.Code)

	assertSilent(t, c1)
}

func TestWebSocket_ReactionAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.access.Grant(ctx, "group:g1", "u1", common.RoleCreator))
	require.NoError(t, h.access.Grant(ctx, "group:g1", "u2", common.RoleMember))

	c1, c2 := h.dial(t, "u1"), h.dial(t, "u2")
	join(t, c1, "group:g1")
	join(t, c2, "group:g1")

	require.NoError(t, c1.WriteJSON(command(t, realtime.FrameSendMessage, "s1", "group:g1",
		realtime.SendMessagePayload{Body: "vote"})))
	ack := readUntil(t, c1, realtime.FrameAck)
	var sent common.Message
	require.NoError(t, json.Unmarshal(ack.Payload, &sent))

	require.NoError(t, c2.WriteJSON(command(t, realtime.FrameToggleReaction, "r1", "group:g1",
		realtime.ToggleReactionPayload{MessageID: sent.ID, Emoji: "👍"})))
	ev, err := realtime.DecodeEvent(readUntil(t, c1, string(realtime.EventReactionAdded)))
	require.NoError(t, err)
	added := ev.(realtime.ReactionAdded)
	assert.Equal(t, []common.ReactionGroup{{Emoji: "👍", Count: 1, Users: []string{"u2"}}}, added.Reactions)

	ack = readUntil(t, c2, realtime.FrameAck)
	var rr realtime.ReactionResult
	require.NoError(t, json.Unmarshal(ack.Payload, &rr))
	assert.True(t, rr.Added)

	require.NoError(t, c1.WriteJSON(command(t, realtime.FrameDeleteMessage, "d1", "group:g1",
		realtime.MessageRefPayload{MessageID: sent.ID})))
	ev, err = realtime.DecodeEvent(readUntil(t, c2, string(realtime.EventMessageDeleted)))
	require.NoError(t, err)
	assert.Equal(t, sent.ID, ev.(realtime.MessageDeleted).MessageID)
}

func TestWebSocket_DisconnectLeavesAllRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.access.Grant(ctx, "folder:f1", "u1", common.RoleMember))

	conn := h.dial(t, "u1")
	join(t, conn, "folder:f1")
	join(t, conn, "user:u1")
	assert.Equal(t, 1, h.registry.SessionCount())
	assert.Len(t, h.registry.MembersOf("folder:f1"), 1)

	conn.Close()

	require.Eventually(t, func() bool {
		return h.registry.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.registry.MembersOf("folder:f1"))
	assert.Empty(t, h.registry.MembersOf("user:u1"))
}

func TestHTTP_SnapshotAndThread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.access.Grant(ctx, "folder:f1", "u1", common.RoleMember))

	conn := h.dial(t, "u1")
	join(t, conn, "folder:f1")
	require.NoError(t, conn.WriteJSON(command(t, realtime.FrameSendMessage, "s1", "folder:f1",
		realtime.SendMessagePayload{Body: "root"})))
	ack := readUntil(t, conn, realtime.FrameAck)
	var root common.Message
	require.NoError(t, json.Unmarshal(ack.Payload, &root))

	require.NoError(t, conn.WriteJSON(command(t, realtime.FrameSendMessage, "s2", "folder:f1",
		realtime.SendMessagePayload{Body: "reply", ParentID: &root.ID})))
	readUntil(t, conn, realtime.FrameAck)

	resp := h.get(t, "u1", "/api/v1/rooms/folder:f1/messages")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap snapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, root.ID, snap.Messages[0].ID)
	assert.Equal(t, 1, snap.Messages[0].ReplyCount)

	resp = h.get(t, "u1", "/api/v1/messages/"+root.ID+"/thread")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var thread threadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&thread))
	require.NotNil(t, thread.Parent)
	require.Len(t, thread.Replies, 1)
	assert.Equal(t, "reply", thread.Replies[0].Body)

	tests := []struct {
		name   string
		user   string
		path   string
		status int
		code   string
	}{
		{"no token", "", "/api/v1/rooms/folder:f1/messages", http.StatusUnauthorized, "unauthorized"},
		{"non-member", "u9", "/api/v1/rooms/folder:f1/messages", http.StatusUnauthorized, "unauthorized"},
		{"bad room", "u1", "/api/v1/rooms/lobby/messages", http.StatusBadRequest, "invalid_input"},
		{"unknown thread", "u1", "/api/v1/messages/01UNKNOWN/thread", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.get(t, tt.user, tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestHTTP_Health(t *testing.T) {
	h := newHarness(t)
	h.dial(t, "u1")
	require.Eventually(t, func() bool { return h.registry.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	resp := h.get(t, "", "/api/v1/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions)
}

const bufSize = 1024 * 1024

func setupGRPC(t *testing.T, h *harness) *grpc.ClientConn {
	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(grpc.StreamInterceptor(h.tokens.StreamAuthInterceptor()))
	RegisterSyncServer(s, NewGRPCHandler(h.dispatcher, nil))
	go func() {
		if err := s.Serve(lis); err != nil {
			t.Logf("grpc server exited: %v", err)
		}
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		s.Stop()
	})
	return conn
}

func recvFrame(t *testing.T, stream grpc.ClientStream, typ string) realtime.Frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		var f realtime.Frame
		require.NoError(t, stream.RecvMsg(&f))
		if f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return realtime.Frame{}
}

func TestGRPC_ConnectStream(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.access.Grant(ctx, "group:g1", "u1", common.RoleMember))
	require.NoError(t, h.access.Grant(ctx, "group:g1", "u2", common.RoleMember))

	cc := setupGRPC(t, h)
	ws := h.dial(t, "u2")
	join(t, ws, "group:g1")

	md := metadata.Pairs("authorization", "Bearer "+h.token(t, "u1"))
	stream, err := OpenSyncStream(metadata.NewOutgoingContext(ctx, md), cc)
	require.NoError(t, err)

	joinFrame := command(t, realtime.FrameJoinRoom, "j1", "group:g1", nil)
	require.NoError(t, stream.SendMsg(&joinFrame))
	ack := recvFrame(t, stream, realtime.FrameAck)
	assert.Equal(t, "j1", ack.Ref)

	send := command(t, realtime.FrameSendMessage, "s1", "group:g1", realtime.SendMessagePayload{Body: "over grpc"})
	require.NoError(t, stream.SendMsg(&send))

	ev := recvFrame(t, stream, string(realtime.EventNewMessage))
	assert.Equal(t, "group:g1", ev.Room)

	// Both transports share one registry, so the WebSocket member sees it too.
	f := readUntil(t, ws, string(realtime.EventNewMessage))
	decoded, err := realtime.DecodeEvent(f)
	require.NoError(t, err)
	assert.Equal(t, "over grpc", decoded.(realtime.NewMessage).Body)

	require.NoError(t, stream.CloseSend())
	require.Eventually(t, func() bool { return h.registry.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// Closing sessions on the server side, as shutdown does, ends the stream even
// though the client never closed its send side.
func TestGRPC_ServerCloseEndsStream(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.access.Grant(ctx, "group:g1", "u1", common.RoleMember))

	cc := setupGRPC(t, h)
	md := metadata.Pairs("authorization", "Bearer "+h.token(t, "u1"))
	stream, err := OpenSyncStream(metadata.NewOutgoingContext(ctx, md), cc)
	require.NoError(t, err)

	joinFrame := command(t, realtime.FrameJoinRoom, "j1", "group:g1", nil)
	require.NoError(t, stream.SendMsg(&joinFrame))
	recvFrame(t, stream, realtime.FrameAck)
	require.Equal(t, 1, h.registry.SessionCount())

	assert.Equal(t, 1, h.registry.CloseAll())

	var f realtime.Frame
	assert.ErrorIs(t, stream.RecvMsg(&f), io.EOF)
	require.Eventually(t, func() bool { return h.registry.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.registry.RoomCount())
}

func TestGRPC_RequiresToken(t *testing.T) {
	h := newHarness(t)
	cc := setupGRPC(t, h)

	stream, err := OpenSyncStream(context.Background(), cc)
	require.NoError(t, err)

	var f realtime.Frame
	err = stream.RecvMsg(&f)
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
