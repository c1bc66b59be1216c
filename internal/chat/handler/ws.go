package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"filehub/internal/common"
	"filehub/internal/config"
	"filehub/internal/realtime"
)

// WSHandler serves one session per WebSocket connection.
type WSHandler struct {
	dispatcher *Dispatcher
	tokens     *common.TokenManager
	cfg        config.RealtimeConfig
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func NewWSHandler(dispatcher *Dispatcher, tokens *common.TokenManager, cfg config.RealtimeConfig, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		dispatcher: dispatcher,
		tokens:     tokens,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers connect from the web app origin; the token is the gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.AuthenticateRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user", userID, "error", err)
		return
	}

	s := h.dispatcher.Attach(userID)
	ctx := common.WithUserID(context.Background(), userID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, s)
	}()

	h.readPump(ctx, conn, s)
	h.dispatcher.Detach(s)
	<-writerDone
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, s *realtime.Session) {
	conn.SetReadLimit(h.cfg.MaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket closed unexpectedly", "session", s.ID, "error", err)
			}
			return
		}
		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.dispatcher.Reject(s, err)
			continue
		}
		h.dispatcher.Handle(ctx, s, f)
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, s *realtime.Session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case f := <-s.Outbox():
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				h.logger.Debug("websocket write failed", "session", s.ID, "error", err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-s.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
