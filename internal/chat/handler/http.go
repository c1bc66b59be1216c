package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"filehub/internal/chat/service"
	"filehub/internal/common"
	"filehub/internal/realtime"
)

// HTTPHandler serves snapshot and thread reads for late joiners and reconnects.
type HTTPHandler struct {
	chat     *service.ChatService
	registry *realtime.Registry
	tokens   *common.TokenManager
	logger   *slog.Logger
}

func NewHTTPHandler(chat *service.ChatService, registry *realtime.Registry, tokens *common.TokenManager, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{chat: chat, registry: registry, tokens: tokens, logger: logger}
}

type snapshotResponse struct {
	Room     string           `json:"room"`
	Messages []common.Message `json:"messages"`
}

type threadResponse struct {
	Parent  *common.Message  `json:"parent"`
	Replies []common.Message `json:"replies"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Rooms    int    `json:"rooms"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *HTTPHandler) RegisterRoutes(r *mux.Router, ws http.Handler) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rooms/{roomID}/messages", h.snapshot).Methods(http.MethodGet)
	api.HandleFunc("/messages/{messageID}/thread", h.thread).Methods(http.MethodGet)
	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if ws != nil {
		r.Handle("/ws", ws).Methods(http.MethodGet)
	}
}

func (h *HTTPHandler) snapshot(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.AuthenticateRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	roomID := mux.Vars(r)["roomID"]
	messages, err := h.chat.Snapshot(r.Context(), userID, roomID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Room: roomID, Messages: messages})
}

func (h *HTTPHandler) thread(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.AuthenticateRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	parent, replies, err := h.chat.Thread(r.Context(), userID, mux.Vars(r)["messageID"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{Parent: parent, Replies: replies})
}

func (h *HTTPHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: h.registry.SessionCount(),
		Rooms:    h.registry.RoomCount(),
	})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := common.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, errorResponse{Code: common.ErrorCode(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
