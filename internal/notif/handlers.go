package notif

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"filehub/internal/common"
)

// NotificationHandler exposes the internal endpoints the file, folder and
// group services call, plus device registration for push delivery.
type NotificationHandler struct {
	service       *NotificationService
	tokens        *common.TokenManager
	internalToken string
	logger        *slog.Logger
}

func NewNotificationHandler(service *NotificationService, tokens *common.TokenManager, internalToken string, logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{
		service:       service,
		tokens:        tokens,
		internalToken: internalToken,
		logger:        logger,
	}
}

type notificationResponse struct {
	ID   string                  `json:"id"`
	Type common.NotificationType `json:"type"`
}

type deviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (h *NotificationHandler) RegisterRoutes(r *mux.Router) {
	internal := r.PathPrefix("/api/v1/notifications").Subrouter()
	internal.Use(h.requireInternalToken)
	internal.HandleFunc("/file-shared", h.fileShared).Methods(http.MethodPost)
	internal.HandleFunc("/file-accessed", h.fileAccessed).Methods(http.MethodPost)
	internal.HandleFunc("/group-invitation", h.groupInvitation).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/devices", h.registerDevice).Methods(http.MethodPost)
}

func (h *NotificationHandler) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Token")
		if h.internalToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.internalToken)) != 1 {
			h.writeError(w, common.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *NotificationHandler) fileShared(w http.ResponseWriter, r *http.Request) {
	var in FileSharedInput
	if !h.decode(w, r, &in) {
		return
	}
	event, err := h.service.SendFileShared(r.Context(), in)
	h.respond(w, event, err)
}

func (h *NotificationHandler) fileAccessed(w http.ResponseWriter, r *http.Request) {
	var in FileAccessedInput
	if !h.decode(w, r, &in) {
		return
	}
	event, err := h.service.SendSharedFileAccessed(r.Context(), in)
	h.respond(w, event, err)
}

func (h *NotificationHandler) groupInvitation(w http.ResponseWriter, r *http.Request) {
	var in GroupInvitationInput
	if !h.decode(w, r, &in) {
		return
	}
	event, err := h.service.SendGroupInvitation(r.Context(), in)
	h.respond(w, event, err)
}

func (h *NotificationHandler) registerDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.AuthenticateRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req deviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.RegisterDeviceToken(r.Context(), userID, req.Token, req.Platform); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, common.ErrInvalidInput)
		return false
	}
	return true
}

func (h *NotificationHandler) respond(w http.ResponseWriter, event common.NotificationEvent, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, notificationResponse{ID: event.ID, Type: event.Type})
}

func (h *NotificationHandler) writeError(w http.ResponseWriter, err error) {
	status := common.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("notification request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"code": common.ErrorCode(err), "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
