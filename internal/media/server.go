// Package media serves attachment downloads from the file store to room members.
package media

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"filehub/internal/common"
)

// FileOpener streams stored attachments.
type FileOpener interface {
	Open(ctx context.Context, fileID string) (io.ReadCloser, *common.Attachment, error)
}

// HTTPServer streams attachments to users who may join the room they were
// shared in.
type HTTPServer struct {
	files  FileOpener
	access common.RoomAccess
	tokens *common.TokenManager
	logger *slog.Logger
}

func NewHTTPServer(files FileOpener, access common.RoomAccess, tokens *common.TokenManager, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{files: files, access: access, tokens: tokens, logger: logger}
}

func (s *HTTPServer) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/rooms/{roomID}/attachments/{fileID}", s.serveFile).Methods(http.MethodGet)
}

func (s *HTTPServer) serveFile(w http.ResponseWriter, r *http.Request) {
	userID, err := s.tokens.AuthenticateRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	if err := common.ValidateRoomID(vars["roomID"]); err != nil {
		s.writeError(w, err)
		return
	}
	ok, err := s.access.CanJoin(r.Context(), userID, vars["roomID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, common.ErrUnauthorized)
		return
	}

	reader, file, err := s.files.Open(r.Context(), vars["fileID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType(file.FileName))
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	if file.FileName != "" {
		w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(file.FileName))
	}
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Warn("attachment stream interrupted", "file", file.FileID, "error", err)
	}
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	code := common.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("attachment request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"code": common.ErrorCode(err), "message": err.Error()})
}
