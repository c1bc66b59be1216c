package realtime

import (
	"fmt"
	"strings"

	"filehub/internal/common"
)

type RoomKind string

const (
	RoomUser   RoomKind = "user"
	RoomFolder RoomKind = "folder"
	RoomGroup  RoomKind = "group"
)

func UserRoom(userID string) string     { return string(RoomUser) + ":" + userID }
func FolderRoom(folderID string) string { return string(RoomFolder) + ":" + folderID }
func GroupRoom(groupID string) string   { return string(RoomGroup) + ":" + groupID }

// ParseRoom splits a room key into its kind and entity id.
func ParseRoom(roomID string) (RoomKind, string, error) {
	if err := common.ValidateRoomID(roomID); err != nil {
		return "", "", err
	}
	kind, id, _ := strings.Cut(roomID, ":")
	switch RoomKind(kind) {
	case RoomUser, RoomFolder, RoomGroup:
		return RoomKind(kind), id, nil
	}
	return "", "", fmt.Errorf("unknown room kind %q: %w", kind, common.ErrInvalidInput)
}
