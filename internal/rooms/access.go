// Package rooms decides who may join and moderate a collaboration room.
// A user room belongs to its user alone; folder and group rooms are
// governed by the room_members table.
package rooms

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"filehub/internal/common"
	"filehub/internal/dbmysql"
	"filehub/internal/realtime"
)

type Access struct {
	db *gorm.DB
}

func NewAccess(db *gorm.DB) *Access {
	return &Access{db: db}
}

var _ common.RoomAccess = (*Access)(nil)

func (a *Access) CanJoin(ctx context.Context, userID, roomID string) (bool, error) {
	_, err := a.Role(ctx, userID, roomID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrForbidden):
		return false, nil
	default:
		return false, err
	}
}

// Role returns the user's role in roomID, or ErrForbidden for non-members.
func (a *Access) Role(ctx context.Context, userID, roomID string) (common.RoomRole, error) {
	if userID == "" {
		return "", common.ErrUnauthorized
	}
	kind, id, err := realtime.ParseRoom(roomID)
	if err != nil {
		return "", err
	}
	if kind == realtime.RoomUser {
		if id != userID {
			return "", fmt.Errorf("room %s: %w", roomID, common.ErrForbidden)
		}
		return common.RoleCreator, nil
	}

	var member dbmysql.RoomMember
	err = a.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("room %s: %w", roomID, common.ErrForbidden)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up membership: %w: %v", common.ErrTransient, err)
	}
	return common.RoomRole(member.Role), nil
}

// Grant adds userID to roomID, or changes the role of an existing member.
func (a *Access) Grant(ctx context.Context, roomID, userID string, role common.RoomRole) error {
	kind, _, err := realtime.ParseRoom(roomID)
	if err != nil {
		return err
	}
	if kind == realtime.RoomUser {
		return fmt.Errorf("user rooms have no members: %w", common.ErrInvalidInput)
	}
	switch role {
	case common.RoleMember, common.RoleAdmin, common.RoleCreator:
	default:
		return fmt.Errorf("unknown role %q: %w", role, common.ErrInvalidInput)
	}

	member := dbmysql.RoomMember{RoomID: roomID, UserID: userID, Role: string(role)}
	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(&member).Error
	if err != nil {
		return fmt.Errorf("failed to grant membership: %w", err)
	}
	return nil
}

func (a *Access) Revoke(ctx context.Context, roomID, userID string) error {
	err := a.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&dbmysql.RoomMember{}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke membership: %w", err)
	}
	return nil
}
