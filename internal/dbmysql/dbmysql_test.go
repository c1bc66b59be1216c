package dbmysql

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"filehub/internal/common"
	"filehub/internal/config"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return gormDB, mock, func() { db.Close() }
}

func setupSQLite(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

func TestNewDB_UnsupportedDriver(t *testing.T) {
	cnf := &config.Config{}
	cnf.Database.Driver = "postgres"

	db, err := NewDB(cnf)
	assert.Nil(t, db)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestNewDB_SQLite(t *testing.T) {
	cnf := &config.Config{}
	cnf.Database.Driver = "sqlite"
	cnf.Database.SQLitePath = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cnf.Database.MaxOpenConns = 1
	cnf.Database.MaxIdleConns = 1
	cnf.Logging.Level = "error"

	db, err := NewDB(cnf)
	require.NoError(t, err)

	for _, table := range []string{"messages", "message_reactions", "room_members", "notifications", "devices"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestMessage_DomainRoundTrip(t *testing.T) {
	parent := "01HZY0000000000000000000AA"
	edited := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	msg := common.Message{
		ID:        "01HZY0000000000000000000AB",
		RoomID:    "folder:f1",
		SenderID:  "u1",
		Body:      "see attached",
		Kind:      common.KindThreadReply,
		ParentID:  &parent,
		Edited:    true,
		EditedAt:  &edited,
		Pinned:    true,
		Revision:  4,
		CreatedAt: edited.Add(-time.Minute),
		UpdatedAt: edited,
		Attachment: &common.Attachment{
			FileID:   "665f1c2e9b1d8c0012345678",
			FileName: "notes.pdf",
			FileType: common.MediaFileTypeDocument,
			Size:     2048,
		},
	}

	row := MessageFromDomain(msg)
	require.NotNil(t, row.AttachmentID)
	assert.Equal(t, "document", *row.AttachmentType)

	got := row.ToDomain()
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Kind, got.Kind)
	assert.Equal(t, *msg.ParentID, *got.ParentID)
	assert.Equal(t, *msg.Attachment, *got.Attachment)
	assert.Equal(t, msg.Revision, got.Revision)
	assert.True(t, got.Pinned)
}

func TestMessage_NoAttachment(t *testing.T) {
	row := MessageFromDomain(common.Message{ID: "m1", RoomID: "group:g1", Kind: common.KindPlain})
	assert.Nil(t, row.AttachmentID)
	assert.Nil(t, row.ToDomain().Attachment)
}

func TestNotificationRepository_Create(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "successful create",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `notifications`")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `notifications`")).
					WillReturnError(assert.AnError)
				mock.ExpectRollback()
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, cleanup := setupMockDB(t)
			defer cleanup()
			tt.mockSetup(mock)

			repo := NewNotificationRepository(db)
			err := repo.Create(context.Background(), common.NotificationEvent{
				ID:        "n1",
				Type:      common.FileSharedType,
				UserID:    "u2",
				Header:    "File shared",
				Content:   "alice shared report.pdf",
				Metadata:  common.NotificationMetadata{"file_id": "f1"},
				CreatedAt: time.Now(),
			})

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "failed to create notification")
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNotificationRepository_UpdateStatus(t *testing.T) {
	db := setupSQLite(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, common.NotificationEvent{
		ID:       "n1",
		Type:     common.GroupInvitationType,
		UserID:   "u1",
		Header:   "Invitation",
		Content:  "join the study group",
		Metadata: common.NotificationMetadata{"group_id": "g1"},
	}))

	require.NoError(t, repo.UpdateStatus(ctx, "n1", common.StatusDelivered))

	var stored Notification
	require.NoError(t, db.First(&stored, "id = ?", "n1").Error)
	assert.Equal(t, string(common.StatusDelivered), stored.Status)
	assert.Equal(t, "g1", stored.Metadata["group_id"])

	err := repo.UpdateStatus(ctx, "missing", common.StatusFailed)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeviceRepository(t *testing.T) {
	db := setupSQLite(t)
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateOrUpdate(ctx, "u1", "token-a", "ios"))
	require.NoError(t, repo.CreateOrUpdate(ctx, "u1", "token-b", "android"))
	require.NoError(t, repo.CreateOrUpdate(ctx, "u2", "token-c", "web"))

	tokens, err := repo.ActiveTokens(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"token-a", "token-b"}, tokens)

	require.NoError(t, repo.UpdateTokenStatus(ctx, "token-a", false))

	tokens, err = repo.ActiveTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"token-b"}, tokens)

	tokens, err = repo.ActiveTokens(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
