package dbmysql

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"filehub/internal/config"
)

// Models lists every table owned by the sync service.
func Models() []interface{} {
	return []interface{}{
		&Message{},
		&Reaction{},
		&RoomMember{},
		&Notification{},
		&Device{},
	}
}

// NewDB opens the configured database and migrates the service tables.
func NewDB(cnf *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cnf.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cnf.Database.SQLitePath)
	case "mysql", "":
		dialector = mysql.Open(cnf.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cnf.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(cnf.Logging.GormLogLevel()),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w", cnf.Database.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql.DB error: %w", err)
	}
	sqlDB.SetMaxOpenConns(cnf.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cnf.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("connected to database", "driver", cnf.Database.Driver)
	return db, nil
}
