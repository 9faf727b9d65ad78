package db

import (
	"fmt"
	"time"

	"mavedb/internal/config"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var AppDb *gorm.DB

// ConnectDb opens the configured database and stores it in AppDb.
func ConnectDb(log *zap.Logger) error {
	level := logger.Info
	if config.AppConfig.Environment == "production" {
		level = logger.Error
	}
	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold: time.Second, // Slow SQL threshold
			LogLevel:      level,
			Colorful:      false,
		},
	)

	var dialector gorm.Dialector
	switch config.AppConfig.DBDriver {
	case "postgres":
		dsn := fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
			config.AppConfig.DBHost,
			config.AppConfig.DBUser,
			config.AppConfig.DBPassword,
			config.AppConfig.DBName,
			config.AppConfig.DBPort,
		)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(config.AppConfig.SQLitePath)
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", config.AppConfig.DBDriver)
	}

	db, err := Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return fmt.Errorf("error connecting to db: %w", err)
	}
	if config.AppConfig.DBDriver == "sqlite" {
		// sqlite allows a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	AppDb = db
	log.Info("connected to database", zap.String("driver", config.AppConfig.DBDriver))
	return nil
}

// Open wraps gorm.Open with the options every connection of this service uses.
func Open(dialector gorm.Dialector, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	// nested Transaction calls join the outer transaction instead of using savepoints
	cfg.DisableNestedTransaction = true
	return gorm.Open(dialector, cfg)
}

// OpenSQLite opens a sqlite database at path (":memory:" for a private
// in-memory database) restricted to one connection, and migrates it.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func CloseDb(log *zap.Logger) {
	if AppDb == nil {
		return
	}
	sqlDB, err := AppDb.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if err != nil {
		log.Error("failed to close db", zap.Error(err))
		return
	}
	log.Info("closed database")
}
