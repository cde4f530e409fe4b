package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds database configuration
type Config struct {
	DatabaseURL string
	MaxIdle     int
	MaxOpen     int
	MaxLifetime time.Duration
	LogLevel    gormlogger.LogLevel
}

// Connect creates a new postgres connection with the given configuration
func Connect(cfg Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := Open(postgres.Open(cfg.DatabaseURL), cfg)
	if err != nil {
		log.Error().
			Str("error_code", "8d0f4c1e-2b7a-4e59-9c3d-61f0a5b2e7c4").
			Err(err).
			Msg("unable to connect to database")
		return nil, err
	}
	log.Info().Msg("successfully connected to database")
	return db, nil
}

// Open opens dialector and configures the connection pool. Tests use it
// with the sqlite driver.
func Open(dialector gorm.Dialector, cfg Config) (*gorm.DB, error) {
	level := cfg.LogLevel
	if level == 0 {
		level = gormlogger.Silent
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	}
	return db, nil
}

// Migrate creates or updates the tables for models.
func Migrate(db *gorm.DB, models ...any) error {
	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to auto migrate schema %T: %w", model, err)
		}
	}
	return nil
}

// Ping checks the underlying connection.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
