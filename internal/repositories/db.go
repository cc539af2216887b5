// Package repositories provides data access layer implementations.
// It handles all database operations and data persistence logic.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"vtupay/internal/config"
	applog "vtupay/internal/logger"
	"vtupay/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Opener opens a gorm connection; swapped out in tests.
type Opener func(dsn string, cfg *gorm.Config) (*gorm.DB, error)

func openPostgres(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), cfg)
}

// GormConfig is the gorm configuration shared by every connection. Driver
// errors are translated so unique violations surface as gorm.ErrDuplicatedKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn, // Only log warnings and errors
				IgnoreRecordNotFoundError: true,
				Colorful:                  !config.IsProduction(),
			},
		),
	}
}

// Connect opens the database with bounded exponential backoff. It owns
// the retry state; when attempts run out it returns the last error and
// the caller decides whether to exit.
func Connect(ctx context.Context, cfg config.DatabaseConfig, lg *zap.Logger) (*gorm.DB, error) {
	return connectWith(ctx, cfg, openPostgres, lg)
}

func connectWith(ctx context.Context, cfg config.DatabaseConfig, open Opener, lg *zap.Logger) (*gorm.DB, error) {
	lg = applog.OrNop(lg)
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.ConnectBaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := cfg.ConnectMaxDelay
	if maxDelay < delay {
		maxDelay = delay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := open(cfg.DSN(), GormConfig())
		if err == nil {
			err = Ping(ctx, db)
		}
		if err == nil {
			if poolErr := configurePool(db, cfg); poolErr != nil {
				return nil, poolErr
			}
			lg.Info("database connected", zap.Int("attempt", attempt), zap.String("database", cfg.Name))
			return db, nil
		}

		lastErr = err
		lg.Warn("database connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("database connect cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, fmt.Errorf("database unavailable after %d attempts: %w", attempts, lastErr)
}

// Ping checks the pool can reach the server within five seconds.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

func configurePool(db *gorm.DB, cfg config.DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Transaction{},
		&models.DataPlan{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueViolation recognises duplicate-key errors whether or not gorm
// translated them.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
