package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/taskloom/taskloom/loom/config"
)

// Connect opens the embedded libsql database, applies pragmas, runs
// migrations, and configures pooling. The caller owns the returned handle.
func Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
	}

	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		log.Info().Str("path", cfg.Path).Msg("database not found, creating a new one")
		file, err := os.Create(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("could not create db at path %s: %w", cfg.Path, err)
		}
		file.Close()
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000&_temp_store=memory&_busy_timeout=5000",
		cfg.Path)

	handle, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	if err := verify(handle); err != nil {
		handle.Close()
		return nil, err
	}

	if err := Migrate(handle); err != nil {
		handle.Close()
		return nil, err
	}

	configurePooling(handle, cfg)
	return handle, nil
}

// verify checks connectivity and the built-in JSON1 capability.
func verify(handle *sql.DB) error {
	ctx := context.Background()

	var result int
	if err := handle.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}

	var jsonResult string
	if err := handle.QueryRowContext(ctx, "SELECT json_extract('{\"test\":\"value\"}', '$.test')").Scan(&jsonResult); err != nil {
		log.Warn().Err(err).Msg("JSON1 test failed")
	} else if jsonResult != "value" {
		log.Warn().Str("result", jsonResult).Msg("JSON1 test returned unexpected result")
	}

	return nil
}

func configurePooling(handle *sql.DB, cfg config.DatabaseConfig) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	handle.SetMaxOpenConns(maxOpen)

	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	handle.SetMaxIdleConns(maxIdle)

	handle.SetConnMaxIdleTime(5 * time.Minute)
	handle.SetConnMaxLifetime(time.Hour)

	log.Debug().Int("max_open", maxOpen).Int("max_idle", maxIdle).Msg("connection pool configured")
}

// WithTx executes fn inside a transaction, rolling back on error.
func WithTx(ctx context.Context, handle *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := handle.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("transaction failed and rollback failed: %v (original error: %w)", rollbackErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
