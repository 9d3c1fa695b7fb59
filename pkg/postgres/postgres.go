package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const connectTimeout = 10 * time.Second

// Connect opens the pool, verifies connectivity, and optionally runs the
// embedded migrations. The returned DB is safe for concurrent use.
func Connect(ctx context.Context, config *Config) (*sqlx.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	logger := config.AnotherLogger
	if logger == nil {
		logger = logging.Discard()
	}

	db, err := sqlx.Open("pgx", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database %s:%d/%s: %w", config.Host, config.Port, config.Name, err)
	}

	logger.WithField("host", config.Host).
		WithField("database", config.Name).
		Info("Connected to database")

	if config.MigrateOnStart {
		if err := Migrate(db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sqlx.DB, logger logging.Interface) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db.DB)
	if err != nil {
		return fmt.Errorf("reading migration version: %w", err)
	}

	logger.WithField("version", version).Info("Database schema up to date")
	return nil
}

// Health pings the pool within the given context's deadline.
func Health(ctx context.Context, db *sqlx.DB) error {
	return db.PingContext(ctx)
}
