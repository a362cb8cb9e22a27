package config

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver with database/sql, for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

// PostgresConfig describes how to reach the MPC's Postgres instance.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	RunMigrations bool
}

// PostgresConfigFromEnv reads POSTGRES_* environment variables, matching the
// teacher's convention in the original api/config package.
func PostgresConfigFromEnv() (PostgresConfig, error) {
	cfg := PostgresConfig{
		Host:            envOr("POSTGRES_HOST", "localhost"),
		Port:            envOr("POSTGRES_PORT", "5432"),
		Database:        os.Getenv("POSTGRES_DB"),
		Username:        os.Getenv("POSTGRES_USER"),
		Password:        os.Getenv("POSTGRES_PASSWORD"),
		SSLMode:         envOr("POSTGRES_SSLMODE", "disable"),
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		RunMigrations:   os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true",
	}
	if cfg.Database == "" {
		return cfg, fmt.Errorf("POSTGRES_DB is required")
	}
	if cfg.Username == "" {
		return cfg, fmt.Errorf("POSTGRES_USER is required")
	}
	if cfg.Password == "" {
		return cfg, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c PostgresConfig) connString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// NewPool creates and validates a pgx connection pool, running embedded
// migrations first if RunMigrations is set.
func NewPool(ctx context.Context, log *slog.Logger, cfg PostgresConfig) (*pgxpool.Pool, error) {
	connStr := cfg.connString()

	if cfg.RunMigrations {
		if err := RunMigrations(connStr); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("postgres migrations completed")
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info("connected to postgres", "host", cfg.Host, "database", cfg.Database)
	return pool, nil
}

// RunMigrations applies the embedded goose migrations to connStr.
func RunMigrations(connStr string) error {
	goose.SetBaseFS(EmbedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
