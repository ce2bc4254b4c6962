package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds the connection settings for PostgresStore.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration

	MaxRetries    int
	RetryInterval time.Duration
}

// PostgresStore keeps tokens in a table with a unique email column so the
// upsert is a single atomic statement.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ConnectPostgres opens a pool and pings it, retrying on failure.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			lastErr = err
			continue
		}
		if lastErr = pool.Ping(ctx); lastErr != nil {
			pool.Close()
			continue
		}
		return pool, nil
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS login_tokens (
		id         UUID PRIMARY KEY,
		email      TEXT NOT NULL UNIQUE,
		token      TEXT NOT NULL,
		expired_at TIMESTAMPTZ NOT NULL
	)`

// Migrate creates the token table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create login_tokens table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, email string) (*SessionToken, error) {
	query := `
		SELECT id, email, token, expired_at
		FROM login_tokens
		WHERE email = $1
	`
	tok := &SessionToken{}
	err := s.pool.QueryRow(ctx, query, email).Scan(&tok.ID, &tok.Email, &tok.Value, &tok.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	return tok, nil
}

func (s *PostgresStore) Save(ctx context.Context, tok *SessionToken) (*SessionToken, error) {
	query := `
		INSERT INTO login_tokens (id, email, token, expired_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET id = EXCLUDED.id, token = EXCLUDED.token, expired_at = EXCLUDED.expired_at
		RETURNING id, email, token, expired_at
	`
	saved := &SessionToken{}
	err := s.pool.QueryRow(ctx, query, tok.ID, tok.Email, tok.Value, tok.ExpiresAt).
		Scan(&saved.ID, &saved.Email, &saved.Value, &saved.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert token: %w", err)
	}
	return saved, nil
}
