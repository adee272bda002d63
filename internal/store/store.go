// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/api/schemas"
	"github.com/xkilldash9x/scalpel-cua/internal/config"
)

// ErrNotFound is returned when no saved session matches a reference.
var ErrNotFound = errors.New("session not found")

// SessionStore persists conversation state as a single unit.
type SessionStore interface {
	// Save stores state under its key and returns where it was written.
	Save(ctx context.Context, state schemas.SessionState) (string, error)
	// Load restores state from a reference returned by Save or a bare key.
	Load(ctx context.Context, ref string) (schemas.SessionState, error)
}

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlCreateSessions = `
        CREATE TABLE IF NOT EXISTS cua_sessions (
            id TEXT PRIMARY KEY,
            last_response_id TEXT NOT NULL,
            conversation_items JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlUpsertSession = `
        INSERT INTO cua_sessions (id, last_response_id, conversation_items, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            last_response_id = EXCLUDED.last_response_id,
            conversation_items = EXCLUDED.conversation_items,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSelectSession = `
        SELECT last_response_id, conversation_items
        FROM cua_sessions
        WHERE id = $1;
    `
)

// Store keeps sessions in PostgreSQL, one row per response id.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ SessionStore = (*Store)(nil)

// New creates a new store instance, verifies the connection and ensures
// the sessions table exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateSessions); err != nil {
		return nil, fmt.Errorf("failed to ensure sessions table: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

func (s *Store) Save(ctx context.Context, state schemas.SessionState) (string, error) {
	items := state.ConversationItems
	if items == nil {
		items = []schemas.Item{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation: %w", err)
	}

	key := state.Key()
	if _, err := s.pool.Exec(ctx, sqlUpsertSession, key, state.LastResponseID, encoded, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to save session %s: %w", key, err)
	}
	s.log.Info("Session saved.", zap.String("id", key), zap.Int("items", len(items)))
	return key, nil
}

func (s *Store) Load(ctx context.Context, ref string) (schemas.SessionState, error) {
	var state schemas.SessionState
	var encoded []byte

	err := s.pool.QueryRow(ctx, sqlSelectSession, ref).Scan(&state.LastResponseID, &encoded)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return state, fmt.Errorf("failed to load session %s: %w", ref, err)
	}
	if err := json.Unmarshal(encoded, &state.ConversationItems); err != nil {
		return state, fmt.Errorf("failed to decode conversation for %s: %w", ref, err)
	}
	return state, nil
}

// Open builds the store selected by cfg. The returned close function
// releases any connection pool.
func Open(ctx context.Context, cfg config.StoreConfig, db config.DatabaseConfig, logger *zap.Logger) (SessionStore, func(), error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Dir, logger), func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, db.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		s, err := New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
