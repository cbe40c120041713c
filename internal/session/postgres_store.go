package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexuscore/agentcore/internal/convo"
)

// PostgresStore is the CockroachDB/Postgres-backed alternative to
// SQLiteStore, for deployments that already run a Cockroach/Postgres
// cluster for everything else and would rather not add a second storage
// engine just for session archives.
type PostgresStore struct {
	db *sql.DB

	stmtSaveSession *sql.Stmt
	stmtSaveMessage *sql.Stmt
}

// PostgresConfig holds connection parameters for PostgresStore.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig mirrors the pool sizing the teacher's Cockroach
// store used for its own session table.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            26257,
		User:            "root",
		Database:        "agentcore",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a connection pool against config, migrates the
// schema, and prepares statements for reuse.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return newPostgresStoreWithDSN(dsn, config)
}

// NewPostgresStoreFromDSN opens a connection pool against a raw DSN/URL.
func NewPostgresStoreFromDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("session: dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return newPostgresStoreWithDSN(dsn, config)
}

func newPostgresStoreWithDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open postgres: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: migrate postgres: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id      TEXT PRIMARY KEY,
			system_prompt   TEXT NOT NULL,
			start_time      TIMESTAMPTZ NOT NULL,
			end_time        TIMESTAMPTZ,
			environment     TEXT NOT NULL DEFAULT '',
			stats           JSONB NOT NULL DEFAULT '{}',
			config_snapshot JSONB NOT NULL DEFAULT '{}',
			saved_at        TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_messages (
			id           BIGSERIAL PRIMARY KEY,
			session_id   TEXT NOT NULL REFERENCES sessions(session_id),
			seq          INT NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			reasoning    TEXT,
			tool_calls   JSONB,
			tool_call_id TEXT,
			tool_name    TEXT,
			incomplete   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_session_messages_session
			ON session_messages(session_id, seq)
	`)
	return err
}

func (s *PostgresStore) prepareStatements() error {
	var err error
	s.stmtSaveSession, err = s.db.Prepare(`
		INSERT INTO sessions (session_id, system_prompt, start_time, end_time, environment, stats, config_snapshot, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			system_prompt   = excluded.system_prompt,
			end_time        = excluded.end_time,
			environment     = excluded.environment,
			stats           = excluded.stats,
			config_snapshot = excluded.config_snapshot,
			saved_at        = excluded.saved_at
	`)
	if err != nil {
		return fmt.Errorf("prepare save session: %w", err)
	}

	s.stmtSaveMessage, err = s.db.Prepare(`
		INSERT INTO session_messages
			(session_id, seq, role, content, reasoning, tool_calls, tool_call_id, tool_name, incomplete, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("prepare save message: %w", err)
	}
	return nil
}

// SaveSession implements Store, matching SQLiteStore's replace-on-save
// semantics: the prior archive under meta.SessionID, if any, is dropped
// first.
func (s *PostgresStore) SaveSession(ctx context.Context, meta Metadata, messages []convo.Message, stats convo.Stats, snapshot ConfigSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback()

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("session: encode stats: %w", err)
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("session: encode config snapshot: %w", err)
	}

	_, err = tx.StmtContext(ctx, s.stmtSaveSession).ExecContext(ctx,
		meta.SessionID, snapshot.SystemPrompt, meta.StartTime, nullableTime(meta.EndTime),
		meta.Environment, nullableJSON(string(statsJSON)), nullableJSON(string(snapshotJSON)), time.Now())
	if err != nil {
		return fmt.Errorf("session: save session row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = $1`, meta.SessionID); err != nil {
		return fmt.Errorf("session: clear prior messages: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.stmtSaveMessage)
	for i, m := range messages {
		toolCallsJSON, err := encodeToolCalls(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("session: encode tool calls: %w", err)
		}
		_, err = stmt.ExecContext(ctx, meta.SessionID, i, string(m.Role), m.Content, m.Reasoning,
			nullableJSON(toolCallsJSON), m.ToolCallID, m.ToolName, m.Incomplete, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("session: save message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func nullableJSON(s string) any {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

// Close releases the underlying database handle and prepared statements.
func (s *PostgresStore) Close() error {
	if s.stmtSaveSession != nil {
		s.stmtSaveSession.Close()
	}
	if s.stmtSaveMessage != nil {
		s.stmtSaveMessage.Close()
	}
	return s.db.Close()
}
