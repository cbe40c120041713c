package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nexuscore/agentcore/internal/convo"
)

// SQLiteStore archives a session's system prompt and message history under
// its SessionId whenever the Supervisor reloads or clears, so a restarted
// process (or a later debugging session) can inspect what a session looked
// like right before its history was rotated.
type SQLiteStore struct {
	db *sql.DB

	stmtSaveSession *sql.Stmt
	stmtSaveMessage *sql.Stmt
}

// SQLiteConfig configures the underlying connection pool.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns sane defaults for a single-process local file.
func DefaultSQLiteConfig(path string) *SQLiteConfig {
	return &SQLiteConfig{
		Path:            path,
		MaxOpenConns:    1, // sqlite serializes writers; avoid "database is locked"
		ConnMaxLifetime: 0,
	}
}

// NewSQLiteStore opens (creating if necessary) the sqlite file at
// config.Path, runs schema migration, and prepares statements for reuse.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		return nil, fmt.Errorf("session: sqlite config is required")
	}

	db, err := sql.Open("sqlite3", config.Path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping sqlite: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: migrate sqlite: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: prepare statements: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id      TEXT PRIMARY KEY,
			system_prompt   TEXT NOT NULL,
			start_time      TIMESTAMP NOT NULL,
			end_time        TIMESTAMP,
			environment     TEXT NOT NULL DEFAULT '',
			stats           TEXT NOT NULL DEFAULT '{}',
			config_snapshot TEXT NOT NULL DEFAULT '{}',
			saved_at        TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS session_messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL REFERENCES sessions(session_id),
			seq         INTEGER NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			reasoning   TEXT,
			tool_calls  TEXT,
			tool_call_id TEXT,
			tool_name   TEXT,
			incomplete  INTEGER NOT NULL DEFAULT 0,
			created_at  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_messages_session
			ON session_messages(session_id, seq);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	s.stmtSaveSession, err = s.db.Prepare(`
		INSERT INTO sessions (session_id, system_prompt, start_time, end_time, environment, stats, config_snapshot, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare save message: %w", err)
	}
	return nil
}

// SaveSession archives metadata, the full message history, the accounting
// Stats snapshot, and the config snapshot for meta.SessionID, replacing any
// prior archive under the same id.
func (s *SQLiteStore) SaveSession(ctx context.Context, meta Metadata, messages []convo.Message, stats convo.Stats, snapshot ConfigSnapshot) error {
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
		meta.Environment, string(statsJSON), string(snapshotJSON), time.Now())
	if err != nil {
		return fmt.Errorf("session: save session row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, meta.SessionID); err != nil {
		return fmt.Errorf("session: clear prior messages: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.stmtSaveMessage)
	for i, m := range messages {
		toolCallsJSON, err := encodeToolCalls(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("session: encode tool calls: %w", err)
		}
		_, err = stmt.ExecContext(ctx, meta.SessionID, i, string(m.Role), m.Content, m.Reasoning,
			toolCallsJSON, m.ToolCallID, m.ToolName, boolToInt(m.Incomplete), m.CreatedAt)
		if err != nil {
			return fmt.Errorf("session: save message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func encodeToolCalls(calls []convo.ToolCall) (string, error) {
	if len(calls) == 0 {
		return "", nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close releases the underlying database handle and prepared statements.
func (s *SQLiteStore) Close() error {
	if s.stmtSaveSession != nil {
		s.stmtSaveSession.Close()
	}
	if s.stmtSaveMessage != nil {
		s.stmtSaveMessage.Close()
	}
	return s.db.Close()
}
