package adapters

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

//go:embed migrations/*.sql
var historyMigrations embed.FS

// OpenHistoryDB opens the embedded libsql database at path, creating
// the file and its directory as needed.
func OpenHistoryDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create database at %s: %w", path, err)
		}
		f.Close()
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	return db, nil
}

// LibSQLHistoryStore persists conversation turns in libsql so
// client-held conversations survive process restarts.
type LibSQLHistoryStore struct {
	db *sql.DB
}

// NewLibSQLHistoryStore migrates the schema and returns the store.
func NewLibSQLHistoryStore(db *sql.DB) (*LibSQLHistoryStore, error) {
	goose.SetBaseFS(historyMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to run history migrations: %w", err)
	}
	return &LibSQLHistoryStore{db: db}, nil
}

// AppendTurn appends one turn at the next sequence number.
func (s *LibSQLHistoryStore) AppendTurn(ctx context.Context, conversationID string, msg ports.TurnMessage) error {
	blocks, err := json.Marshal(msg.Blocks)
	if err != nil {
		return fmt.Errorf("failed to marshal turn blocks: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns WHERE conversation_id = ?`,
		conversationID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate turn sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_turns (id, conversation_id, seq, role, blocks) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, seq, string(msg.Role), string(blocks))
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	return tx.Commit()
}

// LoadHistory returns a conversation's turns in chronological order.
func (s *LibSQLHistoryStore) LoadHistory(ctx context.Context, conversationID string) ([]ports.TurnMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, blocks FROM conversation_turns WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []ports.TurnMessage
	for rows.Next() {
		var role, blocksJSON string
		if err := rows.Scan(&role, &blocksJSON); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}

		var blocks model.Blocks
		if err := json.Unmarshal([]byte(blocksJSON), &blocks); err != nil {
			return nil, fmt.Errorf("failed to decode turn blocks: %w", err)
		}
		turns = append(turns, ports.TurnMessage{Role: ports.Role(role), Blocks: blocks})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// Clear removes every stored turn of a conversation.
func (s *LibSQLHistoryStore) Clear(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE conversation_id = ?`,
		conversationID); err != nil {
		return fmt.Errorf("failed to clear conversation history: %w", err)
	}
	return nil
}

// Ensure LibSQLHistoryStore implements the HistoryStore interface.
var _ ports.HistoryStore = (*LibSQLHistoryStore)(nil)
