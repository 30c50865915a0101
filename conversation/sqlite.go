package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists conversations in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")

	dsn := path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if memory {
		dsn += sep + "_foreign_keys=on"
	} else {
		dsn += sep + "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			metadata TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func encodeMetadata(md map[string]any) (sql.NullString, error) {
	if md == nil {
		return sql.NullString{}, nil
	}
	return encodeJSON(md)
}

func encodeToolCalls(calls []ToolCallRef) (sql.NullString, error) {
	if calls == nil {
		return sql.NullString{}, nil
	}
	return encodeJSON(calls)
}

// unmarshalJSON keeps numbers as json.Number so stored values read back
// exactly as written.
func unmarshalJSON(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeMetadata(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var md map[string]any
	if err := unmarshalJSON(ns.String, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}

func (s *SQLiteStore) Create(ctx context.Context, id string) (*Conversation, error) {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at, metadata)
		VALUES (?, ?, ?, '{}')
	`, id, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) header(ctx context.Context, id string) (*Conversation, error) {
	var created, updated string
	var md sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at, updated_at, metadata FROM conversations WHERE id = ?
	`, id).Scan(&created, &updated, &md)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	c := &Conversation{ID: id}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if c.Metadata, err = decodeMetadata(md); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Conversation, error) {
	c, err := s.header(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Messages, err = s.messages(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, msg Message) error {
	toolCalls, err := encodeToolCalls(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	md, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at, metadata)
		VALUES (?, ?, ?, '{}')
	`, id, now, now); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, timestamp, tool_calls, tool_call_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, string(msg.Role), msg.Content, formatTime(msg.Timestamp), toolCalls, nullString(msg.ToolCallID), md); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLiteStore) Messages(ctx context.Context, id string) ([]Message, error) {
	if _, err := s.header(ctx, id); err != nil {
		return nil, err
	}
	return s.messages(ctx, id)
}

func (s *SQLiteStore) messages(ctx context.Context, id string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp, tool_calls, tool_call_id, metadata
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(rows *sql.Rows, extra ...any) (Message, error) {
	var (
		m          Message
		role, ts   string
		toolCalls  sql.NullString
		toolCallID sql.NullString
		md         sql.NullString
	)
	dest := append(extra, &role, &m.Content, &ts, &toolCalls, &toolCallID, &md)
	if err := rows.Scan(dest...); err != nil {
		return Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.Role = Role(role)
	m.ToolCallID = toolCallID.String

	var err error
	if m.Timestamp, err = parseTime(ts); err != nil {
		return Message{}, fmt.Errorf("parse timestamp: %w", err)
	}
	if toolCalls.Valid {
		if err := unmarshalJSON(toolCalls.String, &m.ToolCalls); err != nil {
			return Message{}, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	if m.Metadata, err = decodeMetadata(md); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Info, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.created_at, c.updated_at, c.metadata,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info             Info
			created, updated string
			md               sql.NullString
		)
		if err := rows.Scan(&info.ID, &created, &updated, &md, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if info.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if info.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		if info.Metadata, err = decodeMetadata(md); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, role, content, timestamp, tool_calls, tool_call_id, metadata
		FROM messages
		WHERE instr(content, ?) > 0
		ORDER BY timestamp DESC, seq DESC
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m, err := scanMessage(rows, &r.ConversationID)
		if err != nil {
			return nil, err
		}
		r.Message = m
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	md, err := encodeMetadata(conv.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			metadata = excluded.metadata
	`, conv.ID, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt), md); err != nil {
		return fmt.Errorf("put conversation: %w", err)
	}

	for _, msg := range conv.Messages {
		toolCalls, err := encodeToolCalls(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		mmd, err := encodeMetadata(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, role, content, timestamp, tool_calls, tool_call_id, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, conv.ID, string(msg.Role), msg.Content, formatTime(msg.Timestamp), toolCalls, nullString(msg.ToolCallID), mmd); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}
