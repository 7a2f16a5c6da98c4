package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shopbot/internal/session"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRepository keeps sessions and the message journal in a local SQLite file.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a new connection to the SQLite database. ":memory:" opens a
// private in-memory database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteRepository, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	if dir := sqliteDir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir %s: %w", dir, err)
		}
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// Close releases the database connection.
// sqliteDir is the directory holding the database file, or "" when there is
// nothing to create (in-memory databases, files in the working directory).
func sqliteDir(path string) string {
	name := strings.TrimPrefix(path, "file:")
	name, query, _ := strings.Cut(name, "?")
	if name == "" || strings.HasPrefix(name, ":memory:") || strings.Contains(query, "mode=memory") {
		return ""
	}
	dir := filepath.Dir(name)
	if dir == "." {
		return ""
	}
	return dir
}

func (r *SQLiteRepository) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *SQLiteRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applySQLiteMigrations(ctx, r.db, filesystem)
}

func (r *SQLiteRepository) Get(ctx context.Context, userID string) (session.Session, error) {
	const q = `
SELECT step, details, COALESCE(selected_product_id, '')
FROM chat_sessions
WHERE user_id = ?;
`
	var step, details string
	var s session.Session
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&step, &details, &s.SelectedProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, nil
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(s, step, []byte(details))
}

func (r *SQLiteRepository) Set(ctx context.Context, userID string, s session.Session) error {
	details, err := json.Marshal(s.Details)
	if err != nil {
		return fmt.Errorf("encode session details: %w", err)
	}
	const q = `
INSERT INTO chat_sessions (user_id, step, details, selected_product_id, updated_at)
VALUES (?, ?, ?, NULLIF(?, ''), CURRENT_TIMESTAMP)
ON CONFLICT (user_id) DO UPDATE SET
    step = excluded.step,
    details = excluded.details,
    selected_product_id = excluded.selected_product_id,
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := r.db.ExecContext(ctx, q, userID, s.Step.String(), string(details), s.SelectedProductID); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// InsertMessage stores a message record. CreatedAt defaults to now.
func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO messages (id, platform, user_id, direction, message_type, content, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q,
		msg.ID,
		msg.Platform,
		msg.UserID,
		msg.Direction,
		msg.Type,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRecentMessages(ctx context.Context, userID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, platform, direction, message_type, content, created_at
FROM messages
WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var msg MessageRecord
		if err := rows.Scan(&msg.ID, &msg.Platform, &msg.Direction, &msg.Type, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		msg.UserID = userID
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}
