package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"shopbot/internal/session"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository keeps sessions and the message journal in Postgres.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &Repository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *Repository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *Repository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// Get loads the user's session, or the default session when none is stored.
func (r *Repository) Get(ctx context.Context, userID string) (session.Session, error) {
	const q = `
SELECT step, details, COALESCE(selected_product_id, '')
FROM chat_sessions
WHERE user_id = $1;
`
	var step string
	var details []byte
	var s session.Session
	err := r.pool.QueryRow(ctx, q, userID).Scan(&step, &details, &s.SelectedProductID)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, nil
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(s, step, details)
}

// Set upserts the user's session.
func (r *Repository) Set(ctx context.Context, userID string, s session.Session) error {
	details, err := json.Marshal(s.Details)
	if err != nil {
		return fmt.Errorf("encode session details: %w", err)
	}
	const q = `
INSERT INTO chat_sessions (user_id, step, details, selected_product_id, updated_at)
VALUES ($1, $2, $3::jsonb, NULLIF($4, ''), NOW())
ON CONFLICT (user_id) DO UPDATE SET
    step = EXCLUDED.step,
    details = EXCLUDED.details,
    selected_product_id = EXCLUDED.selected_product_id,
    updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, userID, s.Step.String(), string(details), s.SelectedProductID); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// Clear removes the stored session so the next Get yields the default.
func (r *Repository) Clear(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// InsertMessage stores a message record for auditing purposes.
func (r *Repository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	const q = `
INSERT INTO messages (id, platform, user_id, direction, message_type, content)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, q,
		msg.ID,
		msg.Platform,
		msg.UserID,
		msg.Direction,
		msg.Type,
		msg.Content,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the latest messages exchanged with the user.
func (r *Repository) ListRecentMessages(ctx context.Context, userID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id::text, platform, direction, message_type, content, created_at
FROM messages
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
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

func decodeSession(s session.Session, step string, details []byte) (session.Session, error) {
	parsed, err := session.ParseStep(step)
	if err != nil {
		return session.Session{}, fmt.Errorf("decode session: %w", err)
	}
	s.Step = parsed
	if len(details) > 0 {
		if err := json.Unmarshal(details, &s.Details); err != nil {
			return session.Session{}, fmt.Errorf("decode session details: %w", err)
		}
	}
	return s, nil
}
