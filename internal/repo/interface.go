package repo

import (
	"context"
	"io/fs"

	"shopbot/internal/session"
)

// Store is a durable session backing with a conversation journal.
type Store interface {
	session.Store
	Journal

	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	ListRecentMessages(ctx context.Context, userID string, limit int) ([]MessageRecord, error)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*SQLiteRepository)(nil)
)
