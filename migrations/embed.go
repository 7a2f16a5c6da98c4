package migrations

import (
	"embed"
	"io/fs"
)

// Files exposes embedded SQL migration files, one directory per dialect.
// Files inside a directory apply in lexicographical order.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

// Postgres returns the Postgres migrations rooted at their directory.
func Postgres() fs.FS { return sub("postgres") }

// SQLite returns the SQLite migrations rooted at their directory.
func SQLite() fs.FS { return sub("sqlite") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(Files, dir)
	if err != nil {
		panic(err)
	}
	return f
}
