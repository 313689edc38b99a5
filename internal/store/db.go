package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the session's conversation index in zhchat.db.
type DB struct {
	*sql.DB
}

// Open connects to the index at path. Every pooled connection gets the
// pragmas from dsn, so they hold for the lifetime of the pool.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping index %s: %w", path, err)
	}
	return &DB{db}, nil
}

// dsn builds the go-sqlite3 connection string. The index is written on
// every transcript change, so NORMAL sync under WAL is enough.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}
