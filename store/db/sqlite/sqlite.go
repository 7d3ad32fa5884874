// Package sqlite implements store.Driver on modernc.org/sqlite. It is the
// default driver and the one used by local deployments.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

// New opens (or creates) the database at dsn. Foreign keys are enabled so
// message rows cascade with their chat.
func New(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			username   TEXT    NOT NULL UNIQUE,
			created_ts BIGINT  NOT NULL DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE TABLE IF NOT EXISTS user_quota (
			user_id         INTEGER PRIMARY KEY REFERENCES user(id) ON DELETE CASCADE,
			tier            TEXT    NOT NULL DEFAULT 'free',
			daily_remaining INTEGER NOT NULL DEFAULT 0,
			message_count   BIGINT  NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS chat (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			uid        TEXT    NOT NULL UNIQUE,
			creator_id INTEGER NOT NULL,
			title      TEXT    NOT NULL DEFAULT 'New Chat',
			archived   INTEGER NOT NULL DEFAULT 0,
			created_ts BIGINT  NOT NULL DEFAULT (strftime('%s', 'now')),
			updated_ts BIGINT  NOT NULL DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE TABLE IF NOT EXISTS message (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			uid        TEXT    NOT NULL,
			chat_id    INTEGER NOT NULL REFERENCES chat(id) ON DELETE CASCADE,
			role       TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			reasoning  TEXT    NOT NULL DEFAULT '',
			tool_calls TEXT    NOT NULL DEFAULT '',
			created_ts BIGINT  NOT NULL DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_chat ON message(chat_id)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "ensure tables")
		}
	}
	return nil
}
