// Package postgres implements store.Driver on lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the numbered parameter marker for position n.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (d *DB) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "user" (
			id         SERIAL PRIMARY KEY,
			username   TEXT   NOT NULL UNIQUE,
			created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
		)`,
		`CREATE TABLE IF NOT EXISTS user_quota (
			user_id         INTEGER PRIMARY KEY REFERENCES "user"(id) ON DELETE CASCADE,
			tier            TEXT    NOT NULL DEFAULT 'free',
			daily_remaining INTEGER NOT NULL DEFAULT 0,
			message_count   BIGINT  NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS chat (
			id         SERIAL  PRIMARY KEY,
			uid        TEXT    NOT NULL UNIQUE,
			creator_id INTEGER NOT NULL,
			title      TEXT    NOT NULL DEFAULT 'New Chat',
			archived   BOOLEAN NOT NULL DEFAULT FALSE,
			created_ts BIGINT  NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW()),
			updated_ts BIGINT  NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
		)`,
		`CREATE TABLE IF NOT EXISTS message (
			id         SERIAL  PRIMARY KEY,
			uid        TEXT    NOT NULL,
			chat_id    INTEGER NOT NULL REFERENCES chat(id) ON DELETE CASCADE,
			role       TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			reasoning  TEXT    NOT NULL DEFAULT '',
			tool_calls TEXT    NOT NULL DEFAULT '',
			created_ts BIGINT  NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
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
