// Package mysql implements store.Driver on go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) EnsureTables(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS `user` (" +
			"id INT NOT NULL AUTO_INCREMENT PRIMARY KEY, " +
			"username VARCHAR(256) NOT NULL UNIQUE, " +
			"created_ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)",
		"CREATE TABLE IF NOT EXISTS `user_quota` (" +
			"user_id INT NOT NULL PRIMARY KEY, " +
			"tier VARCHAR(32) NOT NULL DEFAULT 'free', " +
			"daily_remaining INT NOT NULL DEFAULT 0, " +
			"message_count BIGINT NOT NULL DEFAULT 0, " +
			"CONSTRAINT fk_user_quota_user FOREIGN KEY (user_id) REFERENCES `user`(id) ON DELETE CASCADE)",
		"CREATE TABLE IF NOT EXISTS `chat` (" +
			"id INT NOT NULL AUTO_INCREMENT PRIMARY KEY, " +
			"uid VARCHAR(256) NOT NULL UNIQUE, " +
			"creator_id INT NOT NULL, " +
			"title TEXT NOT NULL, " +
			"archived TINYINT(1) NOT NULL DEFAULT 0, " +
			"created_ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, " +
			"updated_ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)",
		"CREATE TABLE IF NOT EXISTS `message` (" +
			"id INT NOT NULL AUTO_INCREMENT PRIMARY KEY, " +
			"uid VARCHAR(256) NOT NULL, " +
			"chat_id INT NOT NULL, " +
			"role VARCHAR(32) NOT NULL, " +
			"content TEXT NOT NULL, " +
			"reasoning TEXT NOT NULL, " +
			"tool_calls TEXT NOT NULL, " +
			"created_ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, " +
			"CONSTRAINT fk_message_chat FOREIGN KEY (chat_id) REFERENCES chat(id) ON DELETE CASCADE)",
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "ensure tables")
		}
	}
	return nil
}
