package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/chainchat/chainchat/store"
)

func (d *DB) GetUser(ctx context.Context, find *store.FindUser) (*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "`id` = ?"), append(args, *v)
	}
	if v := find.Username; v != nil {
		where, args = append(where, "`username` = ?"), append(args, *v)
	}
	query := fmt.Sprintf(
		"SELECT id, username, UNIX_TIMESTAMP(created_ts) FROM `user` WHERE %s",
		strings.Join(where, " AND "),
	)
	u := &store.User{}
	if err := d.db.QueryRowContext(ctx, query, args...).
		Scan(&u.ID, &u.Username, &u.CreatedTs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (d *DB) GetQuota(ctx context.Context, userID int32) (*store.QuotaRecord, error) {
	q := &store.QuotaRecord{}
	err := d.db.QueryRowContext(ctx,
		"SELECT user_id, tier, daily_remaining, message_count FROM `user_quota` WHERE `user_id` = ?",
		userID,
	).Scan(&q.UserID, &q.Tier, &q.DailyRemaining, &q.MessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (d *DB) DecrementQuota(ctx context.Context, userID int32) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE `user_quota` SET `daily_remaining` = `daily_remaining` - 1, `message_count` = `message_count` + 1 WHERE `user_id` = ?",
		userID,
	)
	return err
}

func (d *DB) ResetQuota(ctx context.Context, tier store.Tier, dailyLimit int32) error {
	_, err := d.db.ExecContext(ctx,
		"UPDATE `user_quota` SET `daily_remaining` = ? WHERE `tier` = ?",
		dailyLimit, tier,
	)
	return err
}
