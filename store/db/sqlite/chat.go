package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainchat/chainchat/store"
)

func (d *DB) CreateChat(ctx context.Context, create *store.Chat) (*store.Chat, error) {
	stmt := `INSERT INTO chat (uid, creator_id, title)
	         VALUES (?, ?, ?)
	         RETURNING id, archived, created_ts, updated_ts`
	if err := d.db.QueryRowContext(ctx, stmt, create.UID, create.CreatorID, create.Title).
		Scan(&create.ID, &create.Archived, &create.CreatedTs, &create.UpdatedTs); err != nil {
		return nil, err
	}
	return create, nil
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.CreatorID; v != nil {
		where, args = append(where, "creator_id = ?"), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = ?"), append(args, *v)
	}
	if v := find.Archived; v != nil {
		where, args = append(where, "archived = ?"), append(args, *v)
	}
	query := fmt.Sprintf(
		`SELECT id, uid, creator_id, title, archived, created_ts, updated_ts
		 FROM chat WHERE %s ORDER BY updated_ts DESC`,
		strings.Join(where, " AND "),
	)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Chat
	for rows.Next() {
		c := &store.Chat{}
		if err := rows.Scan(&c.ID, &c.UID, &c.CreatorID, &c.Title, &c.Archived, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (d *DB) UpdateChat(ctx context.Context, update *store.UpdateChat) (*store.Chat, error) {
	set, args := []string{}, []any{}
	if v := update.Title; v != nil {
		set, args = append(set, "title = ?"), append(args, *v)
	}
	if v := update.Archived; v != nil {
		set, args = append(set, "archived = ?"), append(args, *v)
	}
	if len(set) == 0 {
		list, err := d.ListChats(ctx, &store.FindChat{UID: &update.UID})
		if err != nil || len(list) == 0 {
			return nil, err
		}
		return list[0], nil
	}
	set = append(set, "updated_ts = strftime('%s', 'now')")
	args = append(args, update.UID)
	stmt := fmt.Sprintf(
		`UPDATE chat SET %s WHERE uid = ?
		 RETURNING id, uid, creator_id, title, archived, created_ts, updated_ts`,
		strings.Join(set, ", "),
	)
	c := &store.Chat{}
	if err := d.db.QueryRowContext(ctx, stmt, args...).
		Scan(&c.ID, &c.UID, &c.CreatorID, &c.Title, &c.Archived, &c.CreatedTs, &c.UpdatedTs); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) DeleteChat(ctx context.Context, uid string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM chat WHERE uid = ?`, uid)
	return err
}

func (d *DB) CreateMessage(ctx context.Context, create *store.CreateMessage) (*store.Message, error) {
	toolCalls, err := store.MarshalInvocations(create.ToolInvocations)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO message (uid, chat_id, role, content, reasoning, tool_calls)
	         VALUES (?, ?, ?, ?, ?, ?)
	         RETURNING id, created_ts`
	m := &store.Message{
		UID:             create.UID,
		ChatID:          create.ChatID,
		Role:            create.Role,
		Content:         create.Content,
		Reasoning:       create.Reasoning,
		ToolInvocations: create.ToolInvocations,
	}
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.ChatID, create.Role, create.Content, create.Reasoning, toolCalls,
	).Scan(&m.ID, &m.CreatedTs); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	query := `SELECT id, uid, chat_id, role, content, reasoning, tool_calls, created_ts
	          FROM message WHERE chat_id = ? ORDER BY id ASC`
	rows, err := d.db.QueryContext(ctx, query, find.ChatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Message
	for rows.Next() {
		m := &store.Message{}
		var toolCalls string
		if err := rows.Scan(&m.ID, &m.UID, &m.ChatID, &m.Role, &m.Content, &m.Reasoning, &toolCalls, &m.CreatedTs); err != nil {
			return nil, err
		}
		if m.ToolInvocations, err = store.UnmarshalInvocations(toolCalls); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (d *DB) DeleteMessages(ctx context.Context, chatID int32) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE chat_id = ?`, chatID)
	return err
}
