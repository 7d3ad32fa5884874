// Package teststore provides an in-memory store.Driver for tests. It honors
// the same atomicity contract as the SQL drivers: quota decrements are a
// single update under the store lock, never read-modify-write by the caller.
package teststore

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/chainchat/chainchat/store"
)

type Driver struct {
	mu sync.Mutex

	nextChatID    int32
	nextMessageID int32
	chats         []*store.Chat
	messages      []*store.Message
	users         map[int32]*store.User
	quotas        map[int32]*store.QuotaRecord

	// Fail switches every call into an error, for fail-closed tests.
	Fail bool
}

func New() *Driver {
	return &Driver{
		users:  map[int32]*store.User{},
		quotas: map[int32]*store.QuotaRecord{},
	}
}

var errInjected = errors.New("teststore: injected failure")

// AddUser seeds a user with a quota record.
func (d *Driver) AddUser(id int32, username string, tier store.Tier, dailyRemaining int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id] = &store.User{ID: id, Username: username, CreatedTs: time.Now().Unix()}
	d.quotas[id] = &store.QuotaRecord{UserID: id, Tier: tier, DailyRemaining: dailyRemaining}
}

// Quota returns a copy of the user's quota record.
func (d *Driver) Quota(id int32) store.QuotaRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.quotas[id]
}

func (d *Driver) EnsureTables(context.Context) error { return nil }
func (d *Driver) Close() error                       { return nil }

func (d *Driver) CreateChat(_ context.Context, create *store.Chat) (*store.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return nil, errInjected
	}
	d.nextChatID++
	create.ID = d.nextChatID
	create.CreatedTs = time.Now().Unix()
	create.UpdatedTs = create.CreatedTs
	copied := *create
	d.chats = append(d.chats, &copied)
	return create, nil
}

func (d *Driver) ListChats(_ context.Context, find *store.FindChat) ([]*store.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return nil, errInjected
	}
	var out []*store.Chat
	for _, c := range d.chats {
		if find.UID != nil && c.UID != *find.UID {
			continue
		}
		if find.CreatorID != nil && c.CreatorID != *find.CreatorID {
			continue
		}
		if find.Archived != nil && c.Archived != *find.Archived {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (d *Driver) UpdateChat(_ context.Context, update *store.UpdateChat) (*store.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return nil, errInjected
	}
	for _, c := range d.chats {
		if c.UID == update.UID {
			if update.Title != nil {
				c.Title = *update.Title
			}
			if update.Archived != nil {
				c.Archived = *update.Archived
			}
			c.UpdatedTs = time.Now().Unix()
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (d *Driver) DeleteChat(_ context.Context, uid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return errInjected
	}
	for i, c := range d.chats {
		if c.UID == uid {
			chatID := c.ID
			d.chats = append(d.chats[:i], d.chats[i+1:]...)
			var kept []*store.Message
			for _, m := range d.messages {
				if m.ChatID != chatID {
					kept = append(kept, m)
				}
			}
			d.messages = kept
			return nil
		}
	}
	return nil
}

func (d *Driver) CreateMessage(_ context.Context, create *store.CreateMessage) (*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return nil, errInjected
	}
	d.nextMessageID++
	m := &store.Message{
		ID:              d.nextMessageID,
		UID:             create.UID,
		ChatID:          create.ChatID,
		Role:            create.Role,
		Content:         create.Content,
		Reasoning:       create.Reasoning,
		ToolInvocations: create.ToolInvocations,
		CreatedTs:       time.Now().Unix(),
	}
	d.messages = append(d.messages, m)
	copied := *m
	return &copied, nil
}

func (d *Driver) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return nil, errInjected
	}
	var out []*store.Message
	for _, m := range d.messages {
		if m.ChatID == find.ChatID {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (d *Driver) DeleteMessages(_ context.Context, chatID int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return errInjected
	}
	var kept []*store.Message
	for _, m := range d.messages {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	d.messages = kept
	return nil
}

func (d *Driver) GetUser(_ context.Context, find *store.FindUser) (*store.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return nil, errInjected
	}
	for _, u := range d.users {
		if find.ID != nil && u.ID != *find.ID {
			continue
		}
		if find.Username != nil && u.Username != *find.Username {
			continue
		}
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (d *Driver) GetQuota(_ context.Context, userID int32) (*store.QuotaRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return nil, errInjected
	}
	q, ok := d.quotas[userID]
	if !ok {
		return nil, nil
	}
	copied := *q
	return &copied, nil
}

func (d *Driver) DecrementQuota(_ context.Context, userID int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return errInjected
	}
	q, ok := d.quotas[userID]
	if !ok {
		return nil
	}
	q.DailyRemaining--
	q.MessageCount++
	return nil
}

func (d *Driver) ResetQuota(_ context.Context, tier store.Tier, dailyLimit int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail {
		return errInjected
	}
	for _, q := range d.quotas {
		if q.Tier == tier {
			q.DailyRemaining = dailyLimit
		}
	}
	return nil
}
