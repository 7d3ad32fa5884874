package store

import "context"

// Driver is the narrow persistence interface the core reads and writes
// through. Implementations live under store/db.
type Driver interface {
	EnsureTables(ctx context.Context) error
	Close() error

	CreateChat(ctx context.Context, create *Chat) (*Chat, error)
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)
	UpdateChat(ctx context.Context, update *UpdateChat) (*Chat, error)
	DeleteChat(ctx context.Context, uid string) error

	CreateMessage(ctx context.Context, create *CreateMessage) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	DeleteMessages(ctx context.Context, chatID int32) error

	GetUser(ctx context.Context, find *FindUser) (*User, error)
	GetQuota(ctx context.Context, userID int32) (*QuotaRecord, error)
	DecrementQuota(ctx context.Context, userID int32) error
	ResetQuota(ctx context.Context, tier Tier, dailyLimit int32) error
}

// Store is the facade the rest of the application talks to.
type Store struct {
	driver Driver
}

func New(driver Driver) *Store {
	return &Store{driver: driver}
}

func (s *Store) EnsureTables(ctx context.Context) error {
	return s.driver.EnsureTables(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
