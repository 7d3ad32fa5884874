package store

import "context"

// CreateChat creates a new conversation thread.
func (s *Store) CreateChat(ctx context.Context, create *Chat) (*Chat, error) {
	return s.driver.CreateChat(ctx, create)
}

// ListChats lists chats matching the given filter, newest activity first.
func (s *Store) ListChats(ctx context.Context, find *FindChat) ([]*Chat, error) {
	return s.driver.ListChats(ctx, find)
}

// GetChat returns the first chat matching the given filter.
func (s *Store) GetChat(ctx context.Context, find *FindChat) (*Chat, error) {
	list, err := s.driver.ListChats(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateChat updates a chat's mutable fields.
func (s *Store) UpdateChat(ctx context.Context, update *UpdateChat) (*Chat, error) {
	return s.driver.UpdateChat(ctx, update)
}

// DeleteChat deletes a chat and all its messages (cascade).
func (s *Store) DeleteChat(ctx context.Context, uid string) error {
	return s.driver.DeleteChat(ctx, uid)
}

// CreateMessage persists a new message to a chat.
func (s *Store) CreateMessage(ctx context.Context, create *CreateMessage) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

// ListMessages returns all messages for a given chat, ordered oldest first.
func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// DeleteMessages deletes all messages for the given chat.
func (s *Store) DeleteMessages(ctx context.Context, chatID int32) error {
	return s.driver.DeleteMessages(ctx, chatID)
}
