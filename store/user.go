package store

import "context"

// Tier is a usage-limiting classification of a user.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// User is the narrow slice of the identity provider's row the core needs:
// enough to hang a quota record off and to stamp chat ownership.
type User struct {
	ID        int32
	Username  string
	CreatedTs int64
}

// QuotaRecord tracks a user's remaining daily allowance and lifetime usage.
// DailyRemaining is signed and may be read at or below zero; concurrent turns
// from the same user race the decrement, which happens at the storage layer.
type QuotaRecord struct {
	UserID         int32
	Tier           Tier
	DailyRemaining int32
	MessageCount   int64
}

// FindUser filters for GetUser.
type FindUser struct {
	ID       *int32
	Username *string
}

// GetUser returns the user matching the given filter, or nil.
func (s *Store) GetUser(ctx context.Context, find *FindUser) (*User, error) {
	return s.driver.GetUser(ctx, find)
}

// GetQuota returns the quota record for the given user, or nil if absent.
func (s *Store) GetQuota(ctx context.Context, userID int32) (*QuotaRecord, error) {
	return s.driver.GetQuota(ctx, userID)
}

// DecrementQuota atomically decrements dailyRemaining and increments
// messageCount for the given user. The arithmetic runs inside a single SQL
// UPDATE so concurrent turns cannot lose updates.
func (s *Store) DecrementQuota(ctx context.Context, userID int32) error {
	return s.driver.DecrementQuota(ctx, userID)
}

// ResetQuota sets dailyRemaining to dailyLimit for every user on the given
// tier, regardless of prior value. Idempotent within a reset period.
func (s *Store) ResetQuota(ctx context.Context, tier Tier, dailyLimit int32) error {
	return s.driver.ResetQuota(ctx, tier, dailyLimit)
}
