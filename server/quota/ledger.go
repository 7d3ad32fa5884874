// Package quota enforces per-user daily message allowances. Admission is
// checked before any generation begins; the decrement happens only after a
// turn's assistant output has been durably persisted, and runs as a single
// atomic update at the storage layer.
package quota

import (
	"context"

	"github.com/pkg/errors"

	"github.com/chainchat/chainchat/store"
)

// Denial reasons. The user-facing text differs by tier: free users are told
// about the limit, paying users are told about demand.
var (
	ErrFreeLimitReached = errors.New("You have reached your daily message limit. Upgrade to Pro for a higher allowance.")
	ErrSystemSaturated  = errors.New("We are experiencing high demand right now. Please try again in a little while.")

	// ErrQuotaUnavailable wraps storage failures during the admission check.
	// The orchestrator fails closed on it: a broken quota store must never
	// mean unlimited usage.
	ErrQuotaUnavailable = errors.New("quota: storage unavailable")
)

// UserMessage renders a denial as the text shown to the caller. Storage
// failures get a neutral message: the caller is denied, not blamed.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrFreeLimitReached):
		return ErrFreeLimitReached.Error()
	case errors.Is(err, ErrSystemSaturated):
		return ErrSystemSaturated.Error()
	default:
		return "We could not verify your usage allowance. Please try again shortly."
	}
}

// Limits is the tier-indexed daily allowance table.
type Limits struct {
	Free int32
	Pro  int32
}

// DefaultLimits matches the product defaults.
var DefaultLimits = Limits{Free: 20, Pro: 200}

func (l Limits) forTier(tier store.Tier) int32 {
	switch tier {
	case store.TierPro:
		return l.Pro
	default:
		return l.Free
	}
}

// Ledger tracks remaining-message counters per user.
type Ledger struct {
	store  *store.Store
	limits Limits
}

func NewLedger(s *store.Store, limits Limits) *Ledger {
	return &Ledger{store: s, limits: limits}
}

// CheckAndAdmit returns nil when the user may start a turn, or a typed
// denial. A missing quota row is treated as a fresh free-tier user with a
// full allowance still unconsumed only if the row can be read; read failures
// deny.
func (l *Ledger) CheckAndAdmit(ctx context.Context, userID int32) error {
	record, err := l.store.GetQuota(ctx, userID)
	if err != nil {
		return errors.Wrap(ErrQuotaUnavailable, err.Error())
	}
	if record == nil {
		return errors.Wrap(ErrQuotaUnavailable, "no quota record")
	}
	if record.DailyRemaining > 0 {
		return nil
	}
	if record.Tier == store.TierFree {
		return ErrFreeLimitReached
	}
	return ErrSystemSaturated
}

// Decrement charges one message against the user's allowance. Safe under
// concurrent turns from the same user.
func (l *Ledger) Decrement(ctx context.Context, userID int32) error {
	if err := l.store.DecrementQuota(ctx, userID); err != nil {
		return errors.Wrap(ErrQuotaUnavailable, err.Error())
	}
	return nil
}

// ResetAll restores every user's daily allowance to their tier's limit.
// Invoked by an external scheduler; idempotent within a period.
func (l *Ledger) ResetAll(ctx context.Context) error {
	for _, tier := range []store.Tier{store.TierFree, store.TierPro} {
		if err := l.store.ResetQuota(ctx, tier, l.limits.forTier(tier)); err != nil {
			return errors.Wrapf(err, "reset %s tier", tier)
		}
	}
	return nil
}
