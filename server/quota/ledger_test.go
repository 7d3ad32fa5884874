package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/chainchat/chainchat/store"
	"github.com/chainchat/chainchat/store/teststore"
)

func newLedger(t *testing.T) (*Ledger, *teststore.Driver) {
	t.Helper()
	driver := teststore.New()
	return NewLedger(store.New(driver), DefaultLimits), driver
}

func TestCheckAndAdmit(t *testing.T) {
	ctx := context.Background()
	ledger, driver := newLedger(t)
	driver.AddUser(1, "free-user", store.TierFree, 3)
	driver.AddUser(2, "free-exhausted", store.TierFree, 0)
	driver.AddUser(3, "pro-exhausted", store.TierPro, 0)

	require.NoError(t, ledger.CheckAndAdmit(ctx, 1))

	err := ledger.CheckAndAdmit(ctx, 2)
	require.ErrorIs(t, err, ErrFreeLimitReached)
	require.Contains(t, UserMessage(err), "Upgrade")

	err = ledger.CheckAndAdmit(ctx, 3)
	require.ErrorIs(t, err, ErrSystemSaturated)
	require.Contains(t, UserMessage(err), "high demand")
	require.NotContains(t, UserMessage(err), "limit")
}

func TestCheckAndAdmitNegativeRemaining(t *testing.T) {
	// Concurrent turns can drive the counter below zero; admission must still
	// deny once it is no longer positive.
	ctx := context.Background()
	ledger, driver := newLedger(t)
	driver.AddUser(1, "overdrawn", store.TierFree, -2)

	require.ErrorIs(t, ledger.CheckAndAdmit(ctx, 1), ErrFreeLimitReached)
}

func TestCheckAndAdmitFailsClosed(t *testing.T) {
	ctx := context.Background()
	ledger, driver := newLedger(t)
	driver.AddUser(1, "user", store.TierFree, 5)
	driver.Fail = true

	err := ledger.CheckAndAdmit(ctx, 1)
	require.ErrorIs(t, err, ErrQuotaUnavailable)
	require.Equal(t, "We could not verify your usage allowance. Please try again shortly.", UserMessage(err))
}

func TestCheckAndAdmitMissingRecord(t *testing.T) {
	// No quota row is a provisioning bug, not a free pass.
	ctx := context.Background()
	ledger, _ := newLedger(t)

	require.ErrorIs(t, ledger.CheckAndAdmit(ctx, 42), ErrQuotaUnavailable)
}

func TestDecrementConcurrent(t *testing.T) {
	ctx := context.Background()
	ledger, driver := newLedger(t)

	const n = 50
	driver.AddUser(1, "busy", store.TierFree, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, ledger.Decrement(ctx, 1))
		}()
	}
	wg.Wait()

	record := driver.Quota(1)
	require.EqualValues(t, 0, record.DailyRemaining)
	require.EqualValues(t, n, record.MessageCount)
}

func TestResetAll(t *testing.T) {
	ctx := context.Background()
	ledger, driver := newLedger(t)
	driver.AddUser(1, "free", store.TierFree, 0)
	driver.AddUser(2, "pro", store.TierPro, -3)

	require.NoError(t, ledger.ResetAll(ctx))

	require.EqualValues(t, DefaultLimits.Free, driver.Quota(1).DailyRemaining)
	require.EqualValues(t, DefaultLimits.Pro, driver.Quota(2).DailyRemaining)
}

func TestResetAllPropagatesError(t *testing.T) {
	ctx := context.Background()
	ledger, driver := newLedger(t)
	driver.Fail = true

	err := ledger.ResetAll(ctx)
	require.Error(t, err)
	require.Contains(t, errors.Cause(err).Error(), "injected")
}
