package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketsync/pocketsync/db"
	"github.com/pocketsync/pocketsync/pkg/cache"
	pshttp "github.com/pocketsync/pocketsync/pkg/http"
	"github.com/pocketsync/pocketsync/pkg/http/crew"
	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/syncerr"
)

type fakeAggregator struct {
	kind    models.AggregatorKind
	windows map[string]models.AccountWindow
	err     error

	calls   int
	lastIDs []string
}

func (f *fakeAggregator) Kind() models.AggregatorKind { return f.kind }

func (f *fakeAggregator) FetchWindow(ctx context.Context, conn *models.SyncState, accountIDs []string, start, end time.Time) (map[string]models.AccountWindow, error) {
	f.calls++
	f.lastIDs = accountIDs
	if f.err != nil {
		return nil, f.err
	}
	return f.windows, nil
}

var _ pshttp.AggregatorClient = (*fakeAggregator)(nil)

type captureNotifier struct {
	count int
	names []string
}

func (n *captureNotifier) NotifyNewTransactions(count int, accountNames []string) {
	n.count += count
	n.names = append(n.names, accountNames...)
}

func newTestScheduler(fake *fakeAggregator) (*Scheduler, *db.MockStore, *crew.MockLedger, *captureNotifier) {
	store := db.NewMockStore()
	ledger := crew.NewMockLedger()
	ledger.Subaccounts = []models.Subaccount{{ID: "checking-1", Name: "Checking"}}
	ledger.Balances["checking-1"] = decimal.NewFromInt(1000)

	reconciler := NewReconciler(store, ledger, "Checking")
	executor := NewTransferExecutor(store, ledger, cache.New(0), "Checking")
	notifier := &captureNotifier{}
	scheduler := NewScheduler(store, NewScheduleGate(), reconciler, executor,
		map[models.AggregatorKind]pshttp.AggregatorClient{fake.kind: fake}, notifier)
	return scheduler, store, ledger, notifier
}

func trackAccount(store *db.MockStore, id, pocket string) *models.TrackedAccount {
	account := &models.TrackedAccount{
		ExternalID: id,
		Provider:   models.AggregatorSimpleFin,
		Name:       id,
		PocketID:   pocket,
		Batching:   models.BatchModeBatch,
	}
	_ = store.SaveTrackedAccount(account)
	return account
}

func linkConnection(store *db.MockStore) *models.SyncState {
	state := &models.SyncState{
		Provider:   models.AggregatorSimpleFin,
		Credential: "https://example.com/access",
		Valid:      true,
	}
	_ = store.UpsertSyncState(state)
	return state
}

func TestWakeCoalescesFetchPerConnection(t *testing.T) {
	fake := &fakeAggregator{
		kind: models.AggregatorSimpleFin,
		windows: map[string]models.AccountWindow{
			"acc1": {
				Balance:      decimal.NewFromFloat(45.00),
				Transactions: []models.NormalizedTransaction{purchase("t1", 45.00, false)},
			},
			"acc2": {
				Balance:      decimal.NewFromFloat(12.00),
				Transactions: []models.NormalizedTransaction{purchase("t2", 12.00, false)},
			},
		},
	}
	scheduler, store, ledger, notifier := newTestScheduler(fake)
	linkConnection(store)
	// The purchase transfers bring the pockets to their targets, so the
	// balance safety net stays quiet.
	ledger.Balances["p1"] = decimal.Zero
	ledger.Balances["p2"] = decimal.Zero
	trackAccount(store, "acc1", "p1")
	trackAccount(store, "acc2", "p2")

	scheduler.wake(context.Background())

	// Both due accounts rode one fetch.
	assert.Equal(t, 1, fake.calls)
	assert.ElementsMatch(t, []string{"acc1", "acc2"}, fake.lastIDs)
	assert.Len(t, ledger.Transfers, 2)
	assert.Equal(t, 2, notifier.count)
	assert.ElementsMatch(t, []string{"acc1", "acc2"}, notifier.names)

	state, err := store.GetSyncState(models.AggregatorSimpleFin)
	require.NoError(t, err)
	require.NotNil(t, state.LastSync)

	// Immediately re-waking finds nothing due.
	scheduler.wake(context.Background())
	assert.Equal(t, 1, fake.calls)
}

func TestWakeSuspendsOnCredentialRejection(t *testing.T) {
	fake := &fakeAggregator{
		kind: models.AggregatorSimpleFin,
		err:  syncerr.ErrCredentialInvalid,
	}
	scheduler, store, _, _ := newTestScheduler(fake)
	linkConnection(store)
	trackAccount(store, "acc1", "p1")

	scheduler.wake(context.Background())
	assert.Equal(t, 1, fake.calls)

	state, err := store.GetSyncState(models.AggregatorSimpleFin)
	require.NoError(t, err)
	assert.False(t, state.Valid)

	// Suspended connections are not polled again.
	scheduler.wake(context.Background())
	assert.Equal(t, 1, fake.calls)
}

func TestWakeRetriesAfterTransientFailure(t *testing.T) {
	fake := &fakeAggregator{
		kind: models.AggregatorSimpleFin,
		err:  syncerr.FetchFailedStatus(502, "bad gateway"),
	}
	scheduler, store, _, _ := newTestScheduler(fake)
	linkConnection(store)
	trackAccount(store, "acc1", "p1")

	scheduler.wake(context.Background())
	assert.Equal(t, 1, fake.calls)

	state, err := store.GetSyncState(models.AggregatorSimpleFin)
	require.NoError(t, err)
	assert.True(t, state.Valid)

	// Poll markers did not advance, so the next wake retries.
	scheduler.wake(context.Background())
	assert.Equal(t, 2, fake.calls)
}

func TestWakeIsolatesAccountFailures(t *testing.T) {
	fake := &fakeAggregator{
		kind: models.AggregatorSimpleFin,
		// acc2 is missing from the response; acc1 must still process.
		windows: map[string]models.AccountWindow{
			"acc1": {
				Balance:      decimal.NewFromFloat(45.00),
				Transactions: []models.NormalizedTransaction{purchase("t1", 45.00, false)},
			},
		},
	}
	scheduler, store, ledger, _ := newTestScheduler(fake)
	linkConnection(store)
	ledger.Balances["p1"] = decimal.Zero
	ledger.Balances["p2"] = decimal.Zero
	trackAccount(store, "acc1", "p1")
	trackAccount(store, "acc2", "p2")

	scheduler.wake(context.Background())
	assert.Len(t, ledger.Transfers, 1)
	assert.True(t, ledger.Transfers[0].Amount.Equal(decimal.NewFromFloat(45.00)))
}

func TestWakeSkipsTeardownPendingAccounts(t *testing.T) {
	fake := &fakeAggregator{kind: models.AggregatorSimpleFin, windows: map[string]models.AccountWindow{}}
	scheduler, store, _, _ := newTestScheduler(fake)
	linkConnection(store)
	account := trackAccount(store, "acc1", "p1")
	account.TeardownPending = true

	scheduler.wake(context.Background())
	assert.Equal(t, 0, fake.calls)
}

func TestSyncAccountManual(t *testing.T) {
	fake := &fakeAggregator{
		kind: models.AggregatorSimpleFin,
		windows: map[string]models.AccountWindow{
			"acc1": {
				Balance:      decimal.NewFromFloat(45.00),
				Transactions: []models.NormalizedTransaction{purchase("t1", 45.00, false)},
			},
		},
	}
	scheduler, store, ledger, _ := newTestScheduler(fake)
	linkConnection(store)
	ledger.Balances["p1"] = decimal.Zero
	trackAccount(store, "acc1", "p1")

	newCount, err := scheduler.SyncAccount(context.Background(), models.AggregatorSimpleFin, "acc1")
	require.NoError(t, err)
	assert.Equal(t, 1, newCount)
	assert.Len(t, ledger.Transfers, 1)

	_, err = scheduler.SyncAccount(context.Background(), models.AggregatorSimpleFin, "nope")
	assert.Error(t, err)

	// Manual sync counts as a poll; the background gate will not re-fire.
	scheduler.wake(context.Background())
	assert.Equal(t, 1, fake.calls)
}

func TestSyncAccountRejectsTeardownPending(t *testing.T) {
	fake := &fakeAggregator{
		kind: models.AggregatorSimpleFin,
		windows: map[string]models.AccountWindow{
			"acc1": {Balance: decimal.NewFromFloat(45.00)},
		},
	}
	scheduler, store, ledger, _ := newTestScheduler(fake)
	linkConnection(store)
	// Funds already went back to checking; the pocket sits drained while the
	// external account still reports a balance.
	ledger.Balances["p1"] = decimal.Zero
	account := trackAccount(store, "acc1", "p1")
	account.TeardownPending = true

	_, err := scheduler.SyncAccount(context.Background(), models.AggregatorSimpleFin, "acc1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teardown")

	// No fetch, and nothing moved back into the half-dismantled pocket.
	assert.Equal(t, 0, fake.calls)
	assert.Empty(t, ledger.Transfers)
}

func TestSchedulerStartsOnce(t *testing.T) {
	fake := &fakeAggregator{kind: models.AggregatorSimpleFin, windows: map[string]models.AccountWindow{}}
	scheduler, _, _, _ := newTestScheduler(fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler.Start(ctx)
	first := scheduler.cron
	scheduler.Start(ctx)
	assert.Same(t, first, scheduler.cron)
	scheduler.Stop()
}
