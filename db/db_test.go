package db

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketsync/pocketsync/pkg/models"
)

func setupTestDB(t *testing.T) *DB {
	tempFile, err := os.CreateTemp("", "test-db-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tempFile.Close()
	t.Cleanup(func() {
		os.Remove(tempFile.Name())
	})

	db, err := New(tempFile.Name())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	err = db.Initialize()
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	return db
}

func TestTrackedAccountRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	account := &models.TrackedAccount{
		ExternalID: "acc1",
		Provider:   models.AggregatorSimpleFin,
		Name:       "Visa",
		Batching:   models.BatchModeIndividual,
	}
	require.NoError(t, db.SaveTrackedAccount(account))

	got, err := db.GetTrackedAccount(models.AggregatorSimpleFin, "acc1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Visa", got.Name)
	assert.Equal(t, models.BatchModeIndividual, got.Batching)
	assert.False(t, got.HasPocket())
	assert.True(t, got.LastBalance.IsZero())

	// Unknown accounts come back nil without error
	missing, err := db.GetTrackedAccount(models.AggregatorLunchFlow, "acc1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveTrackedAccountPreservesPocket(t *testing.T) {
	db := setupTestDB(t)

	account := &models.TrackedAccount{ExternalID: "acc1", Provider: models.AggregatorSimpleFin, Name: "Visa"}
	require.NoError(t, db.SaveTrackedAccount(account))
	require.NoError(t, db.SetPocket(models.AggregatorSimpleFin, "acc1", "p1", decimal.NewFromFloat(120.50)))

	// Re-saving (e.g. renaming) must not clobber the pocket or balance
	account.Name = "Visa Gold"
	require.NoError(t, db.SaveTrackedAccount(account))

	got, err := db.GetTrackedAccount(models.AggregatorSimpleFin, "acc1")
	require.NoError(t, err)
	assert.Equal(t, "Visa Gold", got.Name)
	assert.Equal(t, "p1", got.PocketID)
	assert.Equal(t, "120.5", got.LastBalance.String())
}

func TestDeleteTrackedAccountCascades(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.SaveTrackedAccount(&models.TrackedAccount{
		ExternalID: "acc1", Provider: models.AggregatorSimpleFin,
	}))
	require.NoError(t, db.InsertTransaction(&models.ExternalTransaction{
		ExternalID: "t1", Provider: models.AggregatorSimpleFin, AccountID: "acc1",
		Amount: decimal.NewFromFloat(45), Pending: false,
	}))

	require.NoError(t, db.DeleteTrackedAccount(models.AggregatorSimpleFin, "acc1"))

	txs, err := db.GetTransactionsForAccount(models.AggregatorSimpleFin, "acc1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestDeleteTrackedAccountScopedToProvider(t *testing.T) {
	db := setupTestDB(t)

	// The same external id tracked under both aggregators keeps separate
	// histories.
	for _, provider := range []models.AggregatorKind{models.AggregatorSimpleFin, models.AggregatorLunchFlow} {
		require.NoError(t, db.SaveTrackedAccount(&models.TrackedAccount{
			ExternalID: "acc1", Provider: provider,
		}))
		require.NoError(t, db.InsertTransaction(&models.ExternalTransaction{
			ExternalID: "t1", Provider: provider, AccountID: "acc1",
			Amount: decimal.NewFromFloat(45),
		}))
	}

	require.NoError(t, db.DeleteTrackedAccount(models.AggregatorSimpleFin, "acc1"))

	txs, err := db.GetTransactionsForAccount(models.AggregatorLunchFlow, "acc1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestTransactionUniqueness(t *testing.T) {
	db := setupTestDB(t)

	tx := &models.ExternalTransaction{
		ExternalID:  "t1",
		Provider:    models.AggregatorSimpleFin,
		AccountID:   "acc1",
		Amount:      decimal.NewFromFloat(45.00),
		Description: "Coffee Shop",
		Pending:     true,
	}
	require.NoError(t, db.InsertTransaction(tx))
	assert.Error(t, db.InsertTransaction(tx), "duplicate (provider, account, transaction id) must be rejected")

	// Same id under a different account is a distinct row
	other := *tx
	other.AccountID = "acc2"
	assert.NoError(t, db.InsertTransaction(&other))

	// So is the same id under a different aggregator
	crossProvider := *tx
	crossProvider.Provider = models.AggregatorLunchFlow
	assert.NoError(t, db.InsertTransaction(&crossProvider))
}

func TestUpdateTransaction(t *testing.T) {
	db := setupTestDB(t)

	tx := &models.ExternalTransaction{
		ExternalID: "t1", Provider: models.AggregatorSimpleFin, AccountID: "acc1",
		Amount: decimal.NewFromFloat(45.00), Pending: true,
	}
	require.NoError(t, db.InsertTransaction(tx))

	tx.Amount = decimal.NewFromFloat(52.00)
	tx.Pending = false
	tx.Date = "2026-08-30T10:00:00"
	require.NoError(t, db.UpdateTransaction(tx))

	txs, err := db.GetTransactionsForAccount(models.AggregatorSimpleFin, "acc1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "52", txs[0].Amount.String())
	assert.False(t, txs[0].Pending)

	missing := &models.ExternalTransaction{ExternalID: "nope", Provider: models.AggregatorSimpleFin, AccountID: "acc1", Amount: decimal.Zero}
	assert.Error(t, db.UpdateTransaction(missing))
}

func TestSyncStateRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	state := &models.SyncState{
		Provider:   models.AggregatorSimpleFin,
		Credential: "https://access.example/abc",
		Valid:      true,
		Schedule: models.Schedule{
			DailyTimes: []string{"14:00", "02:00"},
			Timezone:   "America/New_York",
			Interval:   30 * time.Minute,
		},
	}
	require.NoError(t, db.UpsertSyncState(state))

	got, err := db.GetSyncState(models.AggregatorSimpleFin)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://access.example/abc", got.Credential)
	assert.True(t, got.Valid)
	assert.Nil(t, got.LastSync)
	assert.Equal(t, []string{"14:00", "02:00"}, got.Schedule.DailyTimes)
	assert.Equal(t, "America/New_York", got.Schedule.Timezone)
	assert.Equal(t, 30*time.Minute, got.Schedule.Interval)

	missing, err := db.GetSyncState(models.AggregatorLunchFlow)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSyncStateValidityAndLastSync(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.UpsertSyncState(&models.SyncState{
		Provider: models.AggregatorSimpleFin, Credential: "url", Valid: true,
	}))

	require.NoError(t, db.SetSyncStateValid(models.AggregatorSimpleFin, false))
	now := time.Now().Truncate(time.Second)
	require.NoError(t, db.UpdateLastSync(models.AggregatorSimpleFin, now))

	got, err := db.GetSyncState(models.AggregatorSimpleFin)
	require.NoError(t, err)
	assert.False(t, got.Valid)
	require.NotNil(t, got.LastSync)
	assert.True(t, got.LastSync.Equal(now))
}

func TestDeleteSyncStateCascades(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.UpsertSyncState(&models.SyncState{
		Provider: models.AggregatorSimpleFin, Credential: "url", Valid: true,
	}))
	require.NoError(t, db.SaveTrackedAccount(&models.TrackedAccount{
		ExternalID: "acc1", Provider: models.AggregatorSimpleFin,
	}))
	require.NoError(t, db.InsertTransaction(&models.ExternalTransaction{
		ExternalID: "t1", Provider: models.AggregatorSimpleFin, AccountID: "acc1", Amount: decimal.NewFromFloat(10),
	}))

	require.NoError(t, db.DeleteSyncState(models.AggregatorSimpleFin))

	accounts, err := db.GetTrackedAccounts()
	require.NoError(t, err)
	assert.Empty(t, accounts)
	txs, err := db.GetTransactionsForAccount(models.AggregatorSimpleFin, "acc1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestTeardownPendingMarker(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.SaveTrackedAccount(&models.TrackedAccount{
		ExternalID: "acc1", Provider: models.AggregatorLunchFlow,
	}))
	require.NoError(t, db.SetTeardownPending(models.AggregatorLunchFlow, "acc1", true))

	got, err := db.GetTrackedAccount(models.AggregatorLunchFlow, "acc1")
	require.NoError(t, err)
	assert.True(t, got.TeardownPending)
}
