package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketsync/pocketsync/db"
	"github.com/pocketsync/pocketsync/pkg/cache"
	pshttp "github.com/pocketsync/pocketsync/pkg/http"
	"github.com/pocketsync/pocketsync/pkg/http/crew"
	"github.com/pocketsync/pocketsync/pkg/http/lunchflow"
	"github.com/pocketsync/pocketsync/pkg/http/simplefin"
	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/services"
)

type stubAggregator struct {
	windows map[string]models.AccountWindow
}

func (s *stubAggregator) Kind() models.AggregatorKind { return models.AggregatorSimpleFin }

func (s *stubAggregator) FetchWindow(ctx context.Context, conn *models.SyncState, accountIDs []string, start, end time.Time) (map[string]models.AccountWindow, error) {
	return s.windows, nil
}

func newTestServer(t *testing.T, stub *stubAggregator) (http.Handler, *db.MockStore, *crew.MockLedger) {
	t.Helper()
	store := db.NewMockStore()
	ledger := crew.NewMockLedger()
	ledger.Subaccounts = []models.Subaccount{{ID: "checking-1", Name: "Checking"}}
	ledger.Balances["checking-1"] = decimal.NewFromInt(1000)

	readCache := cache.New(0)
	reconciler := services.NewReconciler(store, ledger, "Checking")
	executor := services.NewTransferExecutor(store, ledger, readCache, "Checking")
	scheduler := services.NewScheduler(store, services.NewScheduleGate(), reconciler, executor,
		map[models.AggregatorKind]pshttp.AggregatorClient{models.AggregatorSimpleFin: stub},
		services.LogNotifier{})
	onboarder := services.NewOnboarder(store, ledger, reconciler, executor, readCache,
		simplefin.NewClient(), lunchflow.NewClient("http://unused.example.com"))

	return NewServer(store, scheduler, onboarder).Router(), store, ledger
}

func seedAccount(t *testing.T, store *db.MockStore) {
	t.Helper()
	require.NoError(t, store.UpsertSyncState(&models.SyncState{
		Provider:   models.AggregatorSimpleFin,
		Credential: "https://example.com/access",
		Valid:      true,
	}))
	require.NoError(t, store.SaveTrackedAccount(&models.TrackedAccount{
		ExternalID:  "acc1",
		Provider:    models.AggregatorSimpleFin,
		Name:        "Visa",
		PocketID:    "p1",
		LastBalance: decimal.NewFromFloat(120.00),
		Batching:    models.BatchModeBatch,
	}))
}

func TestStatusEndpoint(t *testing.T) {
	router, store, _ := newTestServer(t, &stubAggregator{})
	seedAccount(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Connections []struct {
			Provider string `json:"provider"`
			Valid    bool   `json:"valid"`
		} `json:"connections"`
		Accounts []struct {
			ExternalID string `json:"externalId"`
			Name       string `json:"name"`
			Balance    string `json:"balance"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Connections, 1)
	assert.Equal(t, "simplefin", resp.Connections[0].Provider)
	assert.True(t, resp.Connections[0].Valid)
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, "acc1", resp.Accounts[0].ExternalID)
	assert.Equal(t, "120.00", resp.Accounts[0].Balance)
}

func TestSyncNowEndpoint(t *testing.T) {
	stub := &stubAggregator{windows: map[string]models.AccountWindow{
		"acc1": {
			Balance: decimal.NewFromFloat(45.00),
			Transactions: []models.NormalizedTransaction{
				{ID: "t1", Amount: decimal.NewFromFloat(45.00)},
			},
		},
	}}
	router, store, ledger := newTestServer(t, stub)
	seedAccount(t, store)
	ledger.Balances["p1"] = decimal.Zero

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/accounts/simplefin/acc1/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success         bool `json:"success"`
		NewTransactions int  `json:"newTransactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.NewTransactions)
	assert.Len(t, ledger.Transfers, 1)
}

func TestSyncNowUnknownAccount(t *testing.T) {
	router, store, _ := newTestServer(t, &stubAggregator{})
	seedAccount(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/accounts/simplefin/nope/sync", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "not tracked")
}

func TestTeardownEndpoint(t *testing.T) {
	router, store, ledger := newTestServer(t, &stubAggregator{})
	seedAccount(t, store)
	ledger.Balances["p1"] = decimal.NewFromFloat(80.00)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/accounts/simplefin/acc1/teardown", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, ledger.Transfers, 1)
	assert.Equal(t, []string{"p1"}, ledger.DeletedPockets)
	assert.Empty(t, store.Accounts)
}

func TestTransactionsEndpoint(t *testing.T) {
	router, store, _ := newTestServer(t, &stubAggregator{})
	seedAccount(t, store)
	require.NoError(t, store.InsertTransaction(&models.ExternalTransaction{
		ExternalID: "t1",
		Provider:   models.AggregatorSimpleFin,
		AccountID:  "acc1",
		Amount:     decimal.NewFromFloat(45.00),
		Pending:    false,
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts/simplefin/acc1/transactions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Transactions []struct {
			TransactionID string `json:"transactionId"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "t1", resp.Transactions[0].TransactionID)
}
