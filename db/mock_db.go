package db

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/models"
)

func accountKey(provider models.AggregatorKind, externalID string) string {
	return string(provider) + "/" + externalID
}

func txKey(provider models.AggregatorKind, accountID, externalID string) string {
	return string(provider) + "/" + accountID + "/" + externalID
}

// MockStore is an in-memory implementation of Store for testing
type MockStore struct {
	// Mock data storage
	Accounts     map[string]*models.TrackedAccount
	Transactions map[string]*models.ExternalTransaction
	SyncStates   map[models.AggregatorKind]*models.SyncState

	// Error values to return
	GetTrackedAccountsErr error
	InsertTransactionErr  error
	UpdateTransactionErr  error
	GetTransactionsErr    error
	GetSyncStateErr       error
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		Accounts:     make(map[string]*models.TrackedAccount),
		Transactions: make(map[string]*models.ExternalTransaction),
		SyncStates:   make(map[models.AggregatorKind]*models.SyncState),
	}
}

func (m *MockStore) Initialize() error { return nil }
func (m *MockStore) Close() error      { return nil }

func (m *MockStore) GetTrackedAccounts() ([]*models.TrackedAccount, error) {
	if m.GetTrackedAccountsErr != nil {
		return nil, m.GetTrackedAccountsErr
	}
	accounts := make([]*models.TrackedAccount, 0, len(m.Accounts))
	for _, a := range m.Accounts {
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (m *MockStore) GetTrackedAccount(provider models.AggregatorKind, externalID string) (*models.TrackedAccount, error) {
	a, ok := m.Accounts[accountKey(provider, externalID)]
	if !ok {
		return nil, nil
	}
	return a, nil
}

func (m *MockStore) SaveTrackedAccount(a *models.TrackedAccount) error {
	if a.Batching == "" {
		a.Batching = models.BatchModeBatch
	}
	key := accountKey(a.Provider, a.ExternalID)
	if existing, ok := m.Accounts[key]; ok {
		existing.Name = a.Name
		existing.Batching = a.Batching
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.Accounts[key] = a
	return nil
}

func (m *MockStore) SetPocket(provider models.AggregatorKind, externalID, pocketID string, balance decimal.Decimal) error {
	a, ok := m.Accounts[accountKey(provider, externalID)]
	if !ok {
		return fmt.Errorf("no tracked account found for %s/%s", provider, externalID)
	}
	a.PocketID = pocketID
	a.LastBalance = balance
	return nil
}

func (m *MockStore) UpdateAccountBalance(provider models.AggregatorKind, externalID string, balance decimal.Decimal) error {
	a, ok := m.Accounts[accountKey(provider, externalID)]
	if !ok {
		return fmt.Errorf("no tracked account found for %s/%s", provider, externalID)
	}
	a.LastBalance = balance
	return nil
}

func (m *MockStore) SetTeardownPending(provider models.AggregatorKind, externalID string, pending bool) error {
	a, ok := m.Accounts[accountKey(provider, externalID)]
	if !ok {
		return fmt.Errorf("no tracked account found for %s/%s", provider, externalID)
	}
	a.TeardownPending = pending
	return nil
}

func (m *MockStore) DeleteTrackedAccount(provider models.AggregatorKind, externalID string) error {
	key := accountKey(provider, externalID)
	if _, ok := m.Accounts[key]; !ok {
		return fmt.Errorf("no tracked account found for %s/%s", provider, externalID)
	}
	delete(m.Accounts, key)
	for k, tx := range m.Transactions {
		if tx.Provider == provider && tx.AccountID == externalID {
			delete(m.Transactions, k)
		}
	}
	return nil
}

func (m *MockStore) GetTransactionsForAccount(provider models.AggregatorKind, accountID string) ([]*models.ExternalTransaction, error) {
	if m.GetTransactionsErr != nil {
		return nil, m.GetTransactionsErr
	}
	var transactions []*models.ExternalTransaction
	for _, tx := range m.Transactions {
		if tx.Provider == provider && tx.AccountID == accountID {
			transactions = append(transactions, tx)
		}
	}
	return transactions, nil
}

func (m *MockStore) InsertTransaction(tx *models.ExternalTransaction) error {
	if m.InsertTransactionErr != nil {
		return m.InsertTransactionErr
	}
	key := txKey(tx.Provider, tx.AccountID, tx.ExternalID)
	if _, ok := m.Transactions[key]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ExternalID)
	}
	if tx.FirstSeen.IsZero() {
		tx.FirstSeen = time.Now()
	}
	copied := *tx
	m.Transactions[key] = &copied
	return nil
}

func (m *MockStore) UpdateTransaction(tx *models.ExternalTransaction) error {
	if m.UpdateTransactionErr != nil {
		return m.UpdateTransactionErr
	}
	key := txKey(tx.Provider, tx.AccountID, tx.ExternalID)
	if _, ok := m.Transactions[key]; !ok {
		return fmt.Errorf("no transaction found with id: %s", tx.ExternalID)
	}
	copied := *tx
	m.Transactions[key] = &copied
	return nil
}

func (m *MockStore) GetSyncState(provider models.AggregatorKind) (*models.SyncState, error) {
	if m.GetSyncStateErr != nil {
		return nil, m.GetSyncStateErr
	}
	state, ok := m.SyncStates[provider]
	if !ok {
		return nil, nil
	}
	return state, nil
}

func (m *MockStore) UpsertSyncState(state *models.SyncState) error {
	m.SyncStates[state.Provider] = state
	return nil
}

func (m *MockStore) SetSyncStateValid(provider models.AggregatorKind, valid bool) error {
	if state, ok := m.SyncStates[provider]; ok {
		state.Valid = valid
	}
	return nil
}

func (m *MockStore) UpdateLastSync(provider models.AggregatorKind, t time.Time) error {
	if state, ok := m.SyncStates[provider]; ok {
		state.LastSync = &t
	}
	return nil
}

func (m *MockStore) DeleteSyncState(provider models.AggregatorKind) error {
	delete(m.SyncStates, provider)
	for k, a := range m.Accounts {
		if a.Provider == provider {
			for tk, tx := range m.Transactions {
				if tx.Provider == provider && tx.AccountID == a.ExternalID {
					delete(m.Transactions, tk)
				}
			}
			delete(m.Accounts, k)
		}
	}
	return nil
}
