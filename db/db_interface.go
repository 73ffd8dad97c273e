package db

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/models"
)

// Store defines the interface for database operations
type Store interface {
	Initialize() error
	Close() error

	GetTrackedAccounts() ([]*models.TrackedAccount, error)
	GetTrackedAccount(provider models.AggregatorKind, externalID string) (*models.TrackedAccount, error)
	SaveTrackedAccount(a *models.TrackedAccount) error
	SetPocket(provider models.AggregatorKind, externalID, pocketID string, balance decimal.Decimal) error
	UpdateAccountBalance(provider models.AggregatorKind, externalID string, balance decimal.Decimal) error
	SetTeardownPending(provider models.AggregatorKind, externalID string, pending bool) error
	DeleteTrackedAccount(provider models.AggregatorKind, externalID string) error

	GetTransactionsForAccount(provider models.AggregatorKind, accountID string) ([]*models.ExternalTransaction, error)
	InsertTransaction(tx *models.ExternalTransaction) error
	UpdateTransaction(tx *models.ExternalTransaction) error

	GetSyncState(provider models.AggregatorKind) (*models.SyncState, error)
	UpsertSyncState(state *models.SyncState) error
	SetSyncStateValid(provider models.AggregatorKind, valid bool) error
	UpdateLastSync(provider models.AggregatorKind, t time.Time) error
	DeleteSyncState(provider models.AggregatorKind) error
}

// Ensure DB implements Store
var _ Store = (*DB)(nil)

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
