package db

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/models"
)

func (db *DB) createTrackedAccountsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS tracked_accounts (
		external_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		account_name TEXT,
		pocket_id TEXT NOT NULL DEFAULT '',
		current_balance TEXT NOT NULL DEFAULT '0',
		batching TEXT NOT NULL DEFAULT 'batch',
		teardown_pending BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (external_id, provider)
	)
	`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create tracked_accounts table: %w", err)
	}
	return nil
}

const trackedAccountColumns = `external_id, provider, account_name, pocket_id, current_balance, batching, teardown_pending, created_at`

func scanTrackedAccount(row interface{ Scan(...any) error }) (*models.TrackedAccount, error) {
	var a models.TrackedAccount
	var balance string
	err := row.Scan(
		&a.ExternalID,
		&a.Provider,
		&a.Name,
		&a.PocketID,
		&balance,
		&a.Batching,
		&a.TeardownPending,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.LastBalance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored balance %q: %w", balance, err)
	}
	return &a, nil
}

// GetTrackedAccounts retrieves all tracked accounts.
func (db *DB) GetTrackedAccounts() ([]*models.TrackedAccount, error) {
	rows, err := db.Query(`SELECT ` + trackedAccountColumns + ` FROM tracked_accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.TrackedAccount
	for rows.Next() {
		a, err := scanTrackedAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracked accounts: %w", err)
	}
	return accounts, nil
}

// GetTrackedAccount retrieves one tracked account, or nil if it isn't tracked.
func (db *DB) GetTrackedAccount(provider models.AggregatorKind, externalID string) (*models.TrackedAccount, error) {
	row := db.QueryRow(`SELECT `+trackedAccountColumns+` FROM tracked_accounts WHERE provider = ? AND external_id = ? LIMIT 1`,
		provider, externalID)

	a, err := scanTrackedAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get tracked account: %w", err)
	}
	return a, nil
}

// SaveTrackedAccount upserts a tracked account. The pocket id is preserved on
// conflict: it is set exactly once via SetPocket and never changes afterwards.
func (db *DB) SaveTrackedAccount(a *models.TrackedAccount) error {
	if a.Batching == "" {
		a.Batching = models.BatchModeBatch
	}
	query := `
	INSERT INTO tracked_accounts (external_id, provider, account_name, current_balance, batching)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(external_id, provider)
	DO UPDATE SET
		account_name = excluded.account_name,
		batching = excluded.batching
	`
	_, err := db.Exec(query, a.ExternalID, a.Provider, a.Name, a.LastBalance.String(), a.Batching)
	if err != nil {
		return fmt.Errorf("failed to save tracked account: %w", err)
	}
	return nil
}

// SetPocket attaches the created pocket to the account and records the balance
// reference captured at pocket-creation time.
func (db *DB) SetPocket(provider models.AggregatorKind, externalID, pocketID string, balance decimal.Decimal) error {
	result, err := db.Exec(`UPDATE tracked_accounts SET pocket_id = ?, current_balance = ? WHERE provider = ? AND external_id = ?`,
		pocketID, balance.String(), provider, externalID)
	if err != nil {
		return fmt.Errorf("failed to set pocket: %w", err)
	}
	return requireRowAffected(result, provider, externalID)
}

// UpdateAccountBalance records the latest absolute balance reported by the
// aggregator.
func (db *DB) UpdateAccountBalance(provider models.AggregatorKind, externalID string, balance decimal.Decimal) error {
	result, err := db.Exec(`UPDATE tracked_accounts SET current_balance = ? WHERE provider = ? AND external_id = ?`,
		balance.String(), provider, externalID)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	return requireRowAffected(result, provider, externalID)
}

// SetTeardownPending marks or clears the partial-teardown state.
func (db *DB) SetTeardownPending(provider models.AggregatorKind, externalID string, pending bool) error {
	result, err := db.Exec(`UPDATE tracked_accounts SET teardown_pending = ? WHERE provider = ? AND external_id = ?`,
		pending, provider, externalID)
	if err != nil {
		return fmt.Errorf("failed to set teardown pending: %w", err)
	}
	return requireRowAffected(result, provider, externalID)
}

// DeleteTrackedAccount removes the account and cascades to its transaction
// history.
func (db *DB) DeleteTrackedAccount(provider models.AggregatorKind, externalID string) error {
	if _, err := db.Exec(`DELETE FROM external_transactions WHERE provider = ? AND account_id = ?`, provider, externalID); err != nil {
		return fmt.Errorf("failed to delete account transactions: %w", err)
	}
	result, err := db.Exec(`DELETE FROM tracked_accounts WHERE provider = ? AND external_id = ?`, provider, externalID)
	if err != nil {
		return fmt.Errorf("failed to delete tracked account: %w", err)
	}
	return requireRowAffected(result, provider, externalID)
}

func requireRowAffected(result sql.Result, provider models.AggregatorKind, externalID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no tracked account found for %s/%s", provider, externalID)
	}
	return nil
}
