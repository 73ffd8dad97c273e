package db

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/models"
)

func (db *DB) createTransactionsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS external_transactions (
		transaction_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_payment BOOLEAN NOT NULL DEFAULT 0,
		date TEXT,
		description TEXT,
		is_pending BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (transaction_id, provider, account_id)
	)
	`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create external_transactions table: %w", err)
	}
	return nil
}

// GetTransactionsForAccount retrieves every transaction ever seen for an
// account under one aggregator, most recent first.
func (db *DB) GetTransactionsForAccount(provider models.AggregatorKind, accountID string) ([]*models.ExternalTransaction, error) {
	query := `
	SELECT transaction_id, provider, account_id, amount, is_payment, date, description, is_pending, created_at
	FROM external_transactions
	WHERE provider = ? AND account_id = ?
	ORDER BY date DESC, created_at DESC
	`
	rows, err := db.Query(query, provider, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.ExternalTransaction
	for rows.Next() {
		var tx models.ExternalTransaction
		var amount string
		err := rows.Scan(
			&tx.ExternalID,
			&tx.Provider,
			&tx.AccountID,
			&amount,
			&tx.IsPayment,
			&tx.Date,
			&tx.Description,
			&tx.Pending,
			&tx.FirstSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored amount %q: %w", amount, err)
		}
		transactions = append(transactions, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// InsertTransaction records a transaction on first sight. The (transaction id,
// provider, account id) triple is unique; inserting a duplicate is an error.
func (db *DB) InsertTransaction(tx *models.ExternalTransaction) error {
	query := `
	INSERT INTO external_transactions (transaction_id, provider, account_id, amount, is_payment, date, description, is_pending)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query,
		tx.ExternalID, tx.Provider, tx.AccountID, tx.Amount.String(), tx.IsPayment, tx.Date, tx.Description, tx.Pending)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// UpdateTransaction mutates the stored amount, pending flag, and date for a
// previously seen transaction.
func (db *DB) UpdateTransaction(tx *models.ExternalTransaction) error {
	query := `
	UPDATE external_transactions
	SET amount = ?, is_pending = ?, date = ?
	WHERE transaction_id = ? AND provider = ? AND account_id = ?
	`
	result, err := db.Exec(query, tx.Amount.String(), tx.Pending, tx.Date, tx.ExternalID, tx.Provider, tx.AccountID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no transaction found with id: %s", tx.ExternalID)
	}
	return nil
}
