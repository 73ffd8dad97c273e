package crew

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/models"
)

// Ledger defines the ledger-service operations the reconciliation engine and
// transfer executor depend on.
type Ledger interface {
	GetSubaccountBalance(ctx context.Context, id string) (decimal.Decimal, error)
	ListSubaccounts(ctx context.Context) ([]models.Subaccount, error)
	MoveMoney(ctx context.Context, fromID, toID string, amount decimal.Decimal, memo string) (string, error)
	CreateSavingsPocket(ctx context.Context, accountID, name string, target, initial decimal.Decimal, note string) (string, error)
	GetPrimaryAccountID(ctx context.Context) (string, error)
	DeleteSubaccount(ctx context.Context, id string) error
}

// Ensure Client implements Ledger
var _ Ledger = (*Client)(nil)

// Ensure MockLedger implements Ledger
var _ Ledger = (*MockLedger)(nil)
