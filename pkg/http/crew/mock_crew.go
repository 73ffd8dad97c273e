package crew

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/models"
)

// ExecutedTransfer records one MoveMoney call made against the mock.
type ExecutedTransfer struct {
	FromID string
	ToID   string
	Amount decimal.Decimal
	Memo   string
}

// MockLedger is a mock implementation of the Ledger for testing
type MockLedger struct {
	// Mock data
	Balances    map[string]decimal.Decimal
	Subaccounts []models.Subaccount
	PrimaryID   string

	// Records of calls
	Transfers      []ExecutedTransfer
	CreatedPockets []string
	DeletedPockets []string

	// Error values to return
	GetBalanceErr   error
	ListErr         error
	MoveMoneyErr    error
	CreatePocketErr error
	DeleteErr       error
}

// NewMockLedger creates a new mock ledger client
func NewMockLedger() *MockLedger {
	return &MockLedger{
		Balances:  make(map[string]decimal.Decimal),
		PrimaryID: "primary-1",
	}
}

func (m *MockLedger) GetSubaccountBalance(ctx context.Context, id string) (decimal.Decimal, error) {
	if m.GetBalanceErr != nil {
		return decimal.Zero, m.GetBalanceErr
	}
	balance, ok := m.Balances[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("subaccount %s not found", id)
	}
	return balance, nil
}

func (m *MockLedger) ListSubaccounts(ctx context.Context) ([]models.Subaccount, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Subaccounts, nil
}

// MoveMoney records the transfer and applies it to the mock balances so
// follow-up reads observe the movement.
func (m *MockLedger) MoveMoney(ctx context.Context, fromID, toID string, amount decimal.Decimal, memo string) (string, error) {
	if m.MoveMoneyErr != nil {
		return "", m.MoveMoneyErr
	}
	m.Transfers = append(m.Transfers, ExecutedTransfer{FromID: fromID, ToID: toID, Amount: amount, Memo: memo})
	if balance, ok := m.Balances[fromID]; ok {
		m.Balances[fromID] = balance.Sub(amount)
	}
	if balance, ok := m.Balances[toID]; ok {
		m.Balances[toID] = balance.Add(amount)
	}
	return fmt.Sprintf("transfer-%d", len(m.Transfers)), nil
}

func (m *MockLedger) CreateSavingsPocket(ctx context.Context, accountID, name string, target, initial decimal.Decimal, note string) (string, error) {
	if m.CreatePocketErr != nil {
		return "", m.CreatePocketErr
	}
	id := fmt.Sprintf("pocket-%d", len(m.CreatedPockets)+1)
	m.CreatedPockets = append(m.CreatedPockets, id)
	m.Balances[id] = initial
	return id, nil
}

func (m *MockLedger) GetPrimaryAccountID(ctx context.Context) (string, error) {
	return m.PrimaryID, nil
}

func (m *MockLedger) DeleteSubaccount(ctx context.Context, id string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.DeletedPockets = append(m.DeletedPockets, id)
	delete(m.Balances, id)
	return nil
}
