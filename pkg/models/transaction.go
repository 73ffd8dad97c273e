package models

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// ExternalTransaction is one transaction as last observed from an aggregator.
// (provider, account id, transaction id) is unique; amount and pending may be
// updated in place when the aggregator reports a changed value for the same id.
type ExternalTransaction struct {
	ExternalID  string          `json:"transactionId"`
	Provider    AggregatorKind  `json:"provider"`
	AccountID   string          `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"` // absolute value, >= 0
	IsPayment   bool            `json:"isPayment"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Pending     bool            `json:"isPending"`
	FirstSeen   time.Time       `json:"firstSeen"`
}

// NormalizedTransaction is a transaction as returned by an aggregator client,
// already normalized from the wire's signed amount: positive external amounts
// (money credited back to the user) become IsPayment=true.
type NormalizedTransaction struct {
	ID          string
	Amount      decimal.Decimal // absolute value
	IsPayment   bool
	Pending     bool
	Date        string
	Description string
}

// AccountWindow is one account's slice of a batched aggregator fetch: the
// account's current absolute balance plus the trailing transaction window.
type AccountWindow struct {
	Balance      decimal.Decimal
	Transactions []NormalizedTransaction
}

// TransferInstruction is a single directed money movement computed by the
// reconciler and consumed immediately by the transfer executor. Never persisted.
type TransferInstruction struct {
	FromID string
	ToID   string
	Amount decimal.Decimal // > 0
	Memo   string
}

// DisplayAmount renders a decimal dollar amount for logs and CLI output.
func DisplayAmount(d decimal.Decimal) string {
	return money.New(d.Shift(2).Round(0).IntPart(), money.USD).Display()
}
