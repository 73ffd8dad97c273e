package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregatorKind identifies which third-party aggregator an account syncs from.
type AggregatorKind string

const (
	AggregatorLunchFlow AggregatorKind = "lunchflow"
	AggregatorSimpleFin AggregatorKind = "simplefin"
)

// BatchingMode controls how new transactions turn into pocket transfers.
type BatchingMode string

const (
	// BatchModeBatch sums all new purchases (and all new payments) into one
	// transfer per direction per poll cycle.
	BatchModeBatch BatchingMode = "batch"
	// BatchModeIndividual issues one transfer per transaction with the
	// transaction description as the memo.
	BatchModeIndividual BatchingMode = "individual"
)

// TrackedAccount is one external account being reconciled into an internal
// pocket. PocketID is empty until the pocket is created and never changes
// afterwards; stopping tracking deletes the whole record.
type TrackedAccount struct {
	ExternalID string
	Provider   AggregatorKind
	Name       string
	PocketID   string
	// LastBalance is the account's last known absolute balance as reported
	// by the aggregator.
	LastBalance decimal.Decimal
	Batching    BatchingMode
	// TeardownPending is set when a teardown returned the pocket funds but
	// failed to delete the pocket; the account is excluded from polling until
	// teardown is re-invoked.
	TeardownPending bool
	CreatedAt       time.Time
}

// HasPocket reports whether the account has completed pocket creation and is
// eligible for reconciliation.
func (a *TrackedAccount) HasPocket() bool {
	return a.PocketID != ""
}

// Subaccount is a pocket or checking sub-account inside the ledger service.
type Subaccount struct {
	ID       string
	Name     string
	Balance  decimal.Decimal
	External bool
}
