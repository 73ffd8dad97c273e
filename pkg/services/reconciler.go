package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/db"
	"github.com/pocketsync/pocketsync/pkg/http/crew"
	"github.com/pocketsync/pocketsync/pkg/models"
)

// transferThreshold suppresses noise transfers; strictly-greater comparison.
var transferThreshold = decimal.NewFromFloat(0.01)

// Reconciler classifies freshly fetched transactions against the stored rows
// for an account and turns the result into transfer instructions.
type Reconciler struct {
	store        db.Store
	ledger       crew.Ledger
	checkingName string
	now          func() time.Time
}

func NewReconciler(store db.Store, ledger crew.Ledger, checkingName string) *Reconciler {
	return &Reconciler{
		store:        store,
		ledger:       ledger,
		checkingName: checkingName,
		now:          time.Now,
	}
}

// PassOptions tunes a single reconciliation pass.
type PassOptions struct {
	// InitialSync records all transactions and the balance reference point but
	// emits no transfer instructions, so 30 days of pre-existing history does
	// not turn into one large backdated transfer.
	InitialSync bool
}

// PassResult summarizes one reconciliation pass for one account.
type PassResult struct {
	NewPurchases int
	NewPayments  int
	Posted       int
	Adjusted     int
	Instructions []models.TransferInstruction
}

// NewTransactions returns how many previously unseen transactions the pass
// stored, for notification purposes.
func (r *PassResult) NewTransactions() int {
	return r.NewPurchases + r.NewPayments
}

// Reconcile runs the classification pass for one account. Store mutations are
// committed before any instruction is returned, so a crash between persistence
// and execution leaves transactions marked seen rather than risking duplicate
// transfers on reprocessing.
func (r *Reconciler) Reconcile(ctx context.Context, account *models.TrackedAccount, window models.AccountWindow, opts PassOptions) (*PassResult, error) {
	existingRows, err := r.store.GetTransactionsForAccount(account.Provider, account.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored transactions: %w", err)
	}
	existing := make(map[string]*models.ExternalTransaction, len(existingRows))
	for _, row := range existingRows {
		existing[row.ExternalID] = row
	}

	result := &PassResult{}
	var newPurchases, newPayments []models.NormalizedTransaction
	purchaseTotal := decimal.Zero
	paymentTotal := decimal.Zero
	adjustmentDelta := decimal.Zero
	adjustmentCount := 0
	seen := make(map[string]bool, len(window.Transactions))

	for _, tx := range window.Transactions {
		if tx.ID == "" {
			continue
		}
		seen[tx.ID] = true

		row, ok := existing[tx.ID]
		if !ok {
			if err := r.store.InsertTransaction(&models.ExternalTransaction{
				ExternalID:  tx.ID,
				Provider:    account.Provider,
				AccountID:   account.ExternalID,
				Amount:      tx.Amount,
				IsPayment:   tx.IsPayment,
				Date:        tx.Date,
				Description: tx.Description,
				Pending:     tx.Pending,
				FirstSeen:   r.now(),
			}); err != nil {
				return nil, fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
			}
			if tx.IsPayment {
				result.NewPayments++
				newPayments = append(newPayments, tx)
				paymentTotal = paymentTotal.Add(tx.Amount)
			} else {
				result.NewPurchases++
				newPurchases = append(newPurchases, tx)
				purchaseTotal = purchaseTotal.Add(tx.Amount)
			}
			continue
		}

		// Deltas are in absolute-amount terms: a purchase growing from $45 to
		// $50 yields +5, meaning the pocket needs five more dollars.
		amountChanged := tx.Amount.Sub(row.Amount).Abs().GreaterThan(transferThreshold)
		justPosted := row.Pending && !tx.Pending

		switch {
		case justPosted && amountChanged:
			adjustmentDelta = adjustmentDelta.Add(tx.Amount.Sub(row.Amount))
			adjustmentCount++
			result.Posted++
			result.Adjusted++
			row.Pending = false
			row.Amount = tx.Amount
			row.Date = tx.Date
			if err := r.store.UpdateTransaction(row); err != nil {
				return nil, fmt.Errorf("failed to update transaction %s: %w", tx.ID, err)
			}
		case justPosted:
			result.Posted++
			row.Pending = false
			row.Date = tx.Date
			if err := r.store.UpdateTransaction(row); err != nil {
				return nil, fmt.Errorf("failed to update transaction %s: %w", tx.ID, err)
			}
		case amountChanged:
			adjustmentDelta = adjustmentDelta.Add(tx.Amount.Sub(row.Amount))
			adjustmentCount++
			result.Adjusted++
			row.Amount = tx.Amount
			if err := r.store.UpdateTransaction(row); err != nil {
				return nil, fmt.Errorf("failed to update transaction %s: %w", tx.ID, err)
			}
		}
		// A posted row reported pending again is left posted; status only
		// moves forward.
	}

	// A reversed pending payment whose funds already moved cannot be corrected
	// at the transaction level; the balance safety net absorbs the drift, but
	// the operator should know.
	cutoff := r.now().AddDate(0, 0, -fetchWindowDays)
	for _, row := range missingPending(existingRows, seen, cutoff) {
		log.Warn().
			Str("account", account.ExternalID).
			Str("transaction", row.ExternalID).
			Str("amount", models.DisplayAmount(row.Amount)).
			Msg("Pending transaction disappeared from the feed, possible reversal")
	}

	if opts.InitialSync || !account.HasPocket() {
		return result, nil
	}

	checkingID, err := r.checkingSubaccountID(ctx)
	if err != nil {
		return nil, err
	}

	if account.Batching == models.BatchModeIndividual {
		for _, tx := range newPurchases {
			if tx.Amount.GreaterThan(transferThreshold) {
				result.Instructions = append(result.Instructions, models.TransferInstruction{
					FromID: checkingID,
					ToID:   account.PocketID,
					Amount: tx.Amount,
					Memo:   memoOrDefault(tx.Description, "Credit Card Transaction"),
				})
			}
		}
		for _, tx := range newPayments {
			if tx.Amount.GreaterThan(transferThreshold) {
				result.Instructions = append(result.Instructions, models.TransferInstruction{
					FromID: account.PocketID,
					ToID:   checkingID,
					Amount: tx.Amount,
					Memo:   memoOrDefault(tx.Description, "Credit Card Payment"),
				})
			}
		}
	} else {
		if purchaseTotal.GreaterThan(transferThreshold) {
			result.Instructions = append(result.Instructions, models.TransferInstruction{
				FromID: checkingID,
				ToID:   account.PocketID,
				Amount: purchaseTotal,
				Memo:   fmt.Sprintf("%s: %d new transaction(s)", account.Name, result.NewPurchases),
			})
		}
		if paymentTotal.GreaterThan(transferThreshold) {
			result.Instructions = append(result.Instructions, models.TransferInstruction{
				FromID: account.PocketID,
				ToID:   checkingID,
				Amount: paymentTotal,
				Memo:   fmt.Sprintf("%s: %d payment(s)", account.Name, result.NewPayments),
			})
		}
	}

	// Amount adjustments are always aggregated, regardless of batching mode.
	if adjustmentDelta.GreaterThan(transferThreshold) {
		result.Instructions = append(result.Instructions, models.TransferInstruction{
			FromID: checkingID,
			ToID:   account.PocketID,
			Amount: adjustmentDelta,
			Memo:   fmt.Sprintf("Amount adjustment: %d transaction(s)", adjustmentCount),
		})
	} else if adjustmentDelta.LessThan(transferThreshold.Neg()) {
		result.Instructions = append(result.Instructions, models.TransferInstruction{
			FromID: account.PocketID,
			ToID:   checkingID,
			Amount: adjustmentDelta.Abs(),
			Memo:   fmt.Sprintf("Amount adjustment: %d transaction(s)", adjustmentCount),
		})
	}

	return result, nil
}

// BalanceInstruction compares the pocket's live balance against the external
// account's reported balance and returns one corrective instruction if they
// drifted apart. It is the safety net for aggregator data gaps and for
// transfers that failed after their transactions were marked seen. Callers run
// it after executing the pass instructions, never during initial sync.
func (r *Reconciler) BalanceInstruction(ctx context.Context, account *models.TrackedAccount, targetBalance decimal.Decimal) (*models.TransferInstruction, error) {
	if !account.HasPocket() {
		return nil, nil
	}
	pocketBalance, err := r.ledger.GetSubaccountBalance(ctx, account.PocketID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pocket balance: %w", err)
	}

	difference := targetBalance.Sub(pocketBalance)
	if difference.Abs().LessThanOrEqual(transferThreshold) {
		return nil, nil
	}

	checkingID, err := r.checkingSubaccountID(ctx)
	if err != nil {
		return nil, err
	}

	memo := fmt.Sprintf("%s balance sync", account.Name)
	if difference.IsPositive() {
		return &models.TransferInstruction{
			FromID: checkingID,
			ToID:   account.PocketID,
			Amount: difference,
			Memo:   memo,
		}, nil
	}
	return &models.TransferInstruction{
		FromID: account.PocketID,
		ToID:   checkingID,
		Amount: difference.Abs(),
		Memo:   memo,
	}, nil
}

// missingPending returns stored pending rows the fetched window should have
// reported but did not. Rows older than the window cutoff are not the feed's
// to report and are skipped, so a stale pending row does not re-warn on every
// poll forever.
func missingPending(rows []*models.ExternalTransaction, seen map[string]bool, cutoff time.Time) []*models.ExternalTransaction {
	var missing []*models.ExternalTransaction
	for _, row := range rows {
		if !row.Pending || seen[row.ExternalID] {
			continue
		}
		if rowTime(row).Before(cutoff) {
			continue
		}
		missing = append(missing, row)
	}
	return missing
}

// rowTime resolves a stored row's occurrence time, falling back to the
// first-seen timestamp when the aggregator's date is absent or unparseable.
func rowTime(row *models.ExternalTransaction) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, row.Date); err == nil {
			return t
		}
	}
	return row.FirstSeen
}

func (r *Reconciler) checkingSubaccountID(ctx context.Context) (string, error) {
	subaccounts, err := r.ledger.ListSubaccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list subaccounts: %w", err)
	}
	for _, sub := range subaccounts {
		if sub.Name == r.checkingName {
			return sub.ID, nil
		}
	}
	return "", fmt.Errorf("no subaccount named %q found", r.checkingName)
}

func memoOrDefault(description, fallback string) string {
	if trimmed := strings.TrimSpace(description); trimmed != "" {
		return trimmed
	}
	return fallback
}
