package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pocketsync/pocketsync/db"
	"github.com/pocketsync/pocketsync/pkg/cache"
	"github.com/pocketsync/pocketsync/pkg/http/crew"
	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/syncerr"
)

// TransferExecutor applies transfer instructions against the ledger service.
// It never retries; a failed transfer is surfaced and the balance safety net
// corrects any resulting drift on the next cycle.
type TransferExecutor struct {
	store        db.Store
	ledger       crew.Ledger
	cache        *cache.Cache
	checkingName string
}

func NewTransferExecutor(store db.Store, ledger crew.Ledger, readCache *cache.Cache, checkingName string) *TransferExecutor {
	return &TransferExecutor{
		store:        store,
		ledger:       ledger,
		cache:        readCache,
		checkingName: checkingName,
	}
}

// Execute applies one instruction. On success the shared read cache is
// cleared so subsequent balance reads observe the movement.
func (e *TransferExecutor) Execute(ctx context.Context, instruction models.TransferInstruction) error {
	transferID, err := e.ledger.MoveMoney(ctx, instruction.FromID, instruction.ToID, instruction.Amount, instruction.Memo)
	if err != nil {
		return err
	}
	e.cache.Clear()
	log.Info().
		Str("transferId", transferID).
		Str("amount", models.DisplayAmount(instruction.Amount)).
		Str("memo", instruction.Memo).
		Msg("Transfer executed")
	return nil
}

// ExecuteAll applies every instruction, continuing past failures so one
// rejected transfer does not starve the rest. All failures are joined into
// the returned error.
func (e *TransferExecutor) ExecuteAll(ctx context.Context, instructions []models.TransferInstruction) error {
	var errs []error
	for _, instruction := range instructions {
		if err := e.Execute(ctx, instruction); err != nil {
			log.Error().Err(err).
				Str("amount", models.DisplayAmount(instruction.Amount)).
				Str("memo", instruction.Memo).
				Msg("Transfer failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Teardown dismantles an account's pocket on disconnect: return any remaining
// funds to checking, delete the pocket, then delete the stored account and its
// transaction history. When pocket deletion fails after funds were already
// returned, the account is marked teardown-pending and the caller must
// re-invoke teardown; the fund return is never rolled back.
func (e *TransferExecutor) Teardown(ctx context.Context, account *models.TrackedAccount) error {
	if account.HasPocket() {
		balance, err := e.ledger.GetSubaccountBalance(ctx, account.PocketID)
		if err != nil {
			return fmt.Errorf("failed to read pocket balance for teardown: %w", err)
		}

		if balance.GreaterThan(transferThreshold) {
			checkingID, err := e.checkingSubaccountID(ctx)
			if err != nil {
				return err
			}
			if _, err := e.ledger.MoveMoney(ctx, account.PocketID, checkingID, balance,
				fmt.Sprintf("Returning funds from %s", account.Name)); err != nil {
				return fmt.Errorf("failed to return pocket funds: %w", err)
			}
			e.cache.Clear()
			log.Info().
				Str("account", account.ExternalID).
				Str("amount", models.DisplayAmount(balance)).
				Msg("Returned pocket funds to checking")
		}

		if err := e.ledger.DeleteSubaccount(ctx, account.PocketID); err != nil {
			if markErr := e.store.SetTeardownPending(account.Provider, account.ExternalID, true); markErr != nil {
				log.Error().Err(markErr).
					Str("account", account.ExternalID).
					Msg("Failed to mark account teardown-pending")
			}
			log.Warn().Err(err).
				Str("account", account.ExternalID).
				Str("pocket", account.PocketID).
				Msg("Pocket funds were returned but pocket deletion failed, re-invoke teardown")
			return fmt.Errorf("%w: %w", syncerr.ErrPartialTeardown, err)
		}
		e.cache.Clear()
	}

	if err := e.store.DeleteTrackedAccount(account.Provider, account.ExternalID); err != nil {
		return fmt.Errorf("failed to delete tracked account: %w", err)
	}
	log.Info().
		Str("account", account.ExternalID).
		Str("provider", string(account.Provider)).
		Msg("Stopped tracking account")
	return nil
}

func (e *TransferExecutor) checkingSubaccountID(ctx context.Context) (string, error) {
	subaccounts, err := e.ledger.ListSubaccounts(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list subaccounts: %w", err)
	}
	for _, sub := range subaccounts {
		if sub.Name == e.checkingName {
			return sub.ID, nil
		}
	}
	return "", fmt.Errorf("no subaccount named %q found", e.checkingName)
}
