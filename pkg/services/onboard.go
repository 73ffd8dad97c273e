package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/db"
	"github.com/pocketsync/pocketsync/pkg/cache"
	pshttp "github.com/pocketsync/pocketsync/pkg/http"
	"github.com/pocketsync/pocketsync/pkg/http/crew"
	"github.com/pocketsync/pocketsync/pkg/http/lunchflow"
	"github.com/pocketsync/pocketsync/pkg/http/simplefin"
	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/utils"
)

// Onboarder handles the account lifecycle outside of the polling loop:
// linking aggregator connections, tracking accounts, creating pockets, and
// disconnecting.
type Onboarder struct {
	store      db.Store
	ledger     crew.Ledger
	reconciler *Reconciler
	executor   *TransferExecutor
	cache      *cache.Cache
	simplefin  *simplefin.Client
	lunchflow  *lunchflow.Client
	clients    map[models.AggregatorKind]pshttp.AggregatorClient
}

func NewOnboarder(store db.Store, ledger crew.Ledger, reconciler *Reconciler,
	executor *TransferExecutor, readCache *cache.Cache,
	sfClient *simplefin.Client, lfClient *lunchflow.Client) *Onboarder {
	return &Onboarder{
		store:      store,
		ledger:     ledger,
		reconciler: reconciler,
		executor:   executor,
		cache:      readCache,
		simplefin:  sfClient,
		lunchflow:  lfClient,
		clients: map[models.AggregatorKind]pshttp.AggregatorClient{
			models.AggregatorSimpleFin: sfClient,
			models.AggregatorLunchFlow: lfClient,
		},
	}
}

// LinkSimpleFin exchanges a one-time setup token for a durable access URL and
// stores it as the connection credential.
func (o *Onboarder) LinkSimpleFin(ctx context.Context, setupToken string, schedule models.Schedule) error {
	accessURL, err := o.simplefin.ClaimToken(ctx, setupToken)
	if err != nil {
		return err
	}
	return o.store.UpsertSyncState(&models.SyncState{
		Provider:   models.AggregatorSimpleFin,
		Credential: accessURL,
		Valid:      true,
		Schedule:   schedule,
	})
}

// LinkLunchFlow validates the API key by listing accounts, then stores it as
// the connection credential.
func (o *Onboarder) LinkLunchFlow(ctx context.Context, apiKey string, schedule models.Schedule) error {
	if _, err := o.lunchflow.ListAccounts(ctx, apiKey); err != nil {
		return fmt.Errorf("api key validation failed: %w", err)
	}
	return o.store.UpsertSyncState(&models.SyncState{
		Provider:   models.AggregatorLunchFlow,
		Credential: apiKey,
		Valid:      true,
		Schedule:   schedule,
	})
}

// Disconnect removes an aggregator connection. Every tracked account under it
// is torn down first so no orphan pockets are left holding funds.
func (o *Onboarder) Disconnect(ctx context.Context, provider models.AggregatorKind) error {
	accounts, err := o.store.GetTrackedAccounts()
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if account.Provider != provider {
			continue
		}
		if err := o.executor.Teardown(ctx, account); err != nil {
			return fmt.Errorf("teardown of %s failed, connection left in place: %w", account.ExternalID, err)
		}
	}
	return o.store.DeleteSyncState(provider)
}

// TrackAccount registers an external account for reconciliation. The pocket
// is created separately via CreatePocket.
func (o *Onboarder) TrackAccount(provider models.AggregatorKind, externalID, name string, batching models.BatchingMode) error {
	state, err := o.store.GetSyncState(provider)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no %s connection is linked", provider)
	}
	if batching == "" {
		batching = models.BatchModeBatch
	}
	return o.store.SaveTrackedAccount(&models.TrackedAccount{
		ExternalID: externalID,
		Provider:   provider,
		Name:       name,
		Batching:   batching,
		CreatedAt:  time.Now(),
	})
}

// CreatePocket creates the tracking pocket for an account and runs the
// initial sync: one fetch supplies both the starting balance and the
// 30-day history, which is recorded without emitting transfers. When
// syncBalance is set the pocket is seeded with the account's current balance.
func (o *Onboarder) CreatePocket(ctx context.Context, provider models.AggregatorKind, externalID string, syncBalance bool) (string, error) {
	account, err := o.store.GetTrackedAccount(provider, externalID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", fmt.Errorf("account %s/%s is not tracked", provider, externalID)
	}
	if account.HasPocket() {
		return "", fmt.Errorf("account %s already has pocket %s", externalID, account.PocketID)
	}
	state, err := o.store.GetSyncState(provider)
	if err != nil {
		return "", err
	}
	if state == nil {
		return "", fmt.Errorf("no %s connection is linked", provider)
	}
	client, ok := o.clients[provider]
	if !ok {
		return "", fmt.Errorf("no client configured for provider %s", provider)
	}

	end := time.Now()
	windows, err := client.FetchWindow(ctx, state, []string{externalID}, end.AddDate(0, 0, -fetchWindowDays), end)
	if err != nil {
		return "", fmt.Errorf("could not fetch account data: %w", err)
	}
	window, ok := windows[externalID]
	if !ok {
		return "", fmt.Errorf("account %s missing from aggregator response", externalID)
	}

	initial := decimal.Zero
	if syncBalance {
		initial = window.Balance
	}

	primaryID, err := o.ledger.GetPrimaryAccountID(ctx)
	if err != nil {
		return "", err
	}
	pocketName := fmt.Sprintf("Credit Card - %s", utils.Capitalize(account.Name))
	pocketID, err := o.ledger.CreateSavingsPocket(ctx, primaryID, pocketName, decimal.Zero, initial,
		fmt.Sprintf("Credit card tracking pocket for %s", account.Name))
	if err != nil {
		return "", fmt.Errorf("failed to create pocket: %w", err)
	}
	o.cache.Clear()

	if err := o.store.SetPocket(provider, externalID, pocketID, window.Balance); err != nil {
		return "", err
	}
	account.PocketID = pocketID
	account.LastBalance = window.Balance

	// Record history from the same fetch; no second wire call, no transfers.
	if _, err := o.reconciler.Reconcile(ctx, account, window, PassOptions{InitialSync: true}); err != nil {
		log.Warn().Err(err).
			Str("account", externalID).
			Msg("Initial transaction sync failed, history will fill in on the next poll")
	}

	log.Info().
		Str("account", externalID).
		Str("pocket", pocketID).
		Bool("balanceSynced", syncBalance).
		Msg("Created tracking pocket")
	return pocketID, nil
}

// StopTracking tears down an account's pocket and removes it from the store.
func (o *Onboarder) StopTracking(ctx context.Context, provider models.AggregatorKind, externalID string) error {
	account, err := o.store.GetTrackedAccount(provider, externalID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s/%s is not tracked", provider, externalID)
	}
	return o.executor.Teardown(ctx, account)
}
