package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/pocketsync/pocketsync/db"
	pshttp "github.com/pocketsync/pocketsync/pkg/http"
	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/syncerr"
)

const (
	// wakeSpec is how often the loop re-evaluates the schedule gate.
	wakeSpec = "@every 30s"
	// fetchWindowDays is the trailing transaction window requested from
	// aggregators on every poll.
	fetchWindowDays = 30
)

// Scheduler drives all background reconciliation. It wakes on a short fixed
// interval, asks the gate which accounts are due, coalesces due accounts into
// one fetch per connection, and runs the reconcile-then-transfer pipeline per
// account with failures isolated to the account that raised them.
type Scheduler struct {
	store      db.Store
	gate       *ScheduleGate
	reconciler *Reconciler
	executor   *TransferExecutor
	clients    map[models.AggregatorKind]pshttp.AggregatorClient
	notifier   Notifier

	cron    *cron.Cron
	started atomic.Bool

	// lastPoll is the in-memory poll marker per account, seeded from the
	// persisted connection last-sync on startup so restarts don't re-fire.
	mu       sync.Mutex
	lastPoll map[string]time.Time

	// accountLocks serializes passes per account; the background loop and a
	// manual sync-now must never reconcile the same account concurrently.
	lockMu       sync.Mutex
	accountLocks map[string]*sync.Mutex
}

func NewScheduler(store db.Store, gate *ScheduleGate, reconciler *Reconciler,
	executor *TransferExecutor, clients map[models.AggregatorKind]pshttp.AggregatorClient,
	notifier Notifier) *Scheduler {
	return &Scheduler{
		store:        store,
		gate:         gate,
		reconciler:   reconciler,
		executor:     executor,
		clients:      clients,
		notifier:     notifier,
		lastPoll:     make(map[string]time.Time),
		accountLocks: make(map[string]*sync.Mutex),
	}
}

// Start launches the wake loop. It is safe to call from racing initializers;
// only the first call starts anything.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	s.seedLastPoll()

	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(wakeSpec, func() { s.wake(ctx) }); err != nil {
		// The spec string is a constant; this only fires on a programming error.
		panic(fmt.Sprintf("invalid wake spec %q: %v", wakeSpec, err))
	}
	s.cron.Start()
	log.Info().Str("interval", wakeSpec).Msg("Reconciliation scheduler started")
}

// Stop halts the wake loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// seedLastPoll primes the in-memory poll markers from each connection's
// persisted last-sync timestamp.
func (s *Scheduler) seedLastPoll() {
	accounts, err := s.store.GetTrackedAccounts()
	if err != nil {
		log.Warn().Err(err).Msg("Could not seed poll markers, accounts may re-fire immediately")
		return
	}
	for _, provider := range lo.Uniq(lo.Map(accounts, func(a *models.TrackedAccount, _ int) models.AggregatorKind {
		return a.Provider
	})) {
		state, err := s.store.GetSyncState(provider)
		if err != nil || state == nil || state.LastSync == nil {
			continue
		}
		for _, account := range accounts {
			if account.Provider == provider {
				s.recordPoll(account, *state.LastSync)
			}
		}
	}
}

// wake runs one scheduler cycle.
func (s *Scheduler) wake(ctx context.Context) {
	accounts, err := s.store.GetTrackedAccounts()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load tracked accounts")
		return
	}

	// Accounts mid-teardown stay out of the pipeline until teardown completes.
	accounts = lo.Filter(accounts, func(a *models.TrackedAccount, _ int) bool {
		return !a.TeardownPending
	})

	byProvider := lo.GroupBy(accounts, func(a *models.TrackedAccount) models.AggregatorKind {
		return a.Provider
	})

	totalNew := 0
	var notifyNames []string
	for provider, providerAccounts := range byProvider {
		newCount, names := s.syncProvider(ctx, provider, providerAccounts)
		totalNew += newCount
		notifyNames = append(notifyNames, names...)
	}

	if totalNew > 0 {
		s.notifier.NotifyNewTransactions(totalNew, lo.Uniq(notifyNames))
	}
}

// syncProvider polls one connection's due accounts with a single coalesced
// fetch. Returns the number of new transactions stored and the names of the
// accounts they belong to.
func (s *Scheduler) syncProvider(ctx context.Context, provider models.AggregatorKind, accounts []*models.TrackedAccount) (int, []string) {
	state, err := s.store.GetSyncState(provider)
	if err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("Failed to load sync state")
		return 0, nil
	}
	if state == nil {
		return 0, nil
	}
	if !state.Valid {
		log.Debug().Str("provider", string(provider)).Msg("Connection credential invalid, skipping")
		return 0, nil
	}

	due := lo.Filter(accounts, func(a *models.TrackedAccount, _ int) bool {
		isDue, reason := s.gate.IsDue(state, s.pollTime(a))
		if isDue {
			log.Debug().Str("account", a.ExternalID).Str("reason", reason).Msg("Account due for sync")
		}
		return isDue
	})
	if len(due) == 0 {
		return 0, nil
	}

	client, ok := s.clients[provider]
	if !ok {
		log.Error().Str("provider", string(provider)).Msg("No client configured for provider")
		return 0, nil
	}

	start, end := s.fetchBounds(state)
	ids := lo.Map(due, func(a *models.TrackedAccount, _ int) string { return a.ExternalID })
	windows, err := client.FetchWindow(ctx, state, ids, start, end)
	if err != nil {
		if errors.Is(err, syncerr.ErrCredentialInvalid) {
			log.Error().Err(err).Str("provider", string(provider)).
				Msg("Credential rejected, suspending connection until re-linked")
			if markErr := s.store.SetSyncStateValid(provider, false); markErr != nil {
				log.Error().Err(markErr).Str("provider", string(provider)).Msg("Failed to mark connection invalid")
			}
			return 0, nil
		}
		// Transient failure: skip the cycle without advancing poll markers so
		// interval-mode accounts retry on the next wake.
		log.Warn().Err(err).Str("provider", string(provider)).Msg("Fetch failed, will retry next wake")
		return 0, nil
	}

	totalNew := 0
	var names []string
	for _, account := range due {
		window, ok := windows[account.ExternalID]
		if !ok {
			log.Warn().Str("account", account.ExternalID).Msg("Account missing from fetch response")
			s.recordPoll(account, time.Now())
			continue
		}
		newCount, err := s.syncOne(ctx, account, window)
		if err != nil {
			// One account's failure never aborts its siblings.
			log.Error().Err(err).Str("account", account.ExternalID).Msg("Account sync failed")
		}
		if newCount > 0 {
			totalNew += newCount
			names = append(names, account.Name)
		}
		s.recordPoll(account, time.Now())
	}

	if err := s.store.UpdateLastSync(provider, time.Now()); err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("Failed to persist last sync")
	}
	return totalNew, names
}

// syncOne runs the reconcile-then-transfer pipeline for one account under its
// per-account lock. Transfer failures are logged but do not fail the pass;
// the stored rows stay committed and the balance safety net covers the drift.
func (s *Scheduler) syncOne(ctx context.Context, account *models.TrackedAccount, window models.AccountWindow) (int, error) {
	lock := s.accountLock(account)
	lock.Lock()
	defer lock.Unlock()

	result, err := s.reconciler.Reconcile(ctx, account, window, PassOptions{})
	if err != nil {
		return 0, err
	}

	if err := s.executor.ExecuteAll(ctx, result.Instructions); err != nil {
		log.Error().Err(err).Str("account", account.ExternalID).Msg("Some transfers failed, balance sync will correct")
	}

	// The safety net runs after the pass instructions so it sees their effect
	// on the pocket balance.
	if account.HasPocket() {
		instruction, err := s.reconciler.BalanceInstruction(ctx, account, window.Balance)
		if err != nil {
			log.Error().Err(err).Str("account", account.ExternalID).Msg("Balance reconciliation failed")
		} else if instruction != nil {
			if err := s.executor.Execute(ctx, *instruction); err != nil {
				log.Error().Err(err).Str("account", account.ExternalID).Msg("Balance sync transfer failed")
			}
		}
	}

	if err := s.store.UpdateAccountBalance(account.Provider, account.ExternalID, window.Balance); err != nil {
		log.Error().Err(err).Str("account", account.ExternalID).Msg("Failed to persist account balance")
	}

	return result.NewTransactions(), nil
}

// SyncAccount is the foreground sync-now path. It shares the per-account
// locks with the background loop, so a manual sync and a scheduled pass for
// the same account serialize.
func (s *Scheduler) SyncAccount(ctx context.Context, provider models.AggregatorKind, externalID string) (int, error) {
	account, err := s.store.GetTrackedAccount(provider, externalID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, fmt.Errorf("account %s/%s is not tracked", provider, externalID)
	}
	// A half-dismantled account must stay out of the pipeline: its funds were
	// already returned, and a balance sync would refill the leftover pocket.
	if account.TeardownPending {
		return 0, fmt.Errorf("account %s/%s has a pending teardown, re-run teardown first", provider, externalID)
	}
	state, err := s.store.GetSyncState(provider)
	if err != nil {
		return 0, err
	}
	if state == nil {
		return 0, fmt.Errorf("no %s connection is linked", provider)
	}
	if !state.Valid {
		return 0, fmt.Errorf("%s connection credential is invalid, re-link it first", provider)
	}
	client, ok := s.clients[provider]
	if !ok {
		return 0, fmt.Errorf("no client configured for provider %s", provider)
	}

	start, end := s.fetchBounds(state)
	windows, err := client.FetchWindow(ctx, state, []string{externalID}, start, end)
	if err != nil {
		if errors.Is(err, syncerr.ErrCredentialInvalid) {
			if markErr := s.store.SetSyncStateValid(provider, false); markErr != nil {
				log.Error().Err(markErr).Str("provider", string(provider)).Msg("Failed to mark connection invalid")
			}
		}
		return 0, err
	}
	window, ok := windows[externalID]
	if !ok {
		return 0, fmt.Errorf("account %s missing from aggregator response", externalID)
	}

	newCount, err := s.syncOne(ctx, account, window)
	if err != nil {
		return 0, err
	}
	s.recordPoll(account, time.Now())
	if err := s.store.UpdateLastSync(provider, time.Now()); err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("Failed to persist last sync")
	}
	return newCount, nil
}

// fetchBounds returns the trailing fetch window in the connection's timezone,
// falling back to system local time.
func (s *Scheduler) fetchBounds(state *models.SyncState) (time.Time, time.Time) {
	loc := time.Local
	if tz := state.Schedule.Timezone; tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}
	end := time.Now().In(loc)
	return end.AddDate(0, 0, -fetchWindowDays), end
}

func accountKey(a *models.TrackedAccount) string {
	return string(a.Provider) + "/" + a.ExternalID
}

func (s *Scheduler) pollTime(a *models.TrackedAccount) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.lastPoll[accountKey(a)]; ok {
		return &t
	}
	return nil
}

func (s *Scheduler) recordPoll(a *models.TrackedAccount, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll[accountKey(a)] = t
}

func (s *Scheduler) accountLock(a *models.TrackedAccount) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.accountLocks[accountKey(a)]
	if !ok {
		lock = &sync.Mutex{}
		s.accountLocks[accountKey(a)] = lock
	}
	return lock
}
