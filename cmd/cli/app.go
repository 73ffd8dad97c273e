package cli

import (
	"fmt"

	"github.com/pocketsync/pocketsync/db"
	"github.com/pocketsync/pocketsync/pkg/cache"
	"github.com/pocketsync/pocketsync/pkg/config"
	pshttp "github.com/pocketsync/pocketsync/pkg/http"
	"github.com/pocketsync/pocketsync/pkg/http/crew"
	"github.com/pocketsync/pocketsync/pkg/http/lunchflow"
	"github.com/pocketsync/pocketsync/pkg/http/simplefin"
	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/services"
	"github.com/pocketsync/pocketsync/pkg/utils"
)

// app wires the full service graph for a command invocation.
type app struct {
	cfg       *config.Config
	store     db.Store
	database  *db.DB
	cache     *cache.Cache
	ledger    crew.Ledger
	simplefin *simplefin.Client
	lunchflow *lunchflow.Client
	scheduler *services.Scheduler
	onboarder *services.Onboarder
}

func initApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	readCache := cache.New(cfg.CacheTTL)
	ledgerClient := crew.NewClient(cfg.Crew.URL, cfg.Crew.Token, readCache)
	sfClient := simplefin.NewClient()
	lfClient := lunchflow.NewClient(cfg.LunchFlow.BaseURL)
	if cfg.Debug {
		ledgerClient.SetTransport(utils.DebugRoundTripper())
		sfClient.SetTransport(utils.DebugRoundTripper())
		lfClient.SetTransport(utils.DebugRoundTripper())
	}

	clients := map[models.AggregatorKind]pshttp.AggregatorClient{
		models.AggregatorSimpleFin: sfClient,
		models.AggregatorLunchFlow: lfClient,
	}

	reconciler := services.NewReconciler(database, ledgerClient, cfg.CheckingName)
	executor := services.NewTransferExecutor(database, ledgerClient, readCache, cfg.CheckingName)
	scheduler := services.NewScheduler(database, services.NewScheduleGate(), reconciler, executor, clients, services.LogNotifier{})
	onboarder := services.NewOnboarder(database, ledgerClient, reconciler, executor, readCache, sfClient, lfClient)

	return &app{
		cfg:       cfg,
		store:     database,
		database:  database,
		cache:     readCache,
		ledger:    ledgerClient,
		simplefin: sfClient,
		lunchflow: lfClient,
		scheduler: scheduler,
		onboarder: onboarder,
	}, nil
}

func (a *app) Close() {
	a.database.Close()
}
