package http

import (
	"context"
	"time"

	"github.com/pocketsync/pocketsync/pkg/http/lunchflow"
	"github.com/pocketsync/pocketsync/pkg/http/simplefin"
	"github.com/pocketsync/pocketsync/pkg/models"
)

// AggregatorClient fetches balances and the trailing transaction window for a
// set of accounts on one connection. Implementations batch the wire traffic
// however their provider allows.
type AggregatorClient interface {
	Kind() models.AggregatorKind
	FetchWindow(ctx context.Context, conn *models.SyncState, accountIDs []string, start, end time.Time) (map[string]models.AccountWindow, error)
}

var (
	_ AggregatorClient = &simplefin.Client{}
	_ AggregatorClient = &lunchflow.Client{}
)
