// Package lunchflow implements the API-key aggregator variant: per-account
// REST endpoints authenticated by a static key header. The key lives on the
// connection record, so re-linking takes effect without rebuilding the client.
package lunchflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/syncerr"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

// SetTransport swaps the underlying transport, used for request debugging.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

func (c *Client) Kind() models.AggregatorKind {
	return models.AggregatorLunchFlow
}

func (c *Client) get(ctx context.Context, apiKey, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return syncerr.FetchFailed(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncerr.FetchFailed(err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", syncerr.ErrCredentialInvalid, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return syncerr.FetchFailedStatus(resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return syncerr.FetchFailed(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

type wireAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireTransaction struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Merchant    string  `json:"merchant"`
	Description string  `json:"description"`
	IsPending   bool    `json:"isPending"`
}

type wireBalance struct {
	Balance struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	} `json:"balance"`
}

// ListAccounts returns all accounts visible to the API key. Also serves as
// credential validation at link time.
func (c *Client) ListAccounts(ctx context.Context, apiKey string) ([]models.Subaccount, error) {
	var data struct {
		Accounts []wireAccount `json:"accounts"`
	}
	if err := c.get(ctx, apiKey, "/accounts", &data); err != nil {
		return nil, err
	}
	accounts := make([]models.Subaccount, 0, len(data.Accounts))
	for _, a := range data.Accounts {
		accounts = append(accounts, models.Subaccount{ID: a.ID, Name: a.Name, External: true})
	}
	return accounts, nil
}

// FetchBalance returns the absolute current balance of one account.
func (c *Client) FetchBalance(ctx context.Context, apiKey, accountID string) (decimal.Decimal, error) {
	var data wireBalance
	if err := c.get(ctx, apiKey, "/accounts/"+accountID+"/balance", &data); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(data.Balance.Amount).Abs(), nil
}

// FetchWindow fetches balance and transactions for the given accounts. The
// LunchFlow API exposes per-account endpoints, so the connection-level batch
// is a loop here; the SimpleFin variant does it in one wire call.
func (c *Client) FetchWindow(ctx context.Context, conn *models.SyncState, accountIDs []string, start, end time.Time) (map[string]models.AccountWindow, error) {
	if conn == nil || conn.Credential == "" {
		return nil, fmt.Errorf("%w: no api key on connection", syncerr.ErrCredentialInvalid)
	}

	windows := make(map[string]models.AccountWindow, len(accountIDs))
	for _, accountID := range accountIDs {
		var data struct {
			Transactions []wireTransaction `json:"transactions"`
		}
		if err := c.get(ctx, conn.Credential, "/accounts/"+accountID+"/transactions", &data); err != nil {
			return nil, err
		}
		balance, err := c.FetchBalance(ctx, conn.Credential, accountID)
		if err != nil {
			return nil, err
		}

		transactions := make([]models.NormalizedTransaction, 0, len(data.Transactions))
		for _, tx := range data.Transactions {
			if tx.ID == "" {
				continue
			}
			amount := decimal.NewFromFloat(tx.Amount)
			description := tx.Description
			if description == "" {
				description = tx.Merchant
			}
			transactions = append(transactions, models.NormalizedTransaction{
				ID:          tx.ID,
				Amount:      amount.Abs(),
				IsPayment:   amount.IsPositive(),
				Pending:     tx.IsPending,
				Date:        tx.Date,
				Description: description,
			})
		}
		windows[accountID] = models.AccountWindow{Balance: balance, Transactions: transactions}
	}
	return windows, nil
}
