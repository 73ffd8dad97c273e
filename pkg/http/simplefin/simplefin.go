// Package simplefin implements the token-claim aggregator variant: a one-time
// setup token is exchanged for a durable access URL, and a single batched
// request covers every account on the connection.
package simplefin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/syncerr"
)

type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SetTransport swaps the underlying transport, used for request debugging.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

func (c *Client) Kind() models.AggregatorKind {
	return models.AggregatorSimpleFin
}

// ClaimToken exchanges a base64 setup token for a durable access URL.
func (c *Client) ClaimToken(ctx context.Context, setupToken string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(setupToken))
	if err != nil {
		return "", fmt.Errorf("invalid setup token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, string(decoded), nil)
	if err != nil {
		return "", fmt.Errorf("invalid claim url: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to claim token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read claim response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("invalid setup token: status %d", resp.StatusCode)
	}

	accessURL := strings.TrimSpace(string(body))
	if !strings.HasPrefix(accessURL, "http") {
		return "", fmt.Errorf("unexpected claim response: %q", accessURL)
	}
	return accessURL, nil
}

type wireTransaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Posted      int64  `json:"posted"`
	Transacted  int64  `json:"transacted"`
}

type wireAccount struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Balance      string            `json:"balance"`
	Transactions []wireTransaction `json:"transactions"`
}

// FetchWindow fetches balances and transactions for every requested account in
// one wire call. Batching is a correctness requirement: the aggregator rate
// limits per connection, not per account.
func (c *Client) FetchWindow(ctx context.Context, conn *models.SyncState, accountIDs []string, start, end time.Time) (map[string]models.AccountWindow, error) {
	if conn == nil || conn.Credential == "" {
		return nil, fmt.Errorf("%w: no access url on connection", syncerr.ErrCredentialInvalid)
	}

	params := url.Values{}
	params.Set("start-date", strconv.FormatInt(start.Unix(), 10))
	params.Set("end-date", strconv.FormatInt(end.Unix(), 10))
	params.Set("pending", "1")
	for _, id := range accountIDs {
		params.Add("account", id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(conn.Credential, "/")+"/accounts?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, syncerr.FetchFailed(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.FetchFailed(err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: access url revoked", syncerr.ErrCredentialInvalid)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, syncerr.FetchFailedStatus(resp.StatusCode, string(body))
	}

	var data struct {
		Accounts []wireAccount `json:"accounts"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, syncerr.FetchFailed(fmt.Errorf("failed to decode response: %w", err))
	}

	windows := make(map[string]models.AccountWindow, len(data.Accounts))
	for _, account := range data.Accounts {
		windows[account.ID] = normalizeAccount(account)
	}
	return windows, nil
}

func normalizeAccount(account wireAccount) models.AccountWindow {
	balance, err := decimal.NewFromString(account.Balance)
	if err != nil {
		balance = decimal.Zero
	}

	transactions := make([]models.NormalizedTransaction, 0, len(account.Transactions))
	for _, tx := range account.Transactions {
		if tx.ID == "" {
			continue
		}
		amount, err := decimal.NewFromString(tx.Amount)
		if err != nil {
			amount = decimal.Zero
		}
		// No posted timestamp means the transaction is still pending
		pending := tx.Posted == 0

		var date string
		if tx.Posted != 0 {
			date = time.Unix(tx.Posted, 0).UTC().Format(time.RFC3339)
		} else if tx.Transacted != 0 {
			date = time.Unix(tx.Transacted, 0).UTC().Format(time.RFC3339)
		}

		transactions = append(transactions, models.NormalizedTransaction{
			ID:          tx.ID,
			Amount:      amount.Abs(),
			IsPayment:   amount.IsPositive(),
			Pending:     pending,
			Date:        date,
			Description: tx.Description,
		})
	}
	return models.AccountWindow{Balance: balance.Abs(), Transactions: transactions}
}
