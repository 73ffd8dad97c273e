// Package crew implements the client for the primary ledger service. The
// ledger remains authoritative for real money movement; everything read from
// it is either fresh or at most cache-TTL stale.
package crew

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pocketsync/pocketsync/pkg/cache"
	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/syncerr"
)

const subaccountsCacheKey = "crew:subaccounts"

type Client struct {
	httpClient *http.Client
	url        string
	token      string
	cache      *cache.Cache
}

func NewClient(url, token string, readCache *cache.Cache) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		token:      token,
		cache:      readCache,
	}
}

// SetTransport swaps the underlying transport, used for request debugging.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

type graphqlRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables,omitempty"`
	Query         string         `json:"query"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, req graphqlRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", req.OperationName, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", req.OperationName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", req.OperationName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", req.OperationName, resp.StatusCode, respBody)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.OperationName, err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%s: %s", req.OperationName, envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", req.OperationName, err)
		}
	}
	return nil
}

// centsToDecimal converts the ledger's integer-cent balances to dollars.
func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// GetSubaccountBalance returns the current balance of a single sub-account.
// Always fetched fresh: the balance safety net depends on it.
func (c *Client) GetSubaccountBalance(ctx context.Context, id string) (decimal.Decimal, error) {
	query := `query GetSubaccount($id: ID!) { node(id: $id) { ... on Subaccount { id overallBalance } } }`
	var data struct {
		Node struct {
			ID             string `json:"id"`
			OverallBalance int64  `json:"overallBalance"`
		} `json:"node"`
	}
	err := c.do(ctx, graphqlRequest{
		OperationName: "GetSubaccount",
		Variables:     map[string]any{"id": id},
		Query:         query,
	}, &data)
	if err != nil {
		return decimal.Zero, err
	}
	if data.Node.ID == "" {
		return decimal.Zero, fmt.Errorf("subaccount %s not found", id)
	}
	return centsToDecimal(data.Node.OverallBalance), nil
}

// ListSubaccounts returns the family's pocket sub-accounts, served from the
// TTL cache when warm.
func (c *Client) ListSubaccounts(ctx context.Context) ([]models.Subaccount, error) {
	if cached := c.cache.Get(subaccountsCacheKey); cached != nil {
		return cached.([]models.Subaccount), nil
	}

	query := `
	query TransferScreen {
	  currentUser {
	    id
	    family {
	      id
	      signerSpendAccount {
	        id
	        subaccounts {
	          id
	          displayName
	          clearedBalance
	          isExternalAccount
	          piggyBanked
	        }
	      }
	    }
	  }
	}`
	var data struct {
		CurrentUser struct {
			Family struct {
				SignerSpendAccount struct {
					Subaccounts []struct {
						ID                string `json:"id"`
						DisplayName       string `json:"displayName"`
						ClearedBalance    int64  `json:"clearedBalance"`
						IsExternalAccount bool   `json:"isExternalAccount"`
						PiggyBanked       bool   `json:"piggyBanked"`
					} `json:"subaccounts"`
				} `json:"signerSpendAccount"`
			} `json:"family"`
		} `json:"currentUser"`
	}
	err := c.do(ctx, graphqlRequest{OperationName: "TransferScreen", Query: query}, &data)
	if err != nil {
		return nil, err
	}

	var subaccounts []models.Subaccount
	for _, sub := range data.CurrentUser.Family.SignerSpendAccount.Subaccounts {
		// Piggy-banked sub-accounts are not transfer targets
		if sub.PiggyBanked {
			continue
		}
		subaccounts = append(subaccounts, models.Subaccount{
			ID:       sub.ID,
			Name:     sub.DisplayName,
			Balance:  centsToDecimal(sub.ClearedBalance),
			External: sub.IsExternalAccount,
		})
	}

	c.cache.Set(subaccountsCacheKey, subaccounts)
	return subaccounts, nil
}

// MoveMoney executes a transfer between two sub-accounts and returns the
// ledger's transfer id. The idempotency key guards against double-submission.
func (c *Client) MoveMoney(ctx context.Context, fromID, toID string, amount decimal.Decimal, memo string) (string, error) {
	if !amount.IsPositive() {
		return "", syncerr.TransferFailed(fmt.Errorf("amount must be positive, got %s", amount))
	}
	if memo == "" {
		memo = "Transfer"
	}

	query := `mutation InitiateTransfer($input: InitiateTransferInput!) { initiateTransfer(input: $input) { result { id } } }`
	var data struct {
		InitiateTransfer struct {
			Result struct {
				ID string `json:"id"`
			} `json:"result"`
		} `json:"initiateTransfer"`
	}
	err := c.do(ctx, graphqlRequest{
		OperationName: "InitiateTransfer",
		Variables: map[string]any{
			"input": map[string]any{
				"amount":         amount.Shift(2).Round(0).IntPart(),
				"accountFromId":  fromID,
				"accountToId":    toID,
				"note":           memo,
				"idempotencyKey": uuid.NewString(),
			},
		},
		Query: query,
	}, &data)
	if err != nil {
		return "", syncerr.TransferFailed(err)
	}
	return data.InitiateTransfer.Result.ID, nil
}

// CreateSavingsPocket creates a savings sub-account under the given parent
// account and returns its id.
func (c *Client) CreateSavingsPocket(ctx context.Context, accountID, name string, target, initial decimal.Decimal, note string) (string, error) {
	query := `
	mutation CreateSubaccount($input: CreateSubaccountInput!) {
	    createSubaccount(input: $input) {
	        result {
	            id
	            name
	        }
	    }
	}`
	var data struct {
		CreateSubaccount struct {
			Result struct {
				ID string `json:"id"`
			} `json:"result"`
		} `json:"createSubaccount"`
	}
	err := c.do(ctx, graphqlRequest{
		OperationName: "CreateSubaccount",
		Variables: map[string]any{
			"input": map[string]any{
				"type":                  "SAVINGS",
				"piggyBanked":           false,
				"accountId":             accountID,
				"name":                  name,
				"targetAmount":          target.Shift(2).Round(0).IntPart(),
				"initialTransferAmount": initial.Shift(2).Round(0).IntPart(),
				"note":                  note,
			},
		},
		Query: query,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.CreateSubaccount.Result.ID == "" {
		return "", fmt.Errorf("pocket was created but no id was returned")
	}
	return data.CreateSubaccount.Result.ID, nil
}

// GetPrimaryAccountID returns the id of the main spend account that pockets
// hang off.
func (c *Client) GetPrimaryAccountID(ctx context.Context) (string, error) {
	query := `query PrimaryAccount { currentUser { id family { id signerSpendAccount { id } } } }`
	var data struct {
		CurrentUser struct {
			Family struct {
				SignerSpendAccount struct {
					ID string `json:"id"`
				} `json:"signerSpendAccount"`
			} `json:"family"`
		} `json:"currentUser"`
	}
	if err := c.do(ctx, graphqlRequest{OperationName: "PrimaryAccount", Query: query}, &data); err != nil {
		return "", err
	}
	if data.CurrentUser.Family.SignerSpendAccount.ID == "" {
		return "", fmt.Errorf("could not find primary spend account")
	}
	return data.CurrentUser.Family.SignerSpendAccount.ID, nil
}

// DeleteSubaccount deletes a pocket sub-account.
func (c *Client) DeleteSubaccount(ctx context.Context, id string) error {
	query := `
	mutation DeleteSubaccount($id: ID!) {
	    deleteSubaccount(input: { subaccountId: $id }) {
	        result {
	            id
	            status
	        }
	    }
	}`
	return c.do(ctx, graphqlRequest{
		OperationName: "DeleteSubaccount",
		Variables:     map[string]any{"id": id},
		Query:         query,
	}, nil)
}
