// Package quoteclient talks to the external quoting service (spec §4.7):
// token metadata via getTokens, and swap proposals via createSwap. Both
// calls go over plain JSON/HTTP, wrapped in the network retry policy.
package quoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/internal/retry"
)

const (
	getTokensRetries  = 3
	getTokensDelay    = 5 * time.Second
	createSwapRetries = 3
	createSwapDelay   = 5 * time.Second
)

// TokenDescriptor mirrors the wire shape of one entry in getTokens.
type TokenDescriptor struct {
	Symbol   string `json:"symbol"`
	ChainID  int64  `json:"chainId"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
}

// Transaction is one opaque atomic transaction the caller must hand to the
// Transaction Executor, in order.
type Transaction struct {
	ChainID              int64  `json:"chainId"`
	To                   string `json:"to"`
	Data                 string `json:"data"`
	Value                string `json:"value,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

// SwapPlan is the createSwap response (spec §4.2 step 3, §4.7).
type SwapPlan struct {
	Transactions      []Transaction `json:"transactions"`
	DisplayFromAmount string        `json:"displayFromAmount"`
	DisplayToAmount   string        `json:"displayToAmount"`
	Estimation        struct {
		EffectivePrice string `json:"effectivePrice"`
	} `json:"estimation"`
}

// CreateSwapRequest is the createSwap request body.
type CreateSwapRequest struct {
	BaseToken         string `json:"baseToken"`
	QuoteToken        string `json:"quoteToken"`
	Amount            string `json:"amount"`
	Recipient         string `json:"recipient"`
	SlippageTolerance string `json:"slippageTolerance"`
}

// Client is the Quote Client (spec §4.7).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client against baseURL, using connectTimeout as the
// underlying http.Client's timeout (spec §6 MCP_CONNECTION_TIMEOUT).
func New(baseURL string, connectTimeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: connectTimeout},
	}
}

// GetTokens fetches the token descriptor list for the given chains. The
// caller (Token Registry) falls back to the static table on error — this
// method itself only retries transient network errors, per spec §4.7.
func (c *Client) GetTokens(ctx context.Context, chainIDs []int64) ([]TokenDescriptor, error) {
	var out []TokenDescriptor
	err := retry.Do(ctx, "quoteclient.GetTokens", getTokensRetries, getTokensDelay, retry.Network, func() error {
		body, err := json.Marshal(struct {
			ChainIDs []int64 `json:"chainIds"`
		}{ChainIDs: chainIDs})
		if err != nil {
			return fmt.Errorf("failed to marshal getTokens request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tokens", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build getTokens request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call getTokens: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("getTokens returned status %d", resp.StatusCode)
		}

		var decoded struct {
			Tokens []TokenDescriptor `json:"tokens"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("failed to decode getTokens response: %w", err)
		}
		out = decoded.Tokens
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSwap requests a swap proposal. Response validation (required
// fields present) happens here and is NOT retried — a malformed payload is
// a contract violation, not a transient failure (spec §4.7).
func (c *Client) CreateSwap(ctx context.Context, req CreateSwapRequest) (*SwapPlan, error) {
	var plan SwapPlan
	err := retry.Do(ctx, "quoteclient.CreateSwap", createSwapRetries, createSwapDelay, retry.Network, func() error {
		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal createSwap request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build createSwap request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("failed to call createSwap: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("createSwap returned status %d", resp.StatusCode)
		}

		var decoded SwapPlan
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("failed to decode createSwap response: %w", err)
		}
		plan = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := validateSwapPlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// validateSwapPlan enforces the structural contract spec §4.7 requires:
// at least one transaction, and a non-empty display amount.
func validateSwapPlan(plan *SwapPlan) error {
	if len(plan.Transactions) == 0 {
		return fmt.Errorf("quoteclient: createSwap returned zero transactions")
	}
	if plan.DisplayToAmount == "" {
		return fmt.Errorf("quoteclient: createSwap response missing displayToAmount")
	}
	for i, tx := range plan.Transactions {
		if tx.To == "" {
			return fmt.Errorf("quoteclient: transaction %d missing 'to'", i)
		}
	}
	return nil
}
