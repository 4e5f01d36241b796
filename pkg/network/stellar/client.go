/**
 * @description
 * This package provides the Stellar implementation of the network Adapter. It
 * talks to a Horizon-fronted submission service over HTTP: account provisioning,
 * balance reads, payment submission keyed by client reference, and receipt
 * lookup by the same reference.
 *
 * Stellar is the fast, low-fee leg: ledgers close in seconds, so the receipt
 * poll budget is short (~30s) with a tight initial interval.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Fixed-point amounts on the wire as strings.
 */
package stellar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/pkg/network"
)

const adapterName = "stellar"

// Client is the Stellar network adapter.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Stellar adapter with its own scoped credentials.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Name returns the adapter's network name.
func (c *Client) Name() string { return adapterName }

// PollBudget returns the fast-finality reconciliation window: 1s, 2s, 4s...
// capped at 8s, for about 30 seconds in total.
func (c *Client) PollBudget() network.PollBudget {
	return network.PollBudget{
		Initial: 1 * time.Second,
		Max:     8 * time.Second,
		Total:   30 * time.Second,
	}
}

type createAccountPayload struct {
	Nonce       string `json:"nonce"`
	CountryCode string `json:"country_code"`
	AccountType string `json:"account_type"`
}

type accountResponse struct {
	Data struct {
		AccountID     string `json:"account_id"`
		AlreadyExists bool   `json:"already_exists"`
	} `json:"data"`
}

// CreateAccount provisions a Stellar account and funds its minimum reserve.
// The call is idempotent by nonce: replays answer with already_exists=true.
func (c *Client) CreateAccount(ctx context.Context, req network.CreateAccountRequest) (*network.Account, error) {
	payload := createAccountPayload{
		Nonce:       req.Nonce,
		CountryCode: req.CountryCode,
		AccountType: req.AccountType,
	}
	var resp accountResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/accounts", payload, &resp); err != nil {
		return nil, err
	}
	return &network.Account{
		AccountID:     resp.Data.AccountID,
		AlreadyExists: resp.Data.AlreadyExists,
	}, nil
}

type balanceResponse struct {
	Data struct {
		Balance decimal.Decimal `json:"balance"`
		Asset   string          `json:"asset"`
	} `json:"data"`
}

// GetBalance reads an account's balance for one asset.
func (c *Client) GetBalance(ctx context.Context, accountID, assetCode string) (decimal.Decimal, error) {
	var resp balanceResponse
	path := fmt.Sprintf("/v1/accounts/%s/balance?asset=%s", accountID, assetCode)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Data.Balance, nil
}

type submitPayload struct {
	ClientRef string `json:"client_ref"`
	From      string `json:"from"`
	To        string `json:"to"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Memo      string `json:"memo,omitempty"`
}

type submitResponse struct {
	Data struct {
		ClientRef  string `json:"client_ref"`
		NetworkRef string `json:"network_ref"`
	} `json:"data"`
}

// SubmitTransfer submits a payment keyed by the engine's client reference.
func (c *Client) SubmitTransfer(ctx context.Context, req network.SubmitRequest) (*network.PendingHandle, error) {
	payload := submitPayload{
		ClientRef: req.ClientRef,
		From:      req.FromAccount,
		To:        req.ToAccount,
		Asset:     req.AssetCode,
		Amount:    req.Amount.String(),
		Memo:      req.Memo,
	}
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/payments", payload, &resp); err != nil {
		return nil, err
	}
	return &network.PendingHandle{
		ClientRef:   resp.Data.ClientRef,
		NetworkRef:  resp.Data.NetworkRef,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type receiptResponse struct {
	Data struct {
		ClientRef    string     `json:"client_ref"`
		NetworkRef   string     `json:"network_ref"`
		Status       string     `json:"status"`
		RejectReason string     `json:"reject_reason,omitempty"`
		FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
	} `json:"data"`
}

// GetReceipt looks up the outcome of a submission by client reference. A 404
// maps to network.ErrReceiptNotFound; a "pending" status does too, since the
// ledger has not closed on it yet.
func (c *Client) GetReceipt(ctx context.Context, clientRef string) (*network.Receipt, error) {
	var resp receiptResponse
	path := fmt.Sprintf("/v1/payments/%s", clientRef)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		var apiErr *network.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusNotFound {
			return nil, network.ErrReceiptNotFound
		}
		return nil, err
	}

	switch resp.Data.Status {
	case "confirmed":
		receipt := &network.Receipt{
			ClientRef:  resp.Data.ClientRef,
			NetworkRef: resp.Data.NetworkRef,
			Status:     network.ReceiptStatusConfirmed,
		}
		if resp.Data.FinalizedAt != nil {
			receipt.FinalizedAt = *resp.Data.FinalizedAt
		}
		return receipt, nil
	case "rejected":
		return &network.Receipt{
			ClientRef:    resp.Data.ClientRef,
			NetworkRef:   resp.Data.NetworkRef,
			Status:       network.ReceiptStatusRejected,
			RejectReason: resp.Data.RejectReason,
		}, nil
	default:
		return nil, network.ErrReceiptNotFound
	}
}

// doJSON performs an authenticated request and decodes the JSON response, or
// returns a structured APIError for non-2xx answers.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &network.APIError{HTTPStatus: resp.StatusCode}
		raw, _ := io.ReadAll(resp.Body)
		if len(raw) > 0 {
			var decoded struct {
				Error network.APIError `json:"error"`
			}
			if json.Unmarshal(raw, &decoded) == nil && decoded.Error.Code != "" {
				decoded.Error.HTTPStatus = resp.StatusCode
				return &decoded.Error
			}
			apiErr.Detail = string(raw)
		}
		apiErr.Title = http.StatusText(resp.StatusCode)
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
