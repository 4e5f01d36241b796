/**
 * @description
 * This package provides the Hedera implementation of the network Adapter. It
 * talks to a consensus-node gateway plus its mirror API over HTTP, with the
 * operator account injected per client instance rather than held globally.
 *
 * Hedera is the enterprise consensus leg: a submission only becomes final once
 * consensus is reached and the mirror has ingested the record, so the receipt
 * poll budget is measured in minutes rather than seconds.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Fixed-point amounts on the wire as strings.
 */
package hedera

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

const adapterName = "hedera"

// Client is the Hedera network adapter.
type Client struct {
	BaseURL    string
	APIKey     string
	OperatorID string
	HTTPClient *http.Client
}

// NewClient creates a new Hedera adapter. The operator account identity is
// scoped to this instance and travels with every request.
func NewClient(baseURL, apiKey, operatorID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		OperatorID: operatorID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the adapter's network name.
func (c *Client) Name() string { return adapterName }

// PollBudget returns the consensus-finality reconciliation window: 5s, 10s,
// 20s... capped at 30s, for five minutes in total.
func (c *Client) PollBudget() network.PollBudget {
	return network.PollBudget{
		Initial: 5 * time.Second,
		Max:     30 * time.Second,
		Total:   5 * time.Minute,
	}
}

type createAccountPayload struct {
	IdempotencyNonce string `json:"idempotency_nonce"`
	CountryCode      string `json:"country_code"`
	AccountType      string `json:"account_type"`
	InitialReserve   string `json:"initial_reserve"`
}

type createAccountResponse struct {
	Account struct {
		ID       string `json:"id"`
		Existing bool   `json:"existing"`
	} `json:"account"`
}

// CreateAccount provisions a Hedera account, funding the minimum reserve from
// the operator. Provisioning is at-least-once: a replayed nonce answers with
// existing=true and callers treat that as success.
func (c *Client) CreateAccount(ctx context.Context, req network.CreateAccountRequest) (*network.Account, error) {
	payload := createAccountPayload{
		IdempotencyNonce: req.Nonce,
		CountryCode:      req.CountryCode,
		AccountType:      req.AccountType,
		InitialReserve:   "1",
	}
	var resp createAccountResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/accounts", payload, &resp); err != nil {
		return nil, err
	}
	return &network.Account{
		AccountID:     resp.Account.ID,
		AlreadyExists: resp.Account.Existing,
	}, nil
}

type balanceResponse struct {
	Balances []struct {
		Asset  string          `json:"asset"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"balances"`
}

// GetBalance reads an account's balance for one asset off the mirror API.
func (c *Client) GetBalance(ctx context.Context, accountID, assetCode string) (decimal.Decimal, error) {
	var resp balanceResponse
	path := fmt.Sprintf("/api/v1/accounts/%s/balances", accountID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	for _, b := range resp.Balances {
		if b.Asset == assetCode {
			return b.Amount, nil
		}
	}
	return decimal.Zero, nil
}

type submitPayload struct {
	ClientReference string `json:"client_reference"`
	Sender          string `json:"sender"`
	Receiver        string `json:"receiver"`
	Asset           string `json:"asset"`
	Amount          string `json:"amount"`
	Memo            string `json:"memo,omitempty"`
}

type submitResponse struct {
	Transaction struct {
		ClientReference string `json:"client_reference"`
		TransactionID   string `json:"transaction_id"`
	} `json:"transaction"`
}

// SubmitTransfer submits a crypto transfer keyed by the engine's client
// reference. The returned transaction id is the consensus-node handle; it is
// not final until the mirror confirms it.
func (c *Client) SubmitTransfer(ctx context.Context, req network.SubmitRequest) (*network.PendingHandle, error) {
	payload := submitPayload{
		ClientReference: req.ClientRef,
		Sender:          req.FromAccount,
		Receiver:        req.ToAccount,
		Asset:           req.AssetCode,
		Amount:          req.Amount.String(),
		Memo:            req.Memo,
	}
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/transfers", payload, &resp); err != nil {
		return nil, err
	}
	return &network.PendingHandle{
		ClientRef:   resp.Transaction.ClientReference,
		NetworkRef:  resp.Transaction.TransactionID,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type receiptResponse struct {
	Receipt struct {
		ClientReference string     `json:"client_reference"`
		TransactionID   string     `json:"transaction_id"`
		Status          string     `json:"status"`
		StatusReason    string     `json:"status_reason,omitempty"`
		ConsensusAt     *time.Time `json:"consensus_at,omitempty"`
	} `json:"receipt"`
}

// GetReceipt looks up the consensus outcome of a submission by client
// reference via the mirror API. Records not yet ingested map to
// network.ErrReceiptNotFound.
func (c *Client) GetReceipt(ctx context.Context, clientRef string) (*network.Receipt, error) {
	var resp receiptResponse
	path := fmt.Sprintf("/api/v1/transfers/%s/receipt", clientRef)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		var apiErr *network.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusNotFound {
			return nil, network.ErrReceiptNotFound
		}
		return nil, err
	}

	switch resp.Receipt.Status {
	case "SUCCESS":
		receipt := &network.Receipt{
			ClientRef:  resp.Receipt.ClientReference,
			NetworkRef: resp.Receipt.TransactionID,
			Status:     network.ReceiptStatusConfirmed,
		}
		if resp.Receipt.ConsensusAt != nil {
			receipt.FinalizedAt = *resp.Receipt.ConsensusAt
		}
		return receipt, nil
	case "REJECTED", "INVALID":
		return &network.Receipt{
			ClientRef:    resp.Receipt.ClientReference,
			NetworkRef:   resp.Receipt.TransactionID,
			Status:       network.ReceiptStatusRejected,
			RejectReason: resp.Receipt.StatusReason,
		}, nil
	default:
		// PENDING or an unknown status: consensus has not landed yet.
		return nil, network.ErrReceiptNotFound
	}
}

// doJSON performs an operator-authenticated request and decodes the JSON
// response, or returns a structured APIError for non-2xx answers.
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
	req.Header.Set("X-Operator-Id", c.OperatorID)
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
