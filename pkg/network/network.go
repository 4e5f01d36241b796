/**
 * @description
 * This package defines the capability surface the transfer engine requires from
 * a ledger network: create an account, read a balance, submit a transfer, and
 * fetch a transfer receipt. Each concrete network maps its own native
 * transaction format, fee units, and finality model onto this contract, so the
 * orchestrator is written entirely against the interface and adding a network
 * never touches the state machine.
 *
 * @notes
 * - Receipts are looked up by the engine-chosen client reference, never by a
 *   network transaction hash, which may not exist yet after a submit timeout.
 * - Submission is not guaranteed idempotent at the protocol level. Callers must
 *   never blindly re-submit; reconciliation-by-polling is the only retry path.
 */

package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrReceiptNotFound means the network has no record (yet) for the client
// reference. The submission may still be in flight; keep polling.
var ErrReceiptNotFound = errors.New("network receipt not found")

// ReceiptStatus is the final word of a network about a submission.
type ReceiptStatus string

const (
	ReceiptStatusConfirmed ReceiptStatus = "confirmed"
	ReceiptStatusRejected  ReceiptStatus = "rejected"
)

// CreateAccountRequest asks a network to provision a new account. Nonce is a
// registry-generated idempotency token: networks must treat a repeated nonce as
// the same provisioning request.
type CreateAccountRequest struct {
	Nonce       string
	CountryCode string
	AccountType string
}

// Account is a network's answer to an account provisioning request.
// AlreadyExists is set when the nonce matched an earlier successful creation;
// callers treat that as success.
type Account struct {
	AccountID     string
	AlreadyExists bool
}

// SubmitRequest carries the immutable transfer fields to a network.
type SubmitRequest struct {
	ClientRef   string
	FromAccount string
	ToAccount   string
	AssetCode   string
	Amount      decimal.Decimal
	Memo        string
}

// PendingHandle acknowledges that a network accepted a submission. NetworkRef
// may be empty until the transaction is sequenced.
type PendingHandle struct {
	ClientRef   string
	NetworkRef  string
	SubmittedAt time.Time
}

// Receipt is the settled or rejected outcome of a submission.
type Receipt struct {
	ClientRef    string
	NetworkRef   string
	Status       ReceiptStatus
	RejectReason string
	FinalizedAt  time.Time
}

// PollBudget describes a network's finality window for reconciliation polling:
// exponential backoff from Initial capped at Max, stopping after Total.
type PollBudget struct {
	Initial time.Duration
	Max     time.Duration
	Total   time.Duration
}

// Adapter is the uniform capability surface over one ledger network. Concrete
// implementations hold their own injected credentials; there is no ambient
// operator state.
type Adapter interface {
	Name() string
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error)
	GetBalance(ctx context.Context, accountID, assetCode string) (decimal.Decimal, error)
	SubmitTransfer(ctx context.Context, req SubmitRequest) (*PendingHandle, error)
	GetReceipt(ctx context.Context, clientRef string) (*Receipt, error)
	PollBudget() PollBudget
}

// APIError represents a structured error from a network API.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("network api error: %s - %s (%s)", e.Code, e.Title, e.Detail)
}

// IsExplicitRejection reports whether the network definitively refused the
// request, as opposed to an ambiguous failure where the outcome is unknown.
// Ambiguous statuses (timeouts, rate limits, server errors) must go through
// reconciliation instead of being treated as terminal.
func (e *APIError) IsExplicitRejection() bool {
	switch e.HTTPStatus {
	case 404, 408, 429:
		return false
	}
	return e.HTTPStatus >= 400 && e.HTTPStatus < 500
}

// IsAccountUnknown reports whether the network claims it has never seen one of
// the referenced accounts.
func (e *APIError) IsAccountUnknown() bool {
	return e.Code == "account_not_found" || e.Code == "unknown_account"
}
