/**
 * @description
 * This file defines the transfer domain model and its state machine. A Transfer is
 * a single value-movement intent and its outcome; it is created once per
 * (owner_project_id, idempotency_key) pair and mutated only by the orchestrator
 * through legal state transitions.
 *
 * @notes
 * - Amounts are shopspring decimals backed by NUMERIC columns; floats are never
 *   used for money anywhere in the engine.
 * - Once a transfer reaches a strictly terminal state it never changes again.
 *   compliance_held is parked rather than terminal: an operator release moves it
 *   back into compliance_checking.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferState is one node of the orchestrator state machine.
type TransferState string

const (
	TransferStateReceived           TransferState = "received"
	TransferStateComplianceChecking TransferState = "compliance_checking"
	TransferStateComplianceHeld     TransferState = "compliance_held"
	TransferStateComplianceBlocked  TransferState = "compliance_blocked"
	TransferStateSubmitting         TransferState = "submitting"
	TransferStateSubmitted          TransferState = "submitted"
	TransferStateSettled            TransferState = "settled"
	TransferStateFailed             TransferState = "failed"
	TransferStateCancelled          TransferState = "cancelled"
)

// legalTransitions is the closed transition graph. No component may skip or
// reorder states; the store enforces each edge with a conditional update.
var legalTransitions = map[TransferState][]TransferState{
	TransferStateReceived: {
		TransferStateComplianceChecking,
		TransferStateCancelled,
	},
	TransferStateComplianceChecking: {
		TransferStateComplianceHeld,
		TransferStateComplianceBlocked,
		TransferStateSubmitting,
		TransferStateCancelled,
	},
	TransferStateComplianceHeld: {
		TransferStateComplianceChecking,
	},
	TransferStateSubmitting: {
		TransferStateSubmitted,
		TransferStateFailed,
	},
	TransferStateSubmitted: {
		TransferStateSettled,
		TransferStateFailed,
	},
}

// CanTransition reports whether from -> to is a legal edge of the state graph.
func CanTransition(from, to TransferState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state permits no further transitions at all.
// compliance_held is excluded: it is releasable by an operator.
func (s TransferState) IsTerminal() bool {
	switch s {
	case TransferStateComplianceBlocked, TransferStateSettled, TransferStateFailed, TransferStateCancelled:
		return true
	}
	return false
}

// IsCancellable reports whether a transfer in this state may still be
// cancelled. Once submitting has begun the engine can only wait for
// reconciliation.
func (s TransferState) IsCancellable() bool {
	return s == TransferStateReceived || s == TransferStateComplianceChecking
}

// Well-known failure reasons recorded by the orchestrator.
const (
	FailureReasonReconciliationTimeout = "reconciliation_timeout"
	FailureReasonAccountMismatch       = "account_mismatch"
)

// Transfer maps to the `transfers` table. ClientRef is the engine-chosen
// reference passed to the network adapter; receipts are looked up by it, never
// by a network transaction hash that may not exist yet.
type Transfer struct {
	ID             uuid.UUID       `json:"transfer_id"`
	OwnerProjectID uuid.UUID       `json:"owner_project_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	ClientRef      string          `json:"client_ref"`
	FromAccount    string          `json:"from_account"`
	ToAccount      string          `json:"to_account"`
	Network        Network         `json:"network"`
	Environment    Environment     `json:"environment"`
	AssetCode      string          `json:"asset_code"`
	Amount         decimal.Decimal `json:"amount"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	Memo           string          `json:"memo,omitempty"`
	State          TransferState   `json:"state"`
	NetworkReceipt *string         `json:"network_receipt,omitempty"`
	FailureReason  *string         `json:"failure_reason,omitempty"`
	ReviewRequired bool            `json:"review_required"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateTransferRequest is the DTO for incoming transfer API requests. The
// idempotency key may alternatively be supplied via the Idempotency-Key header.
type CreateTransferRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	FromAccount    string          `json:"from_account"`
	ToAccount      string          `json:"to_account"`
	AssetCode      string          `json:"asset_code"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo,omitempty"`
}
