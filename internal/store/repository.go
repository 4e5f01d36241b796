/**
 * @description
 * This file defines the `Repository` interface, the contract for all ledger-store
 * access required by the transfer engine. The ledger store is the single source
 * of truth and the only component concurrent workers contend on; defining an
 * interface decouples the orchestrator, registry, compliance gate, and indexer
 * from the PostgreSQL implementation and keeps them testable with stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Transfer identifiers.
 * - github.com/shopspring/decimal: Fixed-point money values.
 * - internal/domain: The engine's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrTransferNotFound = errors.New("transfer not found")
)

// TransitionParams carries the optional column updates applied together with a
// state transition. Nil fields keep their current value (COALESCE semantics).
type TransitionParams struct {
	FeeAmount      *decimal.Decimal
	NetworkReceipt *string
	FailureReason  *string
	ReviewRequired *bool
}

// FlowDelta is one settled transfer folded into an aggregate bucket. EventSeq
// identifies the lifecycle event being folded: each (bucket, seq) pair is
// applied at most once, so redelivery is a no-op while out-of-order arrivals
// all count.
type FlowDelta struct {
	Key       domain.FlowBucketKey
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	EventSeq  int64
	EventTime time.Time
}

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error)
	UpdateAccountKYCTier(ctx context.Context, accountID string, tier domain.KYCTier) error
	UpdateAccountStatus(ctx context.Context, accountID string, status domain.AccountStatus) error

	// Transfer methods.
	// CreateTransferIdempotent inserts the transfer unless a row already exists
	// for (owner_project_id, idempotency_key); the insert-or-fetch is a single
	// atomic operation backed by the unique index, closing the race between
	// concurrent requests bearing the same key.
	CreateTransferIdempotent(ctx context.Context, transfer *domain.Transfer) (created bool, existing *domain.Transfer, err error)
	FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error)
	// TransitionTransferState applies `from -> to` with a conditional update
	// ("update only if current state is `from`") and appends the lifecycle event
	// row in the same database transaction. It returns applied=false, with no
	// error, when another worker won the race.
	TransitionTransferState(ctx context.Context, transferID uuid.UUID, from, to domain.TransferState, params TransitionParams) (event *domain.TransferEvent, applied bool, err error)
	ListTransfersInStateOlderThan(ctx context.Context, state domain.TransferState, cutoff time.Time, limit int) ([]domain.Transfer, error)
	ListReviewRequiredTransfers(ctx context.Context, limit int) ([]domain.Transfer, error)

	// Compliance methods
	CreateComplianceDecision(ctx context.Context, decision *domain.ComplianceDecision) error
	// SumTransferAmountsSince totals the amounts an account has attempted to send
	// since the cutoff, excluding transfers that terminally did not move value.
	SumTransferAmountsSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error)
	// SettledAmountStats returns the average settled amount and settled count for
	// an account since the cutoff, feeding the anomaly heuristic.
	SettledAmountStats(ctx context.Context, accountID string, since time.Time) (avg decimal.Decimal, count int64, err error)

	// Event log and aggregate methods
	ListTransferEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]domain.TransferLifecycleEvent, error)
	ApplyFlowDelta(ctx context.Context, delta FlowDelta) error
	QueryFlowAggregates(ctx context.Context, query domain.FlowQuery) ([]domain.FlowAggregate, error)
	ResetFlowAggregates(ctx context.Context) error
}
