/**
 * @description
 * This file implements the transfer orchestrator: the state machine that
 * drives a transfer from request to settlement. It accepts requests
 * idempotently, runs the compliance gate before any network call, computes
 * fees, submits through the network adapter, and hands ambiguous outcomes to
 * reconciliation. Every transition is applied through the store's conditional
 * update and appended to the event log; lifecycle events fan out to RabbitMQ
 * and the indexer on a fire-and-forget path that never blocks a transition.
 *
 * A submit timeout is an unknown outcome, not a failure: the transfer moves to
 * `submitted` with no receipt and is resolved only by polling the adapter's
 * receipt lookup. The orchestrator never re-submits, since network submission
 * is not guaranteed idempotent at the protocol level.
 *
 * @dependencies
 * - github.com/google/uuid: Transfer identifiers.
 * - github.com/shopspring/decimal: Amount validation and fees.
 * - internal/compliance, internal/domain, internal/store, pkg/network,
 *   pkg/rabbitmq.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
	"github.com/daveylupes/rowell-infra-sub001/pkg/network"
	"github.com/daveylupes/rowell-infra-sub001/pkg/rabbitmq"
)

var (
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrSameAccount           = errors.New("from and to accounts must differ")
	ErrNetworkMismatch       = errors.New("accounts live on different networks or environments")
	ErrStateConflict         = errors.New("transfer state changed concurrently")
	ErrNotCancellable        = errors.New("transfer can no longer be cancelled")
	ErrNotHeld               = errors.New("transfer is not held")
)

// ComplianceEvaluator is the gate dependency of the orchestrator.
type ComplianceEvaluator interface {
	Evaluate(ctx context.Context, account domain.Account, transfer *domain.Transfer) (*domain.ComplianceDecision, error)
}

// EventSink receives lifecycle events on the in-process path, alongside the
// RabbitMQ publish. Delivery is best-effort.
type EventSink interface {
	Apply(ctx context.Context, event domain.TransferLifecycleEvent) error
}

// Orchestrator drives the transfer state machine.
type Orchestrator struct {
	repo          store.Repository
	gate          ComplianceEvaluator
	adapters      map[domain.Network]network.Adapter
	publisher     rabbitmq.Publisher
	sink          EventSink
	fees          map[domain.Network]FeeSchedule
	budget        PollBudgeter
	submitTimeout time.Duration
}

// NewOrchestrator wires the orchestrator. sink may be nil when no in-process
// indexer is attached; publisher must never be nil (use the fallback).
func NewOrchestrator(
	repo store.Repository,
	gate ComplianceEvaluator,
	adapters map[domain.Network]network.Adapter,
	publisher rabbitmq.Publisher,
	sink EventSink,
	fees map[domain.Network]FeeSchedule,
	budget PollBudgeter,
) *Orchestrator {
	if fees == nil {
		fees = DefaultFeeSchedules()
	}
	if budget == nil {
		budget = NoopPollBudgeter{}
	}
	return &Orchestrator{
		repo:          repo,
		gate:          gate,
		adapters:      adapters,
		publisher:     publisher,
		sink:          sink,
		fees:          fees,
		budget:        budget,
		submitTimeout: 10 * time.Second,
	}
}

// CreateTransfer accepts a transfer request idempotently and drives it as far
// as the synchronous leg goes. A replayed (owner_project_id, idempotency_key)
// pair returns the original transfer unchanged with no network call. The
// returned transfer may still be in a non-terminal state; callers observe the
// rest of the lifecycle by polling or by consuming events.
func (o *Orchestrator) CreateTransfer(ctx context.Context, ownerProjectID uuid.UUID, req domain.CreateTransferRequest) (*domain.Transfer, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.FromAccount == req.ToAccount {
		return nil, ErrSameAccount
	}

	fromAccount, err := o.repo.FindAccountByID(ctx, req.FromAccount)
	if err != nil {
		return nil, err
	}
	toAccount, err := o.repo.FindAccountByID(ctx, req.ToAccount)
	if err != nil {
		return nil, err
	}
	if fromAccount.Network != toAccount.Network || fromAccount.Environment != toAccount.Environment {
		return nil, ErrNetworkMismatch
	}
	if fromAccount.Status != domain.AccountStatusActive {
		return nil, ErrAccountNotActive
	}
	if _, ok := o.adapters[fromAccount.Network]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, fromAccount.Network)
	}

	now := time.Now().UTC()
	transferID := uuid.New()
	transfer := &domain.Transfer{
		ID:             transferID,
		OwnerProjectID: ownerProjectID,
		IdempotencyKey: req.IdempotencyKey,
		ClientRef:      transferID.String(),
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Network:        fromAccount.Network,
		Environment:    fromAccount.Environment,
		AssetCode:      req.AssetCode,
		Amount:         req.Amount,
		Memo:           req.Memo,
		State:          domain.TransferStateReceived,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, existing, err := o.repo.CreateTransferIdempotent(ctx, transfer)
	if err != nil {
		return nil, err
	}
	if !created {
		log.Printf("level=info component=orchestrator msg=\"idempotency key replayed; returning original transfer\" transfer_id=%s state=%s", existing.ID, existing.State)
		return existing, nil
	}

	if err := o.transition(ctx, transfer, domain.TransferStateComplianceChecking, store.TransitionParams{}); err != nil {
		return transfer, err
	}
	if err := o.runPipeline(ctx, transfer, *fromAccount); err != nil {
		return transfer, err
	}
	return transfer, nil
}

// runPipeline takes a transfer in compliance_checking through the gate and,
// on allow, through submission and reconciliation.
func (o *Orchestrator) runPipeline(ctx context.Context, transfer *domain.Transfer, fromAccount domain.Account) error {
	decision, err := o.gate.Evaluate(ctx, fromAccount, transfer)
	if err != nil {
		return fmt.Errorf("compliance evaluation failed: %w", err)
	}

	switch decision.Decision {
	case domain.DecisionBlock:
		reason := fmt.Sprintf("compliance_block:%s", decision.RuleMatches[0])
		return o.transition(ctx, transfer, domain.TransferStateComplianceBlocked, store.TransitionParams{
			FailureReason: ptrString(reason),
		})
	case domain.DecisionHold:
		return o.transition(ctx, transfer, domain.TransferStateComplianceHeld, store.TransitionParams{})
	}

	return o.submit(ctx, transfer)
}

// submit computes the fee, moves to submitting, and calls the adapter. The
// three submit outcomes map onto the graph: explicit rejection fails the
// transfer, an unknown-account answer fails it with a distinct reason, and
// anything ambiguous parks it in submitted for reconciliation.
func (o *Orchestrator) submit(ctx context.Context, transfer *domain.Transfer) error {
	adapter := o.adapters[transfer.Network]
	fee := o.fees[transfer.Network].ComputeFee(transfer.Amount)

	if err := o.transition(ctx, transfer, domain.TransferStateSubmitting, store.TransitionParams{
		FeeAmount: &fee,
	}); err != nil {
		return err
	}

	submitCtx, cancel := context.WithTimeout(ctx, o.submitTimeout)
	defer cancel()

	_, err := adapter.SubmitTransfer(submitCtx, network.SubmitRequest{
		ClientRef:   transfer.ClientRef,
		FromAccount: transfer.FromAccount,
		ToAccount:   transfer.ToAccount,
		AssetCode:   transfer.AssetCode,
		Amount:      transfer.Amount,
		Memo:        transfer.Memo,
	})
	if err != nil {
		var apiErr *network.APIError
		if errors.As(err, &apiErr) {
			if apiErr.IsAccountUnknown() {
				// The gate saw the account but the network does not know it.
				// Fail with a distinct reason rather than guessing.
				return o.transition(ctx, transfer, domain.TransferStateFailed, store.TransitionParams{
					FailureReason: ptrString(domain.FailureReasonAccountMismatch),
				})
			}
			if apiErr.IsExplicitRejection() {
				return o.transition(ctx, transfer, domain.TransferStateFailed, store.TransitionParams{
					FailureReason: ptrString(apiErr.Error()),
				})
			}
		}
		// Timeout or transport failure after the request may have left this
		// process: outcome unknown. Park in submitted and reconcile by
		// polling; never re-submit.
		log.Printf("level=warn component=orchestrator msg=\"submit outcome unknown; scheduling reconciliation\" transfer_id=%s err=%v", transfer.ID, err)
		if err := o.transition(ctx, transfer, domain.TransferStateSubmitted, store.TransitionParams{}); err != nil {
			return err
		}
		return o.Reconcile(ctx, transfer)
	}

	if err := o.transition(ctx, transfer, domain.TransferStateSubmitted, store.TransitionParams{}); err != nil {
		return err
	}
	return o.Reconcile(ctx, transfer)
}

// GetTransfer fetches a transfer by id.
func (o *Orchestrator) GetTransfer(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	return o.repo.FindTransferByID(ctx, transferID)
}

// CancelTransfer cancels a transfer that has not yet touched the network.
// Once submitting has begun the engine can only wait for reconciliation.
func (o *Orchestrator) CancelTransfer(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	transfer, err := o.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !transfer.State.IsCancellable() {
		return nil, ErrNotCancellable
	}
	if err := o.transition(ctx, transfer, domain.TransferStateCancelled, store.TransitionParams{}); err != nil {
		return nil, err
	}
	return transfer, nil
}

// ReleaseHeldTransfer is the operator action that releases a compliance hold.
// The transfer re-enters compliance_checking and the full pipeline runs again,
// so a release never bypasses the gate.
func (o *Orchestrator) ReleaseHeldTransfer(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	transfer, err := o.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.State != domain.TransferStateComplianceHeld {
		return nil, ErrNotHeld
	}
	fromAccount, err := o.repo.FindAccountByID(ctx, transfer.FromAccount)
	if err != nil {
		return nil, err
	}

	if err := o.transition(ctx, transfer, domain.TransferStateComplianceChecking, store.TransitionParams{}); err != nil {
		return nil, err
	}
	if err := o.runPipeline(ctx, transfer, *fromAccount); err != nil {
		return transfer, err
	}
	return transfer, nil
}

// ListReviewRequired returns transfers flagged for manual operator review.
func (o *Orchestrator) ListReviewRequired(ctx context.Context, limit int) ([]domain.Transfer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return o.repo.ListReviewRequiredTransfers(ctx, limit)
}

// transition applies one edge of the state graph through the store's
// conditional update, refreshes the in-memory copy, and fans the lifecycle
// event out. A lost race surfaces as ErrStateConflict.
func (o *Orchestrator) transition(ctx context.Context, transfer *domain.Transfer, to domain.TransferState, params store.TransitionParams) error {
	if !domain.CanTransition(transfer.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for transfer %s", transfer.State, to, transfer.ID)
	}

	event, applied, err := o.repo.TransitionTransferState(ctx, transfer.ID, transfer.State, to, params)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: transfer %s no longer in %s", ErrStateConflict, transfer.ID, transfer.State)
	}

	transfer.State = to
	if params.FeeAmount != nil {
		transfer.FeeAmount = *params.FeeAmount
	}
	if params.NetworkReceipt != nil {
		transfer.NetworkReceipt = params.NetworkReceipt
	}
	if params.FailureReason != nil {
		transfer.FailureReason = params.FailureReason
	}
	if params.ReviewRequired != nil {
		transfer.ReviewRequired = *params.ReviewRequired
	}
	transfer.UpdatedAt = event.OccurredAt

	o.emit(*transfer, *event)
	return nil
}

// emit fans one lifecycle event out to RabbitMQ and the in-process sink.
// Best-effort: failures are logged and never propagate to the transition.
func (o *Orchestrator) emit(transfer domain.Transfer, event domain.TransferEvent) {
	lifecycle := domain.TransferLifecycleEvent{
		Seq:         event.Seq,
		TransferID:  event.TransferID,
		OldState:    event.OldState,
		NewState:    event.NewState,
		Network:     transfer.Network,
		Environment: transfer.Environment,
		AssetCode:   transfer.AssetCode,
		Amount:      transfer.Amount,
		FeeAmount:   transfer.FeeAmount,
		OccurredAt:  event.OccurredAt,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if from, err := o.repo.FindAccountByID(ctx, transfer.FromAccount); err == nil {
			lifecycle.FromCountry = from.CountryCode
		}
		if to, err := o.repo.FindAccountByID(ctx, transfer.ToAccount); err == nil {
			lifecycle.ToCountry = to.CountryCode
		}

		if err := o.publisher.PublishTransferEvent(ctx, lifecycle); err != nil {
			log.Printf("level=warn component=orchestrator msg=\"lifecycle event publish failed\" transfer_id=%s seq=%d err=%v", lifecycle.TransferID, lifecycle.Seq, err)
		}
		if o.sink != nil {
			if err := o.sink.Apply(ctx, lifecycle); err != nil {
				log.Printf("level=warn component=orchestrator msg=\"indexer apply failed\" transfer_id=%s seq=%d err=%v", lifecycle.TransferID, lifecycle.Seq, err)
			}
		}
	}()
}

// ptrString returns a pointer to the given string.
func ptrString(s string) *string {
	return &s
}
