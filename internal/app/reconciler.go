/**
 * @description
 * This file implements reconciliation: resolving a `submitted` transfer by
 * polling the adapter's receipt lookup under the network's finality budget.
 * Polling is the only sanctioned retry path for an already-submitted transfer;
 * the engine never re-submits. Each poll consumes a permit from the shared
 * per-network budget so concurrent reconciliations respect adapter rate
 * limits across instances.
 *
 * Budget exhaustion with no answer is not dropped: the transfer fails with
 * reason `reconciliation_timeout` and is flagged for manual operator review.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
	"github.com/daveylupes/rowell-infra-sub001/pkg/network"
)

// Reconcile polls the network for the transfer's receipt until the adapter
// answers or the network's poll budget runs out. The transfer must be in
// `submitted`.
func (o *Orchestrator) Reconcile(ctx context.Context, transfer *domain.Transfer) error {
	adapter, ok := o.adapters[transfer.Network]
	if !ok {
		return ErrUnsupportedNetwork
	}

	budget := adapter.PollBudget()
	deadline := time.Now().Add(budget.Total)
	delay := budget.Initial

	for time.Now().Before(deadline) {
		receipt, err := o.pollOnce(ctx, adapter, transfer)
		switch {
		case err == nil && receipt != nil:
			return o.settleFromReceipt(ctx, transfer, receipt)
		case errors.Is(err, network.ErrReceiptNotFound):
			// No answer yet. Back off and ask again.
		case err != nil:
			log.Printf("level=warn component=reconciler msg=\"receipt poll failed; will retry\" transfer_id=%s err=%v", transfer.ID, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > budget.Max {
			delay = budget.Max
		}
	}

	log.Printf("level=error component=reconciler msg=\"poll budget exhausted; flagging for review\" transfer_id=%s network=%s budget=%s", transfer.ID, transfer.Network, budget.Total)
	reviewRequired := true
	return o.transition(ctx, transfer, domain.TransferStateFailed, store.TransitionParams{
		FailureReason:  ptrString(domain.FailureReasonReconciliationTimeout),
		ReviewRequired: &reviewRequired,
	})
}

// RecoverSubmitting resolves a transfer stranded in `submitting` by a crash
// between the transition and the adapter's answer. The submit outcome is
// unknown, so the transfer moves to `submitted` and goes through receipt
// polling; it is never re-submitted. A lost transition race means another
// instance already took the transfer, which is not an error.
func (o *Orchestrator) RecoverSubmitting(ctx context.Context, transfer *domain.Transfer) error {
	if err := o.transition(ctx, transfer, domain.TransferStateSubmitted, store.TransitionParams{}); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return nil
		}
		return err
	}
	return o.Reconcile(ctx, transfer)
}

// pollOnce performs a single receipt lookup under the shared per-network
// budget. A denied permit reads as "no answer yet".
func (o *Orchestrator) pollOnce(ctx context.Context, adapter network.Adapter, transfer *domain.Transfer) (*network.Receipt, error) {
	granted, err := o.budget.Acquire(ctx, transfer.Network)
	if err != nil {
		log.Printf("level=warn component=reconciler msg=\"poll budget check failed; proceeding\" network=%s err=%v", transfer.Network, err)
	} else if !granted {
		return nil, network.ErrReceiptNotFound
	}
	if err == nil && granted {
		defer o.budget.Release(ctx, transfer.Network)
	}

	return adapter.GetReceipt(ctx, transfer.ClientRef)
}

// settleFromReceipt applies a definitive network answer.
func (o *Orchestrator) settleFromReceipt(ctx context.Context, transfer *domain.Transfer, receipt *network.Receipt) error {
	switch receipt.Status {
	case network.ReceiptStatusConfirmed:
		return o.transition(ctx, transfer, domain.TransferStateSettled, store.TransitionParams{
			NetworkReceipt: ptrString(receipt.NetworkRef),
		})
	case network.ReceiptStatusRejected:
		reason := receipt.RejectReason
		if reason == "" {
			reason = "rejected by network"
		}
		return o.transition(ctx, transfer, domain.TransferStateFailed, store.TransitionParams{
			FailureReason: ptrString(reason),
		})
	}
	return errors.New("receipt carried an unknown status")
}
