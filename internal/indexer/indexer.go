/**
 * @description
 * This package implements the event indexer: the eventually consistent side of
 * the engine. It consumes transfer lifecycle events and folds settled
 * transfers into per-corridor flow aggregates. The aggregates are a cache, not
 * a source of truth; each event sequence is folded into a bucket at most once,
 * so a redelivered or replayed event is a no-op while events arriving out of
 * sequence order still all count, and the whole table can be rebuilt from the
 * append-only event log at any time.
 *
 * @dependencies
 * - log: Standard Go library.
 * - internal/domain: Lifecycle event and aggregate types.
 * - internal/store: Aggregate upserts and event-log paging.
 */
package indexer

import (
	"context"
	"log"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
)

const rebuildPageSize = 500

// Indexer maintains flow aggregates from the transfer event stream.
type Indexer struct {
	repo store.Repository
}

// NewIndexer creates an indexer over the given repository.
func NewIndexer(repo store.Repository) *Indexer {
	return &Indexer{repo: repo}
}

// Apply folds one lifecycle event into the aggregates. Only settlement events
// move the numbers; everything else is acknowledged and dropped. Applying the
// same event twice leaves the bucket unchanged.
func (i *Indexer) Apply(ctx context.Context, event domain.TransferLifecycleEvent) error {
	if event.NewState != domain.TransferStateSettled {
		return nil
	}
	delta := store.FlowDelta{
		Key: domain.FlowBucketKey{
			FromCountry: event.FromCountry,
			ToCountry:   event.ToCountry,
			AssetCode:   event.AssetCode,
			Period:      domain.FlowPeriod(event.OccurredAt),
		},
		Amount:    event.Amount,
		Fee:       event.FeeAmount,
		EventSeq:  event.Seq,
		EventTime: event.OccurredAt,
	}
	return i.repo.ApplyFlowDelta(ctx, delta)
}

// HandleLifecycleEvent is the consumer binding for settlement events. It
// returns false to re-queue a delivery the indexer could not apply.
func (i *Indexer) HandleLifecycleEvent(event domain.TransferLifecycleEvent) bool {
	if err := i.Apply(context.Background(), event); err != nil {
		log.Printf("level=error component=indexer msg=\"apply failed; re-queuing\" transfer_id=%s seq=%d err=%v", event.TransferID, event.Seq, err)
		return false
	}
	return true
}

// Rebuild discards the aggregates and replays the full event log in sequence
// order. Safe to run while live events keep arriving: the per-event dedupe
// makes the replay and the live path converge on the same numbers.
func (i *Indexer) Rebuild(ctx context.Context) error {
	if err := i.repo.ResetFlowAggregates(ctx); err != nil {
		return err
	}

	var afterSeq int64
	var replayed int
	for {
		events, err := i.repo.ListTransferEventsAfter(ctx, afterSeq, rebuildPageSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			break
		}
		for _, event := range events {
			if err := i.Apply(ctx, event); err != nil {
				return err
			}
			afterSeq = event.Seq
		}
		replayed += len(events)
	}

	log.Printf("level=info component=indexer msg=\"rebuild complete\" events_replayed=%d", replayed)
	return nil
}

// QueryFlows returns aggregates matching the filter.
func (i *Indexer) QueryFlows(ctx context.Context, query domain.FlowQuery) ([]domain.FlowAggregate, error) {
	return i.repo.QueryFlowAggregates(ctx, query)
}
