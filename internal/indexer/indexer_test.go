package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
)

type indexerRepoStub struct {
	store.Repository

	buckets  map[domain.FlowBucketKey]*domain.FlowAggregate
	applied  map[domain.FlowBucketKey]map[int64]bool
	log      []domain.TransferLifecycleEvent
	resets   int
	applyErr error
}

func newIndexerRepoStub() *indexerRepoStub {
	return &indexerRepoStub{
		buckets: make(map[domain.FlowBucketKey]*domain.FlowAggregate),
		applied: make(map[domain.FlowBucketKey]map[int64]bool),
	}
}

func (s *indexerRepoStub) ApplyFlowDelta(ctx context.Context, delta store.FlowDelta) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	seqs, ok := s.applied[delta.Key]
	if !ok {
		seqs = make(map[int64]bool)
		s.applied[delta.Key] = seqs
	}
	if seqs[delta.EventSeq] {
		return nil
	}
	seqs[delta.EventSeq] = true

	bucket, ok := s.buckets[delta.Key]
	if !ok {
		bucket = &domain.FlowAggregate{
			FlowBucketKey: delta.Key,
			TotalAmount:   decimal.Zero,
			TotalFees:     decimal.Zero,
		}
		s.buckets[delta.Key] = bucket
	}
	bucket.TransferCount++
	bucket.TotalAmount = bucket.TotalAmount.Add(delta.Amount)
	bucket.TotalFees = bucket.TotalFees.Add(delta.Fee)
	if delta.EventSeq > bucket.LastEventSeq {
		bucket.LastEventSeq = delta.EventSeq
	}
	return nil
}

func (s *indexerRepoStub) ResetFlowAggregates(ctx context.Context) error {
	s.resets++
	s.buckets = make(map[domain.FlowBucketKey]*domain.FlowAggregate)
	s.applied = make(map[domain.FlowBucketKey]map[int64]bool)
	return nil
}

func (s *indexerRepoStub) ListTransferEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]domain.TransferLifecycleEvent, error) {
	var page []domain.TransferLifecycleEvent
	for _, event := range s.log {
		if event.Seq > afterSeq {
			page = append(page, event)
		}
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func settledEvent(seq int64, amount, fee string) domain.TransferLifecycleEvent {
	return domain.TransferLifecycleEvent{
		Seq:         seq,
		TransferID:  uuid.New(),
		OldState:    domain.TransferStateSubmitted,
		NewState:    domain.TransferStateSettled,
		Network:     domain.NetworkStellar,
		AssetCode:   "USDC",
		Amount:      decimal.RequireFromString(amount),
		FeeAmount:   decimal.RequireFromString(fee),
		FromCountry: "KE",
		ToCountry:   "NG",
		OccurredAt:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestApply_FoldsSettledEvents(t *testing.T) {
	repo := newIndexerRepoStub()
	idx := NewIndexer(repo)

	if err := idx.Apply(context.Background(), settledEvent(1, "100", "1")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := idx.Apply(context.Background(), settledEvent(2, "50", "0.5")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	key := domain.FlowBucketKey{FromCountry: "KE", ToCountry: "NG", AssetCode: "USDC", Period: "2026-08-30"}
	bucket, ok := repo.buckets[key]
	if !ok {
		t.Fatal("expected the corridor bucket to exist")
	}
	if bucket.TransferCount != 2 {
		t.Fatalf("expected 2 transfers, got %d", bucket.TransferCount)
	}
	if !bucket.TotalAmount.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("expected total 150, got %s", bucket.TotalAmount)
	}
	if !bucket.TotalFees.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected fees 1.5, got %s", bucket.TotalFees)
	}
}

func TestApply_RedeliveryIsIdempotent(t *testing.T) {
	repo := newIndexerRepoStub()
	idx := NewIndexer(repo)

	event := settledEvent(7, "100", "1")
	for i := 0; i < 3; i++ {
		if err := idx.Apply(context.Background(), event); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}

	key := domain.FlowBucketKey{FromCountry: "KE", ToCountry: "NG", AssetCode: "USDC", Period: "2026-08-30"}
	bucket := repo.buckets[key]
	if bucket.TransferCount != 1 {
		t.Fatalf("expected a single fold despite redelivery, got %d", bucket.TransferCount)
	}
}

func TestApply_IgnoresNonSettledEvents(t *testing.T) {
	repo := newIndexerRepoStub()
	idx := NewIndexer(repo)

	event := settledEvent(1, "100", "1")
	event.NewState = domain.TransferStateSubmitted

	if err := idx.Apply(context.Background(), event); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(repo.buckets) != 0 {
		t.Fatal("expected no buckets from a non-settled event")
	}
}

func TestApply_OutOfOrderEventsAllCount(t *testing.T) {
	repo := newIndexerRepoStub()
	idx := NewIndexer(repo)

	// The publish fan-out gives no ordering guarantee, so a lower-seq
	// settlement can land after a higher-seq one. Both must fold.
	later := settledEvent(6, "200", "2")
	earlier := settledEvent(5, "100", "1")
	repo.log = []domain.TransferLifecycleEvent{earlier, later}

	if err := idx.Apply(context.Background(), later); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := idx.Apply(context.Background(), earlier); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	key := domain.FlowBucketKey{FromCountry: "KE", ToCountry: "NG", AssetCode: "USDC", Period: "2026-08-30"}
	live := repo.buckets[key]
	if live == nil || live.TransferCount != 2 {
		t.Fatalf("expected both transfers counted, got %+v", live)
	}
	if !live.TotalAmount.Equal(decimal.RequireFromString("300")) {
		t.Fatalf("expected total 300, got %s", live.TotalAmount)
	}
	if live.LastEventSeq != 6 {
		t.Fatalf("expected watermark 6, got %d", live.LastEventSeq)
	}

	// A rebuild from the ordered log must land on the same numbers.
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	rebuilt := repo.buckets[key]
	if rebuilt.TransferCount != live.TransferCount || !rebuilt.TotalAmount.Equal(live.TotalAmount) {
		t.Fatalf("rebuild diverged from live aggregates: live=%+v rebuilt=%+v", live, rebuilt)
	}
}

func TestHandleLifecycleEvent_RequeuesOnApplyError(t *testing.T) {
	repo := newIndexerRepoStub()
	idx := NewIndexer(repo)

	if !idx.HandleLifecycleEvent(settledEvent(1, "100", "1")) {
		t.Fatal("expected a clean apply to be acknowledged")
	}

	repo.applyErr = errors.New("connection reset")
	if idx.HandleLifecycleEvent(settledEvent(2, "100", "1")) {
		t.Fatal("expected a failed apply to re-queue the delivery")
	}
}

func TestRebuild_ReplaysEventLog(t *testing.T) {
	repo := newIndexerRepoStub()
	idx := NewIndexer(repo)

	repo.log = []domain.TransferLifecycleEvent{
		settledEvent(1, "100", "1"),
		settledEvent(2, "200", "2"),
		settledEvent(3, "300", "3"),
	}
	// A stale bucket that the rebuild must discard.
	staleKey := domain.FlowBucketKey{FromCountry: "ZZ", ToCountry: "ZZ", AssetCode: "OLD", Period: "2020-01-01"}
	repo.buckets[staleKey] = &domain.FlowAggregate{FlowBucketKey: staleKey, TransferCount: 99}

	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.resets != 1 {
		t.Fatalf("expected one reset, got %d", repo.resets)
	}
	if _, ok := repo.buckets[staleKey]; ok {
		t.Fatal("expected stale bucket to be discarded")
	}

	key := domain.FlowBucketKey{FromCountry: "KE", ToCountry: "NG", AssetCode: "USDC", Period: "2026-08-30"}
	bucket := repo.buckets[key]
	if bucket == nil || bucket.TransferCount != 3 {
		t.Fatalf("expected 3 replayed transfers, got %+v", bucket)
	}
	if !bucket.TotalAmount.Equal(decimal.RequireFromString("600")) {
		t.Fatalf("expected total 600, got %s", bucket.TotalAmount)
	}
}
