/**
 * @description
 * This file implements the reconciliation sweeper: a cron job that picks up
 * transfers stranded mid-flight by a crash or a missed inline reconciliation
 * and drives them back through receipt polling. A row stuck in `submitting`
 * means the process died between the transition and the adapter answer; its
 * outcome is unknown, so the sweeper moves it to `submitted` and reconciles
 * rather than ever re-submitting.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Job scheduling with panic recovery.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
)

const (
	sweepBatchSize = 50
	// sweepStuckAfter is how long a transfer may sit in a mid-flight state
	// before the sweeper picks it up.
	sweepStuckAfter = 5 * time.Minute
)

// Sweeper periodically reconciles stranded transfers.
type Sweeper struct {
	cron         *cron.Cron
	orchestrator *Orchestrator
	repo         store.Repository
	schedule     string
}

// NewSweeper creates the sweeper. schedule is a cron expression; empty falls
// back to every minute.
func NewSweeper(orchestrator *Orchestrator, repo store.Repository, schedule string) *Sweeper {
	if schedule == "" {
		schedule = "* * * * *"
	}
	cronLogger := cron.PrintfLogger(log.Default())
	return &Sweeper{
		cron:         cron.New(cron.WithChain(cron.Recover(cronLogger))),
		orchestrator: orchestrator,
		repo:         repo,
		schedule:     schedule,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Sweeper) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to schedule sweep job\" err=%v", err)
		return
	}
	log.Printf("level=info component=sweeper msg=\"sweep job scheduled\" schedule=%q", s.schedule)
	s.cron.Start()
}

// Stop gracefully stops the scheduler and returns a context that is done once
// running jobs finish.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Sweep runs one pass over stranded transfers.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-sweepStuckAfter)

	stuckSubmitting, err := s.repo.ListTransfersInStateOlderThan(ctx, domain.TransferStateSubmitting, cutoff, sweepBatchSize)
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to list stuck submitting transfers\" err=%v", err)
	} else {
		for i := range stuckSubmitting {
			s.recoverSubmitting(ctx, &stuckSubmitting[i])
		}
	}

	stuckSubmitted, err := s.repo.ListTransfersInStateOlderThan(ctx, domain.TransferStateSubmitted, cutoff, sweepBatchSize)
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to list stuck submitted transfers\" err=%v", err)
		return
	}
	for i := range stuckSubmitted {
		transfer := &stuckSubmitted[i]
		if err := s.orchestrator.Reconcile(ctx, transfer); err != nil {
			log.Printf("level=warn component=sweeper msg=\"reconciliation failed\" transfer_id=%s err=%v", transfer.ID, err)
		}
	}
}

// recoverSubmitting hands a crash-stranded submitting transfer to the
// orchestrator's recovery path, which applies the transition with full event
// fan-out and then polls for the receipt.
func (s *Sweeper) recoverSubmitting(ctx context.Context, transfer *domain.Transfer) {
	log.Printf("level=warn component=sweeper msg=\"recovering transfer stranded in submitting\" transfer_id=%s", transfer.ID)

	if err := s.orchestrator.RecoverSubmitting(ctx, transfer); err != nil {
		log.Printf("level=warn component=sweeper msg=\"recovery failed\" transfer_id=%s err=%v", transfer.ID, err)
	}
}
