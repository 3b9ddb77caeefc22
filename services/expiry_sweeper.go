package services

import (
	"context"
	"fmt"
	"time"

	"campus-courier/models"
	"campus-courier/utilities"
)

const DefaultSweepInterval = time.Hour

// SweepResult counts what a single tick did.
type SweepResult struct {
	Expired   int
	Cancelled int
	Skipped   int
	Failed    int
}

// ExpirySweeper cancels pending tasks whose claim window elapsed unclaimed.
type ExpirySweeper struct {
	repo     Repository
	machine  *StateMachine
	ledger   *CreditLedger
	recorder CreditRecorder
	interval time.Duration
	now      func() time.Time
}

func NewExpirySweeper(repo Repository, machine *StateMachine, ledger *CreditLedger, interval time.Duration, now func() time.Time) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if now == nil {
		now = time.Now
	}
	return &ExpirySweeper{
		repo:     repo,
		machine:  machine,
		ledger:   ledger,
		recorder: nopRecorder{},
		interval: interval,
		now:      now,
	}
}

// WithRecorder sets where applied credit changes are reported.
func (s *ExpirySweeper) WithRecorder(r CreditRecorder) *ExpirySweeper {
	if r != nil {
		s.recorder = r
	}
	return s
}

func (s *ExpirySweeper) Interval() time.Duration { return s.interval }

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	utilities.LogInfo("Expiry sweeper started (interval %s)", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// A tick cut short by shutdown is not a failure.
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			utilities.LogError(err, "expiry sweep failed")
		}
		select {
		case <-ctx.Done():
			utilities.LogInfo("Expiry sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick processes every expired pending task in its own transaction, so one
// failure neither rolls back nor stops the others.
func (s *ExpirySweeper) Tick(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now().UTC()

	expired, err := s.repo.ListExpiredPendingTasks(ctx, now)
	if err != nil {
		return result, fmt.Errorf("listing expired tasks: %w", err)
	}
	result.Expired = len(expired)

	for _, candidate := range expired {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		cancelled, err := s.expire(ctx, candidate.ID, now)
		switch {
		case err != nil:
			result.Failed++
			utilities.LogError(err, fmt.Sprintf("expiry sweep: task %s", candidate.ID))
		case cancelled:
			result.Cancelled++
		default:
			result.Skipped++
		}
	}

	if result.Expired > 0 {
		utilities.LogInfo("Expiry sweep: %d expired, %d cancelled, %d skipped, %d failed",
			result.Expired, result.Cancelled, result.Skipped, result.Failed)
	}
	return result, nil
}

func (s *ExpirySweeper) expire(ctx context.Context, taskID string, now time.Time) (bool, error) {
	var (
		cancelled bool
		changes   []models.CreditChange
	)
	err := s.repo.InTx(ctx, func(tx Tx) error {
		task, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		// A claim may have won the lock between listing and now.
		if task.Status != models.StatusPending || task.GrabExpiresAt == nil || !task.GrabExpiresAt.Before(now) {
			return nil
		}
		if err := s.machine.Transition(task, models.StatusCancelled, SystemActor); err != nil {
			return err
		}
		if changes, err = settleInTx(ctx, tx, s.ledger, task); err != nil {
			return err
		}
		if err := tx.SaveTask(ctx, task); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	recordChanges(ctx, s.recorder, changes)
	return cancelled, nil
}
