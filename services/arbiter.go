package services

import (
	"context"
	"errors"
	"time"

	"campus-courier/models"
	"campus-courier/utilities"
)

const (
	defaultConflictAttempts = 3
	defaultConflictBackoff  = 50 * time.Millisecond
)

// retryOnConflict reruns op while it fails with ErrConcurrencyConflict, up to attempts times.
func retryOnConflict(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		err = op()
		if err == nil || !errors.Is(err, models.ErrConcurrencyConflict) || i == attempts {
			return err
		}
		utilities.LogDebug("conflict on attempt %d/%d, retrying: %v", i, attempts, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff * time.Duration(i)):
		}
	}
	return err
}

// AcceptanceArbiter decides the single winner among concurrent claims on a task.
type AcceptanceArbiter struct {
	repo     Repository
	machine  *StateMachine
	checker  *EligibilityChecker
	now      func() time.Time
	attempts int
	backoff  time.Duration
}

func NewAcceptanceArbiter(repo Repository, machine *StateMachine, checker *EligibilityChecker, now func() time.Time) *AcceptanceArbiter {
	if now == nil {
		now = time.Now
	}
	return &AcceptanceArbiter{
		repo:     repo,
		machine:  machine,
		checker:  checker,
		now:      now,
		attempts: defaultConflictAttempts,
		backoff:  defaultConflictBackoff,
	}
}

// Claim assigns taskID to userID if the task is still claimable and the user eligible.
//
// The status read and the assignment write happen under the task's exclusive
// lock in one transaction, so at most one claim per task can commit. The
// claimant's lock is taken after the task's, matching the order settlements use.
func (a *AcceptanceArbiter) Claim(ctx context.Context, taskID, userID string) (*models.Task, error) {
	var claimed *models.Task
	err := retryOnConflict(ctx, a.attempts, a.backoff, func() error {
		return a.repo.InTx(ctx, func(tx Tx) error {
			task, err := tx.GetTaskForUpdate(ctx, taskID)
			if err != nil {
				return err
			}
			now := a.now().UTC()
			if task.Status != models.StatusPending {
				return models.Errorf(models.ErrNotClaimable, "task %s is %s", task.ID, task.Status)
			}
			if task.GrabExpiresAt != nil && now.After(*task.GrabExpiresAt) {
				return models.Errorf(models.ErrClaimWindowExpired, "task %s closed at %s", task.ID, task.GrabExpiresAt.Format(time.RFC3339))
			}

			// The claimant is locked too, so claims by one user on different
			// tasks see each other's assignments when checking the active cap.
			user, err := tx.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			history, err := tx.RecentClaims(ctx, userID, now.Add(-RecentWindow))
			if err != nil {
				return err
			}
			if verdict := a.checker.Check(user, task, history); !verdict.Eligible {
				return verdict.Err()
			}

			task.AssigneeID = userID
			task.AcceptedAt = &now
			if err := a.machine.Transition(task, models.StatusAccepted, UserActor(userID)); err != nil {
				return err
			}
			if err := tx.SaveTask(ctx, task); err != nil {
				return err
			}
			claimed = task
			return nil
		})
	})
	if err != nil {
		utilities.LogDebug("claim of task %s by user %s rejected: %v", taskID, userID, err)
		return nil, err
	}
	utilities.LogInfo("Task %s claimed by user %s", taskID, userID)
	return claimed, nil
}
