package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"campus-courier/database"
	"campus-courier/models"
	"campus-courier/services"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type captureRecorder struct {
	mu      sync.Mutex
	changes []models.CreditChange
}

func (r *captureRecorder) RecordCreditChanges(ctx context.Context, changes []models.CreditChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
	return nil
}

func (r *captureRecorder) all() []models.CreditChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CreditChange{}, r.changes...)
}

type harness struct {
	store    *database.MemoryStore
	machine  *services.StateMachine
	ledger   *services.CreditLedger
	arbiter  *services.AcceptanceArbiter
	tasks    *services.TaskService
	sweeper  *services.ExpirySweeper
	evals    *services.EvaluationService
	appeals  *services.AppealService
	recorder *captureRecorder
}

// adminUID is promoted to admin when it logs in through the harness.
const adminUID = "admin"

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, database.NewMemoryStore(2*time.Second), services.FlatPolicy{})
}

func newHarnessWith(t *testing.T, store *database.MemoryStore, policy services.ScoringPolicy) *harness {
	t.Helper()
	machine := services.NewStateMachine(fixedClock)
	ledger := services.NewCreditLedger(policy, fixedClock)
	checker := services.NewEligibilityChecker(ledger)
	arbiter := services.NewAcceptanceArbiter(store, machine, checker, fixedClock)
	recorder := &captureRecorder{}
	return &harness{
		store:   store,
		machine: machine,
		ledger:  ledger,
		arbiter: arbiter,
		tasks: services.NewTaskService(services.TaskServiceConfig{
			Repo:      store,
			Machine:   machine,
			Ledger:    ledger,
			Arbiter:   arbiter,
			Recorder:  recorder,
			Ratings:   store,
			AdminUIDs: []string{adminUID},
			Now:       fixedClock,
		}),
		sweeper:  services.NewExpirySweeper(store, machine, ledger, time.Hour, fixedClock).WithRecorder(recorder),
		evals:    services.NewEvaluationService(store, store, fixedClock),
		appeals:  services.NewAppealService(store, store, fixedClock),
		recorder: recorder,
	}
}

func (h *harness) user(t *testing.T, name string, score float64) *models.User {
	t.Helper()
	u, err := h.store.EnsureUser(context.Background(), &models.User{
		FirebaseUID: name,
		DisplayName: name,
		CreditScore: score,
	})
	if err != nil {
		t.Fatalf("EnsureUser(%s): %v", name, err)
	}
	return u
}

func (h *harness) reload(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := h.store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser(%s): %v", id, err)
	}
	return u
}

func taskInput(reward string) models.CreateTaskInput {
	return models.CreateTaskInput{
		Title:       "Pick up parcel",
		Description: "Parcel at the north gate locker",
		PickupName:  "North Gate",
		DropoffName: "Dorm 7",
		Reward:      decimal.RequireFromString(reward),
		Category:    models.CategoryDelivery,
		Urgency:     models.UrgencyMedium,
	}
}

func (h *harness) task(t *testing.T, creatorID string, in models.CreateTaskInput) *models.Task {
	t.Helper()
	task, err := h.tasks.CreateTask(context.Background(), creatorID, in)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func (h *harness) admin(t *testing.T) *models.User {
	t.Helper()
	u, err := h.tasks.EnsureUser(context.Background(), models.Identity{UID: adminUID, DisplayName: "Admin"})
	if err != nil {
		t.Fatalf("EnsureUser(admin): %v", err)
	}
	return u
}

// completedTask runs a task created by creatorID through the whole lifecycle
// with assigneeID delivering it.
func (h *harness) completedTask(t *testing.T, creatorID, assigneeID string) *models.Task {
	t.Helper()
	ctx := context.Background()
	task := h.task(t, creatorID, taskInput("5"))
	if _, err := h.tasks.Claim(ctx, task.ID, assigneeID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	for _, step := range []struct {
		target models.TaskStatus
		actor  string
	}{
		{models.StatusPicked, assigneeID},
		{models.StatusDelivering, assigneeID},
		{models.StatusConfirming, assigneeID},
		{models.StatusCompleted, creatorID},
	} {
		var err error
		if task, err = h.tasks.UpdateStatus(ctx, task.ID, step.target, step.actor); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", step.target, err)
		}
	}
	return task
}
