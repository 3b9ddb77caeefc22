package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"campus-courier/models"
	"campus-courier/services"
)

func TestLockTableTimesOut(t *testing.T) {
	locks := newLockTable()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "task:1", time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := locks.acquire(ctx, "task:1", 10*time.Millisecond); !errors.Is(err, models.ErrConcurrencyConflict) {
		t.Fatalf("expected ConcurrencyConflict, got %v", err)
	}

	// Other keys are independent.
	other, err := locks.acquire(ctx, "task:2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire other key: %v", err)
	}
	other()

	release()
	again, err := locks.acquire(ctx, "task:1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("lock table kept %d idle entries", len(locks.locks))
	}
}

func TestLockTableHonoursContext(t *testing.T) {
	locks := newLockTable()
	release, _ := locks.acquire(context.Background(), "k", 0)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locks.acquire(ctx, "k", 0); !errors.Is(err, models.ErrConcurrencyConflict) {
		t.Fatalf("expected ConcurrencyConflict on cancelled context, got %v", err)
	}
}

func seedMemory(t *testing.T) (*MemoryStore, *models.User, *models.Task) {
	t.Helper()
	store := NewMemoryStore(time.Second)
	ctx := context.Background()
	user, err := store.EnsureUser(ctx, &models.User{FirebaseUID: "uid-a", Email: "a@campus.edu"})
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	task := &models.Task{
		ID:        "t1",
		Title:     "Parcel",
		Pickup:    models.Location{Name: "Gate"},
		Dropoff:   models.Location{Name: "Dorm"},
		Reward:    decimal.NewFromInt(5),
		Category:  models.CategoryDelivery,
		Urgency:   models.UrgencyLow,
		Status:    models.StatusPending,
		CreatorID: user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return store, user, task
}

func TestMemoryStoreStagesUntilCommit(t *testing.T) {
	store, _, task := seedMemory(t)
	ctx := context.Background()

	err := store.InTx(ctx, func(tx services.Tx) error {
		locked, err := tx.GetTaskForUpdate(ctx, task.ID)
		if err != nil {
			return err
		}
		locked.Title = "Renamed"
		if err := tx.SaveTask(ctx, locked); err != nil {
			return err
		}
		outside, _ := store.GetTask(ctx, task.ID)
		if outside.Title != "Parcel" {
			t.Errorf("staged write visible before commit")
		}
		inside, _ := tx.GetTaskForUpdate(ctx, task.ID)
		if inside.Title != "Renamed" {
			t.Errorf("staged write not visible inside the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	got, _ := store.GetTask(ctx, task.ID)
	if got.Title != "Renamed" {
		t.Fatalf("commit lost the write: %q", got.Title)
	}
}

func TestMemoryStoreDiscardsOnError(t *testing.T) {
	store, user, task := seedMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx services.Tx) error {
		locked, _ := tx.GetTaskForUpdate(ctx, task.ID)
		locked.Status = models.StatusCancelled
		tx.SaveTask(ctx, locked)
		u, _ := tx.GetUserForUpdate(ctx, user.ID)
		u.CreditScore = 1
		tx.SaveUser(ctx, u)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v", err)
	}

	got, _ := store.GetTask(ctx, task.ID)
	u, _ := store.GetUser(ctx, user.ID)
	if got.Status != models.StatusPending || u.CreditScore != models.DefaultCreditScore {
		t.Fatalf("rolled back writes leaked: %s / %v", got.Status, u.CreditScore)
	}
}

func TestMemoryStoreRejectsUnlockedSave(t *testing.T) {
	store, _, task := seedMemory(t)
	ctx := context.Background()
	err := store.InTx(ctx, func(tx services.Tx) error {
		return tx.SaveTask(ctx, task)
	})
	if err == nil {
		t.Fatal("expected error saving a task without its lock")
	}
}

func TestMemoryStoreStatsAndRecentClaims(t *testing.T) {
	store, creator, task := seedMemory(t)
	ctx := context.Background()
	b, _ := store.EnsureUser(ctx, &models.User{FirebaseUID: "uid-b"})
	accepted := task.CreatedAt.Add(time.Minute)

	err := store.InTx(ctx, func(tx services.Tx) error {
		locked, err := tx.GetTaskForUpdate(ctx, task.ID)
		if err != nil {
			return err
		}
		locked.Status = models.StatusAccepted
		locked.AssigneeID = b.ID
		locked.AcceptedAt = &accepted
		if err := tx.SaveTask(ctx, locked); err != nil {
			return err
		}

		// Stats inside the transaction include the staged claim.
		u, err := tx.GetUser(ctx, b.ID)
		if err != nil {
			return err
		}
		if u.Stats.ActiveAssigned != 1 {
			t.Errorf("staged ActiveAssigned = %d", u.Stats.ActiveAssigned)
		}
		h, err := tx.RecentClaims(ctx, b.ID, accepted.Add(-time.Hour))
		if err != nil {
			return err
		}
		if h.Claimed != 1 || h.Cancelled != 0 {
			t.Errorf("RecentClaims = %+v", h)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	c, _ := store.GetUser(ctx, creator.ID)
	if c.Stats.ActiveCreated != 1 || c.Stats.TotalCreated != 1 {
		t.Fatalf("creator stats = %+v", c.Stats)
	}
}

func TestMemoryStoreEnsureUserIsIdempotent(t *testing.T) {
	store := NewMemoryStore(time.Second)
	ctx := context.Background()
	first, _ := store.EnsureUser(ctx, &models.User{FirebaseUID: "uid", DisplayName: "First"})
	second, _ := store.EnsureUser(ctx, &models.User{FirebaseUID: "uid", DisplayName: "Second"})
	if first.ID != second.ID || second.DisplayName != "First" {
		t.Fatalf("EnsureUser created a duplicate: %+v vs %+v", first, second)
	}
	if first.CreditScore != models.DefaultCreditScore || first.Role != "student" {
		t.Fatalf("unexpected defaults %+v", first)
	}
	if _, err := store.EnsureUser(ctx, &models.User{}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput without uid, got %v", err)
	}
}

func TestMemoryCreditHistoryNewestFirst(t *testing.T) {
	h := NewMemoryCreditHistory()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	h.RecordCreditChanges(ctx, []models.CreditChange{
		{UserID: "u", TaskID: "1", Timestamp: base},
		{UserID: "u", TaskID: "2", Timestamp: base.Add(time.Hour)},
		{UserID: "v", TaskID: "3", Timestamp: base},
	})

	got, _ := h.ListCreditChanges(ctx, "u", 10)
	if len(got) != 2 || got[0].TaskID != "2" {
		t.Fatalf("history = %+v", got)
	}
	got, _ = h.ListCreditChanges(ctx, "u", 1)
	if len(got) != 1 {
		t.Fatalf("limit ignored: %d entries", len(got))
	}
}
