package services_test

import (
	"errors"
	"testing"

	"campus-courier/models"
	"campus-courier/services"
)

var expectedEdges = map[[2]models.TaskStatus]bool{
	{models.StatusPending, models.StatusAccepted}:      true,
	{models.StatusPending, models.StatusCancelled}:     true,
	{models.StatusAccepted, models.StatusPicked}:       true,
	{models.StatusAccepted, models.StatusCancelled}:    true,
	{models.StatusPicked, models.StatusDelivering}:     true,
	{models.StatusDelivering, models.StatusConfirming}: true,
	{models.StatusConfirming, models.StatusCompleted}:  true,
	{models.StatusConfirming, models.StatusCancelled}:  true,
}

func TestTransitionClosure(t *testing.T) {
	machine := services.NewStateMachine(fixedClock)

	for _, from := range models.AllStatuses {
		for _, to := range models.AllStatuses {
			task := &models.Task{ID: "t1", Status: from, CreatorID: "creator", AssigneeID: "assignee"}
			err := machine.Transition(task, to, services.UserActor("creator"))

			if expectedEdges[[2]models.TaskStatus{from, to}] {
				if err != nil {
					t.Errorf("%s -> %s: unexpected error %v", from, to, err)
					continue
				}
				if task.Status != to {
					t.Errorf("%s -> %s: status is %s", from, to, task.Status)
				}
				if !task.UpdatedAt.Equal(testNow) {
					t.Errorf("%s -> %s: UpdatedAt not stamped", from, to)
				}
			} else {
				if !errors.Is(err, models.ErrIllegalTransition) {
					t.Errorf("%s -> %s: expected IllegalTransition, got %v", from, to, err)
				}
				if task.Status != from {
					t.Errorf("%s -> %s: status changed on failure", from, to)
				}
			}
			if got := services.CanTransition(from, to); got != expectedEdges[[2]models.TaskStatus{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range models.AllStatuses {
		want := s == models.StatusCompleted || s == models.StatusCancelled
		if services.IsTerminal(s) != want {
			t.Errorf("IsTerminal(%s) = %v", s, !want)
		}
	}
}

func TestTransitionRequiresRelationship(t *testing.T) {
	machine := services.NewStateMachine(fixedClock)
	task := &models.Task{ID: "t1", Status: models.StatusAccepted, CreatorID: "creator", AssigneeID: "assignee"}

	err := machine.Transition(task, models.StatusPicked, services.UserActor("stranger"))
	if !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if err := machine.Transition(task, models.StatusPicked, services.UserActor("")); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized for empty actor, got %v", err)
	}
}

func TestSystemActorMayOnlyCancel(t *testing.T) {
	machine := services.NewStateMachine(fixedClock)
	task := &models.Task{ID: "t1", Status: models.StatusAccepted, CreatorID: "creator", AssigneeID: "assignee"}

	if err := machine.Transition(task, models.StatusPicked, services.SystemActor); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if err := machine.Transition(task, models.StatusCancelled, services.SystemActor); err != nil {
		t.Fatalf("system cancel: %v", err)
	}
	if task.CancelledBy != models.CancelledBySystem {
		t.Fatalf("CancelledBy = %q", task.CancelledBy)
	}
}

func TestCancelledByRecordsRelation(t *testing.T) {
	machine := services.NewStateMachine(fixedClock)
	cases := []struct {
		actor string
		want  models.CancelledBy
	}{
		{"creator", models.CancelledByCreator},
		{"assignee", models.CancelledByAssignee},
	}
	for _, tc := range cases {
		task := &models.Task{ID: "t1", Status: models.StatusAccepted, CreatorID: "creator", AssigneeID: "assignee"}
		if err := machine.Transition(task, models.StatusCancelled, services.UserActor(tc.actor)); err != nil {
			t.Fatalf("%s cancel: %v", tc.actor, err)
		}
		if task.CancelledBy != tc.want {
			t.Errorf("%s cancel: CancelledBy = %q, want %q", tc.actor, task.CancelledBy, tc.want)
		}
	}
}

func TestAcceptRequiresAssignee(t *testing.T) {
	machine := services.NewStateMachine(fixedClock)
	task := &models.Task{ID: "t1", Status: models.StatusPending, CreatorID: "creator"}

	if err := machine.Transition(task, models.StatusAccepted, services.UserActor("creator")); !errors.Is(err, models.ErrIllegalTransition) {
		t.Fatalf("expected IllegalTransition, got %v", err)
	}
}
