package services

import (
	"time"

	"campus-courier/models"
)

// allowedTransitions is the complete edge set of the task lifecycle.
// Statuses without an entry (completed, cancelled) are terminal.
var allowedTransitions = map[models.TaskStatus]map[models.TaskStatus]bool{
	models.StatusPending:    {models.StatusAccepted: true, models.StatusCancelled: true},
	models.StatusAccepted:   {models.StatusPicked: true, models.StatusCancelled: true},
	models.StatusPicked:     {models.StatusDelivering: true},
	models.StatusDelivering: {models.StatusConfirming: true},
	models.StatusConfirming: {models.StatusCompleted: true, models.StatusCancelled: true},
}

// CanTransition reports whether to is an allowed successor of from.
func CanTransition(from, to models.TaskStatus) bool {
	return allowedTransitions[from][to]
}

// IsTerminal reports whether no transition may leave s.
func IsTerminal(s models.TaskStatus) bool {
	return s == models.StatusCompleted || s == models.StatusCancelled
}

// Actor is whoever requests a transition: a user, or the system sweeper.
type Actor struct {
	UserID string
	System bool
}

var SystemActor = Actor{System: true}

func UserActor(id string) Actor { return Actor{UserID: id} }

// StateMachine guards every write to Task.Status and Task.CancelledBy.
type StateMachine struct {
	now func() time.Time
}

func NewStateMachine(now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{now: now}
}

// Transition validates and applies target in place; the caller persists the task.
//
// The actor must be the creator or the assignee. The system actor may only cancel.
// Moving to accepted requires the assignee to be staged already (see AcceptanceArbiter).
func (m *StateMachine) Transition(task *models.Task, target models.TaskStatus, actor Actor) error {
	relation, ok := relationOf(task, actor)
	if !ok || (actor.System && target != models.StatusCancelled) {
		return models.Errorf(models.ErrUnauthorized, "actor has no relationship to task %s", task.ID)
	}
	if !CanTransition(task.Status, target) {
		return models.Errorf(models.ErrIllegalTransition, "%s -> %s", task.Status, target)
	}
	if target == models.StatusAccepted && task.AssigneeID == "" {
		return models.Errorf(models.ErrIllegalTransition, "task %s cannot be accepted without an assignee", task.ID)
	}

	task.Status = target
	task.UpdatedAt = m.now().UTC()
	if target == models.StatusCancelled {
		task.CancelledBy = relation
	}
	return nil
}

func relationOf(task *models.Task, actor Actor) (models.CancelledBy, bool) {
	switch {
	case actor.System:
		return models.CancelledBySystem, true
	case actor.UserID == "":
		return models.CancelledByNone, false
	case actor.UserID == task.CreatorID:
		return models.CancelledByCreator, true
	case actor.UserID == task.AssigneeID:
		return models.CancelledByAssignee, true
	}
	return models.CancelledByNone, false
}
