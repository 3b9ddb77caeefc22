package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"campus-courier/models"
	"campus-courier/utilities"
)

const maxAppealTextLength = 1000

// AppealService lets task participants dispute a task and admins answer.
type AppealService struct {
	repo     Repository
	appeals  AppealStore
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

func NewAppealService(repo Repository, appeals AppealStore, now func() time.Time) *AppealService {
	if now == nil {
		now = time.Now
	}
	return &AppealService{
		repo:     repo,
		appeals:  appeals,
		attempts: defaultConflictAttempts,
		backoff:  defaultConflictBackoff,
		now:      now,
	}
}

// Create files an appeal about a task the user created or took.
func (s *AppealService) Create(ctx context.Context, userID string, in models.CreateAppealInput) (*models.Appeal, error) {
	reason := strings.TrimSpace(in.Reason)
	switch {
	case in.TaskID == "":
		return nil, models.Errorf(models.ErrInvalidInput, "task_id is required")
	case reason == "":
		return nil, models.Errorf(models.ErrInvalidInput, "reason is required")
	case utf8.RuneCountInString(reason) > maxAppealTextLength:
		return nil, models.Errorf(models.ErrInvalidInput, "reason longer than %d characters", maxAppealTextLength)
	}

	task, err := s.repo.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != userID && task.AssigneeID != userID {
		return nil, models.Errorf(models.ErrUnauthorized, "user %s took no part in task %s", userID, task.ID)
	}

	now := s.now().UTC()
	a := &models.Appeal{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		CreatorID: userID,
		Reason:    reason,
		Status:    models.AppealPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.appeals.CreateAppeal(ctx, a); err != nil {
		return nil, err
	}
	utilities.LogInfo("Appeal %s filed by %s on task %s", a.ID, userID, task.ID)
	return a, nil
}

func (s *AppealService) Mine(ctx context.Context, userID string) ([]models.Appeal, error) {
	return s.appeals.ListAppealsByCreator(ctx, userID)
}

// Get returns the appeal to its creator or to an admin.
func (s *AppealService) Get(ctx context.Context, id, userID string) (*models.Appeal, error) {
	a, err := s.appeals.GetAppeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.CreatorID == userID {
		return a, nil
	}
	if _, err := s.requireAdmin(ctx, userID); err != nil {
		return nil, err
	}
	return a, nil
}

// Handle records an admin's answer. Resolved and rejected appeals are final and
// need a reply.
func (s *AppealService) Handle(ctx context.Context, id, adminID string, in models.HandleAppealInput) (*models.Appeal, error) {
	reply := strings.TrimSpace(in.AdminReply)
	switch {
	case in.Status != models.AppealProcessing && !in.Status.Closed():
		return nil, models.Errorf(models.ErrInvalidInput, "status must be processing, resolved or rejected, got %q", in.Status)
	case in.Status.Closed() && reply == "":
		return nil, models.Errorf(models.ErrInvalidInput, "admin_reply is required to close an appeal")
	case utf8.RuneCountInString(reply) > maxAppealTextLength:
		return nil, models.Errorf(models.ErrInvalidInput, "admin_reply longer than %d characters", maxAppealTextLength)
	}
	if _, err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var handled *models.Appeal
	err := retryOnConflict(ctx, s.attempts, s.backoff, func() error {
		a, err := s.appeals.GetAppeal(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Closed() || a.Status == in.Status {
			return models.Errorf(models.ErrIllegalTransition, "appeal %s: %s -> %s", a.ID, a.Status, in.Status)
		}
		expected := a.Status
		a.Status = in.Status
		if reply != "" {
			a.AdminReply = reply
		}
		a.HandledBy = adminID
		a.UpdatedAt = s.now().UTC()
		if err := s.appeals.UpdateAppeal(ctx, a, expected); err != nil {
			return err
		}
		handled = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	utilities.LogInfo("Appeal %s moved to %s by %s", handled.ID, handled.Status, adminID)
	return handled, nil
}

func (s *AppealService) requireAdmin(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin() {
		return nil, models.Errorf(models.ErrUnauthorized, "user %s is not an admin", userID)
	}
	return u, nil
}
