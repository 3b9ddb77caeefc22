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

const maxCommentLength = 500

// EvaluationService records peer ratings between the two parties of a
// completed task. Ratings are kept for display only; the credit score is
// moved by the ledger alone.
type EvaluationService struct {
	repo  Repository
	evals EvaluationStore
	now   func() time.Time
}

func NewEvaluationService(repo Repository, evals EvaluationStore, now func() time.Time) *EvaluationService {
	if now == nil {
		now = time.Now
	}
	return &EvaluationService{repo: repo, evals: evals, now: now}
}

// Submit stores evaluatorID's rating of the other party of in.TaskID. An empty
// EvaluateeID means that other party.
func (s *EvaluationService) Submit(ctx context.Context, evaluatorID string, in models.CreateEvaluationInput) (*models.Evaluation, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	switch {
	case in.TaskID == "":
		return nil, models.Errorf(models.ErrInvalidInput, "task_id is required")
	case in.Score < models.MinRating || in.Score > models.MaxRating:
		return nil, models.Errorf(models.ErrInvalidInput, "score must be between %d and %d", models.MinRating, models.MaxRating)
	case utf8.RuneCountInString(in.Comment) > maxCommentLength:
		return nil, models.Errorf(models.ErrInvalidInput, "comment longer than %d characters", maxCommentLength)
	}

	task, err := s.repo.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StatusCompleted {
		return nil, models.Errorf(models.ErrInvalidInput, "task %s is %s, only completed tasks can be evaluated", task.ID, task.Status)
	}

	var counterpart string
	switch evaluatorID {
	case task.CreatorID:
		counterpart = task.AssigneeID
	case task.AssigneeID:
		counterpart = task.CreatorID
	default:
		return nil, models.Errorf(models.ErrUnauthorized, "user %s took no part in task %s", evaluatorID, task.ID)
	}
	if in.EvaluateeID != "" && in.EvaluateeID != counterpart {
		return nil, models.Errorf(models.ErrInvalidInput, "user %s can only evaluate %s on task %s", evaluatorID, counterpart, task.ID)
	}

	e := &models.Evaluation{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		EvaluatorID: evaluatorID,
		EvaluateeID: counterpart,
		Score:       in.Score,
		Comment:     in.Comment,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.evals.CreateEvaluation(ctx, e); err != nil {
		return nil, err
	}
	utilities.LogInfo("User %s rated %s %d/5 on task %s", evaluatorID, counterpart, e.Score, task.ID)
	return e, nil
}

func (s *EvaluationService) UserSummary(ctx context.Context, userID string) (*models.EvaluationSummary, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	evals, err := s.evals.ListEvaluationsByEvaluatee(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := &models.EvaluationSummary{UserID: userID, TotalEvaluations: len(evals), Evaluations: evals}
	if len(evals) > 0 {
		total := 0
		for _, e := range evals {
			total += e.Score
		}
		summary.AverageScore = round2(float64(total) / float64(len(evals)))
	}
	return summary, nil
}

func (s *EvaluationService) TaskEvaluations(ctx context.Context, taskID string) ([]models.Evaluation, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.evals.ListEvaluationsByTask(ctx, taskID)
}
