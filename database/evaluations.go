package database

import (
	"context"
	"fmt"
	"math"
	"sort"

	"campus-courier/models"
)

const evaluationColumns = `id, task_id, evaluator_id, evaluatee_id, score, comment, created_at`

func (s *SQLStore) CreateEvaluation(ctx context.Context, e *models.Evaluation) error {
	query := s.dialect.Rebind(`INSERT INTO evaluations (` + evaluationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.TaskID, e.EvaluatorID, e.EvaluateeID, e.Score, e.Comment, e.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return models.Errorf(models.ErrAlreadyExists, "user %s already evaluated task %s", e.EvaluatorID, e.TaskID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

func (s *SQLStore) ListEvaluationsByEvaluatee(ctx context.Context, userID string) ([]models.Evaluation, error) {
	return s.queryEvaluations(ctx, "evaluatee_id", userID)
}

func (s *SQLStore) ListEvaluationsByTask(ctx context.Context, taskID string) ([]models.Evaluation, error) {
	return s.queryEvaluations(ctx, "task_id", taskID)
}

func (s *SQLStore) RatingSummary(ctx context.Context, userID string) (float64, int, error) {
	query := s.dialect.Rebind(`SELECT COALESCE(AVG(score), 0), COUNT(*) FROM evaluations WHERE evaluatee_id = ?`)
	var (
		avg float64
		n   int
	)
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&avg, &n); err != nil {
		return 0, 0, fmt.Errorf("failed to average ratings for %s: %w", userID, err)
	}
	return roundRating(avg), n, nil
}

func (s *SQLStore) queryEvaluations(ctx context.Context, column, value string) ([]models.Evaluation, error) {
	query := s.dialect.Rebind(`SELECT ` + evaluationColumns + ` FROM evaluations
		WHERE ` + column + ` = ? ORDER BY created_at DESC, id ASC`)
	rows, err := s.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	evals := []models.Evaluation{}
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, *e)
	}
	return evals, rows.Err()
}

func scanEvaluation(row rowScanner) (*models.Evaluation, error) {
	var e models.Evaluation
	if err := row.Scan(&e.ID, &e.TaskID, &e.EvaluatorID, &e.EvaluateeID, &e.Score, &e.Comment, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (s *MemoryStore) CreateEvaluation(ctx context.Context, e *models.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[e.TaskID]; !ok {
		return models.Errorf(models.ErrNotFound, "task %s", e.TaskID)
	}
	for _, existing := range s.evaluations {
		if existing.TaskID == e.TaskID && existing.EvaluatorID == e.EvaluatorID {
			return models.Errorf(models.ErrAlreadyExists, "user %s already evaluated task %s", e.EvaluatorID, e.TaskID)
		}
	}
	c := *e
	s.evaluations = append(s.evaluations, &c)
	return nil
}

func (s *MemoryStore) ListEvaluationsByEvaluatee(ctx context.Context, userID string) ([]models.Evaluation, error) {
	return s.filterEvaluations(func(e *models.Evaluation) bool { return e.EvaluateeID == userID }), nil
}

func (s *MemoryStore) ListEvaluationsByTask(ctx context.Context, taskID string) ([]models.Evaluation, error) {
	return s.filterEvaluations(func(e *models.Evaluation) bool { return e.TaskID == taskID }), nil
}

func (s *MemoryStore) RatingSummary(ctx context.Context, userID string) (float64, int, error) {
	evals := s.filterEvaluations(func(e *models.Evaluation) bool { return e.EvaluateeID == userID })
	if len(evals) == 0 {
		return 0, 0, nil
	}
	total := 0
	for _, e := range evals {
		total += e.Score
	}
	return roundRating(float64(total) / float64(len(evals))), len(evals), nil
}

func (s *MemoryStore) filterEvaluations(keep func(e *models.Evaluation) bool) []models.Evaluation {
	s.mu.RLock()
	evals := []models.Evaluation{}
	for _, e := range s.evaluations {
		if keep(e) {
			evals = append(evals, *e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(evals, func(i, j int) bool {
		if c := evals[i].CreatedAt.Compare(evals[j].CreatedAt); c != 0 {
			return c > 0
		}
		return evals[i].ID < evals[j].ID
	})
	return evals
}

func roundRating(v float64) float64 {
	return math.Round(v*100) / 100
}
