package models

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

// Evaluation is one participant's rating of the other after a completed task.
type Evaluation struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	EvaluatorID string    `json:"evaluator_id"`
	EvaluateeID string    `json:"evaluatee_id"`
	Score       int       `json:"score"`
	Comment     string    `json:"comment"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateEvaluationInput struct {
	TaskID      string `json:"task_id"`
	EvaluateeID string `json:"evaluatee_id"`
	Score       int    `json:"score"`
	Comment     string `json:"comment"`
}

type EvaluationSummary struct {
	UserID           string       `json:"user_id"`
	AverageScore     float64      `json:"average_score"`
	TotalEvaluations int          `json:"total_evaluations"`
	Evaluations      []Evaluation `json:"evaluations"`
}
