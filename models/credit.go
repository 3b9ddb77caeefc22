package models

import "time"

type CreditTrend string

const (
	TrendExcellent CreditTrend = "excellent"
	TrendGood      CreditTrend = "good"
	TrendFair      CreditTrend = "fair"
	TrendPoor      CreditTrend = "poor"
)

// CreditChange is one applied score movement, kept as an audit entry in Firestore.
type CreditChange struct {
	UserID    string    `json:"user_id" firestore:"user_id"`
	TaskID    string    `json:"task_id" firestore:"task_id"`
	Outcome   string    `json:"outcome" firestore:"outcome"`
	Role      string    `json:"role" firestore:"role"`
	Delta     float64   `json:"delta" firestore:"delta"`
	Before    float64   `json:"before" firestore:"before"`
	After     float64   `json:"after" firestore:"after"`
	Policy    string    `json:"policy" firestore:"policy"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

// Reliability is the read-only profile shown alongside a user's score.
type Reliability struct {
	PublishCompletionRate float64     `json:"publish_completion_rate"`
	TakeCompletionRate    float64     `json:"take_completion_rate"`
	TotalPublished        int         `json:"total_published"`
	TotalTaken            int         `json:"total_taken"`
	CurrentScore          float64     `json:"current_score"`
	Trend                 CreditTrend `json:"score_trend"`

	// Peer ratings are informational and never feed the score.
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int     `json:"total_ratings"`
}
