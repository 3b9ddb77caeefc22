package services

import (
	"context"
	"time"

	"campus-courier/models"
)

// Repository is the persistence boundary of the core. Implementations live in
// the database package.
type Repository interface {
	// InTx runs fn in one transaction, committing when fn returns nil.
	// Lock acquisition failures surface as models.ErrConcurrencyConflict.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	ListExpiredPendingTasks(ctx context.Context, now time.Time) ([]models.Task, error)

	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error)
	// EnsureUser returns the user with user.FirebaseUID, creating it when absent.
	EnsureUser(ctx context.Context, user *models.User) (*models.User, error)
}

// Tx is the transactional view used by the arbiter, transitions and the sweeper.
type Tx interface {
	// GetTaskForUpdate holds the task exclusively until the transaction ends.
	GetTaskForUpdate(ctx context.Context, id string) (*models.Task, error)
	SaveTask(ctx context.Context, task *models.Task) error

	// GetUser loads the user with Stats preloaded, without locking it.
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserForUpdate(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	RecentClaims(ctx context.Context, userID string, since time.Time) (models.ClaimHistory, error)
}

// Geocoder resolves an address; (nil, nil) means no result.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
}

// CreditRecorder receives applied credit changes after commit.
type CreditRecorder interface {
	RecordCreditChanges(ctx context.Context, changes []models.CreditChange) error
}

type nopRecorder struct{}

func (nopRecorder) RecordCreditChanges(context.Context, []models.CreditChange) error { return nil }

// CreditHistory is a CreditRecorder that can also be read back per user, newest first.
type CreditHistory interface {
	CreditRecorder
	ListCreditChanges(ctx context.Context, userID string, limit int) ([]models.CreditChange, error)
}

// RatingSource aggregates the peer ratings a user has received.
type RatingSource interface {
	RatingSummary(ctx context.Context, userID string) (average float64, count int, err error)
}

type EvaluationStore interface {
	RatingSource
	// CreateEvaluation fails with models.ErrAlreadyExists when the evaluator
	// already rated this task.
	CreateEvaluation(ctx context.Context, e *models.Evaluation) error
	// Both lists are newest first.
	ListEvaluationsByEvaluatee(ctx context.Context, userID string) ([]models.Evaluation, error)
	ListEvaluationsByTask(ctx context.Context, taskID string) ([]models.Evaluation, error)
}

type AppealStore interface {
	CreateAppeal(ctx context.Context, a *models.Appeal) error
	GetAppeal(ctx context.Context, id string) (*models.Appeal, error)
	ListAppealsByCreator(ctx context.Context, userID string) ([]models.Appeal, error)
	// UpdateAppeal saves a only while the stored status is still expected,
	// otherwise it returns models.ErrConcurrencyConflict.
	UpdateAppeal(ctx context.Context, a *models.Appeal, expected models.AppealStatus) error
}

// Store is everything one database backend provides.
type Store interface {
	Repository
	EvaluationStore
	AppealStore
}
