package services

import (
	"math"
	"time"

	"campus-courier/models"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeTimeout has a delta but no caller produces it yet.
	OutcomeTimeout Outcome = "timeout"
)

type Role string

const (
	RolePublisher Role = "publisher"
	RoleAssignee  Role = "assignee"
)

type deltaKey struct {
	outcome Outcome
	role    Role
}

var baseDeltas = map[deltaKey]float64{
	{OutcomeCompleted, RolePublisher}: 0.1,
	{OutcomeCompleted, RoleAssignee}:  0.2,
	{OutcomeCancelled, RoleAssignee}:  -0.3,
	{OutcomeCancelled, RolePublisher}: -0.1,
	{OutcomeTimeout, RolePublisher}:   -0.2,
	{OutcomeTimeout, RoleAssignee}:    -0.2,
}

var categoryMultipliers = map[models.TaskCategory]float64{
	models.CategoryDelivery: 1.0,
	models.CategoryFood:     0.8,
	models.CategoryDocument: 1.2,
	models.CategoryPurchase: 1.1,
	models.CategoryOther:    1.0,
}

var urgencyMultipliers = map[models.TaskUrgency]float64{
	models.UrgencyLow:    0.9,
	models.UrgencyMedium: 1.0,
	models.UrgencyHigh:   1.3,
}

func rewardMultiplier(reward float64) float64 {
	switch {
	case reward < 0:
		return 1.0
	case reward < 5:
		return 0.8
	case reward < 10:
		return 1.0
	case reward < 20:
		return 1.2
	default:
		return 1.5
	}
}

// ScoringPolicy turns an outcome into a score delta for one party.
type ScoringPolicy interface {
	Name() string
	Delta(task *models.Task, outcome Outcome, role Role) float64
}

// FlatPolicy uses the base delta table unchanged.
type FlatPolicy struct{}

func (FlatPolicy) Name() string { return "flat" }

func (FlatPolicy) Delta(_ *models.Task, outcome Outcome, role Role) float64 {
	return baseDeltas[deltaKey{outcome, role}]
}

// ScaledPolicy multiplies the base delta by category, urgency and reward bracket.
type ScaledPolicy struct{}

func (ScaledPolicy) Name() string { return "scaled" }

func (ScaledPolicy) Delta(task *models.Task, outcome Outcome, role Role) float64 {
	base := baseDeltas[deltaKey{outcome, role}]
	if base == 0 {
		return 0
	}
	category, ok := categoryMultipliers[task.Category]
	if !ok {
		category = 1.0
	}
	urgency, ok := urgencyMultipliers[task.Urgency]
	if !ok {
		urgency = 1.0
	}
	return round2(base * category * urgency * rewardMultiplier(task.RewardFloat()))
}

// PolicyByName resolves the CREDIT_POLICY setting.
func PolicyByName(name string) ScoringPolicy {
	if name == "scaled" {
		return ScaledPolicy{}
	}
	return FlatPolicy{}
}

// CreditLedger is the only writer of User.CreditScore.
type CreditLedger struct {
	policy ScoringPolicy
	now    func() time.Time
}

func NewCreditLedger(policy ScoringPolicy, now func() time.Time) *CreditLedger {
	if policy == nil {
		policy = FlatPolicy{}
	}
	if now == nil {
		now = time.Now
	}
	return &CreditLedger{policy: policy, now: now}
}

func (l *CreditLedger) PolicyName() string { return l.policy.Name() }

func (l *CreditLedger) ScoreDelta(task *models.Task, outcome Outcome, role Role) float64 {
	return l.policy.Delta(task, outcome, role)
}

// ApplyDelta moves the user's score by delta, clamped to [0, 5], and returns the new score.
// Scores are kept at two decimals: the sum is rounded before clamping, which is
// equivalent to clamping first because both bounds are whole numbers.
func (l *CreditLedger) ApplyDelta(user *models.User, delta float64) float64 {
	user.CreditScore = clampScore(round2(user.CreditScore + delta))
	return user.CreditScore
}

// Parties holds the users a settlement may touch. Either may be nil when the
// settlement does not need it (see SettlementParties).
type Parties struct {
	Creator  *models.User
	Assignee *models.User
}

// SettlementParties reports which users Settle will modify for a terminal task.
func SettlementParties(task *models.Task) (creator, assignee bool) {
	switch task.Status {
	case models.StatusCompleted:
		return true, task.AssigneeID != ""
	case models.StatusCancelled:
		switch task.CancelledBy {
		case models.CancelledByCreator:
			return true, false
		case models.CancelledByAssignee:
			return false, task.AssigneeID != ""
		}
	}
	return false, false
}

// Settle applies the outcome of a terminal task to the parties and returns the
// applied changes. Call exactly once per terminal transition.
func (l *CreditLedger) Settle(task *models.Task, parties Parties) []models.CreditChange {
	var changes []models.CreditChange
	apply := func(user *models.User, outcome Outcome, role Role) {
		if user == nil {
			return
		}
		delta := l.ScoreDelta(task, outcome, role)
		before := user.CreditScore
		after := l.ApplyDelta(user, delta)
		changes = append(changes, models.CreditChange{
			UserID:    user.ID,
			TaskID:    task.ID,
			Outcome:   string(outcome),
			Role:      string(role),
			Delta:     delta,
			Before:    before,
			After:     after,
			Policy:    l.policy.Name(),
			Timestamp: l.now().UTC(),
		})
	}

	wantCreator, wantAssignee := SettlementParties(task)
	outcome := OutcomeCompleted
	if task.Status == models.StatusCancelled {
		outcome = OutcomeCancelled
	}
	if wantCreator {
		apply(parties.Creator, outcome, RolePublisher)
	}
	if wantAssignee {
		apply(parties.Assignee, outcome, RoleAssignee)
	}
	return changes
}

// Trend buckets a score; it feeds eligibility and is never stored.
func Trend(score float64) models.CreditTrend {
	switch {
	case score >= 4.0:
		return models.TrendExcellent
	case score >= 3.0:
		return models.TrendGood
	case score >= 2.0:
		return models.TrendFair
	default:
		return models.TrendPoor
	}
}

func (l *CreditLedger) Trend(user *models.User) models.CreditTrend {
	return Trend(user.CreditScore)
}

// AssessReliability builds the profile from repository aggregates.
func (l *CreditLedger) AssessReliability(user *models.User) models.Reliability {
	s := user.Stats
	r := models.Reliability{
		TotalPublished: s.TotalCreated,
		TotalTaken:     s.TotalAssigned,
		CurrentScore:   user.CreditScore,
		Trend:          l.Trend(user),
	}
	if s.TotalCreated > 0 {
		r.PublishCompletionRate = round2(float64(s.CompletedCreated) / float64(s.TotalCreated))
	}
	if s.TotalAssigned > 0 {
		r.TakeCompletionRate = round2(float64(s.CompletedAssigned) / float64(s.TotalAssigned))
	}
	return r
}

func clampScore(v float64) float64 {
	return math.Min(models.MaxCreditScore, math.Max(models.MinCreditScore, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
