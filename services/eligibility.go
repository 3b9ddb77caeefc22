package services

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"campus-courier/models"
)

// RecentWindow is how far back the cancellation pattern check looks.
const RecentWindow = 30 * 24 * time.Hour

const (
	baseMinScore        = 2.0
	maxMinScore         = 4.0
	minRecentForPattern = 5
	maxCancelRate       = 0.3
)

// Eligibility is the verdict for one (user, task) pair.
type Eligibility struct {
	Eligible   bool    `json:"eligible"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Err converts a rejection into an *models.IneligibleError, nil when eligible.
func (e Eligibility) Err() error {
	if e.Eligible {
		return nil
	}
	return &models.IneligibleError{Reason: e.Reason, Confidence: e.Confidence}
}

type EligibilityChecker struct {
	ledger *CreditLedger
}

func NewEligibilityChecker(ledger *CreditLedger) *EligibilityChecker {
	return &EligibilityChecker{ledger: ledger}
}

// Check applies the rules in order; the first failure wins.
// user.Stats.ActiveAssigned and history must be loaded by the caller.
func (c *EligibilityChecker) Check(user *models.User, task *models.Task, history models.ClaimHistory) Eligibility {
	if task.CreatorID == user.ID {
		return Eligibility{Reason: "cannot claim own task", Confidence: 1.0}
	}

	// The task floor is reported first; the trend surcharge only adds to it.
	for _, required := range []float64{taskFloor(task), c.MinScore(user, task)} {
		if user.CreditScore < required {
			return Eligibility{
				Reason: fmt.Sprintf("insufficient credit score (required %s, current %s)",
					formatScore(required), formatScore(user.CreditScore)),
				Confidence: 0.9,
			}
		}
	}

	limit := MaxActiveTasks(user.CreditScore)
	if user.Stats.ActiveAssigned >= limit {
		return Eligibility{
			Reason:     fmt.Sprintf("too many active tasks (max %d)", limit),
			Confidence: 0.8,
		}
	}

	if history.Claimed >= minRecentForPattern && history.CancelRate() > maxCancelRate {
		return Eligibility{Reason: "excessive recent cancellations", Confidence: 0.7}
	}

	return Eligibility{Eligible: true, Reason: "eligible to claim", Confidence: 0.95}
}

// MinScore is the dynamic credit floor for user claiming task.
func (c *EligibilityChecker) MinScore(user *models.User, task *models.Task) float64 {
	min := taskFloor(task)
	if c.ledger.Trend(user) == models.TrendPoor {
		min += 0.5
	}
	return round2(math.Min(min, maxMinScore))
}

// taskFloor is the part of the floor that depends on the task alone.
func taskFloor(task *models.Task) float64 {
	min := baseMinScore
	reward := task.RewardFloat()
	switch {
	case reward >= 20:
		min += 0.5
	case reward >= 10:
		min += 0.2
	}
	if task.Urgency == models.UrgencyHigh {
		min += 0.3
	}
	return round2(math.Min(min, maxMinScore))
}

// MaxActiveTasks grows with the score.
func MaxActiveTasks(score float64) int {
	switch {
	case score >= 4.5:
		return 8
	case score >= 4.0:
		return 6
	case score >= 3.0:
		return 5
	case score >= 2.5:
		return 4
	default:
		return 3
	}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', -1, 64)
}
