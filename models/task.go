package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusAccepted   TaskStatus = "accepted"
	StatusPicked     TaskStatus = "picked"
	StatusDelivering TaskStatus = "delivering"
	StatusConfirming TaskStatus = "confirming"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{
	StatusPending,
	StatusAccepted,
	StatusPicked,
	StatusDelivering,
	StatusConfirming,
	StatusCompleted,
	StatusCancelled,
}

func (s TaskStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

type TaskCategory string

const (
	CategoryDelivery TaskCategory = "delivery"
	CategoryFood     TaskCategory = "food"
	CategoryDocument TaskCategory = "document"
	CategoryPurchase TaskCategory = "purchase"
	CategoryOther    TaskCategory = "other"
)

func (c TaskCategory) Valid() bool {
	switch c {
	case CategoryDelivery, CategoryFood, CategoryDocument, CategoryPurchase, CategoryOther:
		return true
	}
	return false
}

type TaskUrgency string

const (
	UrgencyLow    TaskUrgency = "low"
	UrgencyMedium TaskUrgency = "medium"
	UrgencyHigh   TaskUrgency = "high"
)

func (u TaskUrgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// CancelledBy records which party moved a task into cancelled.
type CancelledBy string

const (
	CancelledByNone     CancelledBy = ""
	CancelledByCreator  CancelledBy = "creator"
	CancelledByAssignee CancelledBy = "assignee"
	CancelledBySystem   CancelledBy = "system"
)

type Coordinates struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

type Location struct {
	Name   string       `json:"name"`
	Coords *Coordinates `json:"coords,omitempty"`
}

// Task is a delivery request posted by a creator and claimed by at most one assignee.
// Status, AssigneeID and CancelledBy are written only through services.StateMachine.
type Task struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Pickup        Location        `json:"pickup"`
	Dropoff       Location        `json:"dropoff"`
	Reward        decimal.Decimal `json:"reward_amount"`
	Category      TaskCategory    `json:"category"`
	Urgency       TaskUrgency     `json:"urgency"`
	Status        TaskStatus      `json:"status"`
	GrabExpiresAt *time.Time      `json:"grab_expires_at,omitempty"`
	CancelledBy   CancelledBy     `json:"cancelled_by,omitempty"`
	CreatorID     string          `json:"creator_id"`
	AssigneeID    string          `json:"assignee_id,omitempty"`
	AcceptedAt    *time.Time      `json:"accepted_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RewardFloat returns the reward as float64 for threshold comparisons.
func (t *Task) RewardFloat() float64 {
	f, _ := t.Reward.Float64()
	return f
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (t *Task) Clone() *Task {
	c := *t
	if t.Pickup.Coords != nil {
		p := *t.Pickup.Coords
		c.Pickup.Coords = &p
	}
	if t.Dropoff.Coords != nil {
		d := *t.Dropoff.Coords
		c.Dropoff.Coords = &d
	}
	if t.GrabExpiresAt != nil {
		g := *t.GrabExpiresAt
		c.GrabExpiresAt = &g
	}
	if t.AcceptedAt != nil {
		a := *t.AcceptedAt
		c.AcceptedAt = &a
	}
	return &c
}

type CreateTaskInput struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	PickupName    string          `json:"pickup_location_name"`
	PickupLat     *float64        `json:"pickup_lat"`
	PickupLng     *float64        `json:"pickup_lng"`
	DropoffName   string          `json:"dropoff_location_name"`
	DropoffLat    *float64        `json:"dropoff_lat"`
	DropoffLng    *float64        `json:"dropoff_lng"`
	Reward        decimal.Decimal `json:"reward_amount"`
	Category      TaskCategory    `json:"category"`
	Urgency       TaskUrgency     `json:"urgency"`
	GrabExpiresAt *time.Time      `json:"grab_expires_at"`
}

type UpdateStatusInput struct {
	Status TaskStatus `json:"status"`
}

// TaskFilter narrows ListTasks. Zero values mean "no filter".
type TaskFilter struct {
	Keyword      string
	Status       TaskStatus
	Category     TaskCategory
	Urgency      TaskUrgency
	MinReward    *decimal.Decimal
	MaxReward    *decimal.Decimal
	PickupLike   string
	DropoffLike  string
	CreatedSince *time.Time
	SortBy       string // "created_at" or "reward_amount"
	SortAsc      bool
}
