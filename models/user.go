package models

import "time"

const (
	DefaultCreditScore = 3.5
	MinCreditScore     = 0.0
	MaxCreditScore     = 5.0
)

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

type User struct {
	ID          string    `json:"id"`
	FirebaseUID string    `json:"firebase_uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Phone       string    `json:"phone"`
	Campus      string    `json:"campus"`
	Role        string    `json:"role"`
	CreditScore float64   `json:"credit_score"`
	CreatedAt   time.Time `json:"created_at"`

	// Filled by the repository on reads, never persisted.
	Stats UserStats `json:"stats"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// UpdateProfileInput changes only the fields that are present.
type UpdateProfileInput struct {
	DisplayName *string `json:"display_name"`
	Phone       *string `json:"phone"`
	Campus      *string `json:"campus"`
}

// UserStats are aggregate task counts computed by the repository.
type UserStats struct {
	ActiveAssigned    int `json:"active_assigned"`
	ActiveCreated     int `json:"active_created"`
	TotalAssigned     int `json:"total_assigned"`
	CompletedAssigned int `json:"completed_assigned"`
	TotalCreated      int `json:"total_created"`
	CompletedCreated  int `json:"completed_created"`
}

// ClaimHistory summarises the tasks a user claimed inside a time window.
type ClaimHistory struct {
	Claimed   int
	Cancelled int
}

// CancelRate returns the cancelled share of claimed tasks, zero when nothing was claimed.
func (h ClaimHistory) CancelRate() float64 {
	if h.Claimed == 0 {
		return 0
	}
	return float64(h.Cancelled) / float64(h.Claimed)
}

// Identity is what a verified login token says about its holder.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}
