package models

import "time"

type AppealStatus string

const (
	AppealPending    AppealStatus = "pending"
	AppealProcessing AppealStatus = "processing"
	AppealResolved   AppealStatus = "resolved"
	AppealRejected   AppealStatus = "rejected"
)

func (s AppealStatus) Valid() bool {
	switch s {
	case AppealPending, AppealProcessing, AppealResolved, AppealRejected:
		return true
	}
	return false
}

// Closed reports whether an admin has given a final answer.
func (s AppealStatus) Closed() bool {
	return s == AppealResolved || s == AppealRejected
}

// Appeal is a participant's dispute about a task, answered by an admin.
type Appeal struct {
	ID         string       `json:"id"`
	TaskID     string       `json:"task_id"`
	CreatorID  string       `json:"creator_id"`
	Reason     string       `json:"reason"`
	Status     AppealStatus `json:"status"`
	AdminReply string       `json:"admin_reply,omitempty"`
	HandledBy  string       `json:"handled_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type CreateAppealInput struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

type HandleAppealInput struct {
	Status     AppealStatus `json:"status"`
	AdminReply string       `json:"admin_reply"`
}
