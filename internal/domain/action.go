package domain

import "time"

// Action is a follow-up task logged against an incident. Completion is
// monotonic: a done action is never reopened.
type Action struct {
	ID         string
	IncidentID string
	Details    string
	Done       bool
	AssignedTo *ExternalUser
	CreatedBy  *ExternalUser
	UpdatedBy  *ExternalUser
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
