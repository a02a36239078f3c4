package domain

import "time"

// ExternalUser maps a Slack user id to a display name. Shared between
// incidents, never owned by one.
type ExternalUser struct {
	ID          string
	ExternalID  string
	DisplayName string
	Email       *string
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
