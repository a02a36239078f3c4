package domain

import "time"

// CommsChannel is the dedicated Slack channel created for one incident.
// One per incident, created once, renamed on demand, never recreated.
type CommsChannel struct {
	ID          string
	IncidentID  string
	ChannelID   string
	ChannelName string
	CreatedAt   time.Time
}

// HeadlinePost references the pinned summary message for an incident in
// the central incidents channel. The message ts is the handle used to
// update it in place. Private incidents have no headline post.
type HeadlinePost struct {
	ID         string
	IncidentID string
	MessageTS  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
