package domain

import "time"

// TimelineEventType discriminates entries in an incident's timeline.
type TimelineEventType string

// Timeline event types.
const (
	TimelineIncidentReported     TimelineEventType = "incident_reported"
	TimelineIncidentName         TimelineEventType = "incident_name"
	TimelineIncidentLead         TimelineEventType = "incident_lead"
	TimelineIncidentSummary      TimelineEventType = "incident_summary"
	TimelineIncidentSeverity     TimelineEventType = "incident_severity"
	TimelineIncidentStatusUpdate TimelineEventType = "incident_status_update"
	TimelineIncidentClosed       TimelineEventType = "incident_closed"
	TimelineActionCreated        TimelineEventType = "action_created"
	TimelineActionAssigned       TimelineEventType = "action_assigned"
	TimelineActionComplete       TimelineEventType = "action_complete"
)

// TimelineEvent is one entry in the persistent per-incident event log:
// a human-readable text plus the machine-readable old/new values.
type TimelineEvent struct {
	ID         string
	IncidentID string
	Type       TimelineEventType
	Text       string
	OldValue   *string
	NewValue   *string
	CreatedAt  time.Time
}
