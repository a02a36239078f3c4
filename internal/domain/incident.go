package domain

import (
	"fmt"
	"time"
)

// Severity represents incident severity. Stored as the numeric id so that
// ordering comparisons ("sev < 3") stay cheap.
type Severity string

// Severity levels.
const (
	SeverityCritical Severity = "1"
	SeverityMajor    Severity = "2"
	SeverityMinor    Severity = "3"
)

// Severities lists all severities in display order.
var Severities = []Severity{SeverityCritical, SeverityMajor, SeverityMinor}

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	return s == SeverityCritical || s == SeverityMajor || s == SeverityMinor
}

// Text returns the human-readable severity name.
func (s Severity) Text() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityMajor:
		return "major"
	case SeverityMinor:
		return "minor"
	}
	return ""
}

// ParseSeverity matches a severity by id or name ("2", "major").
// Returns false if the input matches no severity.
func ParseSeverity(s string) (Severity, bool) {
	for _, sev := range Severities {
		if s == string(sev) || s == sev.Text() {
			return sev, true
		}
	}
	return "", false
}

// StatusUpdateInterval is the number of minutes until the next status
// update is due.
type StatusUpdateInterval string

// Allowed status update intervals.
const (
	StatusUpdateIn5  StatusUpdateInterval = "5"
	StatusUpdateIn10 StatusUpdateInterval = "10"
	StatusUpdateIn30 StatusUpdateInterval = "30"
	StatusUpdateIn60 StatusUpdateInterval = "60"
)

// StatusUpdateIntervals lists all intervals in display order.
var StatusUpdateIntervals = []StatusUpdateInterval{
	StatusUpdateIn5, StatusUpdateIn10, StatusUpdateIn30, StatusUpdateIn60,
}

// IsValid checks if the interval is one of the allowed values.
func (i StatusUpdateInterval) IsValid() bool {
	switch i {
	case StatusUpdateIn5, StatusUpdateIn10, StatusUpdateIn30, StatusUpdateIn60:
		return true
	}
	return false
}

// Minutes returns the interval as a duration.
func (i StatusUpdateInterval) Minutes() time.Duration {
	switch i {
	case StatusUpdateIn5:
		return 5 * time.Minute
	case StatusUpdateIn10:
		return 10 * time.Minute
	case StatusUpdateIn30:
		return 30 * time.Minute
	case StatusUpdateIn60:
		return time.Hour
	}
	return 0
}

// Text returns the human-readable interval ("30 mins", "1 hour").
func (i StatusUpdateInterval) Text() string {
	if i == StatusUpdateIn60 {
		return "1 hour"
	}
	if i.IsValid() {
		return string(i) + " mins"
	}
	return ""
}

// Incident is the root aggregate: a single reported operational incident.
// Actions, the comms channel and the headline post all hang off it.
type Incident struct {
	ID       string
	Name     string
	Reporter *ExternalUser
	Lead     *ExternalUser

	Severity *Severity
	Private  bool

	StartTime time.Time
	EndTime   *time.Time

	Summary      *string
	StatusUpdate *string

	StatusUpdateLast *time.Time
	StatusUpdateNext *StatusUpdateInterval

	UpdatedBy *ExternalUser
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClosed reports whether the incident has ended. The end time being set
// is the single source of truth for the closed state.
func (i *Incident) IsClosed() bool {
	return i.EndTime != nil
}

// StatusText returns "resolved" for closed incidents, "live" otherwise.
func (i *Incident) StatusText() string {
	if i.IsClosed() {
		return "resolved"
	}
	return "live"
}

// StatusEmoji returns the emoji used next to the incident name.
func (i *Incident) StatusEmoji() string {
	if i.IsClosed() {
		return "✅"
	}
	return "🚨"
}

// SeverityText returns the severity name, or "" if unset.
func (i *Incident) SeverityText() string {
	if i.Severity == nil {
		return ""
	}
	return i.Severity.Text()
}

// SeverityEmoji returns the emoji for the current severity.
func (i *Incident) SeverityEmoji() string {
	if i.Severity == nil {
		return "☁️"
	}
	return "🔥"
}

// Duration returns a human-readable duration since the incident started,
// up to the end time for closed incidents.
func (i *Incident) Duration(now time.Time) string {
	end := now
	if i.EndTime != nil {
		end = *i.EndTime
	}

	delta := end.Sub(i.StartTime)
	hours := int(delta.Hours())
	minutes := int(delta.Minutes()) % 60
	seconds := int(delta.Seconds()) % 60

	out := ""
	if hours > 0 {
		out += fmt.Sprintf("%d hr", hours)
		if hours > 1 {
			out += "s"
		}
		out += " "
	}
	if minutes > 0 {
		out += fmt.Sprintf("%d min", minutes)
		if minutes > 1 {
			out += "s"
		}
		out += " "
	}
	if hours == 0 && minutes == 0 {
		out += fmt.Sprintf("%d secs", seconds)
	}

	if len(out) > 0 && out[len(out)-1] == ' ' {
		out = out[:len(out)-1]
	}
	return out
}

// LeadOrReporter returns the user responsible for the incident: the lead
// when assigned, the reporter otherwise.
func (i *Incident) LeadOrReporter() *ExternalUser {
	if i.Lead != nil {
		return i.Lead
	}
	return i.Reporter
}
