package reminder

import (
	"context"
	"time"

	"github.com/bissquit/incident-responder/internal/domain"
)

// Definition describes one recurring reminder.
type Definition struct {
	Name string
	// Interval is the minimum gap between sends, measured from the last
	// send, or from the incident start for the first one.
	Interval time.Duration
	// MaxAttempts bounds how often the reminder fires per incident.
	// Zero means unbounded.
	MaxAttempts int
	// WorkdaysOnly suppresses the reminder on weekends.
	WorkdaysOnly bool
	// HourStart/HourEnd restrict sends to working hours. Both zero means
	// any time of day.
	HourStart, HourEnd int
	// Single suppresses resends while the message content is unchanged.
	Single bool
	// Message returns the reminder text, or "" when the reminder's
	// condition does not currently hold.
	Message func(ctx context.Context, inc *domain.Incident) (string, error)
	// After runs once after a successful send.
	After func(ctx context.Context, inc *domain.Incident) error
}

// Reminder names.
const (
	ReminderLead        = "remind_incident_lead"
	ReminderSummary     = "remind_incident_summary"
	ReminderClose       = "remind_close_incident"
	ReminderShareUpdate = "remind_share_update"
)

// StatusUpdateClearer drops an incident's promised next-update interval
// after the overdue nudge has been sent.
type StatusUpdateClearer interface {
	ClearStatusUpdateNext(ctx context.Context, id string) (*domain.Incident, error)
}

// Definitions builds the standard reminder set.
//   - lead and summary nudges every 10 minutes, at most 5 times, resent
//     only when the text changes
//   - a close nudge once a day during working hours, at most twice
//   - a status-update-due nudge checked every minute, cleared after it
//     fires so it does not repeat until a new interval is chosen
func Definitions(incidents StatusUpdateClearer, closeHourStart, closeHourEnd int) []Definition {
	return []Definition{
		{
			Name:        ReminderLead,
			Interval:    10 * time.Minute,
			MaxAttempts: 5,
			Single:      true,
			Message: func(ctx context.Context, inc *domain.Incident) (string, error) {
				if inc.Lead != nil {
					return "", nil
				}
				return "👩‍🚒 This incident has no lead yet. Assign one with `lead @someone`, or take it yourself with `lead`.", nil
			},
		},
		{
			Name:        ReminderSummary,
			Interval:    10 * time.Minute,
			MaxAttempts: 5,
			Single:      true,
			Message: func(ctx context.Context, inc *domain.Incident) (string, error) {
				if inc.Summary != nil {
					return "", nil
				}
				return "📝 This incident has no summary yet. A couple of sentences on what's happening helps everyone who joins late.", nil
			},
		},
		{
			Name:         ReminderClose,
			Interval:     24 * time.Hour,
			MaxAttempts:  2,
			WorkdaysOnly: true,
			HourStart:    closeHourStart,
			HourEnd:      closeHourEnd,
			Message: func(ctx context.Context, inc *domain.Incident) (string, error) {
				return "🙏 This incident has been open for a while. If it's resolved, close it with `close`.", nil
			},
		},
		{
			Name:     ReminderShareUpdate,
			Interval: time.Minute,
			Message: func(ctx context.Context, inc *domain.Incident) (string, error) {
				if !statusUpdateDue(inc, time.Now()) {
					return "", nil
				}
				return "⏰ A status update is due. Share the latest with the Share update button.", nil
			},
			After: func(ctx context.Context, inc *domain.Incident) error {
				_, err := incidents.ClearStatusUpdateNext(ctx, inc.ID)
				return err
			},
		},
	}
}

// statusUpdateDue reports whether the promised next status update has
// come due. The clock starts at the last shared update, or at the
// incident start when none has been shared yet.
func statusUpdateDue(inc *domain.Incident, now time.Time) bool {
	if inc.StatusUpdateNext == nil {
		return false
	}
	since := inc.StartTime
	if inc.StatusUpdateLast != nil {
		since = *inc.StatusUpdateLast
	}
	return now.Sub(since) >= inc.StatusUpdateNext.Minutes()
}
