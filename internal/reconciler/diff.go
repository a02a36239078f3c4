package reconciler

import (
	"fmt"

	"github.com/bissquit/incident-responder/internal/domain"
)

// Change is one observable difference between two incident states. Text is
// what gets announced; Old and New feed the timeline record.
type Change struct {
	Type domain.TimelineEventType
	Text string
	Old  *string
	New  *string
}

// diffIncident lists the announcements for a prev -> curr transition, in a
// stable order: lead, name, summary, severity, status update, closed.
func diffIncident(prev, curr *domain.Incident) []Change {
	var changes []Change

	if change, ok := diffLead(prev, curr); ok {
		changes = append(changes, change)
	}
	if prev.Name != curr.Name {
		changes = append(changes, Change{
			Type: domain.TimelineIncidentName,
			Text: fmt.Sprintf("📙 Incident name updated from \"%s\" to \"%s\".", prev.Name, curr.Name),
			Old:  &prev.Name,
			New:  &curr.Name,
		})
	}
	if change, ok := diffSummary(prev, curr); ok {
		changes = append(changes, change)
	}
	if change, ok := diffSeverity(prev, curr); ok {
		changes = append(changes, change)
	}
	if change, ok := diffStatusUpdate(prev, curr); ok {
		changes = append(changes, change)
	}
	if !prev.IsClosed() && curr.IsClosed() {
		changes = append(changes, Change{
			Type: domain.TimelineIncidentClosed,
			Text: "✅ This incident has been closed.",
		})
	}

	return changes
}

func diffLead(prev, curr *domain.Incident) (Change, bool) {
	prevID := userExternalID(prev.Lead)
	currID := userExternalID(curr.Lead)
	if prevID == currID {
		return Change{}, false
	}

	change := Change{Type: domain.TimelineIncidentLead}
	switch {
	case currID == "":
		change.Text = "👩‍🚒 The incident lead was removed."
		change.Old = &prev.Lead.DisplayName
	case prevID == "":
		change.Text = fmt.Sprintf("👩‍🚒 %s was added as incident lead.", curr.Lead.DisplayName)
		change.New = &curr.Lead.DisplayName
	default:
		change.Text = fmt.Sprintf("👩‍🚒 Incident lead changed from %s to %s.", prev.Lead.DisplayName, curr.Lead.DisplayName)
		change.Old = &prev.Lead.DisplayName
		change.New = &curr.Lead.DisplayName
	}
	return change, true
}

func diffSummary(prev, curr *domain.Incident) (Change, bool) {
	if equalPtr(prev.Summary, curr.Summary) || curr.Summary == nil {
		return Change{}, false
	}

	change := Change{
		Type: domain.TimelineIncidentSummary,
		Old:  prev.Summary,
		New:  curr.Summary,
	}
	if prev.Summary == nil {
		change.Text = "📋 Summary added:\n> " + *curr.Summary
	} else {
		change.Text = "📋 Summary updated:\n> " + *curr.Summary
	}
	return change, true
}

func diffSeverity(prev, curr *domain.Incident) (Change, bool) {
	if curr.Severity == nil {
		return Change{}, false
	}
	if prev.Severity != nil && *prev.Severity == *curr.Severity {
		return Change{}, false
	}

	change := Change{
		Type: domain.TimelineIncidentSeverity,
		New:  stringPtr(curr.Severity.Text()),
	}
	if prev.Severity == nil {
		change.Text = fmt.Sprintf("🔥 Severity set to %s.", curr.Severity.Text())
	} else {
		change.Text = fmt.Sprintf("🔥 Severity updated from %s to %s.", prev.Severity.Text(), curr.Severity.Text())
		change.Old = stringPtr(prev.Severity.Text())
	}
	return change, true
}

func diffStatusUpdate(prev, curr *domain.Incident) (Change, bool) {
	if curr.StatusUpdate == nil || equalPtr(prev.StatusUpdate, curr.StatusUpdate) {
		return Change{}, false
	}

	text := "📣 New status update:\n> " + *curr.StatusUpdate
	if curr.StatusUpdateNext != nil {
		text += fmt.Sprintf("\nNext update in %s.", curr.StatusUpdateNext.Text())
	}
	return Change{
		Type: domain.TimelineIncidentStatusUpdate,
		Text: text,
		Old:  prev.StatusUpdate,
		New:  curr.StatusUpdate,
	}, true
}

// diffAction lists the announcements for an action transition. prev is nil
// for a freshly logged action.
func diffAction(prev, curr *domain.Action) []Change {
	if prev == nil {
		return []Change{{
			Type: domain.TimelineActionCreated,
			Text: "🎯 New follow-up action:\n> " + curr.Details,
			New:  &curr.Details,
		}}
	}

	var changes []Change
	if userExternalID(prev.AssignedTo) != userExternalID(curr.AssignedTo) && curr.AssignedTo != nil {
		changes = append(changes, Change{
			Type: domain.TimelineActionAssigned,
			Text: fmt.Sprintf("🎯 %s picked up the action:\n> %s", curr.AssignedTo.DisplayName, curr.Details),
			New:  &curr.AssignedTo.DisplayName,
		})
	}
	if !prev.Done && curr.Done {
		changes = append(changes, Change{
			Type: domain.TimelineActionComplete,
			Text: "☑️ Action completed:\n> " + curr.Details,
			New:  &curr.Details,
		})
	}
	return changes
}

func userExternalID(user *domain.ExternalUser) string {
	if user == nil {
		return ""
	}
	return user.ExternalID
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func stringPtr(s string) *string {
	return &s
}
