package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-responder/internal/domain"
)

func baseIncident() *domain.Incident {
	return &domain.Incident{
		ID:        "inc-1",
		Name:      "DB on fire",
		Reporter:  &domain.ExternalUser{ExternalID: "U1", DisplayName: "Rey"},
		StartTime: time.Now(),
	}
}

func TestDiffIncident_NoChanges(t *testing.T) {
	prev := baseIncident()
	curr := baseIncident()
	assert.Empty(t, diffIncident(prev, curr))
}

func TestDiffIncident_LeadAdded(t *testing.T) {
	prev := baseIncident()
	curr := baseIncident()
	curr.Lead = &domain.ExternalUser{ExternalID: "U2", DisplayName: "Marta"}

	changes := diffIncident(prev, curr)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.TimelineIncidentLead, changes[0].Type)
	assert.Contains(t, changes[0].Text, "Marta was added as incident lead")
	assert.Nil(t, changes[0].Old)
	assert.Equal(t, "Marta", *changes[0].New)
}

func TestDiffIncident_LeadChanged(t *testing.T) {
	prev := baseIncident()
	prev.Lead = &domain.ExternalUser{ExternalID: "U2", DisplayName: "Marta"}
	curr := baseIncident()
	curr.Lead = &domain.ExternalUser{ExternalID: "U3", DisplayName: "Ola"}

	changes := diffIncident(prev, curr)
	require.Len(t, changes, 1)
	assert.Contains(t, changes[0].Text, "changed from Marta to Ola")
}

func TestDiffIncident_Rename(t *testing.T) {
	prev := baseIncident()
	curr := baseIncident()
	curr.Name = "DB smouldering"

	changes := diffIncident(prev, curr)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.TimelineIncidentName, changes[0].Type)
	assert.Contains(t, changes[0].Text, `from "DB on fire" to "DB smouldering"`)
}

func TestDiffIncident_SeveritySetAndUpdated(t *testing.T) {
	prev := baseIncident()
	curr := baseIncident()
	major := domain.SeverityMajor
	curr.Severity = &major

	changes := diffIncident(prev, curr)
	require.Len(t, changes, 1)
	assert.Contains(t, changes[0].Text, "Severity set to major")
	assert.Nil(t, changes[0].Old)

	critical := domain.SeverityCritical
	next := baseIncident()
	next.Severity = &critical

	changes = diffIncident(curr, next)
	require.Len(t, changes, 1)
	assert.Contains(t, changes[0].Text, "updated from major to critical")
	assert.Equal(t, "major", *changes[0].Old)
	assert.Equal(t, "critical", *changes[0].New)
}

func TestDiffIncident_StatusUpdateWithNextInterval(t *testing.T) {
	prev := baseIncident()
	curr := baseIncident()
	update := "failover in progress"
	next := domain.StatusUpdateIn30
	curr.StatusUpdate = &update
	curr.StatusUpdateNext = &next

	changes := diffIncident(prev, curr)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.TimelineIncidentStatusUpdate, changes[0].Type)
	assert.Contains(t, changes[0].Text, "failover in progress")
	assert.Contains(t, changes[0].Text, "Next update in 30 mins")
}

func TestDiffIncident_Closed(t *testing.T) {
	prev := baseIncident()
	curr := baseIncident()
	now := time.Now()
	curr.EndTime = &now

	changes := diffIncident(prev, curr)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.TimelineIncidentClosed, changes[0].Type)
}

func TestDiffIncident_MultipleChangesOrdered(t *testing.T) {
	prev := baseIncident()
	curr := baseIncident()
	curr.Lead = &domain.ExternalUser{ExternalID: "U2", DisplayName: "Marta"}
	curr.Name = "renamed"
	now := time.Now()
	curr.EndTime = &now

	changes := diffIncident(prev, curr)
	require.Len(t, changes, 3)
	assert.Equal(t, domain.TimelineIncidentLead, changes[0].Type)
	assert.Equal(t, domain.TimelineIncidentName, changes[1].Type)
	assert.Equal(t, domain.TimelineIncidentClosed, changes[2].Type)
}

func TestDiffAction(t *testing.T) {
	created := &domain.Action{ID: "act-1", Details: "restore backups"}

	changes := diffAction(nil, created)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.TimelineActionCreated, changes[0].Type)

	assigned := &domain.Action{
		ID:         "act-1",
		Details:    "restore backups",
		AssignedTo: &domain.ExternalUser{ExternalID: "U2", DisplayName: "Marta"},
	}
	changes = diffAction(created, assigned)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.TimelineActionAssigned, changes[0].Type)
	assert.Contains(t, changes[0].Text, "Marta picked up the action")

	completed := &domain.Action{
		ID:         "act-1",
		Details:    "restore backups",
		AssignedTo: assigned.AssignedTo,
		Done:       true,
	}
	changes = diffAction(assigned, completed)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.TimelineActionComplete, changes[0].Type)
}
