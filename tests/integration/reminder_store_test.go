//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	incidentpostgres "github.com/bissquit/incident-responder/internal/incident/postgres"
	"github.com/bissquit/incident-responder/internal/reminder"
	reminderpostgres "github.com/bissquit/incident-responder/internal/reminder/postgres"
)

func TestReminderStore_GetUnknownReturnsZeroState(t *testing.T) {
	store := reminderpostgres.NewStore(testDB)

	state, err := store.Get(context.Background(), uuid.NewString(), reminder.ReminderLead)
	require.NoError(t, err)

	assert.Nil(t, state.LastFiredAt)
	assert.Zero(t, state.AttemptCount)
	assert.Empty(t, state.LastFingerprint)
}

func TestReminderStore_PutRoundTrip(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)
	store := reminderpostgres.NewStore(testDB)
	ctx := context.Background()

	reporter := createUser(t, repo, "U-rem-"+uuid.NewString(), "Rey")
	inc := createIncident(t, repo, "reminder test", reporter)

	firedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Put(ctx, &reminder.State{
		IncidentID:      inc.ID,
		Name:            reminder.ReminderSummary,
		LastFiredAt:     &firedAt,
		AttemptCount:    1,
		LastFingerprint: "please add a summary",
	}))

	state, err := store.Get(ctx, inc.ID, reminder.ReminderSummary)
	require.NoError(t, err)
	require.NotNil(t, state.LastFiredAt)
	assert.WithinDuration(t, firedAt, *state.LastFiredAt, time.Second)
	assert.Equal(t, 1, state.AttemptCount)
	assert.Equal(t, "please add a summary", state.LastFingerprint)

	// upsert replaces the prior row
	later := firedAt.Add(10 * time.Minute)
	require.NoError(t, store.Put(ctx, &reminder.State{
		IncidentID:      inc.ID,
		Name:            reminder.ReminderSummary,
		LastFiredAt:     &later,
		AttemptCount:    2,
		LastFingerprint: "please add a summary",
	}))

	state, err = store.Get(ctx, inc.ID, reminder.ReminderSummary)
	require.NoError(t, err)
	assert.Equal(t, 2, state.AttemptCount)
	assert.WithinDuration(t, later, *state.LastFiredAt, time.Second)

	// states are keyed by incident and reminder name
	other, err := store.Get(ctx, inc.ID, reminder.ReminderClose)
	require.NoError(t, err)
	assert.Zero(t, other.AttemptCount)
}
