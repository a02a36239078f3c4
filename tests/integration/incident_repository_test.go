//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	incidentpostgres "github.com/bissquit/incident-responder/internal/incident/postgres"
)

func createUser(t *testing.T, repo *incidentpostgres.Repository, externalID, name string) *domain.ExternalUser {
	t.Helper()
	user, err := repo.UpsertUser(context.Background(), &domain.ExternalUser{
		ExternalID:  externalID,
		DisplayName: name,
	})
	require.NoError(t, err)
	return user
}

func createIncident(t *testing.T, repo *incidentpostgres.Repository, name string, reporter *domain.ExternalUser) *domain.Incident {
	t.Helper()
	inc := &domain.Incident{
		Name:      name,
		Reporter:  reporter,
		UpdatedBy: reporter,
		StartTime: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.CreateIncident(context.Background(), inc))
	return inc
}

func TestIncidentRoundTrip(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)
	ctx := context.Background()

	reporter := createUser(t, repo, "U-rep-"+uuid.NewString(), "Rey")
	inc := createIncident(t, repo, "db on fire", reporter)
	require.NotEmpty(t, inc.ID)

	loaded, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "db on fire", loaded.Name)
	require.NotNil(t, loaded.Reporter)
	assert.Equal(t, reporter.ExternalID, loaded.Reporter.ExternalID)
	assert.Nil(t, loaded.Lead)
	assert.Nil(t, loaded.Severity)
	assert.False(t, loaded.IsClosed())

	lead := createUser(t, repo, "U-lead-"+uuid.NewString(), "Marta")
	sev := domain.SeverityMajor
	next := domain.StatusUpdateIn30
	update := "failover in progress"
	now := time.Now().UTC().Truncate(time.Millisecond)

	loaded.Lead = lead
	loaded.Severity = &sev
	loaded.StatusUpdate = &update
	loaded.StatusUpdateLast = &now
	loaded.StatusUpdateNext = &next
	loaded.UpdatedBy = lead
	require.NoError(t, repo.UpdateIncident(ctx, loaded))

	reloaded, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityMajor, *reloaded.Severity)
	assert.Equal(t, domain.StatusUpdateIn30, *reloaded.StatusUpdateNext)
	assert.Equal(t, "failover in progress", *reloaded.StatusUpdate)
	assert.Equal(t, lead.ExternalID, reloaded.Lead.ExternalID)
	assert.Equal(t, lead.ExternalID, reloaded.UpdatedBy.ExternalID)
}

func TestGetIncident_NotFound(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)

	_, err := repo.GetIncident(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, incident.ErrIncidentNotFound)
}

func TestListOpenIncidents_ExcludesClosed(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)
	ctx := context.Background()

	reporter := createUser(t, repo, "U-rep-"+uuid.NewString(), "Rey")
	open := createIncident(t, repo, "still burning", reporter)
	closed := createIncident(t, repo, "put out", reporter)

	end := time.Now().UTC()
	closed.EndTime = &end
	require.NoError(t, repo.UpdateIncident(ctx, closed))

	incidents, err := repo.ListOpenIncidents(ctx)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, inc := range incidents {
		ids[inc.ID] = true
	}
	assert.True(t, ids[open.ID])
	assert.False(t, ids[closed.ID])
}

func TestActionRoundTrip(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)
	ctx := context.Background()

	reporter := createUser(t, repo, "U-rep-"+uuid.NewString(), "Rey")
	inc := createIncident(t, repo, "actions test", reporter)

	action := &domain.Action{
		IncidentID: inc.ID,
		Details:    "restore backups",
		CreatedBy:  reporter,
		UpdatedBy:  reporter,
	}
	require.NoError(t, repo.CreateAction(ctx, action))
	require.NotEmpty(t, action.ID)

	assignee := createUser(t, repo, "U-asg-"+uuid.NewString(), "Ola")
	action.AssignedTo = assignee
	action.Done = true
	action.UpdatedBy = assignee
	require.NoError(t, repo.UpdateAction(ctx, action))

	loaded, err := repo.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Done)
	assert.Equal(t, assignee.ExternalID, loaded.AssignedTo.ExternalID)

	actions, err := repo.ListActions(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
}

func TestUpsertUser_RefreshesExisting(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)
	ctx := context.Background()

	externalID := "U-up-" + uuid.NewString()
	first, err := repo.UpsertUser(ctx, &domain.ExternalUser{ExternalID: externalID, DisplayName: "Old Name"})
	require.NoError(t, err)

	email := "new@example.com"
	second, err := repo.UpsertUser(ctx, &domain.ExternalUser{
		ExternalID:  externalID,
		DisplayName: "New Name",
		Email:       &email,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	loaded, err := repo.GetUserByExternalID(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", loaded.DisplayName)
	require.NotNil(t, loaded.Email)
	assert.Equal(t, email, *loaded.Email)
}

func TestCommsChannelLookup(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)
	ctx := context.Background()

	reporter := createUser(t, repo, "U-rep-"+uuid.NewString(), "Rey")
	inc := createIncident(t, repo, "channel test", reporter)

	slackChannelID := "C-" + uuid.NewString()
	channel := &domain.CommsChannel{
		IncidentID:  inc.ID,
		ChannelID:   slackChannelID,
		ChannelName: "inc-channel-test",
	}
	require.NoError(t, repo.CreateCommsChannel(ctx, channel))

	byIncident, err := repo.GetCommsChannelByIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, slackChannelID, byIncident.ChannelID)

	byChannel, err := repo.GetCommsChannelByChannelID(ctx, slackChannelID)
	require.NoError(t, err)
	assert.Equal(t, inc.ID, byChannel.IncidentID)

	require.NoError(t, repo.UpdateCommsChannelName(ctx, channel.ID, "inc-renamed"))
	renamed, err := repo.GetCommsChannelByIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "inc-renamed", renamed.ChannelName)

	_, err = repo.GetCommsChannelByChannelID(ctx, "C-missing")
	assert.ErrorIs(t, err, incident.ErrCommsChannelNotFound)
}

func TestHeadlinePost(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)
	ctx := context.Background()

	reporter := createUser(t, repo, "U-rep-"+uuid.NewString(), "Rey")
	inc := createIncident(t, repo, "headline test", reporter)

	post := &domain.HeadlinePost{IncidentID: inc.ID}
	require.NoError(t, repo.CreateHeadlinePost(ctx, post))

	loaded, err := repo.GetHeadlinePostByIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.MessageTS)

	require.NoError(t, repo.SetHeadlinePostTS(ctx, post.ID, "1700000000.000100"))

	loaded, err = repo.GetHeadlinePostByIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.MessageTS)
	assert.Equal(t, "1700000000.000100", *loaded.MessageTS)
}

func TestTimelineEvents(t *testing.T) {
	repo := incidentpostgres.NewRepository(testDB)
	ctx := context.Background()

	reporter := createUser(t, repo, "U-rep-"+uuid.NewString(), "Rey")
	inc := createIncident(t, repo, "timeline test", reporter)

	old := "db on fire"
	renamed := "db smouldering"
	events := []*domain.TimelineEvent{
		{
			ID:         uuid.NewString(),
			IncidentID: inc.ID,
			Type:       domain.TimelineIncidentReported,
			Text:       "Incident reported by Rey.",
		},
		{
			ID:         uuid.NewString(),
			IncidentID: inc.ID,
			Type:       domain.TimelineIncidentName,
			Text:       "Incident renamed.",
			OldValue:   &old,
			NewValue:   &renamed,
		},
	}
	for _, event := range events {
		require.NoError(t, repo.AppendTimelineEvent(ctx, event))
	}

	loaded, err := repo.ListTimelineEvents(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, domain.TimelineIncidentReported, loaded[0].Type)
	assert.Equal(t, domain.TimelineIncidentName, loaded[1].Type)
	assert.Equal(t, "db smouldering", *loaded[1].NewValue)
}
