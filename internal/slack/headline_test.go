package slack

import (
	"context"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
)

// stubRepo overrides just the repository methods the headline manager
// touches; anything else panics loudly.
type stubRepo struct {
	incident.Repository

	channel *domain.CommsChannel
	post    *domain.HeadlinePost
	savedTS string
}

func (s *stubRepo) GetCommsChannelByIncident(_ context.Context, _ string) (*domain.CommsChannel, error) {
	if s.channel == nil {
		return nil, incident.ErrCommsChannelNotFound
	}
	return s.channel, nil
}

func (s *stubRepo) GetHeadlinePostByIncident(_ context.Context, _ string) (*domain.HeadlinePost, error) {
	if s.post == nil {
		return nil, incident.ErrHeadlinePostNotFound
	}
	return s.post, nil
}

func (s *stubRepo) CreateHeadlinePost(_ context.Context, post *domain.HeadlinePost) error {
	post.ID = "hp-1"
	s.post = post
	return nil
}

func (s *stubRepo) SetHeadlinePostTS(_ context.Context, _, messageTS string) error {
	s.savedTS = messageTS
	s.post.MessageTS = &messageTS
	return nil
}

func openIncident() *domain.Incident {
	sev := domain.SeverityMajor
	return &domain.Incident{
		ID:        "inc-1",
		Name:      "DB on fire",
		Severity:  &sev,
		Reporter:  &domain.ExternalUser{ExternalID: "U1", DisplayName: "Rey"},
		StartTime: time.Now().Add(-10 * time.Minute),
	}
}

func TestHeadlineBlocks_OpenIncidentHasButtons(t *testing.T) {
	repo := &stubRepo{channel: &domain.CommsChannel{ChannelID: "C-COMMS"}}
	manager := NewHeadlineManager(newTestClient(&fakeAPI{}), repo, "C-INCIDENTS")

	blocks := manager.Blocks(context.Background(), openIncident())
	require.NotEmpty(t, blocks)

	actions := findActionBlock(blocks)
	require.NotNil(t, actions)

	var ids []string
	for _, element := range actions.Elements.ElementSet {
		button, ok := element.(*slack.ButtonBlockElement)
		require.True(t, ok)
		ids = append(ids, button.ActionID)
	}
	// priority order: edit, close, make-me-lead, share-update
	assert.Equal(t, []string{
		ActionEditIncident,
		ActionCloseIncident,
		ActionMakeMeLead,
		ActionShareUpdate,
	}, ids)
}

func TestHeadlineBlocks_ClosedIncidentHasNoButtons(t *testing.T) {
	repo := &stubRepo{}
	manager := NewHeadlineManager(newTestClient(&fakeAPI{}), repo, "C-INCIDENTS")

	inc := openIncident()
	now := time.Now()
	inc.EndTime = &now

	blocks := manager.Blocks(context.Background(), inc)
	assert.Nil(t, findActionBlock(blocks))
}

func TestHeadlineUpsert_PostsThenUpdates(t *testing.T) {
	repo := &stubRepo{}
	api := &fakeAPI{}
	manager := NewHeadlineManager(newTestClient(api), repo, "C-INCIDENTS")

	inc := openIncident()

	require.NoError(t, manager.Upsert(context.Background(), inc))
	require.NotNil(t, repo.post.MessageTS)
	assert.Equal(t, *repo.post.MessageTS, repo.savedTS)
	assert.Equal(t, 1, api.postCalls)

	// second upsert updates in place, no new message
	require.NoError(t, manager.Upsert(context.Background(), inc))
	assert.Equal(t, 1, api.postCalls)
}

func findActionBlock(blocks []slack.Block) *slack.ActionBlock {
	for _, block := range blocks {
		if actions, ok := block.(*slack.ActionBlock); ok {
			return actions
		}
	}
	return nil
}
