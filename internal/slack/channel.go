package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
	"github.com/slack-go/slack"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Bookmark titles the manager keeps in sync. The title prefix identifies
// the bookmark across edits.
const (
	bookmarkSeverity = "Severity"
	bookmarkStatus   = "Status"
	bookmarkLead     = "Lead"
)

// ChannelManager owns the dedicated comms channel of each incident: it
// creates the channel on demand, keeps its name, topic and bookmarks in
// step with the incident record, and posts messages into it.
type ChannelManager struct {
	client  *Client
	repo    incident.Repository
	siteURL string
	titler  cases.Caser
}

func NewChannelManager(client *Client, repo incident.Repository, siteURL string) *ChannelManager {
	return &ChannelManager{
		client:  client,
		repo:    repo,
		siteURL: strings.TrimSuffix(siteURL, "/"),
		titler:  cases.Title(language.English),
	}
}

// EnsureChannel returns the incident's comms channel, creating it in Slack
// and persisting the record on first use. Channel creation handles the
// name being taken (reuse the existing channel) and the existing channel
// being archived (unarchive it).
func (m *ChannelManager) EnsureChannel(ctx context.Context, inc *domain.Incident) (*domain.CommsChannel, error) {
	existing, err := m.repo.GetCommsChannelByIncident(ctx, inc.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, incident.ErrCommsChannelNotFound) {
		return nil, err
	}

	name := channelSlug(inc.Name)
	channelID, err := m.client.GetOrCreateChannel(ctx, name, inc.Private, true)
	if err != nil {
		return nil, fmt.Errorf("create comms channel: %w", err)
	}

	channel := &domain.CommsChannel{
		IncidentID:  inc.ID,
		ChannelID:   channelID,
		ChannelName: name,
	}
	if err := m.repo.CreateCommsChannel(ctx, channel); err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	if err := m.client.SetChannelTopic(ctx, channelID, m.channelTopic(inc)); err != nil {
		logger.Warn("failed to set channel topic", "channel_id", channelID, "error", err)
	}

	if inc.Reporter != nil {
		err := m.client.InviteToChannel(ctx, channelID, inc.Reporter.ExternalID)
		if err != nil && !IsAPIError(err, ErrCodeAlreadyInChannel) {
			logger.Warn("failed to invite reporter", "channel_id", channelID, "error", err)
		}
	}

	return channel, nil
}

// RenameForIncident renames the comms channel to track the incident name
// and persists the final name Slack settled on.
func (m *ChannelManager) RenameForIncident(ctx context.Context, inc *domain.Incident) error {
	channel, err := m.repo.GetCommsChannelByIncident(ctx, inc.ID)
	if err != nil {
		return err
	}

	name, err := m.client.RenameChannel(ctx, channel.ChannelID, inc.Name)
	if err != nil {
		return fmt.Errorf("rename comms channel: %w", err)
	}
	return m.repo.UpdateCommsChannelName(ctx, channel.ID, name)
}

// PostInChannel posts a plain text message into the incident's comms
// channel.
func (m *ChannelManager) PostInChannel(ctx context.Context, inc *domain.Incident, text string) error {
	channel, err := m.EnsureChannel(ctx, inc)
	if err != nil {
		return err
	}
	_, err = m.client.PostText(ctx, channel.ChannelID, text)
	return err
}

// SyncBookmarks upserts the Severity, Status and Lead bookmarks on the
// incident's comms channel so the current state is visible from the
// channel header.
func (m *ChannelManager) SyncBookmarks(ctx context.Context, inc *domain.Incident) error {
	channel, err := m.repo.GetCommsChannelByIncident(ctx, inc.ID)
	if err != nil {
		return err
	}

	existing, err := m.client.ListBookmarks(ctx, channel.ChannelID)
	if err != nil {
		return err
	}

	link := m.incidentDocURL(inc)

	for _, want := range m.desiredBookmarks(inc, link) {
		if err := m.upsertBookmark(ctx, channel.ChannelID, existing, want); err != nil {
			return err
		}
	}
	return nil
}

type bookmarkSpec struct {
	prefix string
	title  string
	emoji  string
	link   string
}

func (m *ChannelManager) desiredBookmarks(inc *domain.Incident, link string) []bookmarkSpec {
	specs := []bookmarkSpec{
		{
			prefix: bookmarkStatus,
			title:  fmt.Sprintf("%s: %s", bookmarkStatus, m.titler.String(inc.StatusText())),
			emoji:  statusBookmarkEmoji(inc),
			link:   link,
		},
	}

	if inc.Severity != nil {
		specs = append(specs, bookmarkSpec{
			prefix: bookmarkSeverity,
			title:  fmt.Sprintf("%s: %s", bookmarkSeverity, m.titler.String(inc.SeverityText())),
			emoji:  ":fire:",
			link:   link,
		})
	}

	if inc.Lead != nil {
		specs = append(specs, bookmarkSpec{
			prefix: bookmarkLead,
			title:  fmt.Sprintf("%s: %s", bookmarkLead, inc.Lead.DisplayName),
			emoji:  ":firefighter:",
			link:   link,
		})
	}
	return specs
}

func (m *ChannelManager) upsertBookmark(ctx context.Context, channelID string, existing []slack.Bookmark, want bookmarkSpec) error {
	for _, b := range existing {
		if strings.HasPrefix(b.Title, want.prefix+":") {
			if b.Title == want.title && b.Link == want.link {
				return nil
			}
			return m.client.EditBookmark(ctx, channelID, b.ID, want.title, want.link, want.emoji)
		}
	}
	_, err := m.client.AddBookmark(ctx, channelID, want.title, want.link, want.emoji)
	return err
}

func (m *ChannelManager) channelTopic(inc *domain.Incident) string {
	return fmt.Sprintf("Comms for %s | reported by <@%s>", inc.Name, externalID(inc.Reporter))
}

// incidentDocURL is the web view of the incident, used as bookmark target.
func (m *ChannelManager) incidentDocURL(inc *domain.Incident) string {
	return fmt.Sprintf("%s/incident/%s", m.siteURL, inc.ID)
}

// TimelineDocURL is the web view of the incident timeline.
func (m *ChannelManager) TimelineDocURL(inc *domain.Incident) string {
	return m.incidentDocURL(inc) + "/timeline"
}

func statusBookmarkEmoji(inc *domain.Incident) string {
	if inc.IsClosed() {
		return ":white_check_mark:"
	}
	return ":rotating_light:"
}

func externalID(user *domain.ExternalUser) string {
	if user == nil {
		return ""
	}
	return user.ExternalID
}
