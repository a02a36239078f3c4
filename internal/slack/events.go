package slack

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/slack-go/slack/slackevents"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
)

// RegisterEvents binds the Events API handlers. Mentioning the bot in any
// channel runs the same keyword commands as the slash command.
func (h *Handlers) RegisterEvents(reg *EventRegistry, commands *CommandRegistry, repo incident.Repository) error {
	if err := reg.Register("app_mention", h.appMentionHandler(commands, repo)); err != nil {
		return err
	}
	return reg.Register("team_join", h.teamJoinHandler())
}

func (h *Handlers) appMentionHandler(commands *CommandRegistry, repo incident.Repository) EventHandler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var event slackevents.AppMentionEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event.BotID != "" {
			return nil
		}

		response, err := commands.Dispatch(ctx, CommandContext{
			Incident:  incidentByChannel(ctx, repo, h.incidents, event.Channel),
			UserID:    event.User,
			ChannelID: event.Channel,
			Text:      stripMention(event.Text),
		})
		if err != nil {
			return err
		}
		if response == "" {
			return nil
		}
		return h.client.PostEphemeral(ctx, event.Channel, event.User, response)
	}
}

// teamJoinHandler keeps the user mirror warm: new workspace members show
// up in lead and assignee pickers without waiting for the nightly sync.
func (h *Handlers) teamJoinHandler() EventHandler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var event slackevents.TeamJoinEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event.User == nil || event.User.IsBot {
			return nil
		}

		name := event.User.Profile.RealName
		if name == "" {
			name = event.User.Name
		}
		_, err := h.incidents.GetOrCreateUser(ctx, event.User.ID, name)
		return err
	}
}

func incidentByChannel(ctx context.Context, repo incident.Repository, incidents *incident.Service, channelID string) *domain.Incident {
	channel, err := repo.GetCommsChannelByChannelID(ctx, channelID)
	if err != nil {
		if !errors.Is(err, incident.ErrCommsChannelNotFound) {
			ctxlog.FromContext(ctx).Warn("comms channel lookup failed", "channel_id", channelID, "error", err)
		}
		return nil
	}
	inc, err := incidents.GetIncident(ctx, channel.IncidentID)
	if err != nil {
		return nil
	}
	return inc
}

// stripMention removes the leading bot mention from an app_mention text.
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<@") {
		if end := strings.IndexByte(text, '>'); end >= 0 {
			text = text[end+1:]
		}
	}
	return strings.TrimSpace(text)
}
