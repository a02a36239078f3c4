package slack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	"github.com/slack-go/slack"
)

// Block action ids used on the headline post and in the comms channel.
const (
	ActionEditIncident   = "edit-incident-button"
	ActionCloseIncident  = "close-incident-button"
	ActionMakeMeLead     = "make-me-lead-button"
	ActionTakeAction     = "take-action-button"
	ActionCompleteAction = "complete-action-button"
	ActionAddSummary     = "add-summary-button"
	ActionShareUpdate    = "share-update-button"
)

// HeadlineButton contributes one button to the headline post. Buttons are
// rendered in priority order; Show gates rendering on incident state.
type HeadlineButton struct {
	ActionID string
	Label    string
	Priority int
	Show     func(inc *domain.Incident) bool
}

// HeadlineManager renders and maintains the one announcement message per
// incident in the central incident channel. The message is created once
// and then updated in place for every incident change.
type HeadlineManager struct {
	client    *Client
	repo      incident.Repository
	channelID string
	buttons   []HeadlineButton
	now       func() time.Time
}

func NewHeadlineManager(client *Client, repo incident.Repository, channelID string) *HeadlineManager {
	m := &HeadlineManager{
		client:    client,
		repo:      repo,
		channelID: channelID,
		now:       time.Now,
	}
	m.buttons = []HeadlineButton{
		{ActionID: ActionEditIncident, Label: "Edit", Priority: 100, Show: incidentOpen},
		{ActionID: ActionCloseIncident, Label: "Close", Priority: 200, Show: incidentOpen},
		{ActionID: ActionMakeMeLead, Label: "🙋 Make me lead", Priority: 300, Show: incidentOpen},
		{ActionID: ActionShareUpdate, Label: "Share update", Priority: 400, Show: incidentOpen},
	}
	sort.SliceStable(m.buttons, func(i, j int) bool {
		return m.buttons[i].Priority < m.buttons[j].Priority
	})
	return m
}

func incidentOpen(inc *domain.Incident) bool {
	return !inc.IsClosed()
}

// Upsert posts the headline message on first call and updates it in place
// afterwards. The message timestamp is persisted so updates survive
// restarts.
func (m *HeadlineManager) Upsert(ctx context.Context, inc *domain.Incident) error {
	post, err := m.repo.GetHeadlinePostByIncident(ctx, inc.ID)
	if errors.Is(err, incident.ErrHeadlinePostNotFound) {
		post = &domain.HeadlinePost{IncidentID: inc.ID}
		if err := m.repo.CreateHeadlinePost(ctx, post); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	ts := ""
	if post.MessageTS != nil {
		ts = *post.MessageTS
	}

	newTS, err := m.client.SendOrUpdateMessage(ctx, m.channelID, ts, m.fallbackText(inc), m.Blocks(ctx, inc))
	if err != nil {
		return fmt.Errorf("upsert headline post: %w", err)
	}

	if ts == "" && newTS != "" {
		return m.repo.SetHeadlinePostTS(ctx, post.ID, newTS)
	}
	return nil
}

// PostThreadReply posts a reply under the headline message. No-op when the
// headline has not been posted yet.
func (m *HeadlineManager) PostThreadReply(ctx context.Context, inc *domain.Incident, text string) error {
	post, err := m.repo.GetHeadlinePostByIncident(ctx, inc.ID)
	if err != nil {
		return err
	}
	if post.MessageTS == nil {
		return nil
	}
	_, err = m.client.PostThreadText(ctx, m.channelID, *post.MessageTS, text)
	return err
}

func (m *HeadlineManager) fallbackText(inc *domain.Incident) string {
	return fmt.Sprintf("%s Incident: %s", inc.StatusEmoji(), inc.Name)
}

// Blocks renders the headline message body.
func (m *HeadlineManager) Blocks(ctx context.Context, inc *domain.Incident) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plainText(fmt.Sprintf("%s %s", inc.StatusEmoji(), inc.Name))),
		slack.NewSectionBlock(nil, m.fieldBlocks(inc), nil),
	}

	if inc.Summary != nil {
		blocks = append(blocks,
			slack.NewSectionBlock(markdownText("*Summary*\n"+*inc.Summary), nil, nil),
		)
	}
	if inc.StatusUpdate != nil {
		blocks = append(blocks,
			slack.NewSectionBlock(markdownText("*Latest update*\n"+*inc.StatusUpdate), nil, nil),
		)
	}

	if channel, err := m.repo.GetCommsChannelByIncident(ctx, inc.ID); err == nil {
		blocks = append(blocks,
			slack.NewSectionBlock(markdownText(fmt.Sprintf("🗣 Comms channel: <#%s>", channel.ChannelID)), nil, nil),
		)
	}

	if elements := m.buttonElements(inc); len(elements) > 0 {
		blocks = append(blocks, slack.NewActionBlock("headline-actions", elements...))
	}
	return blocks
}

func (m *HeadlineManager) fieldBlocks(inc *domain.Incident) []*slack.TextBlockObject {
	fields := []*slack.TextBlockObject{
		markdownText(fmt.Sprintf("*Status*\n%s %s", inc.StatusEmoji(), inc.StatusText())),
		markdownText(fmt.Sprintf("*Severity*\n%s %s", inc.SeverityEmoji(), severityOrUnknown(inc))),
		markdownText(fmt.Sprintf("*Reported by*\n%s", userMention(inc.Reporter))),
		markdownText(fmt.Sprintf("*Incident lead*\n%s", leadOrPrompt(inc))),
		markdownText(fmt.Sprintf("*Duration*\n%s", inc.Duration(m.now()))),
	}
	return fields
}

func (m *HeadlineManager) buttonElements(inc *domain.Incident) []slack.BlockElement {
	var elements []slack.BlockElement
	for _, button := range m.buttons {
		if button.Show != nil && !button.Show(inc) {
			continue
		}
		elements = append(elements,
			slack.NewButtonBlockElement(button.ActionID, inc.ID, plainText(button.Label)),
		)
	}
	return elements
}

func severityOrUnknown(inc *domain.Incident) string {
	if text := inc.SeverityText(); text != "" {
		return text
	}
	return "unknown"
}

func leadOrPrompt(inc *domain.Incident) string {
	if inc.Lead != nil {
		return userMention(inc.Lead)
	}
	return "-"
}

func userMention(user *domain.ExternalUser) string {
	if user == nil {
		return "-"
	}
	return fmt.Sprintf("<@%s>", user.ExternalID)
}

func plainText(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
}

func markdownText(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}
