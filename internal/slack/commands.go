package slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/incident-responder/internal/domain"
)

// RegisterCommands binds the command keyword handlers.
func (h *Handlers) RegisterCommands(reg *CommandRegistry) error {
	register := func(names []string, helpText string, handler CommandHandler) error {
		return reg.Register(names, helpText, handler)
	}

	if err := register([]string{"help"}, "show this help text",
		func(ctx context.Context, cmd CommandContext) (bool, string, error) {
			return true, reg.Help(), nil
		}); err != nil {
		return err
	}

	for _, c := range []struct {
		names    []string
		helpText string
		handler  CommandHandler
	}{
		{[]string{"report"}, "report a new incident", h.cmdReport},
		{[]string{"lead"}, "assign the incident lead, e.g. `lead @gabriela` (no argument takes the lead yourself)", h.cmdLead},
		{[]string{"severity", "sev"}, "set the severity, e.g. `severity major`", h.cmdSeverity},
		{[]string{"rename"}, "rename the incident, e.g. `rename Checkout degraded`", h.cmdRename},
		{[]string{"duration"}, "show how long the incident has been running", h.cmdDuration},
		{[]string{"close"}, "close the incident", h.cmdClose},
		{[]string{"actions"}, "list the follow-up actions", h.cmdActions},
		{[]string{"action"}, "log a follow-up action, e.g. `action restore backups`", h.cmdAction},
	} {
		if err := register(c.names, c.helpText, c.handler); err != nil {
			return err
		}
	}
	return nil
}

const needIncidentChannel = "Run this from an incident channel."

func (h *Handlers) cmdReport(ctx context.Context, cmd CommandContext) (bool, string, error) {
	if err := h.OpenCreateIncidentModal(ctx, cmd.TriggerID); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (h *Handlers) cmdLead(ctx context.Context, cmd CommandContext) (bool, string, error) {
	if cmd.Incident == nil {
		return true, needIncidentChannel, nil
	}

	leadID := cmd.UserID
	if cmd.Text != "" {
		mentioned, ok := parseUserMention(cmd.Text)
		if !ok {
			return false, "I can't tell who that is. Mention them, e.g. `lead @gabriela`.", nil
		}
		leadID = mentioned
	}

	lead, err := h.ResolveUser(ctx, leadID)
	if err != nil {
		return false, "", err
	}
	updatedBy, err := h.ResolveUser(ctx, cmd.UserID)
	if err != nil {
		return false, "", err
	}

	if _, err := h.incidents.SetLead(ctx, cmd.Incident.ID, lead, updatedBy); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (h *Handlers) cmdSeverity(ctx context.Context, cmd CommandContext) (bool, string, error) {
	if cmd.Incident == nil {
		return true, needIncidentChannel, nil
	}

	severity, ok := domain.ParseSeverity(strings.ToLower(cmd.Text))
	if !ok {
		return false, severityHelp(), nil
	}

	updatedBy, err := h.ResolveUser(ctx, cmd.UserID)
	if err != nil {
		return false, "", err
	}
	if _, err := h.incidents.SetSeverity(ctx, cmd.Incident.ID, severity, updatedBy); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func severityHelp() string {
	names := make([]string, 0, len(domain.Severities))
	for _, sev := range domain.Severities {
		names = append(names, sev.Text())
	}
	return "Set the severity to one of: " + strings.Join(names, ", ") + "."
}

func (h *Handlers) cmdRename(ctx context.Context, cmd CommandContext) (bool, string, error) {
	if cmd.Incident == nil {
		return true, needIncidentChannel, nil
	}
	if cmd.Text == "" {
		return false, "Give the incident a new name, e.g. `rename Checkout degraded`.", nil
	}

	updatedBy, err := h.ResolveUser(ctx, cmd.UserID)
	if err != nil {
		return false, "", err
	}
	if _, err := h.incidents.SetName(ctx, cmd.Incident.ID, cmd.Text, updatedBy); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (h *Handlers) cmdDuration(ctx context.Context, cmd CommandContext) (bool, string, error) {
	if cmd.Incident == nil {
		return true, needIncidentChannel, nil
	}
	return true, fmt.Sprintf("The incident has been running for %s.", cmd.Incident.Duration(time.Now())), nil
}

func (h *Handlers) cmdClose(ctx context.Context, cmd CommandContext) (bool, string, error) {
	if cmd.Incident == nil {
		return true, needIncidentChannel, nil
	}
	if cmd.Incident.IsClosed() {
		return true, "This incident is already closed.", nil
	}

	updatedBy, err := h.ResolveUser(ctx, cmd.UserID)
	if err != nil {
		return false, "", err
	}
	if _, err := h.incidents.Close(ctx, cmd.Incident.ID, updatedBy); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (h *Handlers) cmdActions(ctx context.Context, cmd CommandContext) (bool, string, error) {
	if cmd.Incident == nil {
		return true, needIncidentChannel, nil
	}

	open, err := h.incidents.ListOpenActions(ctx, cmd.Incident.ID)
	if err != nil {
		return false, "", err
	}
	done, err := h.incidents.ListCompletedActions(ctx, cmd.Incident.ID)
	if err != nil {
		return false, "", err
	}

	if len(open) == 0 && len(done) == 0 {
		return true, "No follow-up actions yet. Log one with `action <details>`.", nil
	}

	var b strings.Builder
	if len(open) > 0 {
		b.WriteString("*Outstanding*\n")
		for _, action := range open {
			b.WriteString(formatAction(action))
		}
	}
	if len(done) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("*Done*\n")
		for _, action := range done {
			b.WriteString(formatAction(action))
		}
	}
	return true, b.String(), nil
}

func formatAction(action *domain.Action) string {
	line := "• " + action.Details
	if action.AssignedTo != nil {
		line += fmt.Sprintf(" (%s)", userMention(action.AssignedTo))
	}
	return line + "\n"
}

func (h *Handlers) cmdAction(ctx context.Context, cmd CommandContext) (bool, string, error) {
	if cmd.Incident == nil {
		return true, needIncidentChannel, nil
	}
	if cmd.Text == "" {
		return false, "Describe the action, e.g. `action restore backups`.", nil
	}

	createdBy, err := h.ResolveUser(ctx, cmd.UserID)
	if err != nil {
		return false, "", err
	}
	if _, err := h.incidents.CreateAction(ctx, cmd.Incident.ID, cmd.Text, createdBy); err != nil {
		return false, "", err
	}
	return true, "", nil
}

// parseUserMention extracts the user id from a Slack mention in the form
// <@U123> or <@U123|display-name>.
func parseUserMention(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "<@") || !strings.HasSuffix(text, ">") {
		return "", false
	}
	id := text[2 : len(text)-1]
	if pipe := strings.IndexByte(id, '|'); pipe >= 0 {
		id = id[:pipe]
	}
	if id == "" {
		return "", false
	}
	return id, true
}
