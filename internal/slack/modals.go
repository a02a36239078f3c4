package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	"github.com/slack-go/slack"
)

// Modal callback ids.
const (
	ModalCreateIncident = "incident-create-modal"
	ModalEditIncident   = "incident-edit-modal"
	ModalShareUpdate    = "share-update-modal"
)

// Block and action ids inside modal views.
const (
	blockName     = "name"
	blockSummary  = "summary"
	blockSeverity = "severity"
	blockLead     = "lead"
	blockUpdate   = "update"
	blockNext     = "next_update"
)

// Handlers implements the command, action and modal handlers and wires
// them into the registries.
type Handlers struct {
	incidents *incident.Service
	client    *Client
	channels  *ChannelManager
	headline  *HeadlineManager
}

func NewHandlers(incidents *incident.Service, client *Client, channels *ChannelManager, headline *HeadlineManager) *Handlers {
	return &Handlers{
		incidents: incidents,
		client:    client,
		channels:  channels,
		headline:  headline,
	}
}

// ResolveUser maps a Slack user id onto the local user record, creating it
// on first sight.
func (h *Handlers) ResolveUser(ctx context.Context, slackUserID string) (*domain.ExternalUser, error) {
	profile, err := h.client.GetUserProfile(ctx, slackUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", slackUserID, err)
	}
	name := profile.FullName
	if name == "" {
		name = profile.Name
	}
	return h.incidents.GetOrCreateUser(ctx, profile.ID, name)
}

// RegisterModals binds the modal submission handlers.
func (h *Handlers) RegisterModals(reg *ModalRegistry) error {
	for callbackID, handler := range map[string]ModalHandler{
		ModalCreateIncident: h.handleCreateIncidentModal,
		ModalEditIncident:   h.handleEditIncidentModal,
		ModalShareUpdate:    h.handleShareUpdateModal,
	} {
		if err := reg.Register(callbackID, handler); err != nil {
			return err
		}
	}
	return nil
}

// OpenCreateIncidentModal opens the report-incident form.
func (h *Handlers) OpenCreateIncidentModal(ctx context.Context, triggerID string) error {
	view := slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: ModalCreateIncident,
		Title:      plainText("Report an incident"),
		Submit:     plainText("Report"),
		Close:      plainText("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			textInputBlock(blockName, "What's the problem?", "", false, false),
			textInputBlock(blockSummary, "Summary", "", true, true),
			severitySelectBlock(nil, true),
			leadSelectBlock("", true),
		}},
	}
	return h.client.OpenModal(ctx, triggerID, view)
}

// OpenEditIncidentModal opens the edit form prefilled with the current
// incident state. The incident id travels in private metadata.
func (h *Handlers) OpenEditIncidentModal(ctx context.Context, triggerID string, inc *domain.Incident) error {
	summary := ""
	if inc.Summary != nil {
		summary = *inc.Summary
	}
	lead := ""
	if inc.Lead != nil {
		lead = inc.Lead.ExternalID
	}

	view := slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      ModalEditIncident,
		PrivateMetadata: inc.ID,
		Title:           plainText("Edit incident"),
		Submit:          plainText("Save"),
		Close:           plainText("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			textInputBlock(blockName, "Name", inc.Name, false, false),
			textInputBlock(blockSummary, "Summary", summary, true, true),
			severitySelectBlock(inc.Severity, inc.Severity == nil),
			leadSelectBlock(lead, true),
		}},
	}
	return h.client.OpenModal(ctx, triggerID, view)
}

// OpenShareUpdateModal opens the share-update form.
func (h *Handlers) OpenShareUpdateModal(ctx context.Context, triggerID string, inc *domain.Incident) error {
	view := slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      ModalShareUpdate,
		PrivateMetadata: inc.ID,
		Title:           plainText("Share an update"),
		Submit:          plainText("Share"),
		Close:           plainText("Cancel"),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			textInputBlock(blockUpdate, "What's the latest?", "", true, false),
			nextUpdateSelectBlock(),
		}},
	}
	return h.client.OpenModal(ctx, triggerID, view)
}

func (h *Handlers) handleCreateIncidentModal(ctx context.Context, submission ModalSubmission) (*slack.ViewSubmissionResponse, error) {
	values := submission.View.State.Values

	name := strings.TrimSpace(inputValue(values, blockName))
	if name == "" {
		return slack.NewErrorsViewSubmissionResponse(map[string]string{
			blockName: "Give the incident a name.",
		}), nil
	}

	reporter, err := h.ResolveUser(ctx, submission.UserID)
	if err != nil {
		return nil, err
	}

	input := incident.CreateIncidentInput{
		Name:     name,
		Reporter: reporter,
		Summary:  optionalInput(values, blockSummary),
	}
	if sev, ok := domain.ParseSeverity(selectedOption(values, blockSeverity)); ok {
		input.Severity = &sev
	}
	if leadID := selectedUser(values, blockLead); leadID != "" {
		lead, err := h.ResolveUser(ctx, leadID)
		if err != nil {
			return nil, err
		}
		input.Lead = lead
	}

	_, err = h.incidents.CreateIncident(ctx, input)
	return nil, err
}

func (h *Handlers) handleEditIncidentModal(ctx context.Context, submission ModalSubmission) (*slack.ViewSubmissionResponse, error) {
	inc, err := h.incidents.GetIncident(ctx, submission.PrivateMetadata)
	if err != nil {
		return nil, err
	}
	values := submission.View.State.Values

	name := strings.TrimSpace(inputValue(values, blockName))
	if name == "" {
		return slack.NewErrorsViewSubmissionResponse(map[string]string{
			blockName: "The incident needs a name.",
		}), nil
	}

	input := incident.EditInput{
		Name:    name,
		Summary: optionalInput(values, blockSummary),
	}
	if sev, ok := domain.ParseSeverity(selectedOption(values, blockSeverity)); ok {
		input.Severity = &sev
	}
	if inc.Severity != nil && input.Severity == nil {
		return slack.NewErrorsViewSubmissionResponse(map[string]string{
			blockSeverity: "Severity can be changed but not removed.",
		}), nil
	}
	if leadID := selectedUser(values, blockLead); leadID != "" {
		lead, err := h.ResolveUser(ctx, leadID)
		if err != nil {
			return nil, err
		}
		input.Lead = lead
	}

	updatedBy, err := h.ResolveUser(ctx, submission.UserID)
	if err != nil {
		return nil, err
	}

	_, err = h.incidents.Edit(ctx, inc.ID, input, updatedBy)
	return nil, err
}

func (h *Handlers) handleShareUpdateModal(ctx context.Context, submission ModalSubmission) (*slack.ViewSubmissionResponse, error) {
	values := submission.View.State.Values

	update := strings.TrimSpace(inputValue(values, blockUpdate))
	if update == "" {
		return slack.NewErrorsViewSubmissionResponse(map[string]string{
			blockUpdate: "Write the update before sharing it.",
		}), nil
	}

	var next *domain.StatusUpdateInterval
	if value := selectedOption(values, blockNext); value != "" {
		interval := domain.StatusUpdateInterval(value)
		if !interval.IsValid() {
			return slack.NewErrorsViewSubmissionResponse(map[string]string{
				blockNext: "Pick one of the listed intervals.",
			}), nil
		}
		next = &interval
	}

	updatedBy, err := h.ResolveUser(ctx, submission.UserID)
	if err != nil {
		return nil, err
	}

	_, err = h.incidents.ShareStatusUpdate(ctx, submission.PrivateMetadata, update, next, updatedBy)
	return nil, err
}

// View construction helpers. Every input block uses the same id for block
// and element so submissions read back with one key.

func textInputBlock(id, label, initial string, optional, multiline bool) *slack.InputBlock {
	element := slack.NewPlainTextInputBlockElement(nil, id)
	element.Multiline = multiline
	element.InitialValue = initial

	block := slack.NewInputBlock(id, plainText(label), nil, element)
	block.Optional = optional
	return block
}

func severitySelectBlock(current *domain.Severity, optional bool) *slack.InputBlock {
	options := make([]*slack.OptionBlockObject, 0, len(domain.Severities))
	var initial *slack.OptionBlockObject
	for _, sev := range domain.Severities {
		option := slack.NewOptionBlockObject(string(sev), plainText(sev.Text()), nil)
		options = append(options, option)
		if current != nil && *current == sev {
			initial = option
		}
	}

	element := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plainText("Select severity"), blockSeverity, options...)
	element.InitialOption = initial

	block := slack.NewInputBlock(blockSeverity, plainText("Severity"), nil, element)
	block.Optional = optional
	return block
}

func leadSelectBlock(initialUser string, optional bool) *slack.InputBlock {
	element := &slack.SelectBlockElement{
		Type:        slack.OptTypeUser,
		ActionID:    blockLead,
		Placeholder: plainText("Select a lead"),
		InitialUser: initialUser,
	}

	block := slack.NewInputBlock(blockLead, plainText("Incident lead"), nil, element)
	block.Optional = optional
	return block
}

func nextUpdateSelectBlock() *slack.InputBlock {
	options := make([]*slack.OptionBlockObject, 0, len(domain.StatusUpdateIntervals))
	for _, interval := range domain.StatusUpdateIntervals {
		options = append(options, slack.NewOptionBlockObject(string(interval), plainText(interval.Text()), nil))
	}

	element := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plainText("When's the next update due?"), blockNext, options...)

	block := slack.NewInputBlock(blockNext, plainText("Next update"), nil, element)
	block.Optional = true
	return block
}

// Submission read helpers.

func inputValue(values map[string]map[string]slack.BlockAction, id string) string {
	return values[id][id].Value
}

func optionalInput(values map[string]map[string]slack.BlockAction, id string) *string {
	value := strings.TrimSpace(inputValue(values, id))
	if value == "" {
		return nil
	}
	return &value
}

func selectedOption(values map[string]map[string]slack.BlockAction, id string) string {
	return values[id][id].SelectedOption.Value
}

func selectedUser(values map[string]map[string]slack.BlockAction, id string) string {
	return values[id][id].SelectedUser
}
