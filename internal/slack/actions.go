package slack

import (
	"context"
	"fmt"

	"github.com/bissquit/incident-responder/internal/domain"
)

// RegisterActions binds the button handlers.
func (h *Handlers) RegisterActions(reg *ActionRegistry) error {
	for actionID, handler := range map[string]ActionHandler{
		ActionEditIncident:   h.handleEditIncidentButton,
		ActionCloseIncident:  h.handleCloseIncidentButton,
		ActionMakeMeLead:     h.handleMakeMeLeadButton,
		ActionShareUpdate:    h.handleShareUpdateButton,
		ActionAddSummary:     h.handleAddSummaryButton,
		ActionTakeAction:     h.handleTakeActionButton,
		ActionCompleteAction: h.handleCompleteActionButton,
	} {
		if err := reg.Register(actionID, handler); err != nil {
			return err
		}
	}
	return nil
}

// incidentFor resolves the incident a button refers to. Buttons in the
// comms channel arrive with the incident already resolved from the channel
// id; headline buttons carry the incident id as their value.
func (h *Handlers) incidentFor(ctx context.Context, action ActionContext) (*domain.Incident, error) {
	if action.Incident != nil {
		return action.Incident, nil
	}
	if action.Value == "" {
		return nil, fmt.Errorf("action carries no incident reference")
	}
	return h.incidents.GetIncident(ctx, action.Value)
}

func (h *Handlers) handleEditIncidentButton(ctx context.Context, action ActionContext) error {
	inc, err := h.incidentFor(ctx, action)
	if err != nil {
		return err
	}
	return h.OpenEditIncidentModal(ctx, action.TriggerID, inc)
}

// handleAddSummaryButton reuses the edit modal: the summary prompt's call
// to action lands the user on the form with the summary field ready.
func (h *Handlers) handleAddSummaryButton(ctx context.Context, action ActionContext) error {
	inc, err := h.incidentFor(ctx, action)
	if err != nil {
		return err
	}
	return h.OpenEditIncidentModal(ctx, action.TriggerID, inc)
}

func (h *Handlers) handleShareUpdateButton(ctx context.Context, action ActionContext) error {
	inc, err := h.incidentFor(ctx, action)
	if err != nil {
		return err
	}
	return h.OpenShareUpdateModal(ctx, action.TriggerID, inc)
}

func (h *Handlers) handleCloseIncidentButton(ctx context.Context, action ActionContext) error {
	inc, err := h.incidentFor(ctx, action)
	if err != nil {
		return err
	}
	user, err := h.ResolveUser(ctx, action.UserID)
	if err != nil {
		return err
	}
	_, err = h.incidents.Close(ctx, inc.ID, user)
	return err
}

func (h *Handlers) handleMakeMeLeadButton(ctx context.Context, action ActionContext) error {
	inc, err := h.incidentFor(ctx, action)
	if err != nil {
		return err
	}
	user, err := h.ResolveUser(ctx, action.UserID)
	if err != nil {
		return err
	}
	_, err = h.incidents.SetLead(ctx, inc.ID, user, user)
	return err
}

// handleTakeActionButton assigns the follow-up action (the button value is
// the action id) to whoever pressed the button.
func (h *Handlers) handleTakeActionButton(ctx context.Context, action ActionContext) error {
	user, err := h.ResolveUser(ctx, action.UserID)
	if err != nil {
		return err
	}
	_, err = h.incidents.AssignAction(ctx, action.Value, user)
	return err
}

func (h *Handlers) handleCompleteActionButton(ctx context.Context, action ActionContext) error {
	user, err := h.ResolveUser(ctx, action.UserID)
	if err != nil {
		return err
	}
	_, err = h.incidents.CompleteAction(ctx, action.Value, user)
	return err
}
