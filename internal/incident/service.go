// Package incident contains the application service for incident and
// action records. Every mutation goes through the same path: load the
// previous state, apply the change, persist, then hand both states to the
// change listener so chat state can be reconciled. This keeps the audit of
// which mutation triggered which downstream effect explicit.
package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
)

// ChangeListener receives incident and action state transitions after they
// have been committed. prev is nil for freshly created records.
type ChangeListener interface {
	IncidentChanged(ctx context.Context, prev, curr *domain.Incident) error
	ActionChanged(ctx context.Context, inc *domain.Incident, prev, curr *domain.Action) error
}

// Service implements incident operations on top of a Repository.
type Service struct {
	repo     Repository
	listener ChangeListener
	now      func() time.Time
}

// NewService creates a new incident service. The listener may be nil, in
// which case mutations are persisted without reconciliation.
func NewService(repo Repository, listener ChangeListener) *Service {
	return &Service{
		repo:     repo,
		listener: listener,
		now:      time.Now,
	}
}

// SetListener installs the change listener. Used to break the construction
// cycle between service and reconciler during wiring.
func (s *Service) SetListener(listener ChangeListener) {
	s.listener = listener
}

// CreateIncidentInput contains data for reporting a new incident.
type CreateIncidentInput struct {
	Name     string
	Reporter *domain.ExternalUser
	Lead     *domain.ExternalUser
	Severity *domain.Severity
	Summary  *string
	Private  bool
}

// CreateIncident persists a newly reported incident and publishes the
// creation to the listener. Listener failures are returned to the caller:
// a missing headline post at this point would silently lose state.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (*domain.Incident, error) {
	if input.Severity != nil && !input.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q", *input.Severity)
	}

	inc := &domain.Incident{
		Name:      domain.Sanitize(input.Name),
		Reporter:  input.Reporter,
		Lead:      input.Lead,
		Severity:  input.Severity,
		Summary:   domain.SanitizePtr(input.Summary),
		Private:   input.Private,
		StartTime: s.now(),
		UpdatedBy: input.Reporter,
	}

	if err := s.repo.CreateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	if s.listener != nil {
		if err := s.listener.IncidentChanged(ctx, nil, inc); err != nil {
			return nil, fmt.Errorf("reconcile new incident: %w", err)
		}
	}

	return inc, nil
}

// GetIncident returns the incident with the given id.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}

// ListOpenIncidents returns all incidents without an end time.
func (s *Service) ListOpenIncidents(ctx context.Context) ([]*domain.Incident, error) {
	return s.repo.ListOpenIncidents(ctx)
}

// mutate loads the incident, snapshots it, applies fn, enforces domain
// invariants, persists and publishes the transition. Reconciliation
// failures after commit are logged, not returned: chat state may lag the
// record and is repaired by the next re-render.
func (s *Service) mutate(ctx context.Context, id string, updatedBy *domain.ExternalUser, fn func(*domain.Incident) error) (*domain.Incident, error) {
	curr, err := s.repo.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := snapshotIncident(curr)

	if err := fn(curr); err != nil {
		return nil, err
	}

	if prev.Severity != nil && curr.Severity == nil {
		return nil, ErrSeverityCleared
	}
	if updatedBy != nil {
		curr.UpdatedBy = updatedBy
	}
	curr.Name = domain.Sanitize(curr.Name)
	curr.Summary = domain.SanitizePtr(curr.Summary)

	if err := s.repo.UpdateIncident(ctx, curr); err != nil {
		return nil, fmt.Errorf("update incident: %w", err)
	}

	if s.listener != nil {
		if err := s.listener.IncidentChanged(ctx, prev, curr); err != nil {
			ctxlog.FromContext(ctx).Error("incident reconciliation failed",
				"incident_id", curr.ID,
				"error", err,
			)
		}
	}

	return curr, nil
}

// SetLead assigns the incident lead.
func (s *Service) SetLead(ctx context.Context, id string, lead, updatedBy *domain.ExternalUser) (*domain.Incident, error) {
	return s.mutate(ctx, id, updatedBy, func(inc *domain.Incident) error {
		inc.Lead = lead
		return nil
	})
}

// SetSeverity sets the incident severity. A set severity can be changed
// but never cleared.
func (s *Service) SetSeverity(ctx context.Context, id string, severity domain.Severity, updatedBy *domain.ExternalUser) (*domain.Incident, error) {
	if !severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q", severity)
	}
	return s.mutate(ctx, id, updatedBy, func(inc *domain.Incident) error {
		inc.Severity = &severity
		return nil
	})
}

// SetName renames the incident.
func (s *Service) SetName(ctx context.Context, id, name string, updatedBy *domain.ExternalUser) (*domain.Incident, error) {
	return s.mutate(ctx, id, updatedBy, func(inc *domain.Incident) error {
		inc.Name = name
		return nil
	})
}

// SetSummary sets or replaces the incident summary.
func (s *Service) SetSummary(ctx context.Context, id, summary string, updatedBy *domain.ExternalUser) (*domain.Incident, error) {
	return s.mutate(ctx, id, updatedBy, func(inc *domain.Incident) error {
		inc.Summary = &summary
		return nil
	})
}

// EditInput carries the fields of the edit modal. A nil severity with a
// previously-set severity is rejected.
type EditInput struct {
	Name     string
	Summary  *string
	Lead     *domain.ExternalUser
	Severity *domain.Severity
}

// Edit applies the edit-incident modal submission in one transition.
func (s *Service) Edit(ctx context.Context, id string, input EditInput, updatedBy *domain.ExternalUser) (*domain.Incident, error) {
	if input.Severity != nil && !input.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q", *input.Severity)
	}
	return s.mutate(ctx, id, updatedBy, func(inc *domain.Incident) error {
		inc.Name = input.Name
		inc.Summary = input.Summary
		inc.Lead = input.Lead
		inc.Severity = input.Severity
		return nil
	})
}

// ShareStatusUpdate records a status update together with the interval
// until the next one is due.
func (s *Service) ShareStatusUpdate(ctx context.Context, id, update string, next *domain.StatusUpdateInterval, updatedBy *domain.ExternalUser) (*domain.Incident, error) {
	if next != nil && !next.IsValid() {
		return nil, fmt.Errorf("invalid status update interval %q", *next)
	}
	return s.mutate(ctx, id, updatedBy, func(inc *domain.Incident) error {
		now := s.now()
		inc.StatusUpdate = &update
		inc.StatusUpdateLast = &now
		inc.StatusUpdateNext = next
		return nil
	})
}

// ClearStatusUpdateNext drops the next-update interval so the update-due
// reminder does not repeat until a new interval is set. Fired from the
// reminder scheduler, so no updated-by user.
func (s *Service) ClearStatusUpdateNext(ctx context.Context, id string) (*domain.Incident, error) {
	return s.mutate(ctx, id, nil, func(inc *domain.Incident) error {
		inc.StatusUpdateNext = nil
		return nil
	})
}

// Close ends the incident. Closing an already closed incident is a no-op.
func (s *Service) Close(ctx context.Context, id string, updatedBy *domain.ExternalUser) (*domain.Incident, error) {
	return s.mutate(ctx, id, updatedBy, func(inc *domain.Incident) error {
		if inc.IsClosed() {
			return nil
		}
		now := s.now()
		inc.EndTime = &now
		return nil
	})
}

// CreateAction logs a follow-up action against an incident.
func (s *Service) CreateAction(ctx context.Context, incidentID, details string, createdBy *domain.ExternalUser) (*domain.Action, error) {
	inc, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	action := &domain.Action{
		IncidentID: incidentID,
		Details:    domain.Sanitize(details),
		CreatedBy:  createdBy,
		UpdatedBy:  createdBy,
	}
	if err := s.repo.CreateAction(ctx, action); err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}

	s.publishAction(ctx, inc, nil, action)
	return action, nil
}

// AssignAction assigns an action to a user.
func (s *Service) AssignAction(ctx context.Context, actionID string, assignee *domain.ExternalUser) (*domain.Action, error) {
	return s.mutateAction(ctx, actionID, func(action *domain.Action) error {
		action.AssignedTo = assignee
		action.UpdatedBy = assignee
		return nil
	})
}

// CompleteAction marks an action as done. Completion is monotonic.
func (s *Service) CompleteAction(ctx context.Context, actionID string, completedBy *domain.ExternalUser) (*domain.Action, error) {
	return s.mutateAction(ctx, actionID, func(action *domain.Action) error {
		action.Done = true
		if action.AssignedTo == nil {
			action.AssignedTo = completedBy
		}
		action.UpdatedBy = completedBy
		return nil
	})
}

func (s *Service) mutateAction(ctx context.Context, actionID string, fn func(*domain.Action) error) (*domain.Action, error) {
	curr, err := s.repo.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	prev := snapshotAction(curr)

	if err := fn(curr); err != nil {
		return nil, err
	}
	if prev.Done && !curr.Done {
		return nil, ErrActionReopened
	}

	if err := s.repo.UpdateAction(ctx, curr); err != nil {
		return nil, fmt.Errorf("update action: %w", err)
	}

	inc, err := s.repo.GetIncident(ctx, curr.IncidentID)
	if err != nil {
		return nil, err
	}
	s.publishAction(ctx, inc, prev, curr)
	return curr, nil
}

func (s *Service) publishAction(ctx context.Context, inc *domain.Incident, prev, curr *domain.Action) {
	if s.listener == nil {
		return
	}
	if err := s.listener.ActionChanged(ctx, inc, prev, curr); err != nil {
		ctxlog.FromContext(ctx).Error("action reconciliation failed",
			"incident_id", inc.ID,
			"action_id", curr.ID,
			"error", err,
		)
	}
}

// ListOpenActions returns not-yet-done actions for an incident.
func (s *Service) ListOpenActions(ctx context.Context, incidentID string) ([]*domain.Action, error) {
	return s.listActions(ctx, incidentID, false)
}

// ListCompletedActions returns completed actions for an incident.
func (s *Service) ListCompletedActions(ctx context.Context, incidentID string) ([]*domain.Action, error) {
	return s.listActions(ctx, incidentID, true)
}

func (s *Service) listActions(ctx context.Context, incidentID string, done bool) ([]*domain.Action, error) {
	all, err := s.repo.ListActions(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Action, 0, len(all))
	for _, a := range all {
		if a.Done == done {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetOrCreateUser resolves an external user by Slack id, creating the
// record on first sight and refreshing the display name when it changed.
// Idempotent: repeated calls with the same id return the same record.
func (s *Service) GetOrCreateUser(ctx context.Context, externalID, displayName string) (*domain.ExternalUser, error) {
	return s.repo.UpsertUser(ctx, &domain.ExternalUser{
		ExternalID:  externalID,
		DisplayName: displayName,
	})
}

// Timeline returns the persistent event log for an incident.
func (s *Service) Timeline(ctx context.Context, incidentID string) ([]*domain.TimelineEvent, error) {
	return s.repo.ListTimelineEvents(ctx, incidentID)
}

func snapshotIncident(inc *domain.Incident) *domain.Incident {
	cp := *inc
	return &cp
}

func snapshotAction(action *domain.Action) *domain.Action {
	cp := *action
	return &cp
}
