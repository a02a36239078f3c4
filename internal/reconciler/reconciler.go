// Package reconciler propagates committed incident and action state
// transitions out to Slack: the persistent timeline, the comms channel,
// the headline post and the channel bookmarks.
package reconciler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
	"github.com/bissquit/incident-responder/internal/slack"
)

// Reconciler implements incident.ChangeListener. It derives the set of
// observable changes from a state transition and replays them onto every
// surface that mirrors incident state.
type Reconciler struct {
	repo     incident.Repository
	client   *slack.Client
	channels *slack.ChannelManager
	headline *slack.HeadlineManager
}

func New(repo incident.Repository, client *slack.Client, channels *slack.ChannelManager, headline *slack.HeadlineManager) *Reconciler {
	return &Reconciler{
		repo:     repo,
		client:   client,
		channels: channels,
		headline: headline,
	}
}

// IncidentChanged reconciles a committed incident transition. prev is nil
// for a fresh incident, in which case the comms channel and headline post
// are brought up before anything else.
func (r *Reconciler) IncidentChanged(ctx context.Context, prev, curr *domain.Incident) error {
	if prev == nil {
		return r.reconcileNew(ctx, curr)
	}

	changes := diffIncident(prev, curr)
	if len(changes) == 0 {
		return nil
	}

	logger := ctxlog.FromContext(ctx)
	for _, change := range changes {
		r.appendTimeline(ctx, curr.ID, change)

		if err := r.channels.PostInChannel(ctx, curr, change.Text); err != nil {
			logger.Error("failed to announce change in comms channel",
				"incident_id", curr.ID,
				"change", string(change.Type),
				"error", err,
			)
		}
		if !curr.Private {
			if err := r.headline.PostThreadReply(ctx, curr, change.Text); err != nil {
				logger.Error("failed to announce change in headline thread",
					"incident_id", curr.ID,
					"change", string(change.Type),
					"error", err,
				)
			}
		}
	}

	if prev.Name != curr.Name {
		if err := r.channels.RenameForIncident(ctx, curr); err != nil {
			logger.Error("failed to rename comms channel", "incident_id", curr.ID, "error", err)
		}
	}

	r.refreshSurfaces(ctx, curr)

	if !prev.IsClosed() && curr.IsClosed() {
		r.promptForReport(ctx, curr)
	}
	return nil
}

// reconcileNew sets up all Slack state for a just-reported incident. Any
// failure here is returned: without a channel and headline the incident is
// invisible.
func (r *Reconciler) reconcileNew(ctx context.Context, inc *domain.Incident) error {
	r.appendTimeline(ctx, inc.ID, Change{
		Type: domain.TimelineIncidentReported,
		Text: fmt.Sprintf("🚨 Incident reported by %s.", reporterName(inc)),
	})

	if _, err := r.channels.EnsureChannel(ctx, inc); err != nil {
		return err
	}
	if !inc.Private {
		if err := r.headline.Upsert(ctx, inc); err != nil {
			return err
		}
	}
	if err := r.channels.SyncBookmarks(ctx, inc); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to sync bookmarks", "incident_id", inc.ID, "error", err)
	}
	return nil
}

// ActionChanged reconciles a committed action transition.
func (r *Reconciler) ActionChanged(ctx context.Context, inc *domain.Incident, prev, curr *domain.Action) error {
	logger := ctxlog.FromContext(ctx)

	for _, change := range diffAction(prev, curr) {
		r.appendTimeline(ctx, inc.ID, change)

		if err := r.channels.PostInChannel(ctx, inc, change.Text); err != nil {
			logger.Error("failed to announce action change",
				"incident_id", inc.ID,
				"action_id", curr.ID,
				"error", err,
			)
		}
	}
	return nil
}

// refreshSurfaces re-renders the headline post and bookmarks from the
// current state. Both are idempotent; failures are logged because a stale
// surface heals on the next transition.
func (r *Reconciler) refreshSurfaces(ctx context.Context, inc *domain.Incident) {
	logger := ctxlog.FromContext(ctx)

	if !inc.Private {
		if err := r.headline.Upsert(ctx, inc); err != nil {
			logger.Error("failed to update headline post", "incident_id", inc.ID, "error", err)
		}
	}
	if err := r.channels.SyncBookmarks(ctx, inc); err != nil {
		logger.Warn("failed to sync bookmarks", "incident_id", inc.ID, "error", err)
	}
}

// promptForReport nudges the person responsible for a freshly closed
// incident, over DM, to write up the report.
func (r *Reconciler) promptForReport(ctx context.Context, inc *domain.Incident) {
	owner := inc.LeadOrReporter()
	if owner == nil {
		return
	}

	text := fmt.Sprintf(
		"Thanks for closing *%s*. When you have a moment, please write up the report: %s",
		inc.Name, r.channels.TimelineDocURL(inc),
	)
	if err := r.client.SendDirectMessage(ctx, owner.ExternalID, text); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to send report prompt",
			"incident_id", inc.ID,
			"user_id", owner.ExternalID,
			"error", err,
		)
	}
}

func (r *Reconciler) appendTimeline(ctx context.Context, incidentID string, change Change) {
	event := &domain.TimelineEvent{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Type:       change.Type,
		Text:       change.Text,
		OldValue:   change.Old,
		NewValue:   change.New,
	}
	if err := r.repo.AppendTimelineEvent(ctx, event); err != nil {
		ctxlog.FromContext(ctx).Error("failed to append timeline event",
			"incident_id", incidentID,
			"type", string(change.Type),
			"error", err,
		)
	}
}

func reporterName(inc *domain.Incident) string {
	if inc.Reporter == nil {
		return "unknown"
	}
	return inc.Reporter.DisplayName
}
