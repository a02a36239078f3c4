package incident

import (
	"context"
	"errors"

	"github.com/bissquit/incident-responder/internal/domain"
)

// Repository errors.
var (
	ErrIncidentNotFound     = errors.New("incident not found")
	ErrActionNotFound       = errors.New("action not found")
	ErrUserNotFound         = errors.New("external user not found")
	ErrCommsChannelNotFound = errors.New("comms channel not found")
	ErrHeadlinePostNotFound = errors.New("headline post not found")
)

// Domain errors.
var (
	// ErrSeverityCleared is returned when an edit tries to unset a
	// previously-set severity.
	ErrSeverityCleared = errors.New("severity cannot be cleared once set")

	// ErrActionReopened is returned when an edit tries to un-complete a
	// done action.
	ErrActionReopened = errors.New("completed action cannot be reopened")
)

// Repository defines persistence operations for incidents and their
// satellite records.
type Repository interface {
	CreateIncident(ctx context.Context, inc *domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	UpdateIncident(ctx context.Context, inc *domain.Incident) error
	ListOpenIncidents(ctx context.Context) ([]*domain.Incident, error)

	CreateAction(ctx context.Context, action *domain.Action) error
	GetAction(ctx context.Context, id string) (*domain.Action, error)
	UpdateAction(ctx context.Context, action *domain.Action) error
	ListActions(ctx context.Context, incidentID string) ([]*domain.Action, error)

	// UpsertUser creates or updates an external user keyed by Slack id.
	// Existing records get their display name and email refreshed.
	UpsertUser(ctx context.Context, user *domain.ExternalUser) (*domain.ExternalUser, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*domain.ExternalUser, error)

	CreateCommsChannel(ctx context.Context, ch *domain.CommsChannel) error
	GetCommsChannelByIncident(ctx context.Context, incidentID string) (*domain.CommsChannel, error)
	GetCommsChannelByChannelID(ctx context.Context, channelID string) (*domain.CommsChannel, error)
	UpdateCommsChannelName(ctx context.Context, id, channelName string) error

	CreateHeadlinePost(ctx context.Context, post *domain.HeadlinePost) error
	GetHeadlinePostByIncident(ctx context.Context, incidentID string) (*domain.HeadlinePost, error)
	SetHeadlinePostTS(ctx context.Context, id, messageTS string) error

	AppendTimelineEvent(ctx context.Context, event *domain.TimelineEvent) error
	ListTimelineEvents(ctx context.Context, incidentID string) ([]*domain.TimelineEvent, error)
}
