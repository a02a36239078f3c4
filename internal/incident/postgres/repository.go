// Package postgres provides the PostgreSQL implementation of the incident
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements incident.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `
	i.id, i.name, i.severity, i.private,
	i.start_time, i.end_time, i.summary, i.status_update,
	i.status_update_last, i.status_update_next,
	i.created_at, i.updated_at,
	r.id, r.external_id, r.display_name,
	l.id, l.external_id, l.display_name,
	u.id, u.external_id, u.display_name
`

const incidentJoins = `
	LEFT JOIN external_users r ON r.id = i.reporter_id
	LEFT JOIN external_users l ON l.id = i.lead_id
	LEFT JOIN external_users u ON u.id = i.updated_by_id
`

// CreateIncident inserts a new incident.
func (r *Repository) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		INSERT INTO incidents (
			name, reporter_id, lead_id, severity, private,
			start_time, end_time, summary, status_update,
			status_update_last, status_update_next, updated_by_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		inc.Name,
		userID(inc.Reporter),
		userID(inc.Lead),
		severityValue(inc.Severity),
		inc.Private,
		inc.StartTime,
		inc.EndTime,
		inc.Summary,
		inc.StatusUpdate,
		inc.StatusUpdateLast,
		intervalValue(inc.StatusUpdateNext),
		userID(inc.UpdatedBy),
	).Scan(&inc.ID, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident with its user references resolved.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents i ` + incidentJoins + ` WHERE i.id = $1`

	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// UpdateIncident persists the mutable incident fields.
func (r *Repository) UpdateIncident(ctx context.Context, inc *domain.Incident) error {
	query := `
		UPDATE incidents SET
			name = $2, lead_id = $3, severity = $4,
			end_time = $5, summary = $6, status_update = $7,
			status_update_last = $8, status_update_next = $9,
			updated_by_id = $10, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		inc.ID,
		inc.Name,
		userID(inc.Lead),
		severityValue(inc.Severity),
		inc.EndTime,
		inc.Summary,
		inc.StatusUpdate,
		inc.StatusUpdateLast,
		intervalValue(inc.StatusUpdateNext),
		userID(inc.UpdatedBy),
	).Scan(&inc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return incident.ErrIncidentNotFound
		}
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

// ListOpenIncidents returns all incidents without an end time, oldest first.
func (r *Repository) ListOpenIncidents(ctx context.Context) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents i ` + incidentJoins + `
		WHERE i.end_time IS NULL
		ORDER BY i.start_time`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// CreateAction inserts a new action.
func (r *Repository) CreateAction(ctx context.Context, action *domain.Action) error {
	query := `
		INSERT INTO actions (incident_id, details, done, assigned_to_id, created_by_id, updated_by_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		action.IncidentID,
		action.Details,
		action.Done,
		userID(action.AssignedTo),
		userID(action.CreatedBy),
		userID(action.UpdatedBy),
	).Scan(&action.ID, &action.CreatedAt, &action.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create action: %w", err)
	}
	return nil
}

const actionColumns = `
	a.id, a.incident_id, a.details, a.done, a.created_at, a.updated_at,
	s.id, s.external_id, s.display_name,
	c.id, c.external_id, c.display_name,
	u.id, u.external_id, u.display_name
`

const actionJoins = `
	LEFT JOIN external_users s ON s.id = a.assigned_to_id
	LEFT JOIN external_users c ON c.id = a.created_by_id
	LEFT JOIN external_users u ON u.id = a.updated_by_id
`

// GetAction retrieves an action by id.
func (r *Repository) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions a ` + actionJoins + ` WHERE a.id = $1`

	action, err := scanAction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrActionNotFound
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	return action, nil
}

// UpdateAction persists the mutable action fields.
func (r *Repository) UpdateAction(ctx context.Context, action *domain.Action) error {
	query := `
		UPDATE actions SET
			details = $2, done = $3, assigned_to_id = $4, updated_by_id = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		action.ID,
		action.Details,
		action.Done,
		userID(action.AssignedTo),
		userID(action.UpdatedBy),
	).Scan(&action.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return incident.ErrActionNotFound
		}
		return fmt.Errorf("update action: %w", err)
	}
	return nil
}

// ListActions returns all actions for an incident, oldest first.
func (r *Repository) ListActions(ctx context.Context, incidentID string) ([]*domain.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions a ` + actionJoins + `
		WHERE a.incident_id = $1
		ORDER BY a.created_at`

	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, action)
	}
	return out, rows.Err()
}

// UpsertUser creates or refreshes an external user keyed by Slack id.
func (r *Repository) UpsertUser(ctx context.Context, user *domain.ExternalUser) (*domain.ExternalUser, error) {
	query := `
		INSERT INTO external_users (external_id, display_name, email, deleted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = COALESCE(EXCLUDED.email, external_users.email),
			deleted = EXCLUDED.deleted,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	out := *user
	err := r.db.QueryRow(ctx, query,
		user.ExternalID,
		user.DisplayName,
		user.Email,
		user.Deleted,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &out, nil
}

// GetUserByExternalID retrieves a user by Slack id.
func (r *Repository) GetUserByExternalID(ctx context.Context, externalID string) (*domain.ExternalUser, error) {
	query := `
		SELECT id, external_id, display_name, email, deleted, created_at, updated_at
		FROM external_users
		WHERE external_id = $1
	`
	var user domain.ExternalUser
	err := r.db.QueryRow(ctx, query, externalID).Scan(
		&user.ID,
		&user.ExternalID,
		&user.DisplayName,
		&user.Email,
		&user.Deleted,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// CreateCommsChannel records the channel created for an incident.
func (r *Repository) CreateCommsChannel(ctx context.Context, ch *domain.CommsChannel) error {
	query := `
		INSERT INTO comms_channels (incident_id, channel_id, channel_name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, ch.IncidentID, ch.ChannelID, ch.ChannelName).
		Scan(&ch.ID, &ch.CreatedAt)
	if err != nil {
		return fmt.Errorf("create comms channel: %w", err)
	}
	return nil
}

// GetCommsChannelByIncident retrieves the channel record for an incident.
func (r *Repository) GetCommsChannelByIncident(ctx context.Context, incidentID string) (*domain.CommsChannel, error) {
	return r.getCommsChannel(ctx, "incident_id", incidentID)
}

// GetCommsChannelByChannelID retrieves the channel record by Slack channel id.
func (r *Repository) GetCommsChannelByChannelID(ctx context.Context, channelID string) (*domain.CommsChannel, error) {
	return r.getCommsChannel(ctx, "channel_id", channelID)
}

func (r *Repository) getCommsChannel(ctx context.Context, column, value string) (*domain.CommsChannel, error) {
	query := `
		SELECT id, incident_id, channel_id, channel_name, created_at
		FROM comms_channels
		WHERE ` + column + ` = $1
	`
	var ch domain.CommsChannel
	err := r.db.QueryRow(ctx, query, value).Scan(
		&ch.ID,
		&ch.IncidentID,
		&ch.ChannelID,
		&ch.ChannelName,
		&ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrCommsChannelNotFound
		}
		return nil, fmt.Errorf("get comms channel: %w", err)
	}
	return &ch, nil
}

// UpdateCommsChannelName records a channel rename.
func (r *Repository) UpdateCommsChannelName(ctx context.Context, id, channelName string) error {
	tag, err := r.db.Exec(ctx, `UPDATE comms_channels SET channel_name = $2 WHERE id = $1`, id, channelName)
	if err != nil {
		return fmt.Errorf("update comms channel name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incident.ErrCommsChannelNotFound
	}
	return nil
}

// CreateHeadlinePost records the headline post for an incident.
func (r *Repository) CreateHeadlinePost(ctx context.Context, post *domain.HeadlinePost) error {
	query := `
		INSERT INTO headline_posts (incident_id, message_ts)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, post.IncidentID, post.MessageTS).
		Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create headline post: %w", err)
	}
	return nil
}

// GetHeadlinePostByIncident retrieves the headline post record for an incident.
func (r *Repository) GetHeadlinePostByIncident(ctx context.Context, incidentID string) (*domain.HeadlinePost, error) {
	query := `
		SELECT id, incident_id, message_ts, created_at, updated_at
		FROM headline_posts
		WHERE incident_id = $1
	`
	var post domain.HeadlinePost
	err := r.db.QueryRow(ctx, query, incidentID).Scan(
		&post.ID,
		&post.IncidentID,
		&post.MessageTS,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incident.ErrHeadlinePostNotFound
		}
		return nil, fmt.Errorf("get headline post: %w", err)
	}
	return &post, nil
}

// SetHeadlinePostTS stores the Slack message handle once the headline post
// has been created.
func (r *Repository) SetHeadlinePostTS(ctx context.Context, id, messageTS string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE headline_posts SET message_ts = $2, updated_at = now() WHERE id = $1`,
		id, messageTS,
	)
	if err != nil {
		return fmt.Errorf("set headline post ts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incident.ErrHeadlinePostNotFound
	}
	return nil
}

// AppendTimelineEvent appends an entry to the incident timeline.
func (r *Repository) AppendTimelineEvent(ctx context.Context, event *domain.TimelineEvent) error {
	query := `
		INSERT INTO timeline_events (id, incident_id, type, text, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		event.ID,
		event.IncidentID,
		event.Type,
		event.Text,
		event.OldValue,
		event.NewValue,
	).Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

// ListTimelineEvents returns the timeline for an incident, oldest first.
func (r *Repository) ListTimelineEvents(ctx context.Context, incidentID string) ([]*domain.TimelineEvent, error) {
	query := `
		SELECT id, incident_id, type, text, old_value, new_value, created_at
		FROM timeline_events
		WHERE incident_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	var out []*domain.TimelineEvent
	for rows.Next() {
		var event domain.TimelineEvent
		err := rows.Scan(
			&event.ID,
			&event.IncidentID,
			&event.Type,
			&event.Text,
			&event.OldValue,
			&event.NewValue,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}

func userID(user *domain.ExternalUser) *string {
	if user == nil {
		return nil
	}
	return &user.ID
}

func severityValue(s *domain.Severity) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func intervalValue(i *domain.StatusUpdateInterval) *string {
	if i == nil {
		return nil
	}
	v := string(*i)
	return &v
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var inc domain.Incident
	var severity, interval *string
	var reporter, lead, updatedBy userRow

	err := row.Scan(
		&inc.ID,
		&inc.Name,
		&severity,
		&inc.Private,
		&inc.StartTime,
		&inc.EndTime,
		&inc.Summary,
		&inc.StatusUpdate,
		&inc.StatusUpdateLast,
		&interval,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&reporter.id, &reporter.externalID, &reporter.displayName,
		&lead.id, &lead.externalID, &lead.displayName,
		&updatedBy.id, &updatedBy.externalID, &updatedBy.displayName,
	)
	if err != nil {
		return nil, err
	}

	if severity != nil {
		s := domain.Severity(*severity)
		inc.Severity = &s
	}
	if interval != nil {
		i := domain.StatusUpdateInterval(*interval)
		inc.StatusUpdateNext = &i
	}
	inc.Reporter = reporter.user()
	inc.Lead = lead.user()
	inc.UpdatedBy = updatedBy.user()
	return &inc, nil
}

func scanAction(row pgx.Row) (*domain.Action, error) {
	var action domain.Action
	var assigned, created, updated userRow

	err := row.Scan(
		&action.ID,
		&action.IncidentID,
		&action.Details,
		&action.Done,
		&action.CreatedAt,
		&action.UpdatedAt,
		&assigned.id, &assigned.externalID, &assigned.displayName,
		&created.id, &created.externalID, &created.displayName,
		&updated.id, &updated.externalID, &updated.displayName,
	)
	if err != nil {
		return nil, err
	}

	action.AssignedTo = assigned.user()
	action.CreatedBy = created.user()
	action.UpdatedBy = updated.user()
	return &action, nil
}

// userRow holds the nullable columns of a joined external user.
type userRow struct {
	id          *string
	externalID  *string
	displayName *string
}

func (u userRow) user() *domain.ExternalUser {
	if u.id == nil {
		return nil
	}
	return &domain.ExternalUser{
		ID:          *u.id,
		ExternalID:  deref(u.externalID),
		DisplayName: deref(u.displayName),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
