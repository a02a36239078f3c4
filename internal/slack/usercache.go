package slack

import (
	"context"
	"fmt"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/incident"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
)

// UserCache mirrors the Slack workspace directory into the external user
// table so names and emails resolve without an API round trip. It runs on
// a schedule; individual lookups still go through on demand.
type UserCache struct {
	client *Client
	repo   incident.Repository
}

func NewUserCache(client *Client, repo incident.Repository) *UserCache {
	return &UserCache{client: client, repo: repo}
}

// Refresh pulls the full user list and upserts every member. Bots and the
// Slackbot pseudo-user are skipped. Returns the number of users synced.
func (c *UserCache) Refresh(ctx context.Context) (int, error) {
	users, err := c.client.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list workspace users: %w", err)
	}

	logger := ctxlog.FromContext(ctx)
	synced := 0
	for _, user := range users {
		if user.IsBot || user.ID == "USLACKBOT" {
			continue
		}

		name := user.Profile.RealName
		if name == "" {
			name = user.Name
		}

		record := &domain.ExternalUser{
			ExternalID:  user.ID,
			DisplayName: name,
			Deleted:     user.Deleted,
		}
		if user.Profile.Email != "" {
			email := user.Profile.Email
			record.Email = &email
		}

		if _, err := c.repo.UpsertUser(ctx, record); err != nil {
			logger.Warn("failed to sync user", "user_id", user.ID, "error", err)
			continue
		}
		synced++
	}

	logger.Info("user cache refreshed", "synced", synced, "total", len(users))
	return synced, nil
}
