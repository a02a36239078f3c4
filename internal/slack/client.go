// Package slack integrates the service with the Slack platform: a
// retrying API client, dispatch registries for commands, actions, modals
// and events, and managers for comms channels and headline posts.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// Slack error codes the call sites branch on.
const (
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeNameTaken        = "name_taken"
	ErrCodeChannelNotFound  = "channel_not_found"
	ErrCodeAlreadyInChannel = "already_in_channel"
	ErrCodeAlreadyReacted   = "already_reacted"
	ErrCodeNoReaction       = "no_reaction"
	ErrCodeUserNotFound     = "users_not_found"
)

// APIError is the typed error surfaced for non-retryable Slack failures
// and for retryable ones once attempts are exhausted.
type APIError struct {
	Op      string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Op, e.Message)
}

// IsAPIError reports whether err is a Slack API error with the given code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// API is the subset of slack.Client methods the service uses. Tests
// substitute a mock implementation without a live Slack connection.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)

	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)

	CreateConversationContext(ctx context.Context, params slack.CreateConversationParams) (*slack.Channel, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	InviteUsersToConversationContext(ctx context.Context, channelID string, users ...string) (*slack.Channel, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	RenameConversationContext(ctx context.Context, channelID, channelName string) (*slack.Channel, error)
	UnArchiveConversationContext(ctx context.Context, channelID string) error
	SetTopicOfConversationContext(ctx context.Context, channelID, topic string) (*slack.Channel, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)

	AddBookmarkContext(ctx context.Context, channelID string, params slack.AddBookmarkParameters) (slack.Bookmark, error)
	EditBookmarkContext(ctx context.Context, channelID, bookmarkID string, params slack.EditBookmarkParameters) (slack.Bookmark, error)
	ListBookmarksContext(ctx context.Context, channelID string) ([]slack.Bookmark, error)

	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error

	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetUserByEmailContext(ctx context.Context, email string) (*slack.User, error)
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
}

// ClientConfig configures the retrying client.
type ClientConfig struct {
	// MaxRetryAttempts bounds retries of rate-limited calls.
	MaxRetryAttempts int
	// RetryBaseBackoff is multiplied by the attempt index between retries.
	RetryBaseBackoff time.Duration
	// PostRateLimit throttles message posts (events per second).
	PostRateLimit float64
}

// DefaultClientConfig returns the default retry configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxRetryAttempts: 10,
		RetryBaseBackoff: 200 * time.Millisecond,
		PostRateLimit:    1,
	}
}

// Client wraps the Slack API with bounded retry on rate limits and a rate
// limiter on message posts. Idempotent lookups retry freely; message posts
// are retried only on the explicit rate-limit error, never on ambiguous
// failures, to avoid duplicate sends.
type Client struct {
	api     API
	config  ClientConfig
	limiter *rate.Limiter
}

// NewClient creates a retrying client around the given API.
func NewClient(api API, config ClientConfig) *Client {
	if config.MaxRetryAttempts <= 0 {
		config.MaxRetryAttempts = 10
	}
	if config.RetryBaseBackoff <= 0 {
		config.RetryBaseBackoff = 200 * time.Millisecond
	}
	if config.PostRateLimit <= 0 {
		config.PostRateLimit = 1
	}
	return &Client{
		api:     api,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.PostRateLimit), 3),
	}
}

// errorCode extracts the Slack error code from an API error. Web API
// failures carry the code as the error message; HTTP 429 responses come
// back as RateLimitedError.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return ErrCodeRateLimited
	}
	code := err.Error()
	if code == "ratelimited" {
		return ErrCodeRateLimited
	}
	return code
}

// call runs fn with bounded retry. Only rate-limit errors are retried;
// backoff grows linearly with the attempt index.
func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	logger := ctxlog.FromContext(ctx)

	for attempt := 1; attempt <= c.config.MaxRetryAttempts; attempt++ {
		logger.Debug("calling slack api", "op", op, "attempt", attempt)

		err := fn(ctx)
		if err == nil {
			recordAPICall(op, "ok")
			return nil
		}

		code := errorCode(err)
		if code != ErrCodeRateLimited {
			recordAPICall(op, code)
			return &APIError{Op: op, Code: code, Message: err.Error()}
		}

		if attempt == c.config.MaxRetryAttempts {
			break
		}

		backoff := time.Duration(attempt) * c.config.RetryBaseBackoff
		logger.Warn("slack api rate limited, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", c.config.MaxRetryAttempts,
			"backoff", backoff,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	recordAPICall(op, ErrCodeRateLimited)
	return &APIError{
		Op:      op,
		Code:    ErrCodeRateLimited,
		Message: fmt.Sprintf("rate limited after %d attempts", c.config.MaxRetryAttempts),
	}
}

// PostMessage sends a message to a channel and returns its timestamp.
func (c *Client) PostMessage(ctx context.Context, channelID string, options ...slack.MsgOption) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	var ts string
	err := c.call(ctx, "chat.postMessage", func(ctx context.Context) error {
		var err error
		_, ts, err = c.api.PostMessageContext(ctx, channelID, options...)
		return err
	})
	return ts, err
}

// PostText sends a plain text message.
func (c *Client) PostText(ctx context.Context, channelID, text string) (string, error) {
	return c.PostMessage(ctx, channelID, slack.MsgOptionText(text, false))
}

// PostThreadText sends a plain text reply in the thread rooted at threadTS.
func (c *Client) PostThreadText(ctx context.Context, channelID, threadTS, text string) (string, error) {
	return c.PostMessage(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
}

// PostEphemeral sends a message visible only to one user.
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.call(ctx, "chat.postEphemeral", func(ctx context.Context) error {
		_, err := c.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(text, false))
		return err
	})
}

// SendOrUpdateMessage posts a new message when ts is empty and updates the
// existing one in place otherwise. Returns the message timestamp.
func (c *Client) SendOrUpdateMessage(ctx context.Context, channelID, ts, fallback string, blocks []slack.Block) (string, error) {
	options := []slack.MsgOption{
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	}

	if ts == "" {
		return c.PostMessage(ctx, channelID, options...)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	err := c.call(ctx, "chat.update", func(ctx context.Context) error {
		var err error
		_, ts, _, err = c.api.UpdateMessageContext(ctx, channelID, ts, options...)
		return err
	})
	return ts, err
}

// SendDirectMessage opens (or reuses) the DM conversation with a user and
// posts a message into it.
func (c *Client) SendDirectMessage(ctx context.Context, userID, text string) error {
	var channel *slack.Channel
	err := c.call(ctx, "conversations.open", func(ctx context.Context) error {
		var err error
		channel, _, _, err = c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users: []string{userID},
		})
		return err
	})
	if err != nil {
		return err
	}

	_, err = c.PostText(ctx, channel.ID, text)
	return err
}

// OpenModal opens a modal view for the interaction identified by triggerID.
func (c *Client) OpenModal(ctx context.Context, triggerID string, view slack.ModalViewRequest) error {
	return c.call(ctx, "views.open", func(ctx context.Context) error {
		_, err := c.api.OpenViewContext(ctx, triggerID, view)
		return err
	})
}

// CreateChannel creates a channel and returns its id.
func (c *Client) CreateChannel(ctx context.Context, name string, private bool) (string, error) {
	var channel *slack.Channel
	err := c.call(ctx, "conversations.create", func(ctx context.Context) error {
		var err error
		channel, err = c.api.CreateConversationContext(ctx, slack.CreateConversationParams{
			ChannelName: name,
			IsPrivate:   private,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return channel.ID, nil
}

// GetChannelID resolves a channel by name, paging through the channel
// list. When autoUnarchive is set, archived channels are unarchived and
// included in the search.
func (c *Client) GetChannelID(ctx context.Context, name string, autoUnarchive bool) (string, error) {
	cursor := ""
	for {
		var channels []slack.Channel
		var next string
		err := c.call(ctx, "conversations.list", func(ctx context.Context) error {
			var err error
			channels, next, err = c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				ExcludeArchived: !autoUnarchive,
				Limit:           800,
				Cursor:          cursor,
			})
			return err
		})
		if err != nil {
			return "", err
		}

		for _, channel := range channels {
			if channel.Name != name {
				continue
			}
			if channel.IsArchived && autoUnarchive {
				if err := c.UnarchiveChannel(ctx, channel.ID); err != nil {
					return "", err
				}
			}
			return channel.ID, nil
		}

		if next == "" {
			return "", &APIError{
				Op:      "conversations.list",
				Code:    ErrCodeChannelNotFound,
				Message: fmt.Sprintf("channel %q not found", name),
			}
		}
		cursor = next
	}
}

// GetOrCreateChannel creates a channel, falling back to looking up the
// existing one when the name is already taken.
func (c *Client) GetOrCreateChannel(ctx context.Context, name string, private, autoUnarchive bool) (string, error) {
	id, err := c.CreateChannel(ctx, name, private)
	if err == nil {
		return id, nil
	}
	if !IsAPIError(err, ErrCodeNameTaken) {
		return "", err
	}
	return c.GetChannelID(ctx, name, autoUnarchive)
}

// UnarchiveChannel unarchives a channel.
func (c *Client) UnarchiveChannel(ctx context.Context, channelID string) error {
	return c.call(ctx, "conversations.unarchive", func(ctx context.Context) error {
		return c.api.UnArchiveConversationContext(ctx, channelID)
	})
}

// RenameChannel renames a channel, enforcing the inc- prefix and channel
// name constraints. Returns the final channel name.
func (c *Client) RenameChannel(ctx context.Context, channelID, newName string) (string, error) {
	name := channelSlug(newName)

	var channel *slack.Channel
	err := c.call(ctx, "conversations.rename", func(ctx context.Context) error {
		var err error
		channel, err = c.api.RenameConversationContext(ctx, channelID, name)
		return err
	})
	if err != nil {
		return "", err
	}
	return channel.Name, nil
}

// SetChannelTopic sets a channel topic.
func (c *Client) SetChannelTopic(ctx context.Context, channelID, topic string) error {
	return c.call(ctx, "conversations.setTopic", func(ctx context.Context) error {
		_, err := c.api.SetTopicOfConversationContext(ctx, channelID, topic)
		return err
	})
}

// InviteToChannel invites a user to a channel.
func (c *Client) InviteToChannel(ctx context.Context, channelID, userID string) error {
	return c.call(ctx, "conversations.invite", func(ctx context.Context) error {
		_, err := c.api.InviteUsersToConversationContext(ctx, channelID, userID)
		return err
	})
}

// JoinChannel joins the bot to a channel.
func (c *Client) JoinChannel(ctx context.Context, channelID string) error {
	return c.call(ctx, "conversations.join", func(ctx context.Context) error {
		_, _, _, err := c.api.JoinConversationContext(ctx, channelID)
		return err
	})
}

// AddBookmark adds a link bookmark to a channel.
func (c *Client) AddBookmark(ctx context.Context, channelID, title, link, emoji string) (slack.Bookmark, error) {
	var bookmark slack.Bookmark
	err := c.call(ctx, "bookmarks.add", func(ctx context.Context) error {
		var err error
		bookmark, err = c.api.AddBookmarkContext(ctx, channelID, slack.AddBookmarkParameters{
			Title: title,
			Type:  "link",
			Link:  link,
			Emoji: emoji,
		})
		return err
	})
	return bookmark, err
}

// EditBookmark updates a channel bookmark in place.
func (c *Client) EditBookmark(ctx context.Context, channelID, bookmarkID, title, link, emoji string) error {
	return c.call(ctx, "bookmarks.edit", func(ctx context.Context) error {
		_, err := c.api.EditBookmarkContext(ctx, channelID, bookmarkID, slack.EditBookmarkParameters{
			Title: &title,
			Emoji: &emoji,
			Link:  link,
		})
		return err
	})
}

// ListBookmarks lists a channel's bookmarks.
func (c *Client) ListBookmarks(ctx context.Context, channelID string) ([]slack.Bookmark, error) {
	var bookmarks []slack.Bookmark
	err := c.call(ctx, "bookmarks.list", func(ctx context.Context) error {
		var err error
		bookmarks, err = c.api.ListBookmarksContext(ctx, channelID)
		return err
	})
	return bookmarks, err
}

// AddReaction adds a reaction, tolerating a duplicate.
func (c *Client) AddReaction(ctx context.Context, name, channelID, timestamp string) error {
	err := c.call(ctx, "reactions.add", func(ctx context.Context) error {
		return c.api.AddReactionContext(ctx, name, slack.NewRefToMessage(channelID, timestamp))
	})
	if IsAPIError(err, ErrCodeAlreadyReacted) {
		return nil
	}
	return err
}

// RemoveReaction removes a reaction, tolerating its absence.
func (c *Client) RemoveReaction(ctx context.Context, name, channelID, timestamp string) error {
	err := c.call(ctx, "reactions.remove", func(ctx context.Context) error {
		return c.api.RemoveReactionContext(ctx, name, slack.NewRefToMessage(channelID, timestamp))
	})
	if IsAPIError(err, ErrCodeNoReaction) {
		return nil
	}
	return err
}

// UserProfile is the resolved identity of a Slack user.
type UserProfile struct {
	ID       string
	Name     string
	FullName string
	Email    string
	Deleted  bool
}

// GetUserProfile resolves a user's profile by id.
func (c *Client) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var user *slack.User
	err := c.call(ctx, "users.info", func(ctx context.Context) error {
		var err error
		user, err = c.api.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profileFromUser(user), nil
}

// GetUserProfileByEmail resolves a user's profile by email.
func (c *Client) GetUserProfileByEmail(ctx context.Context, email string) (*UserProfile, error) {
	var user *slack.User
	err := c.call(ctx, "users.lookupByEmail", func(ctx context.Context) error {
		var err error
		user, err = c.api.GetUserByEmailContext(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profileFromUser(user), nil
}

// ListUsers returns all users in the workspace.
func (c *Client) ListUsers(ctx context.Context) ([]slack.User, error) {
	var users []slack.User
	err := c.call(ctx, "users.list", func(ctx context.Context) error {
		var err error
		users, err = c.api.GetUsersContext(ctx)
		return err
	})
	return users, err
}

func profileFromUser(user *slack.User) *UserProfile {
	return &UserProfile{
		ID:       user.ID,
		Name:     user.Name,
		FullName: user.Profile.RealName,
		Email:    user.Profile.Email,
		Deleted:  user.Deleted,
	}
}

// channelSlug normalizes a channel name: inc- prefix, lowercase, spaces
// collapsed to dashes, trimmed to Slack's 80 character limit.
func channelSlug(name string) string {
	name = strings.TrimPrefix(name, "#")
	if !strings.HasPrefix(name, "inc-") {
		name = "inc-" + name
	}

	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "-")
	}
	return slug
}
