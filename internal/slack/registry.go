package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
	"github.com/slack-go/slack"
)

// CommandContext carries a parsed slash command invocation. Incident is
// nil when the command was issued outside an incident channel.
type CommandContext struct {
	Incident  *domain.Incident
	UserID    string
	ChannelID string
	TriggerID string
	// Text is the argument text after the command keyword.
	Text string
}

// CommandHandler handles one command keyword. The returned handled flag
// is false when the handler could not make sense of its arguments; the
// response, if non-empty, is shown ephemerally to the caller either way.
type CommandHandler func(ctx context.Context, cmd CommandContext) (handled bool, response string, err error)

type commandEntry struct {
	primary  string
	helpText string
	handler  CommandHandler
}

// CommandRegistry maps command keywords to handlers. A command may be
// registered under several names; help output lists each once.
type CommandRegistry struct {
	entries map[string]*commandEntry
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{entries: make(map[string]*commandEntry)}
}

// Register binds a handler to one or more keywords. Registering a keyword
// twice is a configuration error and is rejected.
func (r *CommandRegistry) Register(names []string, helpText string, handler CommandHandler) error {
	if len(names) == 0 {
		return fmt.Errorf("register command: no names given")
	}
	entry := &commandEntry{primary: names[0], helpText: helpText, handler: handler}
	for _, name := range names {
		if _, ok := r.entries[name]; ok {
			return fmt.Errorf("register command: %q already registered", name)
		}
		r.entries[name] = entry
	}
	return nil
}

// Dispatch routes a command invocation. The first word of cmd.Text selects
// the handler and the remainder becomes the handler's argument text. An
// unknown keyword or an unhandled invocation falls back to the help text.
func (r *CommandRegistry) Dispatch(ctx context.Context, cmd CommandContext) (string, error) {
	keyword, rest := splitKeyword(cmd.Text)

	entry, ok := r.entries[keyword]
	if !ok {
		recordDispatchMiss("command")
		ctxlog.FromContext(ctx).Info("unrecognized command", "keyword", keyword)
		return r.Help(), nil
	}

	cmd.Text = rest
	handled, response, err := entry.handler(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !handled {
		if response != "" {
			return response, nil
		}
		return r.Help(), nil
	}
	return response, nil
}

// Help renders the command reference, one line per command, sorted by
// primary keyword.
func (r *CommandRegistry) Help() string {
	seen := make(map[*commandEntry][]string)
	for name, entry := range r.entries {
		seen[entry] = append(seen[entry], name)
	}

	lines := make([]string, 0, len(seen))
	for entry, names := range seen {
		sort.Strings(names)
		lines = append(lines, fmt.Sprintf("`%s` - %s", strings.Join(names, "`, `"), entry.helpText))
	}
	sort.Strings(lines)

	return "Here's what you can do:\n" + strings.Join(lines, "\n")
}

func splitKeyword(text string) (string, string) {
	text = strings.TrimSpace(text)
	keyword, rest, _ := strings.Cut(text, " ")
	return strings.ToLower(keyword), strings.TrimSpace(rest)
}

// ActionContext carries a block action button press.
type ActionContext struct {
	Incident  *domain.Incident
	UserID    string
	ChannelID string
	TriggerID string
	MessageTS string
	// Value is the action's bound value, typically the incident id.
	Value string
}

// ActionHandler handles one button action id.
type ActionHandler func(ctx context.Context, action ActionContext) error

// ActionRegistry maps block action ids to handlers.
type ActionRegistry struct {
	handlers map[string]ActionHandler
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionHandler)}
}

func (r *ActionRegistry) Register(actionID string, handler ActionHandler) error {
	if _, ok := r.handlers[actionID]; ok {
		return fmt.Errorf("register action: %q already registered", actionID)
	}
	r.handlers[actionID] = handler
	return nil
}

// Dispatch routes a button press. An unregistered action id is logged and
// counted, never surfaced to the user.
func (r *ActionRegistry) Dispatch(ctx context.Context, actionID string, action ActionContext) error {
	handler, ok := r.handlers[actionID]
	if !ok {
		recordDispatchMiss("action")
		ctxlog.FromContext(ctx).Warn("no handler for action", "action_id", actionID)
		return nil
	}
	return handler(ctx, action)
}

// ModalSubmission carries a submitted modal view.
type ModalSubmission struct {
	UserID          string
	TriggerID       string
	PrivateMetadata string
	View            slack.View
}

// ModalHandler handles the submission of one modal callback id. The
// returned response, when non-nil, is sent back to Slack to control the
// view (for example to surface validation errors).
type ModalHandler func(ctx context.Context, submission ModalSubmission) (*slack.ViewSubmissionResponse, error)

// ModalRegistry maps modal callback ids to submission handlers.
type ModalRegistry struct {
	handlers map[string]ModalHandler
}

func NewModalRegistry() *ModalRegistry {
	return &ModalRegistry{handlers: make(map[string]ModalHandler)}
}

func (r *ModalRegistry) Register(callbackID string, handler ModalHandler) error {
	if _, ok := r.handlers[callbackID]; ok {
		return fmt.Errorf("register modal: %q already registered", callbackID)
	}
	r.handlers[callbackID] = handler
	return nil
}

func (r *ModalRegistry) Dispatch(ctx context.Context, callbackID string, submission ModalSubmission) (*slack.ViewSubmissionResponse, error) {
	handler, ok := r.handlers[callbackID]
	if !ok {
		recordDispatchMiss("modal")
		ctxlog.FromContext(ctx).Warn("no handler for modal", "callback_id", callbackID)
		return nil, nil
	}
	return handler(ctx, submission)
}

// EventHandler handles one Events API event type; the raw inner event is
// passed through for the handler to decode.
type EventHandler func(ctx context.Context, event json.RawMessage) error

// EventRegistry maps Events API event types to handlers.
type EventRegistry struct {
	handlers map[string]EventHandler
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{handlers: make(map[string]EventHandler)}
}

func (r *EventRegistry) Register(eventType string, handler EventHandler) error {
	if _, ok := r.handlers[eventType]; ok {
		return fmt.Errorf("register event: %q already registered", eventType)
	}
	r.handlers[eventType] = handler
	return nil
}

// Dispatch routes an event. Unregistered event types are dropped silently;
// Slack sends every subscribed type whether or not we care about it.
func (r *EventRegistry) Dispatch(ctx context.Context, eventType string, event json.RawMessage) error {
	handler, ok := r.handlers[eventType]
	if !ok {
		recordDispatchMiss("event")
		ctxlog.FromContext(ctx).Debug("no handler for event", "event_type", eventType)
		return nil
	}
	return handler(ctx, event)
}
