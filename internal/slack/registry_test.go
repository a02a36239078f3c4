package slack

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRegistry_DuplicateRejected(t *testing.T) {
	reg := NewCommandRegistry()

	handler := func(context.Context, CommandContext) (bool, string, error) { return true, "", nil }

	require.NoError(t, reg.Register([]string{"severity", "sev"}, "set severity", handler))
	assert.Error(t, reg.Register([]string{"sev"}, "something else", handler))
}

func TestCommandRegistry_Dispatch(t *testing.T) {
	reg := NewCommandRegistry()

	var gotText string
	require.NoError(t, reg.Register([]string{"rename"}, "rename the incident",
		func(_ context.Context, cmd CommandContext) (bool, string, error) {
			gotText = cmd.Text
			return true, "done", nil
		}))

	response, err := reg.Dispatch(context.Background(), CommandContext{Text: "rename  DB is fine now "})
	require.NoError(t, err)
	assert.Equal(t, "done", response)
	assert.Equal(t, "DB is fine now", gotText)
}

func TestCommandRegistry_UnknownKeywordFallsBackToHelp(t *testing.T) {
	reg := NewCommandRegistry()
	require.NoError(t, reg.Register([]string{"close"}, "close the incident",
		func(context.Context, CommandContext) (bool, string, error) { return true, "", nil }))

	response, err := reg.Dispatch(context.Background(), CommandContext{Text: "destroy everything"})
	require.NoError(t, err)
	assert.Contains(t, response, "`close` - close the incident")
}

func TestCommandRegistry_UnhandledUsesResponse(t *testing.T) {
	reg := NewCommandRegistry()
	require.NoError(t, reg.Register([]string{"severity"}, "set severity",
		func(context.Context, CommandContext) (bool, string, error) {
			return false, "pick one of: critical, major, minor", nil
		}))

	response, err := reg.Dispatch(context.Background(), CommandContext{Text: "severity sev9000"})
	require.NoError(t, err)
	assert.Equal(t, "pick one of: critical, major, minor", response)
}

func TestCommandRegistry_HelpListsAliasesOnce(t *testing.T) {
	reg := NewCommandRegistry()
	handler := func(context.Context, CommandContext) (bool, string, error) { return true, "", nil }

	require.NoError(t, reg.Register([]string{"severity", "sev"}, "set severity", handler))
	require.NoError(t, reg.Register([]string{"close"}, "close the incident", handler))

	help := reg.Help()
	assert.Contains(t, help, "`sev`, `severity` - set severity")
	assert.Contains(t, help, "`close` - close the incident")
}

func TestActionRegistry_MissIsSilent(t *testing.T) {
	reg := NewActionRegistry()
	err := reg.Dispatch(context.Background(), "unknown-button", ActionContext{})
	assert.NoError(t, err)
}

func TestModalRegistry_Duplicate(t *testing.T) {
	reg := NewModalRegistry()

	require.NoError(t, reg.Register("m1", nil))
	assert.Error(t, reg.Register("m1", nil))
}

func TestEventRegistry_Dispatch(t *testing.T) {
	reg := NewEventRegistry()

	called := false
	require.NoError(t, reg.Register("app_mention", func(_ context.Context, _ json.RawMessage) error {
		called = true
		return nil
	}))

	require.NoError(t, reg.Dispatch(context.Background(), "app_mention", json.RawMessage(`{}`)))
	assert.True(t, called)

	require.NoError(t, reg.Dispatch(context.Background(), "reaction_added", json.RawMessage(`{}`)))
}
