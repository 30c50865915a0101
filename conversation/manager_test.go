package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/planact/gateway"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore())
}

func TestManagerRequiresConversation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.AddMessage(ctx, RoleUser, "hi", "")
	assert.ErrorIs(t, err, ErrNoActiveConversation)
	_, err = m.GetMessages(ctx, "", 0, true)
	assert.ErrorIs(t, err, ErrNoActiveConversation)
	assert.ErrorIs(t, m.SetCurrent(ctx, ""), ErrNoActiveConversation)
}

func TestManagerCurrentConversation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.SetCurrent(ctx, "c1"))
	assert.Equal(t, "c1", m.Current())

	msg, err := m.AddMessage(ctx, RoleUser, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, msg.Role)
	assert.False(t, msg.Timestamp.IsZero())
	assert.NotNil(t, msg.Metadata)

	msgs, err := m.GetMessages(ctx, "c1", 0, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestManagerMessageOptions(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	md := map[string]any{"source": "cli"}

	_, err := m.AddMessage(ctx, RoleTool, "ok", "c1", WithToolCallID("call_1"), WithMetadata(md))
	require.NoError(t, err)
	md["source"] = "changed"

	msgs, err := m.GetMessages(ctx, "c1", 0, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "call_1", msgs[0].ToolCallID)
	assert.Equal(t, "cli", msgs[0].Metadata["source"])
}

func TestManagerGetMessagesLimitAndSystem(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	for _, step := range []struct {
		role    Role
		content string
	}{
		{RoleSystem, "be brief"},
		{RoleUser, "one"},
		{RoleAssistant, "two"},
		{RoleUser, "three"},
	} {
		_, err := m.AddMessage(ctx, step.role, step.content, "c1")
		require.NoError(t, err)
	}

	all, err := m.GetMessages(ctx, "c1", 0, true)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	noSystem, err := m.GetMessages(ctx, "c1", 0, false)
	require.NoError(t, err)
	require.Len(t, noSystem, 3)
	assert.Equal(t, "one", noSystem[0].Content)

	last, err := m.GetMessages(ctx, "c1", 2, true)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Content)
	assert.Equal(t, "three", last[1].Content)

	unknown, err := m.GetMessages(ctx, "nope", 0, true)
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestManagerAssembleForModel(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	calls := []gateway.ToolCall{{ID: "call_1", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}}}

	_, err := m.AddMessage(ctx, RoleUser, "read a.txt", "c1")
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, RoleAssistant, "", "c1", WithToolCalls(RefsFromCalls(calls)))
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, RoleTool, "contents", "c1", WithToolCallID("call_1"))
	require.NoError(t, err)

	out, err := m.AssembleForModel(ctx, "c1", "SYSTEM")
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, gateway.RoleSystem, out[0].Role)
	assert.Equal(t, "SYSTEM", out[0].Content)
	assert.Equal(t, gateway.RoleUser, out[1].Role)
	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "read_file", out[2].ToolCalls[0].Name)
	assert.Equal(t, "a.txt", out[2].ToolCalls[0].Arguments["path"])
	assert.Equal(t, gateway.RoleTool, out[3].Role)
	assert.Equal(t, "call_1", out[3].ToolCallID)

	bare, err := m.AssembleForModel(ctx, "c1", "")
	require.NoError(t, err)
	assert.Len(t, bare, 3)
}

func TestManagerSummary(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	for _, role := range []Role{RoleUser, RoleAssistant, RoleTool, RoleTool, RoleAssistant} {
		_, err := m.AddMessage(ctx, role, "x", "c1")
		require.NoError(t, err)
	}

	s, err := m.Summary(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", s.ConversationID)
	assert.Equal(t, 5, s.TotalMessages)
	assert.Equal(t, 1, s.UserMessages)
	assert.Equal(t, 2, s.AssistantMessages)
	assert.Equal(t, 2, s.ToolExecutions)
	assert.NotNil(t, s.Metadata)

	_, err = m.Summary(ctx, "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestManagerClearAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	require.NoError(t, m.SetCurrent(ctx, "c1"))
	_, err := m.AddMessage(ctx, RoleUser, "hi", "")
	require.NoError(t, err)

	require.NoError(t, m.Clear(ctx, ""))
	msgs, err := m.GetMessages(ctx, "", 0, true)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, "c1", m.Current())

	require.NoError(t, m.Delete(ctx, "c1"))
	assert.Equal(t, "", m.Current())
	assert.ErrorIs(t, m.Delete(ctx, "c1"), ErrConversationNotFound)
}

func TestManagerListAndSearch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.AddMessage(ctx, RoleUser, "find the needle", "a")
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, RoleUser, "nothing here", "b")
	require.NoError(t, err)

	infos, err := m.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	results, err := m.Search(ctx, "needle", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ConversationID)

	empty, err := m.Search(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
