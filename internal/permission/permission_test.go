package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate_DisabledTool(t *testing.T) {
	e := New()
	e.SetEnabledTools([]string{"read_file"})

	d, err := e.Evaluate(context.Background(), "shell", "shell", "{}", "call-1")
	require.NoError(t, err)
	require.Equal(t, Skipped, d.Outcome)
	require.Equal(t, "tool disabled", d.Reason)
}

func TestEvaluate_Denylist(t *testing.T) {
	e := New()
	e.SetToolConfig("shell", ToolConfig{
		Permission: Always,
		Denylist:   []string{"rm -rf *"},
	})

	d, err := e.Evaluate(context.Background(), "shell", "rm -rf /tmp/x", "{}", "call-1")
	require.NoError(t, err)
	require.Equal(t, Skipped, d.Outcome)
	require.Equal(t, "denied by policy", d.Reason)
}

func TestEvaluate_AllowlistOverridesLevel(t *testing.T) {
	e := New()
	e.SetToolConfig("shell", ToolConfig{
		Permission: Never,
		Allowlist:  []string{"ls*"},
	})

	d, err := e.Evaluate(context.Background(), "shell", "ls -la", "{}", "call-1")
	require.NoError(t, err)
	require.Equal(t, Proceed, d.Outcome)
}

func TestEvaluate_Never(t *testing.T) {
	e := New()
	e.SetToolConfig("danger", ToolConfig{Permission: Never})

	d, err := e.Evaluate(context.Background(), "danger", "danger", "{}", "call-1")
	require.NoError(t, err)
	require.Equal(t, Skipped, d.Outcome)
	require.Equal(t, "never", d.Reason)
}

func TestEvaluate_AskApproved(t *testing.T) {
	e := New()
	e.SetToolConfig("shell", ToolConfig{Permission: Ask})
	e.SetApprovalCallback(func(ctx context.Context, toolName, arguments, toolCallID string) (ApprovalResponse, error) {
		require.Equal(t, "shell", toolName)
		return ApprovalResponse{Approved: true}, nil
	})

	d, err := e.Evaluate(context.Background(), "shell", "shell", `{"command":"ls"}`, "call-1")
	require.NoError(t, err)
	require.Equal(t, Proceed, d.Outcome)
}

func TestEvaluate_AskDenied(t *testing.T) {
	e := New()
	e.SetToolConfig("shell", ToolConfig{Permission: Ask})
	e.SetApprovalCallback(func(ctx context.Context, toolName, arguments, toolCallID string) (ApprovalResponse, error) {
		return ApprovalResponse{Approved: false, Message: "user declined"}, nil
	})

	d, err := e.Evaluate(context.Background(), "shell", "shell", "{}", "call-1")
	require.NoError(t, err)
	require.Equal(t, Skipped, d.Outcome)
	require.Equal(t, "user declined", d.Reason)
}

func TestEvaluate_AskNoCallback(t *testing.T) {
	e := New()
	e.SetToolConfig("shell", ToolConfig{Permission: Ask})

	d, err := e.Evaluate(context.Background(), "shell", "shell", "{}", "call-1")
	require.NoError(t, err)
	require.Equal(t, Skipped, d.Outcome)
	require.Equal(t, "approval unavailable", d.Reason)
}

func TestEvaluate_DefaultLevelIsAsk(t *testing.T) {
	e := New()
	d, err := e.Evaluate(context.Background(), "unknown_tool", "unknown_tool", "{}", "call-1")
	require.NoError(t, err)
	require.Equal(t, Skipped, d.Outcome)
}

func TestMatchesAny_Regex(t *testing.T) {
	require.True(t, matchesAny([]string{"re:rm\\s+-rf.*"}, "rm -rf /tmp"))
	require.False(t, matchesAny([]string{"re:rm\\s+-rf.*"}, "echo rm -rf /tmp"))
}

func TestMatchesAny_CaseInsensitiveAnchored(t *testing.T) {
	require.True(t, matchesAny([]string{"LS*"}, "ls -la"))
	require.False(t, matchesAny([]string{"ls"}, "ls -la"))
}

func TestMatchesAny_McpWildcard(t *testing.T) {
	require.True(t, matchesAny([]string{"mcp:*"}, "mcp:weather"))
}
