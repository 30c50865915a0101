package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertAnthropicMessages(t *testing.T) {
	msgs, system := convertAnthropicMessages([]Message{
		SystemMessage("be careful"),
		UserMessage("delete tmp"),
		AssistantMessage("", ToolCall{ID: "toolu_1", Name: "delete_file", Arguments: map[string]any{"path": "tmp"}}, ToolCall{ID: "toolu_2", Name: "list_directory"}),
		ToolResultMessage("toolu_1", "deleted"),
		ToolResultMessage("toolu_2", "Error: denied"),
		AssistantMessage("done"),
	})

	if len(system) != 1 || system[0].Text != "be careful" {
		t.Fatalf("unexpected system blocks: %+v", system)
	}
	// user, assistant(tool_use x2), user(tool_result x2), assistant
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if len(msgs[1].Content) != 2 {
		t.Errorf("expected 2 tool_use blocks, got %d", len(msgs[1].Content))
	}
	if len(msgs[2].Content) != 2 {
		t.Errorf("expected consecutive tool results merged into one turn, got %d blocks", len(msgs[2].Content))
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	tools := convertAnthropicTools([]ToolDefinition{{
		Name:        "read_file",
		Description: "Read a file",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}})
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	if tools[0].OfTool.Name != "read_file" {
		t.Errorf("unexpected name %q", tools[0].OfTool.Name)
	}
	if got := tools[0].OfTool.InputSchema.Required; len(got) != 1 || got[0] != "path" {
		t.Errorf("unexpected required: %v", got)
	}
}

func TestAnthropicComplete(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [
				{"type": "text", "text": "Checking."},
				{"type": "tool_use", "id": "toolu_1", "name": "read_file", "input": {"path": "a.txt"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 9, "output_tokens": 4}
		}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(srv.URL, "sk-test", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := p.Complete(context.Background(), Request{
		Messages: []Message{SystemMessage("sys"), UserMessage("read a.txt")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Checking." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Arguments["path"] != "a.txt" {
		t.Errorf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("expected tool_calls finish reason, got %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("expected 13 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if captured["max_tokens"] != float64(anthropicDefaultMaxTokens) {
		t.Errorf("expected default max_tokens, got %v", captured["max_tokens"])
	}
}
