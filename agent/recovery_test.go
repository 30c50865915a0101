package agent

import (
	"strings"
	"testing"
)

func TestRecoverToolCallsSingleBlock(t *testing.T) {
	rec := RecoverToolCalls(`{"name": "list_files", "arguments": {"path": "/tmp"}}`)

	if len(rec.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.Calls))
	}
	c := rec.Calls[0]
	if c.Name != "list_files" {
		t.Errorf("expected list_files, got %q", c.Name)
	}
	if c.Arguments["path"] != "/tmp" {
		t.Errorf("unexpected arguments %v", c.Arguments)
	}
	if !strings.HasPrefix(c.ID, "call_") || len(c.ID) != len("call_")+8 {
		t.Errorf("unexpected id %q", c.ID)
	}
}

func TestRecoverToolCallsWithProse(t *testing.T) {
	text := `Let me check the directory. {"name": "list_files", "arguments": {"path": "/tmp"}} Then I will report.`
	rec := RecoverToolCalls(text)

	if !rec.Found() {
		t.Fatal("expected a recovered call")
	}
	if got := StripMatched(text, rec.Matched); got != "Let me check the directory. Then I will report." {
		t.Errorf("unexpected residue %q", got)
	}
}

func TestRecoverToolCallsMultipleBlocks(t *testing.T) {
	text := `{"name": "a", "arguments": {"n": 1}}; {"name": "b", "arguments": {"n": 2}}`
	rec := RecoverToolCalls(text)

	if len(rec.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(rec.Calls))
	}
	if rec.Calls[0].Name != "a" || rec.Calls[1].Name != "b" {
		t.Errorf("calls out of order: %s, %s", rec.Calls[0].Name, rec.Calls[1].Name)
	}
	if rec.Calls[0].ID == rec.Calls[1].ID {
		t.Error("expected distinct ids")
	}
	if got := StripMatched(text, rec.Matched); got != "" {
		t.Errorf("expected empty residue, got %q", got)
	}
}

func TestRecoverToolCallsRepairsSingleQuotes(t *testing.T) {
	rec := RecoverToolCalls(`{'name': 'read_file', 'arguments': {'path': '/etc/hosts'}}`)

	if len(rec.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.Calls))
	}
	if rec.Calls[0].Name != "read_file" || rec.Calls[0].Arguments["path"] != "/etc/hosts" {
		t.Errorf("unexpected call %+v", rec.Calls[0])
	}
}

func TestRecoverToolCallsRepairsTrailingCommas(t *testing.T) {
	rec := RecoverToolCalls(`{"name": "x", "arguments": {"a": 1,},}`)

	if len(rec.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.Calls))
	}
	if rec.Calls[0].Arguments["a"] != float64(1) {
		t.Errorf("unexpected arguments %v", rec.Calls[0].Arguments)
	}
}

func TestLenientUnmarshalRepairsDoubledQuotes(t *testing.T) {
	obj, ok := lenientUnmarshal(`{""name": "x", "arguments": {}}`)

	if !ok || obj["name"] != "x" {
		t.Fatalf("expected repaired object, got %v (ok=%v)", obj, ok)
	}
}

func TestRecoverToolCallsBraceInsideString(t *testing.T) {
	text := `{"name": "write_file", "arguments": {"path": "a.go", "content": "if x {"}} done`
	rec := RecoverToolCalls(text)

	if len(rec.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.Calls))
	}
	if rec.Calls[0].Arguments["content"] != "if x {" {
		t.Errorf("unexpected content %v", rec.Calls[0].Arguments["content"])
	}
	if got := StripMatched(text, rec.Matched); got != "done" {
		t.Errorf("unexpected residue %q", got)
	}
}

func TestRecoverToolCallsArgumentSources(t *testing.T) {
	tests := []struct {
		name string
		text string
		key  string
		want any
	}{
		{"parameters object", `{"name": "x", "parameters": {"b": "two"}}`, "b", "two"},
		{"parameters string", `{"name": "x", "parameters": "{\"a\": 1}"}`, "a", float64(1)},
		{"arguments string", `{"name": "x", "arguments": "{\"c\": true}"}`, "c", true},
		{"empty arguments fall through", `{"name": "x", "arguments": {}, "parameters": {"d": "yes"}}`, "d", "yes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := RecoverToolCalls(tt.text)
			if len(rec.Calls) != 1 {
				t.Fatalf("expected 1 call, got %d", len(rec.Calls))
			}
			if got := rec.Calls[0].Arguments[tt.key]; got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRecoverToolCallsMissingArguments(t *testing.T) {
	rec := RecoverToolCalls(`{"name": "ping"}`)

	if len(rec.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(rec.Calls))
	}
	if rec.Calls[0].Arguments == nil || len(rec.Calls[0].Arguments) != 0 {
		t.Errorf("expected empty arguments, got %v", rec.Calls[0].Arguments)
	}
}

func TestRecoverToolCallsIgnoresNonCalls(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"plain prose", "The answer is 42."},
		{"object without name", `{"path": "/tmp"}`},
		{"name not a string", `{"name": 5, "arguments": {}}`},
		{"empty name", `{"name": "", "arguments": {}}`},
		{"unbalanced", `{"name": "x", "arguments": {`},
		{"unparseable", `{"name": oops}`},
		{"name too far", `{"description": "` + strings.Repeat("a", 120) + `", "name": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := RecoverToolCalls(tt.text); rec.Found() {
				t.Errorf("expected no calls, got %+v", rec.Calls)
			}
		})
	}
}

func TestRecoverToolCallsSkipsInsideFailedBlock(t *testing.T) {
	// The outer block fails to parse; the scan resumes after it.
	rec := RecoverToolCalls(`{"name": bad {"name": "inner"}}`)

	if rec.Found() {
		t.Errorf("expected no calls, got %+v", rec.Calls)
	}
}

func TestStripMatchedRemovesOnlyMatchedText(t *testing.T) {
	got := StripMatched("before ;; X ;  after", []string{"X"})
	if got != "before after" {
		t.Errorf("unexpected result %q", got)
	}
}

func TestExtractReasoning(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  plain reasoning  ", "plain reasoning"},
		{"<thought> inner </thought> outer", "inner"},
		{"<THOUGHT>upper\nline</THOUGHT>", "upper\nline"},
	}
	for _, tt := range tests {
		if got := extractReasoning(tt.in); got != tt.want {
			t.Errorf("extractReasoning(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
