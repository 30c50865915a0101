package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/martinemde/planact/gateway"
)

// nameLookahead is how far past an opening brace a "name" key must appear
// for the brace to be considered the start of a tool call.
const nameLookahead = 100

// Recovery is the result of scanning model text for embedded tool calls.
// Matched holds the exact source text of every recovered call, in order.
type Recovery struct {
	Calls   []gateway.ToolCall
	Matched []string
}

// Found reports whether any tool call was recovered.
func (r Recovery) Found() bool { return len(r.Calls) > 0 }

// RecoverToolCalls finds JSON-like objects in text that encode a tool
// invocation ({"name": ..., "arguments": {...}}) and turns them into tool
// calls with fresh ids. Blocks that cannot be parsed, even after repair, are
// ignored.
func RecoverToolCalls(text string) Recovery {
	var rec Recovery
	i := 0
	for i < len(text) {
		off := strings.IndexByte(text[i:], '{')
		if off < 0 {
			break
		}
		start := i + off
		window := text[start:min(len(text), start+nameLookahead)]
		if !strings.Contains(window, `"name"`) && !strings.Contains(window, `'name'`) {
			i = start + 1
			continue
		}
		end, ok := matchingBrace(text, start)
		if !ok {
			i = start + 1
			continue
		}
		block := text[start : end+1]
		i = end + 1

		if call, ok := parseToolCallBlock(block); ok {
			rec.Calls = append(rec.Calls, call)
			rec.Matched = append(rec.Matched, block)
		}
	}
	return rec
}

// matchingBrace returns the index of the brace closing the one at start.
// Braces inside single- or double-quoted string literals are ignored.
func matchingBrace(text string, start int) (int, bool) {
	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Repairs for the mistakes small models make when writing JSON, applied in
// order.
var jsonRepairs = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`""([^"]+)":`), `"$1":`},
	{regexp.MustCompile(`'([^']+)'\s*:`), `"$1":`},
	{regexp.MustCompile(`:\s*'([^']*)'`), `: "$1"`},
	{regexp.MustCompile(`,\s*([\]}])`), `$1`},
}

// lenientUnmarshal parses s as a JSON object, retrying once with repairs.
func lenientUnmarshal(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
		return obj, true
	}
	fixed := s
	for _, r := range jsonRepairs {
		fixed = r.re.ReplaceAllString(fixed, r.repl)
	}
	obj = nil
	if err := json.Unmarshal([]byte(fixed), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func parseToolCallBlock(block string) (gateway.ToolCall, bool) {
	obj, ok := lenientUnmarshal(block)
	if !ok {
		return gateway.ToolCall{}, false
	}
	name, ok := obj["name"].(string)
	if !ok || name == "" {
		return gateway.ToolCall{}, false
	}
	args := argumentsFrom(obj["arguments"])
	if args == nil {
		args = argumentsFrom(obj["parameters"])
	}
	if args == nil {
		args = map[string]any{}
	}
	return gateway.ToolCall{
		ID:        newCallID(),
		Name:      name,
		Arguments: args,
	}, true
}

// argumentsFrom accepts an object or a JSON string holding an object.
func argumentsFrom(v any) map[string]any {
	switch a := v.(type) {
	case map[string]any:
		if len(a) == 0 {
			return nil
		}
		return a
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(a), &m); err != nil || len(m) == 0 {
			return nil
		}
		return m
	}
	return nil
}

func newCallID() string {
	return "call_" + uuid.New().String()[:8]
}

var residueRe = regexp.MustCompile(`[\s;]+`)

// StripMatched removes exactly the matched substrings from text, then
// collapses the whitespace and semicolons left behind.
func StripMatched(text string, matched []string) string {
	for _, m := range matched {
		text = strings.Replace(text, m, "", 1)
	}
	return strings.TrimSpace(residueRe.ReplaceAllString(text, " "))
}

var thoughtRe = regexp.MustCompile(`(?is)<thought>(.*?)</thought>`)

// extractReasoning returns the text of a <thought> block if there is one,
// otherwise the whole trimmed content.
func extractReasoning(content string) string {
	reasoning := strings.TrimSpace(content)
	if m := thoughtRe.FindStringSubmatch(reasoning); m != nil {
		reasoning = strings.TrimSpace(m[1])
	}
	return reasoning
}
