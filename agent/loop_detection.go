package agent

import (
	"crypto/sha256"
	"fmt"

	"github.com/martinemde/planact/gateway"
)

// toolCallSignature identifies a call by name and a hash of its arguments.
// Map keys are sorted by encoding/json, so equal arguments hash equally.
func toolCallSignature(call gateway.ToolCall) string {
	h := sha256.Sum256([]byte(call.ArgumentsJSON()))
	return fmt.Sprintf("%s:%x", call.Name, h[:8])
}

// callHistory records tool call signatures for one run.
type callHistory struct {
	sigs []string
}

func (h *callHistory) add(call gateway.ToolCall) {
	h.sigs = append(h.sigs, toolCallSignature(call))
}

// looping reports whether the last window calls repeat a pattern.
func (h *callHistory) looping(window int) bool {
	if window <= 0 || len(h.sigs) < window {
		return false
	}
	return DetectLoop(h.sigs[len(h.sigs)-window:])
}

// DetectLoop reports whether sigs consist of a pattern of length 1, 2 or 3
// repeated end to end.
func DetectLoop(sigs []string) bool {
	n := len(sigs)
	if n < 2 {
		return false
	}
	for patternLen := 1; patternLen <= 3 && patternLen < n; patternLen++ {
		if n%patternLen != 0 {
			continue
		}
		repeating := true
		for i := patternLen; i < n && repeating; i++ {
			if sigs[i] != sigs[i%patternLen] {
				repeating = false
			}
		}
		if repeating {
			return true
		}
	}
	return false
}
