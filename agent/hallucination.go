package agent

import "strings"

// DefaultHallucinationMarkers are keys typical of real tool payloads.
var DefaultHallucinationMarkers = []string{
	`"instances": [`,
	`"reservations": [`,
}

// DefaultDialogueLabels are turn labels a model writes when it simulates a
// whole conversation.
var DefaultDialogueLabels = []string{
	"assistant:",
	"user:",
	"agent:",
}

// HallucinationFilter detects assistant text that claims to already contain
// tool output. It only flags text that carries a structural marker, so plain
// prose is never cleared.
type HallucinationFilter struct {
	markers []string
	labels  []string
}

// NewHallucinationFilter creates a filter. Empty lists select the defaults.
// Matching is case-insensitive.
func NewHallucinationFilter(markers, labels []string) *HallucinationFilter {
	if len(markers) == 0 {
		markers = DefaultHallucinationMarkers
	}
	if len(labels) == 0 {
		labels = DefaultDialogueLabels
	}
	return &HallucinationFilter{
		markers: lowerAll(markers),
		labels:  lowerAll(labels),
	}
}

// Detect reports whether content looks like a fabricated tool result.
func (f *HallucinationFilter) Detect(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	if !containsAny(lower, f.markers) {
		return false
	}
	if strings.HasPrefix(strings.TrimSpace(content), "{") {
		return true
	}
	return containsAny(lower, f.labels)
}

// Filter returns content, or "" when Detect flags it.
func (f *HallucinationFilter) Filter(content string) string {
	if f.Detect(content) {
		return ""
	}
	return content
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
