package agent

import (
	"fmt"
	"unicode/utf8"
)

// TruncateToolResult keeps the head and tail of output when it exceeds
// maxChars, replacing the middle with a notice. A non-positive maxChars
// disables truncation.
func TruncateToolResult(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	headEnd := runeStartBefore(output, half)
	tailStart := runeStartAfter(output, len(output)-half)
	head := output[:headEnd]
	tail := output[tailStart:]

	removed := len(output) - len(head) - len(tail)
	return head +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n", removed) +
		tail
}

// runeStartBefore moves i back to the start of the rune containing it.
// Invalid bytes elsewhere in s are left alone.
func runeStartBefore(s string, i int) int {
	for n := 0; n < utf8.UTFMax && i > 0 && i < len(s) && !utf8.RuneStart(s[i]); n++ {
		i--
	}
	return i
}

// runeStartAfter moves i forward past the continuation bytes of a rune.
func runeStartAfter(s string, i int) int {
	for n := 0; n < utf8.UTFMax && i < len(s) && !utf8.RuneStart(s[i]); n++ {
		i++
	}
	return i
}
