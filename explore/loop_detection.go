package explore

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/martinemde/planwright/history"
)

func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentSignatures returns up to count signatures of the latest tool calls,
// oldest first.
func recentSignatures(entries []history.Entry, count int) []string {
	var sigs []string
	for i := len(entries) - 1; i >= 0 && len(sigs) < count; i-- {
		e := entries[i]
		if e.Kind != history.KindAssistant {
			continue
		}
		for j := len(e.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			tc := e.ToolCalls[j]
			sigs = append(sigs, toolCallSignature(tc.Name, tc.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize tool calls repeat a pattern
// of length 1, 2 or 3.
func DetectLoop(entries []history.Entry, windowSize int) bool {
	sigs := recentSignatures(entries, windowSize)
	if windowSize <= 0 || len(sigs) < windowSize {
		return false
	}
	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		match := true
		for i := patternLen; i < windowSize && match; i++ {
			if sigs[i] != sigs[i%patternLen] {
				match = false
			}
		}
		if match {
			return true
		}
	}
	return false
}
