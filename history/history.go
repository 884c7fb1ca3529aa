// Package history holds the conversation buffers used by the two loops.
//
// Research appends to an Accumulating buffer for the whole phase; it has no
// way to drop entries. Execution uses a Clearable buffer that is reset at the
// start of every atomic task so context from one edit never leaks into the
// next.
package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/martinemde/planwright/llm"
)

// Kind discriminates entry types.
type Kind string

const (
	KindUser        Kind = "user"
	KindAssistant   Kind = "assistant"
	KindToolResults Kind = "tool_results"
	KindNote        Kind = "note" // injected guidance: loop warnings, retry feedback
)

// Entry is one record in a buffer.
type Entry struct {
	Kind      Kind             `json:"kind"`
	Label     string           `json:"label,omitempty"`
	Text      string           `json:"text,omitempty"`
	ToolCalls []llm.ToolCall   `json:"tool_calls,omitempty"`
	Results   []llm.ToolResult `json:"results,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func User(text string) Entry {
	return Entry{Kind: KindUser, Text: text, Timestamp: time.Now()}
}

func Assistant(text string, calls []llm.ToolCall) Entry {
	return Entry{Kind: KindAssistant, Text: text, ToolCalls: calls, Timestamp: time.Now()}
}

func ToolResults(results []llm.ToolResult) Entry {
	return Entry{Kind: KindToolResults, Results: results, Timestamp: time.Now()}
}

func Note(text string) Entry {
	return Entry{Kind: KindNote, Text: text, Timestamp: time.Now()}
}

// Labeled returns a copy of e tagged with label, e.g. "hypothesis".
func (e Entry) Labeled(label string) Entry {
	e.Label = label
	return e
}

// Buffer is the append side shared by both buffer kinds.
type Buffer interface {
	Append(entries ...Entry)
	Entries() []Entry
	Len() int
}

// Accumulating only grows.
type Accumulating struct {
	entries []Entry
}

func NewAccumulating(entries ...Entry) *Accumulating {
	return &Accumulating{entries: append([]Entry(nil), entries...)}
}

func (a *Accumulating) Append(entries ...Entry) { a.entries = append(a.entries, entries...) }

// Entries returns a copy.
func (a *Accumulating) Entries() []Entry { return append([]Entry(nil), a.entries...) }

func (a *Accumulating) Len() int { return len(a.entries) }

func (a *Accumulating) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.entries)
}

func (a *Accumulating) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &a.entries)
}

// Clearable is emptied by Reset at each task boundary.
type Clearable struct {
	entries []Entry
	resets  int
}

func NewClearable() *Clearable { return &Clearable{} }

// RestoreClearable rebuilds a buffer from a checkpoint.
func RestoreClearable(entries []Entry, resets int) *Clearable {
	return &Clearable{entries: append([]Entry(nil), entries...), resets: resets}
}

func (c *Clearable) Append(entries ...Entry) { c.entries = append(c.entries, entries...) }

func (c *Clearable) Entries() []Entry { return append([]Entry(nil), c.entries...) }

func (c *Clearable) Len() int { return len(c.entries) }

// Reset drops every entry.
func (c *Clearable) Reset() {
	c.entries = nil
	c.resets++
}

// Resets counts how many times Reset has been called.
func (c *Clearable) Resets() int { return c.resets }

type clearableJSON struct {
	Entries []Entry `json:"entries"`
	Resets  int     `json:"resets"`
}

func (c *Clearable) MarshalJSON() ([]byte, error) {
	return json.Marshal(clearableJSON{Entries: c.entries, Resets: c.resets})
}

func (c *Clearable) UnmarshalJSON(data []byte) error {
	var v clearableJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c.entries, c.resets = v.Entries, v.Resets
	return nil
}

// ToMessages converts entries into reasoning-capability messages. Notes are
// sent as user messages so the model treats them as instructions.
func ToMessages(entries []Entry) []llm.Message {
	var messages []llm.Message
	for _, e := range entries {
		switch e.Kind {
		case KindUser, KindNote:
			messages = append(messages, llm.UserMessage(e.Text))
		case KindAssistant:
			msg := llm.Message{Role: llm.RoleAssistant}
			if e.Text != "" {
				msg.Content = append(msg.Content, llm.TextPart(e.Text))
			}
			for _, tc := range e.ToolCalls {
				msg.Content = append(msg.Content, llm.ToolCallPart(tc))
			}
			if len(msg.Content) > 0 {
				messages = append(messages, msg)
			}
		case KindToolResults:
			if len(e.Results) > 0 {
				messages = append(messages, llm.ToolResultMessage(e.Results...))
			}
		}
	}
	return messages
}

// Transcript renders entries as plain text, for prompts that fold history
// into a single message. Tool output longer than maxResult bytes is clipped;
// zero disables clipping.
func Transcript(entries []Entry, maxResult int) string {
	var sb strings.Builder
	for _, e := range entries {
		tag := string(e.Kind)
		if e.Label != "" {
			tag = e.Label
		}
		switch e.Kind {
		case KindToolResults:
			for _, r := range e.Results {
				content := r.Content
				if maxResult > 0 && len(content) > maxResult {
					content = clip(content, maxResult) + "\n[... clipped ...]"
				}
				fmt.Fprintf(&sb, "[%s %s]\n%s\n\n", tag, r.ToolCallID, content)
			}
		case KindAssistant:
			if e.Text != "" {
				fmt.Fprintf(&sb, "[%s]\n%s\n\n", tag, e.Text)
			}
			for _, tc := range e.ToolCalls {
				fmt.Fprintf(&sb, "[tool call %s] %s %s\n\n", tc.ID, tc.Name, string(tc.Arguments))
			}
		default:
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", tag, e.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
