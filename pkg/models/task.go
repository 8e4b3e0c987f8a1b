// Package models defines the core domain types for the vigia agent dashboard.
package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultPreviewBytes is how much of a byte blob is shown in task output.
const DefaultPreviewBytes = 50

// Content is the payload of a submitted task: either decoded text or a raw
// byte blob (an uploaded document). Exactly one of the two is meaningful.
type Content struct {
	Text  string `json:"text,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
}

// TextContent wraps already-decoded text.
func TextContent(s string) Content {
	return Content{Text: s}
}

// BytesContent wraps a raw byte blob.
func BytesContent(b []byte) Content {
	return Content{Bytes: b}
}

// IsBinary reports whether the content arrived as a byte blob.
func (c Content) IsBinary() bool {
	return c.Bytes != nil
}

// IsEmpty reports whether there is nothing to work on. Text made only of
// whitespace counts as empty.
func (c Content) IsEmpty() bool {
	if c.IsBinary() {
		return len(c.Bytes) == 0
	}
	return strings.TrimSpace(c.Text) == ""
}

// Len returns the payload size in bytes.
func (c Content) Len() int {
	if c.IsBinary() {
		return len(c.Bytes)
	}
	return len(c.Text)
}

// Preview returns a display string. Text is returned whole; byte blobs are
// cut to maxBytes.
func (c Content) Preview(maxBytes int) string {
	if !c.IsBinary() {
		return c.Text
	}
	if maxBytes <= 0 {
		maxBytes = DefaultPreviewBytes
	}
	b := c.Bytes
	if len(b) > maxBytes {
		b = b[:maxBytes]
	}
	return string(b)
}

// Decode returns the content as text. Byte blobs must be valid UTF-8.
func (c Content) Decode() (string, error) {
	if !c.IsBinary() {
		return c.Text, nil
	}
	if !utf8.Valid(c.Bytes) {
		return "", fmt.Errorf("document is not valid UTF-8 (%d bytes)", len(c.Bytes))
	}
	return string(c.Bytes), nil
}

// TaskSpec is one unit of queued work: a task type tag plus its content.
// The step function that executes it is resolved from Type at run time.
type TaskSpec struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Content     Content   `json:"-"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TaskSummary provides a condensed view of a task for listing.
type TaskSummary struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Binary      bool      `json:"binary"`
	ContentLen  int       `json:"content_len"`
	Preview     string    `json:"preview"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ToSummary converts a TaskSpec to a TaskSummary.
func (t *TaskSpec) ToSummary() TaskSummary {
	return TaskSummary{
		ID:          t.ID,
		Type:        t.Type,
		Binary:      t.Content.IsBinary(),
		ContentLen:  t.Content.Len(),
		Preview:     truncateString(t.Content.Preview(DefaultPreviewBytes), 100),
		SubmittedAt: t.SubmittedAt,
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// SubmitRequest represents a request to queue a task on an agent.
type SubmitRequest struct {
	Agent    string `json:"agent"`
	TaskType string `json:"task_type"`
	Content  string `json:"content"`
}

// Duration is a wrapper around time.Duration that reads and writes as a
// duration string ("500ms", "1s") in JSON, YAML and TOML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return nil
	}
	// Remove quotes
	s := string(b[1 : len(b)-1])
	return d.set(s)
}

// MarshalText implements encoding.TextMarshaler (used by the TOML encoder).
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (used by the TOML decoder).
func (d *Duration) UnmarshalText(b []byte) error {
	return d.set(string(b))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}
