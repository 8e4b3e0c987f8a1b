package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v2"
)

func TestContentIsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		empty   bool
	}{
		{"zero value", Content{}, true},
		{"blank text", TextContent("   \n\t"), true},
		{"text", TextContent("hello world"), false},
		{"empty bytes", BytesContent([]byte{}), true},
		{"bytes", BytesContent([]byte("doc")), false},
		{"whitespace bytes", BytesContent([]byte("  ")), false},
	}

	for _, tt := range tests {
		if got := tt.content.IsEmpty(); got != tt.empty {
			t.Errorf("%s: expected IsEmpty=%v, got %v", tt.name, tt.empty, got)
		}
	}
}

func TestContentPreview(t *testing.T) {
	long := strings.Repeat("x", 120)

	if got := TextContent(long).Preview(10); got != long {
		t.Errorf("Expected text preview to be untouched, got %d chars", len(got))
	}

	got := BytesContent([]byte(long)).Preview(50)
	if len(got) != 50 {
		t.Errorf("Expected 50 byte preview, got %d", len(got))
	}

	got = BytesContent([]byte(long)).Preview(0)
	if len(got) != DefaultPreviewBytes {
		t.Errorf("Expected default preview of %d bytes, got %d", DefaultPreviewBytes, len(got))
	}
}

func TestContentDecode(t *testing.T) {
	s, err := BytesContent([]byte("hola")).Decode()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s != "hola" {
		t.Errorf("Expected 'hola', got %q", s)
	}

	if _, err := BytesContent([]byte{0xff, 0xfe, 0xfd}).Decode(); err == nil {
		t.Error("Expected invalid UTF-8 to fail decoding")
	}
}

func TestTaskToSummary(t *testing.T) {
	now := time.Now()
	task := &TaskSpec{
		ID:          "task-1",
		Type:        "Translate Document",
		Content:     BytesContent([]byte(strings.Repeat("a", 200))),
		SubmittedAt: now,
	}

	summary := task.ToSummary()

	if summary.ID != task.ID {
		t.Errorf("Expected ID %s, got %s", task.ID, summary.ID)
	}
	if !summary.Binary {
		t.Error("Expected summary to be marked binary")
	}
	if summary.ContentLen != 200 {
		t.Errorf("Expected content length 200, got %d", summary.ContentLen)
	}
	if len(summary.Preview) != DefaultPreviewBytes {
		t.Errorf("Expected preview of %d bytes, got %d", DefaultPreviewBytes, len(summary.Preview))
	}
}

func TestTaskToSummaryTruncatesLongText(t *testing.T) {
	task := &TaskSpec{
		ID:      "task-1",
		Type:    "Summarize Text",
		Content: TextContent(strings.Repeat("a", 150)),
	}

	summary := task.ToSummary()

	if len(summary.Preview) > 100 {
		t.Errorf("Expected preview to be truncated to 100 chars, got %d", len(summary.Preview))
	}
	if !strings.HasSuffix(summary.Preview, "...") {
		t.Error("Expected truncated preview to end with ...")
	}
}

func TestAgentSnapshotHelpers(t *testing.T) {
	snap := AgentSnapshot{Status: AgentStatusRunning}
	if !snap.IsRunning() {
		t.Error("Expected snapshot to be running")
	}
	if !snap.IsIdle() {
		t.Error("Expected empty snapshot to be idle")
	}

	snap.QueueSize = 1
	if snap.IsIdle() {
		t.Error("Expected snapshot with queued work to not be idle")
	}

	if ValidAgentStatus("paused") {
		t.Error("Expected 'paused' to be invalid")
	}
}

func TestDurationMarshalJSON(t *testing.T) {
	d := Duration(5 * time.Minute)

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	expected := `"5m0s"`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, string(data))
	}
}

func TestDurationUnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected Duration
	}{
		{`"500ms"`, Duration(500 * time.Millisecond)},
		{`"1h30m"`, Duration(90 * time.Minute)},
		{`"1s"`, Duration(time.Second)},
		{`""`, Duration(0)},
	}

	for _, tt := range tests {
		var d Duration
		if err := json.Unmarshal([]byte(tt.input), &d); err != nil {
			t.Errorf("Failed to unmarshal %s: %v", tt.input, err)
			continue
		}
		if d != tt.expected {
			t.Errorf("For %s: expected %v, got %v", tt.input, tt.expected, d)
		}
	}
}

func TestDurationYAML(t *testing.T) {
	var v struct {
		Pause Duration `yaml:"pause"`
	}
	if err := yaml.Unmarshal([]byte("pause: 100ms\n"), &v); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if v.Pause.Std() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", v.Pause)
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if !strings.Contains(string(out), "pause: 100ms") {
		t.Errorf("Expected duration string in YAML, got %q", out)
	}

	if err := yaml.Unmarshal([]byte("pause: soon\n"), &v); err == nil {
		t.Error("Expected invalid duration to fail")
	}
}
