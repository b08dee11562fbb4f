package transcript

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAssistantAParser_Parse(t *testing.T) {
	tmpDir := t.TempDir()

	content := `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"Hello, help me fix this bug"}]},"timestamp":"2025-01-01T10:00:00Z","uuid":"uuid-1"}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"I'll read the file first."},{"type":"tool_use","id":"tool1","name":"Read","input":{"file_path":"/path/to/file.go"}}]},"timestamp":"2025-01-01T10:00:30Z","uuid":"uuid-2"}`

	testFile := filepath.Join(tmpDir, "test-session.jsonl")
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	parser := NewAssistantAParser()
	result, err := parser.Parse(testFile)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(result.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(result.Messages))
	}
	if result.Conversation.ExternalID != "test-session" {
		t.Errorf("ExternalID = %q, want test-session", result.Conversation.ExternalID)
	}
	if result.Conversation.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", result.Conversation.MessageCount)
	}

	if result.Messages[0].Role != RoleUser {
		t.Errorf("messages[0].Role = %v, want %v", result.Messages[0].Role, RoleUser)
	}
	if result.Messages[0].Content != "Hello, help me fix this bug" {
		t.Errorf("messages[0].Content = %q", result.Messages[0].Content)
	}

	if result.Messages[1].Role != RoleAssistant {
		t.Errorf("messages[1].Role = %v, want %v", result.Messages[1].Role, RoleAssistant)
	}
	if len(result.Messages[1].ToolUses) != 1 {
		t.Fatalf("messages[1].ToolUses = %d, want 1", len(result.Messages[1].ToolUses))
	}
	if result.Messages[1].ToolUses[0].ToolName != "Read" {
		t.Errorf("ToolUses[0].ToolName = %q, want Read", result.Messages[1].ToolUses[0].ToolName)
	}
	if len(result.Messages[1].FileEdits) != 1 || result.Messages[1].FileEdits[0].Action != ActionRead {
		t.Errorf("expected one Read file edit, got %+v", result.Messages[1].FileEdits)
	}
	if result.NextOffset != int64(len(content)) {
		t.Errorf("NextOffset = %d, want %d", result.NextOffset, len(content))
	}
}

func TestAssistantAParser_ParseIncremental_SkipsAlreadyConsumedBytes(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "grows.jsonl")

	first := `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"first"}]},"timestamp":"2025-01-01T10:00:00Z","uuid":"uuid-1"}` + "\n"
	if err := os.WriteFile(testFile, []byte(first), 0644); err != nil {
		t.Fatal(err)
	}

	parser := NewAssistantAParser()
	r1, err := parser.Parse(testFile)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(r1.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(r1.Messages))
	}

	second := `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"second"}]},"timestamp":"2025-01-01T10:01:00Z","uuid":"uuid-2"}` + "\n"
	f, err := os.OpenFile(testFile, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(second); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r2, err := parser.ParseIncremental(testFile, r1.NextOffset)
	if err != nil {
		t.Fatalf("ParseIncremental() error = %v", err)
	}
	if len(r2.Messages) != 1 {
		t.Fatalf("got %d new messages, want 1", len(r2.Messages))
	}
	if r2.Messages[0].Content != "second" {
		t.Errorf("Content = %q, want 'second'", r2.Messages[0].Content)
	}
}

func TestAssistantAParser_Parse_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "empty.jsonl")
	if err := os.WriteFile(testFile, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	parser := NewAssistantAParser()
	result, err := parser.Parse(testFile)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(result.Messages) != 0 {
		t.Errorf("got %d messages, want 0", len(result.Messages))
	}
}

func TestAssistantAParser_Parse_SkipsMalformedLines(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "partial-garbage.jsonl")

	content := `not json at all
{"type":"user","message":{"role":"user","content":[{"type":"text","text":"ok"}]},"timestamp":"2025-01-01T10:00:00Z","uuid":"uuid-1"}
`
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	parser := NewAssistantAParser()
	result, err := parser.Parse(testFile)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(result.Messages))
	}
}

func TestAssistantBParser_Parse(t *testing.T) {
	tmpDir := t.TempDir()
	content := `{"id":"m1","role":"user","text":"hello","ts":"2025-01-01T10:00:00Z"}
{"id":"m2","role":"assistant","text":"hi","ts":"2025-01-01T10:00:05Z","tool_calls":[{"id":"t1","name":"search","args":{"q":"x"},"output":"found it"}]}
`
	testFile := filepath.Join(tmpDir, "session.ndjson")
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	parser := NewAssistantBParser()
	result, err := parser.Parse(testFile)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(result.Messages))
	}
	if len(result.Messages[1].ToolUses) != 1 || result.Messages[1].ToolUses[0].ToolName != "search" {
		t.Errorf("unexpected tool uses: %+v", result.Messages[1].ToolUses)
	}
	if len(result.Messages[1].ToolResults) != 1 || result.Messages[1].ToolResults[0].Content != "found it" {
		t.Errorf("unexpected tool results: %+v", result.Messages[1].ToolResults)
	}
}

func TestDiscoverParser(t *testing.T) {
	if _, ok := DiscoverParser("/x/session.jsonl").(*AssistantAParser); !ok {
		t.Error("expected AssistantAParser for .jsonl")
	}
	if _, ok := DiscoverParser("/x/session.ndjson").(*AssistantBParser); !ok {
		t.Error("expected AssistantBParser for .ndjson")
	}
}
