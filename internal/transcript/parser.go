package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AssistantAParser decodes Claude Code-style JSONL session files: one JSON
// object per line, a "type" discriminator of "user"/"assistant", and a
// nested "message" object whose content is either a plain string or a list
// of typed content blocks (text, tool_use, tool_result, thinking).
type AssistantAParser struct{}

func NewAssistantAParser() *AssistantAParser { return &AssistantAParser{} }

type jsonlLine struct {
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid,omitempty"`
	Type       string          `json:"type"`
	Message    json.RawMessage `json:"message,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	CWD        string          `json:"cwd,omitempty"`
	GitBranch  string          `json:"gitBranch,omitempty"`
	IsSidechain bool           `json:"isSidechain,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	Version    string          `json:"version,omitempty"`
}

type claudeMessage struct {
	Role    string         `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
}

func (p *AssistantAParser) Parse(path string) (*ParseResult, error) {
	return p.ParseIncremental(path, 0)
}

func (p *AssistantAParser) ParseIncremental(path string, fromOffset int64) (*ParseResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: opening %s: %w", path, err)
	}
	defer file.Close()

	if fromOffset > 0 {
		if _, err := file.Seek(fromOffset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("transcript: seeking %s to %d: %w", path, fromOffset, err)
		}
	}

	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	result := &ParseResult{Conversation: ConversationMeta{ExternalID: sessionID, SourceKind: SourceAssistantA}}

	const maxLineSize = 10 * 1024 * 1024
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	offset := fromOffset
	for scanner.Scan() {
		line := scanner.Bytes()
		offset += int64(len(line)) + 1 // +1 for the newline the scanner stripped

		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var jl jsonlLine
		if err := json.Unmarshal(line, &jl); err != nil {
			continue // malformed line: skip, keep scanning
		}
		if jl.Type != "user" && jl.Type != "assistant" {
			continue
		}

		msg, err := p.decodeMessage(jl, sessionID)
		if err != nil || msg == nil {
			continue
		}

		result.Messages = append(result.Messages, *msg)
		if result.Conversation.FirstAt.IsZero() || msg.Timestamp.Before(result.Conversation.FirstAt) {
			result.Conversation.FirstAt = msg.Timestamp
		}
		if msg.Timestamp.After(result.Conversation.LastAt) {
			result.Conversation.LastAt = msg.Timestamp
		}
		if msg.Branch != "" {
			result.Conversation.Branch = msg.Branch
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scanning %s: %w", path, err)
	}

	// The last line may lack a trailing newline; never report past EOF.
	if info, err := file.Stat(); err == nil && offset > info.Size() {
		offset = info.Size()
	}

	result.Conversation.MessageCount = len(result.Messages)
	result.NextOffset = offset
	return result, nil
}

func (p *AssistantAParser) decodeMessage(jl jsonlLine, sessionID string) (*Message, error) {
	timestamp := parseTimestamp(jl.Timestamp)

	var role Role
	var content string
	var toolUses []ToolUse
	var toolResults []ToolResult
	var thinking []ThinkingBlock
	var edits []FileEdit

	var cm claudeMessage
	if len(jl.Message) > 0 {
		if err := json.Unmarshal(jl.Message, &cm); err != nil {
			// user messages are sometimes a bare JSON string
			var plain string
			if jerr := json.Unmarshal(jl.Message, &plain); jerr == nil {
				content = plain
			}
		}
	}

	switch jl.Type {
	case "user":
		role = RoleUser
	case "assistant":
		role = RoleAssistant
	}

	if len(cm.Content) > 0 {
		var blocks []contentBlock
		if err := json.Unmarshal(cm.Content, &blocks); err == nil {
			text, uses, results, think, fileEdits := extractBlocks(blocks, jl.UUID, timestamp)
			if text != "" {
				content = text
			}
			toolUses = uses
			toolResults = results
			thinking = think
			edits = fileEdits
		} else {
			var plain string
			if err := json.Unmarshal(cm.Content, &plain); err == nil {
				content = plain
			}
		}
	}

	if content == "" && len(toolUses) == 0 && len(toolResults) == 0 && len(thinking) == 0 {
		return nil, nil
	}

	return &Message{
		ExternalID:     jl.UUID,
		ConversationID: sessionID,
		ParentID:       jl.ParentUUID,
		Role:           role,
		Content:        content,
		Timestamp:      timestamp,
		IsSidechain:    jl.IsSidechain,
		RequestID:      jl.RequestID,
		Branch:         jl.GitBranch,
		CWD:            jl.CWD,
		ToolUses:       toolUses,
		ToolResults:    toolResults,
		ThinkingBlocks: thinking,
		FileEdits:      edits,
	}, nil
}

var fileMutatingTools = map[string]EditAction{
	"Edit":       ActionEdited,
	"Write":      ActionCreated,
	"NotebookEdit": ActionEdited,
}

func extractBlocks(blocks []contentBlock, messageID string, timestamp time.Time) (string, []ToolUse, []ToolResult, []ThinkingBlock, []FileEdit) {
	var textParts []string
	var uses []ToolUse
	var results []ToolResult
	var thinking []ThinkingBlock
	var edits []FileEdit

	for i, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "thinking":
			if block.Thinking != "" {
				thinking = append(thinking, ThinkingBlock{
					ExternalID: fmt.Sprintf("%s-thinking-%d", messageID, i),
					Content:    block.Thinking,
					Timestamp:  timestamp,
				})
			}
		case "tool_use":
			input := map[string]any{}
			_ = json.Unmarshal(block.Input, &input)
			uses = append(uses, ToolUse{
				ExternalID: block.ID,
				ToolName:   block.Name,
				Input:      input,
				Timestamp:  timestamp,
			})
			if action, ok := fileMutatingTools[block.Name]; ok {
				if path, ok := input["file_path"].(string); ok && path != "" {
					edits = append(edits, FileEdit{
						ExternalID:        fmt.Sprintf("%s-edit-%d", messageID, i),
						FilePath:          path,
						Action:            action,
						SnapshotTimestamp: timestamp,
					})
				}
			} else if block.Name == "Read" {
				if path, ok := input["file_path"].(string); ok && path != "" {
					edits = append(edits, FileEdit{
						ExternalID:        fmt.Sprintf("%s-edit-%d", messageID, i),
						FilePath:          path,
						Action:            ActionRead,
						SnapshotTimestamp: timestamp,
					})
				}
			}
		case "tool_result":
			content, isErr := decodeToolResultContent(block.Content)
			results = append(results, ToolResult{
				ExternalID: fmt.Sprintf("%s-result-%d", messageID, i),
				ToolUseID:  block.ToolUseID,
				Content:    content,
				IsError:    block.IsError || isErr,
				Timestamp:  timestamp,
			})
		}
	}

	return strings.Join(textParts, "\n"), uses, results, thinking, edits
}

// decodeToolResultContent handles both the plain-string and content-block-list
// encodings Claude Code uses for tool_result payloads.
func decodeToolResultContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, false
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n"), false
	}
	return "", false
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

var _ Parser = (*AssistantAParser)(nil)
