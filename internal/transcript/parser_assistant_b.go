package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// AssistantBParser decodes a flatter line-delimited session format: one JSON
// object per line with top-level role/content/timestamp fields and tool
// calls recorded as a sibling array rather than nested content blocks.
type AssistantBParser struct{}

func NewAssistantBParser() *AssistantBParser { return &AssistantBParser{} }

type assistantBLine struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parent_id,omitempty"`
	Role      string          `json:"role"`
	Text      string          `json:"text"`
	Timestamp string          `json:"ts"`
	Branch    string          `json:"branch,omitempty"`
	ToolCalls []assistantBTool `json:"tool_calls,omitempty"`
}

type assistantBTool struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   map[string]any  `json:"args"`
	Output string          `json:"output,omitempty"`
	Error  bool            `json:"error,omitempty"`
}

func (p *AssistantBParser) Parse(path string) (*ParseResult, error) {
	return p.ParseIncremental(path, 0)
}

func (p *AssistantBParser) ParseIncremental(path string, fromOffset int64) (*ParseResult, error) {
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

	sessionID := strings.TrimSuffix(filepath.Base(path), ".ndjson")
	result := &ParseResult{Conversation: ConversationMeta{ExternalID: sessionID, SourceKind: SourceAssistantB}}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	offset := fromOffset
	for scanner.Scan() {
		line := scanner.Bytes()
		offset += int64(len(line)) + 1
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var bl assistantBLine
		if err := json.Unmarshal(line, &bl); err != nil {
			continue
		}
		if bl.Role != "user" && bl.Role != "assistant" {
			continue
		}

		timestamp := parseTimestamp(bl.Timestamp)
		var role Role
		if bl.Role == "user" {
			role = RoleUser
		} else {
			role = RoleAssistant
		}

		var uses []ToolUse
		var results []ToolResult
		for i, tc := range bl.ToolCalls {
			uses = append(uses, ToolUse{
				ExternalID: tc.ID,
				ToolName:   tc.Name,
				Input:      tc.Args,
				Timestamp:  timestamp,
			})
			if tc.Output != "" || tc.Error {
				results = append(results, ToolResult{
					ExternalID: fmt.Sprintf("%s-result-%d", bl.ID, i),
					ToolUseID:  tc.ID,
					Content:    tc.Output,
					IsError:    tc.Error,
					Timestamp:  timestamp,
				})
			}
		}

		if bl.Text == "" && len(uses) == 0 {
			continue
		}

		msg := Message{
			ExternalID:     bl.ID,
			ConversationID: sessionID,
			ParentID:       bl.ParentID,
			Role:           role,
			Content:        bl.Text,
			Timestamp:      timestamp,
			Branch:         bl.Branch,
			ToolUses:       uses,
			ToolResults:    results,
		}
		result.Messages = append(result.Messages, msg)
		if result.Conversation.FirstAt.IsZero() || timestamp.Before(result.Conversation.FirstAt) {
			result.Conversation.FirstAt = timestamp
		}
		if timestamp.After(result.Conversation.LastAt) {
			result.Conversation.LastAt = timestamp
		}
		if bl.Branch != "" {
			result.Conversation.Branch = bl.Branch
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

var _ Parser = (*AssistantBParser)(nil)

// DiscoverParser picks the Parser for a transcript file based on extension.
func DiscoverParser(path string) Parser {
	if strings.HasSuffix(path, ".ndjson") {
		return NewAssistantBParser()
	}
	return NewAssistantAParser()
}
