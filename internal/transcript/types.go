// Package transcript parses assistant-coding-session JSONL transcripts into
// the entity set the store and extractors operate on: messages, tool uses,
// tool results, thinking blocks, and file edits.
package transcript

import "time"

// SourceKind identifies which assistant tool produced a transcript file.
// Only the shape of each format differs; every SourceKind normalizes into
// the same Message/ToolUse/ToolResult entities.
type SourceKind string

const (
	SourceAssistantA SourceKind = "assistant-a" // Claude Code-style JSONL sessions
	SourceAssistantB SourceKind = "assistant-b" // alternate line-delimited session format
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EditAction classifies a file access recorded alongside a message: a read
// or a mutation.
type EditAction string

const (
	ActionRead    EditAction = "read"
	ActionEdited  EditAction = "edited"
	ActionCreated EditAction = "created"
	ActionDeleted EditAction = "deleted"
)

// Message is a single normalized turn in a conversation.
type Message struct {
	ExternalID     string
	ConversationID string
	ParentID       string
	Role           Role
	Content        string
	Timestamp      time.Time
	IsSidechain    bool
	AgentID        string
	RequestID      string
	Branch         string
	CWD            string

	ToolUses       []ToolUse
	ToolResults    []ToolResult
	ThinkingBlocks []ThinkingBlock
	FileEdits      []FileEdit
}

// ToolUse is a single tool invocation embedded in an assistant message.
type ToolUse struct {
	ExternalID string
	ToolName   string
	Input      map[string]any
	Timestamp  time.Time
}

// ToolResult is the outcome of a ToolUse, possibly arriving in a later line.
type ToolResult struct {
	ExternalID  string
	ToolUseID   string
	Content     string
	Stdout      string
	Stderr      string
	IsError     bool
	IsImage     bool
	Timestamp   time.Time
}

// ThinkingBlock is an extended-reasoning block attached to a message.
type ThinkingBlock struct {
	ExternalID string
	Content    string
	Timestamp  time.Time
}

// FileEdit records a file read or mutation implied by a tool use
// (Read/Edit/Write/etc).
type FileEdit struct {
	ExternalID        string
	FilePath          string
	Action            EditAction
	SnapshotTimestamp time.Time
	BackupVersion     string
}

// ConversationMeta summarizes a parsed conversation file without its full
// message bodies, enough to upsert the conversations row.
type ConversationMeta struct {
	ExternalID   string
	SourceKind   SourceKind
	FirstAt      time.Time
	LastAt       time.Time
	MessageCount int
	Branch       string
	Version      string
}

// ParseResult is everything recovered from one transcript file.
type ParseResult struct {
	Conversation ConversationMeta
	Messages     []Message
	// NextOffset is the byte offset of the first unconsumed byte, for
	// incremental re-parsing of files that grow in place.
	NextOffset int64
}

// Parser decodes a transcript file (or a suffix of one) into entities.
type Parser interface {
	// Parse reads the entire file at path.
	Parse(path string) (*ParseResult, error)

	// ParseIncremental reads path starting at fromOffset, the NextOffset
	// from a prior ParseResult for the same file. Pass 0 to read from the
	// start. Used to avoid re-parsing transcripts that only grew.
	ParseIncremental(path string, fromOffset int64) (*ParseResult, error)
}
