// Package semsearch orchestrates embed→index→search for messages,
// decisions, and mistakes: it drives the Chunker and EmbeddingProvider
// capability to populate the VectorStore, and at query time fuses vector
// and full-text results into ranked, snippeted hits.
package semsearch

import "time"

// Filter narrows a search to a date range or a single conversation. Kinds is
// carried with the filter, but no search path applies it.
type Filter struct {
	Since          time.Time
	Until          time.Time
	ConversationID string
	Kinds          []string
}

func (f Filter) matchesTimestamp(ts time.Time) bool {
	if !f.Since.IsZero() && ts.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ts.After(f.Until) {
		return false
	}
	return true
}

func (f Filter) matchesConversation(conversationID string) bool {
	return f.ConversationID == "" || f.ConversationID == conversationID
}

// MessageHit is one ranked result from SearchConversations.
type MessageHit struct {
	MessageExternalID      string
	ConversationExternalID string
	Role                   string
	Content                string
	Timestamp              time.Time
	Similarity             float64
	Snippet                string
}

// DecisionHit is one ranked result from SearchDecisions.
type DecisionHit struct {
	ExternalID string
	Text       string
	Similarity float64
}

// MistakeHit is one ranked result from SearchMistakes.
type MistakeHit struct {
	ExternalID    string
	WhatWentWrong string
	Similarity    float64
}

// SearchResult wraps hits with graceful-degradation flags: callers must be
// able to tell a fallback path from a vector hit.
type SearchResult struct {
	MessageHits         []MessageHit
	DecisionHits        []DecisionHit
	MistakeHits         []MistakeHit
	EmbeddingsGenerated bool
	EmbeddingError      string
	UsedFallback        bool
}

// IndexStats summarizes one IndexMessages/IndexDecisions/IndexMistakes call.
type IndexStats struct {
	Embedded            int
	Skipped             int
	EmbeddingsGenerated bool
	EmbeddingError      string
}
