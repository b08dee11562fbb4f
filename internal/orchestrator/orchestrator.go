// Package orchestrator drives the end-to-end indexing pipeline: parse
// transcripts, persist entities, extract knowledge, index it for semantic
// search, and register the project in the process-wide GlobalIndex.
// Semantic indexing and git history collection degrade independently rather
// than failing the whole run — an unavailable embedding provider or git
// repository narrows what the run produces, it never aborts it. A parse,
// persist, extraction or registration error does end the run.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/extract"
	"github.com/fenwicklabs/memoryd/internal/globalindex"
	"github.com/fenwicklabs/memoryd/internal/persist"
	"github.com/fenwicklabs/memoryd/internal/semsearch"
	"github.com/fenwicklabs/memoryd/internal/store"
	"github.com/fenwicklabs/memoryd/internal/transcript"
	pkggit "github.com/fenwicklabs/memoryd/pkg/git"
)

// Source is one transcript file to index, already resolved to its parser.
type Source struct {
	Path   string
	Parser transcript.Parser
}

// Report summarizes one orchestrator run for the caller (CLI output,
// GlobalIndex registration, logs).
type Report struct {
	ConversationsIndexed int
	MessagesIndexed      int
	DecisionsFound       int
	MistakesFound        int
	RequirementsFound    int
	ValidationsFound     int
	GitCommitsLinked     int
	EmbeddingsGenerated  bool
	EmbeddingError       string
}

// Orchestrator wires transcript parsing, persistence, extraction, semantic
// indexing, and the project registry into a single incremental run.
type Orchestrator struct {
	store    *store.Store
	extract  *extract.Service
	search   *semsearch.Service
	index    *globalindex.Index
	indexCfg config.IndexConfig
	logger   *zap.Logger
}

// New builds an Orchestrator for one project's already-open Store.
func New(st *store.Store, extractSvc *extract.Service, searchSvc *semsearch.Service, globalIdx *globalindex.Index, indexCfg config.IndexConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{store: st, extract: extractSvc, search: searchSvc, index: globalIdx, indexCfg: indexCfg, logger: logger}
}

// Run indexes every source incrementally: each transcript file is parsed
// from its last recorded offset (0 on first run), its entities persisted,
// knowledge extracted and persisted, and the result embedded for semantic
// search. Git history is collected and linked when gitRepoPath is non-empty
// and git_integration_enabled is set. The project is registered in the
// GlobalIndex whether or not embeddings succeeded.
func (o *Orchestrator) Run(ctx context.Context, projectPath, sourceKind string, sources []Source, offsets map[string]int64, gitRepoPath string) (Report, error) {
	report := Report{EmbeddingsGenerated: true}

	var projectID int64
	var lastConversationExternalID string

	for _, src := range sources {
		fromOffset := offsets[src.Path]
		result, err := src.Parser.ParseIncremental(src.Path, fromOffset)
		if err != nil {
			return report, fmt.Errorf("orchestrator: parse %s: %w", src.Path, err)
		}
		if len(result.Messages) == 0 {
			continue
		}

		messages := filterSelfReferential(result.Messages, o.indexCfg)
		if len(messages) == 0 {
			continue
		}

		var conversationID int64
		err = o.store.Transaction(ctx, func(tx *sql.Tx) error {
			var txErr error
			projectID, txErr = persist.EnsureProject(ctx, tx, projectPath, sourceKind)
			if txErr != nil {
				return txErr
			}
			conversationID, txErr = persist.UpsertConversation(ctx, tx, projectID, result.Conversation)
			if txErr != nil {
				return txErr
			}
			return persist.UpsertMessages(ctx, tx, conversationID, messages)
		})
		if err != nil {
			return report, fmt.Errorf("orchestrator: persist %s: %w", src.Path, err)
		}

		extraction, err := o.extract.Extract(ctx, messages)
		if err != nil {
			return report, fmt.Errorf("orchestrator: extract %s: %w", src.Path, err)
		}

		err = o.store.Transaction(ctx, func(tx *sql.Tx) error {
			if txErr := persist.UpsertDecisions(ctx, tx, conversationID, extraction.Decisions); txErr != nil {
				return txErr
			}
			if txErr := persist.UpsertMistakes(ctx, tx, conversationID, extraction.Mistakes); txErr != nil {
				return txErr
			}
			if txErr := persist.UpsertRequirements(ctx, tx, conversationID, extraction.Requirements); txErr != nil {
				return txErr
			}
			return persist.UpsertValidations(ctx, tx, conversationID, extraction.Validations)
		})
		if err != nil {
			return report, fmt.Errorf("orchestrator: persist extracted knowledge for %s: %w", src.Path, err)
		}

		report.ConversationsIndexed++
		report.MessagesIndexed += len(messages)
		report.DecisionsFound += len(extraction.Decisions)
		report.MistakesFound += len(extraction.Mistakes)
		report.RequirementsFound += len(extraction.Requirements)
		report.ValidationsFound += len(extraction.Validations)
		lastConversationExternalID = result.Conversation.ExternalID

		offsets[src.Path] = result.NextOffset

		// Semantic indexing never fails the run: an unavailable embedding
		// provider degrades to FTS-only search, logged once per source.
		msgStats, err := o.search.IndexMessages(ctx, messages, true)
		if err != nil {
			o.logger.Warn("semantic indexing failed, continuing with FTS-only search", zap.String("source", src.Path), zap.Error(err))
			report.EmbeddingsGenerated = false
			report.EmbeddingError = err.Error()
		} else if !msgStats.EmbeddingsGenerated {
			report.EmbeddingsGenerated = false
			report.EmbeddingError = msgStats.EmbeddingError
		}
		if _, err := o.search.IndexDecisions(ctx, extraction.Decisions, true); err != nil {
			o.logger.Warn("decision embedding failed", zap.Error(err))
		}
		if _, err := o.search.IndexMistakes(ctx, extraction.Mistakes, true); err != nil {
			o.logger.Warn("mistake embedding failed", zap.Error(err))
		}
	}

	if gitRepoPath != "" && o.indexCfg.GitIntegrationEnabled {
		if err := o.indexGitHistory(ctx, projectID, gitRepoPath, lastConversationExternalID); err != nil {
			o.logger.Warn("git history indexing failed, continuing without commit links", zap.Error(err))
		} else {
			report.GitCommitsLinked++
		}
	}

	if o.index != nil && projectID != 0 {
		if err := o.registerProject(ctx, projectPath, sourceKind, report); err != nil {
			return report, fmt.Errorf("orchestrator: register project: %w", err)
		}
	}

	return report, nil
}

// indexGitHistory collects the repository's full commit history (no
// since-time filter is applied) and stores it for the project. Commits are
// not linked to conversations: no commit-to-conversation mapping is built,
// so every stored commit has an empty conversation_id.
func (o *Orchestrator) indexGitHistory(ctx context.Context, projectID int64, repoPath, _ string) error {
	var since time.Time
	commits, err := pkggit.CollectCommits(repoPath, since)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		return nil
	}
	return o.store.Transaction(ctx, func(tx *sql.Tx) error {
		return persist.UpsertGitCommits(ctx, tx, projectID, commits, nil)
	})
}

func (o *Orchestrator) registerProject(ctx context.Context, projectPath, sourceKind string, report Report) error {
	counts, err := o.currentCounts(ctx)
	if err != nil {
		return err
	}
	return o.index.Register(globalindex.Entry{
		ProjectPath: projectPath,
		SourceKind:  sourceKind,
		DBPath:      o.store.Path(),
		Counts:      counts,
		LastIndexed: nowFunc(),
	})
}

func (o *Orchestrator) currentCounts(ctx context.Context) (globalindex.Counts, error) {
	var c globalindex.Counts
	db := o.store.DB()
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&c.Conversations); err != nil {
		return c, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&c.Messages); err != nil {
		return c, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&c.Decisions); err != nil {
		return c, err
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mistakes`).Scan(&c.Mistakes); err != nil {
		return c, err
	}
	return c, nil
}

// filterSelfReferential drops messages that are purely this tool talking to
// itself over MCP, per index.exclude_mcp_conversations: "off" keeps
// everything, "self-only" drops tool uses naming this server, "all-mcp"
// drops any message carrying a tool use at all.
func filterSelfReferential(messages []transcript.Message, cfg config.IndexConfig) []transcript.Message {
	switch cfg.ExcludeMCPConversations {
	case "", "off":
		return messages
	case "all-mcp":
		out := make([]transcript.Message, 0, len(messages))
		for _, m := range messages {
			if len(m.ToolUses) == 0 {
				out = append(out, m)
			}
		}
		return out
	case "self-only":
		excluded := make(map[string]bool, len(cfg.ExcludeMCPServers))
		for _, s := range cfg.ExcludeMCPServers {
			excluded[s] = true
		}
		out := make([]transcript.Message, 0, len(messages))
		for _, m := range messages {
			if !usesExcludedServer(m, excluded) {
				out = append(out, m)
			}
		}
		return out
	default:
		return messages
	}
}

func usesExcludedServer(m transcript.Message, excluded map[string]bool) bool {
	for _, tu := range m.ToolUses {
		if excluded[tu.ToolName] {
			return true
		}
	}
	return false
}

// nowFunc is a seam for tests; production always uses time.Now.
var nowFunc = time.Now
