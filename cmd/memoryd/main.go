// Command memoryd is the thin console entrypoint over the indexing-and-
// retrieval engine: argument parsing and result printing only. It never
// implements a request/response tool dispatcher — that surface is explicitly
// out of this repository's core.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/embeddings"
	"github.com/fenwicklabs/memoryd/internal/extract"
	"github.com/fenwicklabs/memoryd/internal/globalindex"
	"github.com/fenwicklabs/memoryd/internal/logging"
	"github.com/fenwicklabs/memoryd/internal/orchestrator"
	"github.com/fenwicklabs/memoryd/internal/semsearch"
	"github.com/fenwicklabs/memoryd/internal/store"
	"github.com/fenwicklabs/memoryd/internal/storecache"
	"github.com/fenwicklabs/memoryd/internal/transcript"
	"github.com/fenwicklabs/memoryd/internal/vectorstore"
)

var (
	version     = "dev"
	projectFlag string
	configFlag  string
	limitFlag   int
	allFlag     bool
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "memoryd",
	Short:   "Local conversation-memory engine for AI coding agents",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "project directory to operate against (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to a memoryd config.yaml (default: ~/.config/memoryd/config.yaml)")
	searchCmd.Flags().IntVar(&limitFlag, "limit", 10, "maximum number of results to return")
	searchCmd.Flags().BoolVar(&allFlag, "all", false, "search every indexed project via GlobalIndex fan-out")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index [transcript-folder]",
	Short: "Parse, extract, and embed a transcript folder for the current project",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid (dense + lexical) search over indexed conversations",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts and the last indexed time for the current project",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// env is the wired-up core the three commands share: one project's store,
// its semantic search service, and the process-wide registries.
type env struct {
	cfg         *config.Config
	logger      *zap.Logger
	projectPath string
	dbPath      string
	registry    *storecache.Registry
	globalIdx   *globalindex.Index
	embed       *embeddings.Capability
}

func newEnv() (*env, error) {
	cfg, err := config.LoadWithFile(configFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	projectDir := projectFlag
	if projectDir == "" {
		projectDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	canonical, err := store.CanonicalizeProjectPath(projectDir)
	if err != nil {
		return nil, fmt.Errorf("canonicalize project path: %w", err)
	}

	dbPath, err := store.ResolvePath(cfg.Store.Path, canonical, cfg.Store.Mode)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	globalIdx, err := globalindex.Open(filepath.Join(home, ".config", "memoryd", "global_index.json"))
	if err != nil {
		return nil, fmt.Errorf("open global index: %w", err)
	}

	embed := embeddings.NewFromConfig(embeddings.ResolveFactoryConfig(cfg.Embedding))

	return &env{
		cfg:         cfg,
		logger:      logger,
		projectPath: canonical,
		dbPath:      dbPath,
		registry:    storecache.New(logger),
		globalIdx:   globalIdx,
		embed:       embed,
	}, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if cfg.Server.LogFormat != "" {
		logCfg.Format = cfg.Server.LogFormat
	}
	if cfg.Server.LogLevel != "" {
		level, err := logging.LevelFromString(cfg.Server.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid server.log_level %q: %w", cfg.Server.LogLevel, err)
		}
		logCfg.Level = level
	}
	l, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}

func (e *env) close() {
	e.registry.CloseAll()
	e.embed.Close()
}

func runIndex(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	folder := e.projectPath
	if len(args) == 1 {
		folder = args[0]
	}

	ctx := cmd.Context()
	st, err := e.registry.Open(ctx, e.dbPath, e.cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	sources, err := discoverSources(folder)
	if err != nil {
		return fmt.Errorf("discover transcripts: %w", err)
	}
	if len(sources) == 0 {
		fmt.Printf("no transcript files found under %s\n", folder)
		return nil
	}

	extractSvc, err := extract.NewService(extract.DefaultConfig(), nil)
	if err != nil {
		return fmt.Errorf("build extract service: %w", err)
	}

	vectors := vectorstore.New(st)
	searchSvc := semsearch.New(st, vectors, e.embed, e.cfg.Chunking, e.cfg.Rerank, e.logger)
	orch := orchestrator.New(st, extractSvc, searchSvc, e.globalIdx, e.cfg.Index, e.logger)

	gitRepoPath := ""
	if _, err := os.Stat(filepath.Join(folder, ".git")); err == nil {
		gitRepoPath = folder
	}

	report, err := orch.Run(ctx, e.projectPath, string(sources[0].sourceKind), toOrchestratorSources(sources), map[string]int64{}, gitRepoPath)
	if err != nil {
		return fmt.Errorf("index run: %w", err)
	}

	fmt.Printf("conversations indexed: %d\n", report.ConversationsIndexed)
	fmt.Printf("messages indexed:      %d\n", report.MessagesIndexed)
	fmt.Printf("decisions found:       %d\n", report.DecisionsFound)
	fmt.Printf("mistakes found:        %d\n", report.MistakesFound)
	fmt.Printf("requirements found:    %d\n", report.RequirementsFound)
	fmt.Printf("validations found:     %d\n", report.ValidationsFound)
	fmt.Printf("embeddings generated:  %t\n", report.EmbeddingsGenerated)
	if report.EmbeddingError != "" {
		fmt.Printf("embedding warning:     %s\n", report.EmbeddingError)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	query := args[0]

	if allFlag {
		entries := e.globalIdx.List()
		result := storecache.FanOutSearch(ctx, entries, e.embed, e.cfg.Chunking, e.cfg.Rerank, query, limitFlag, semsearch.Filter{}, e.logger)
		printFanOut(result)
		return nil
	}

	st, err := e.registry.Open(ctx, e.dbPath, e.cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	if e.registry.ShouldAutoIndex(e.projectPath, autoIndexCooldown) {
		if _, err := e.registry.RunAutoIndex(e.projectPath, func() (any, error) {
			return autoIndex(ctx, e, st)
		}); err != nil {
			e.logger.Warn("auto-index on query path failed, searching existing data", zap.Error(err))
		}
	}

	vectors := vectorstore.New(st)
	searchSvc := semsearch.New(st, vectors, e.embed, e.cfg.Chunking, e.cfg.Rerank, e.logger)

	result, err := searchSvc.SearchConversations(ctx, query, nil, limitFlag, semsearch.Filter{})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	printResult(result)
	return nil
}

// autoIndexCooldown is the minimum interval between auto-index runs
// triggered as a side effect of a query, per project.
const autoIndexCooldown = 60 * time.Second

// autoIndex re-parses any new transcript content under the project and
// folds it into st before a query runs against it. It is wrapped in
// Registry.RunAutoIndex by its caller so concurrent queries against the
// same project coalesce onto a single run.
func autoIndex(ctx context.Context, e *env, st *store.Store) (any, error) {
	sources, err := discoverSources(e.projectPath)
	if err != nil || len(sources) == 0 {
		return nil, err
	}

	extractSvc, err := extract.NewService(extract.DefaultConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("build extract service: %w", err)
	}
	vectors := vectorstore.New(st)
	searchSvc := semsearch.New(st, vectors, e.embed, e.cfg.Chunking, e.cfg.Rerank, e.logger)
	orch := orchestrator.New(st, extractSvc, searchSvc, e.globalIdx, e.cfg.Index, e.logger)

	gitRepoPath := ""
	if _, err := os.Stat(filepath.Join(e.projectPath, ".git")); err == nil {
		gitRepoPath = e.projectPath
	}

	return orch.Run(ctx, e.projectPath, string(sources[0].sourceKind), toOrchestratorSources(sources), map[string]int64{}, gitRepoPath)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.close()

	entry, err := e.globalIdx.Get(e.projectPath)
	if err != nil {
		fmt.Printf("project %s is not yet registered (run `memoryd index` first)\n", e.projectPath)
		return nil
	}

	out, _ := json.MarshalIndent(entry, "", "  ")
	fmt.Println(string(out))
	return nil
}

func printResult(res semsearch.SearchResult) {
	fmt.Printf("%d hits (embeddings_generated=%t fallback=%t)\n", len(res.MessageHits), res.EmbeddingsGenerated, res.UsedFallback)
	for _, h := range res.MessageHits {
		fmt.Printf("- [%.3f] %s (%s): %s\n", h.Similarity, h.ConversationExternalID, h.Role, h.Snippet)
	}
}

func printFanOut(res storecache.FanOutResult) {
	fmt.Printf("%d/%d projects searched (%d failed)\n", res.ProjectsSucceeded, res.ProjectsSearched, len(res.FailedProjects))
	for _, p := range res.FailedProjects {
		fmt.Printf("  failed: %s\n", p)
	}
	for _, h := range res.Hits {
		fmt.Printf("- [%.3f] %s :: %s (%s): %s\n", h.Similarity, h.ProjectPath, h.ConversationExternalID, h.Role, h.Snippet)
	}
}

// sourceFile is one transcript file discovered under a project folder,
// paired with the parser its extension/shape selects.
type sourceFile struct {
	path       string
	sourceKind transcript.SourceKind
	parser     transcript.Parser
}

// discoverSources globs every *.jsonl file directly under folder and one
// level of subfolders. Every file is currently parsed with the assistant-a
// decoder; a folder of assistant-b transcripts would be distinguished by a
// config override in a full deployment, out of scope for this console
// entrypoint.
func discoverSources(folder string) ([]sourceFile, error) {
	var out []sourceFile
	patterns := []string{
		filepath.Join(folder, "*.jsonl"),
		filepath.Join(folder, "*", "*.jsonl"),
	}
	seen := map[string]bool{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, sourceFile{path: m, sourceKind: transcript.SourceAssistantA, parser: transcript.NewAssistantAParser()})
		}
	}
	return out, nil
}

func toOrchestratorSources(files []sourceFile) []orchestrator.Source {
	out := make([]orchestrator.Source, len(files))
	for i, f := range files {
		out[i] = orchestrator.Source{Path: f.path, Parser: f.parser}
	}
	return out
}
