package extract

import (
	"regexp"
	"strings"

	"github.com/fenwicklabs/memoryd/internal/transcript"
)

// RefExtractor pulls file paths and git commit SHAs out of a message's tool
// uses/results, for populating Decision.RelatedFiles/RelatedCommits.
type RefExtractor struct {
	commitSHAPattern *regexp.Regexp
	filePathPattern  *regexp.Regexp
}

func NewRefExtractor() *RefExtractor {
	return &RefExtractor{
		commitSHAPattern: regexp.MustCompile(`\b([a-f0-9]{7,40})\b`),
		filePathPattern:  regexp.MustCompile(`(?:^|[\s"'\(])([a-zA-Z0-9_\-./]+\.[a-zA-Z0-9]+)(?:$|[\s"'\):,])`),
	}
}

// Files returns the distinct file paths a message touched, from its tool
// uses, its file edits, and plain-text mentions in its content.
func (e *RefExtractor) Files(msg transcript.Message) []string {
	seen := map[string]bool{}
	var paths []string

	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, tu := range msg.ToolUses {
		switch tu.ToolName {
		case "Read", "Edit", "Write", "NotebookEdit":
			if p, ok := tu.Input["file_path"].(string); ok {
				add(p)
			}
		case "Glob", "Grep":
			if p, ok := tu.Input["path"].(string); ok {
				add(p)
			}
		}
	}
	for _, fe := range msg.FileEdits {
		add(fe.FilePath)
	}
	for _, p := range e.filePathsFromText(msg.Content) {
		add(p)
	}
	return paths
}

// Commits returns distinct git commit SHAs mentioned in a message's Bash
// tool results (e.g. `git commit`/`git log` output).
func (e *RefExtractor) Commits(msg transcript.Message) []string {
	seen := map[string]bool{}
	var shas []string

	for _, tu := range msg.ToolUses {
		if tu.ToolName != "Bash" {
			continue
		}
		cmd, _ := tu.Input["command"].(string)
		if !strings.Contains(cmd, "git") {
			continue
		}
		for _, tr := range msg.ToolResults {
			if tr.ToolUseID != tu.ExternalID {
				continue
			}
			for _, sha := range e.extractCommitSHAs(tr.Content, cmd) {
				if !seen[sha] {
					seen[sha] = true
					shas = append(shas, sha)
				}
			}
		}
	}
	return shas
}

func (e *RefExtractor) extractCommitSHAs(output, cmd string) []string {
	var shas []string

	if strings.Contains(cmd, "git commit") {
		if m := regexp.MustCompile(`\[[\w\-/]+\s+([a-f0-9]{7,40})\]`).FindStringSubmatch(output); len(m) > 1 {
			return []string{m[1]}
		}
	}
	if strings.Contains(cmd, "git log") {
		for _, line := range strings.Split(output, "\n") {
			if strings.HasPrefix(line, "commit ") {
				shas = append(shas, strings.TrimSpace(strings.TrimPrefix(line, "commit ")))
			}
		}
		if len(shas) > 0 {
			return shas
		}
	}

	for _, sha := range e.commitSHAPattern.FindAllString(output, -1) {
		if len(sha) >= 7 && !isCommonHexValue(sha) {
			shas = append(shas, sha)
		}
	}
	return shas
}

func (e *RefExtractor) filePathsFromText(text string) []string {
	matches := e.filePathPattern.FindAllStringSubmatch(text, -1)
	var paths []string
	seen := map[string]bool{}
	for _, m := range matches {
		if len(m) > 1 && isValidFilePath(m[1]) && !seen[m[1]] {
			paths = append(paths, m[1])
			seen[m[1]] = true
		}
	}
	return paths
}

func isValidFilePath(path string) bool {
	if len(path) < 3 {
		return false
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return false
	}
	if strings.HasPrefix(path, "v") && regexp.MustCompile(`^v\d+\.\d+`).MatchString(path) {
		return false
	}
	for _, fp := range []string{"0.0.0", "1.0.0", "2.0.0", "e.g.", "i.e.", "etc."} {
		if path == fp {
			return false
		}
	}
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return false
	}
	ext := parts[len(parts)-1]
	return len(ext) >= 1 && len(ext) <= 10
}

func isCommonHexValue(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"0000000", "fffffff", "1234567", "abcdefg"} {
		if strings.HasPrefix(lower, c) {
			return true
		}
	}
	return false
}
