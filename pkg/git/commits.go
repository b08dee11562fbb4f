package git

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit is one repository commit, normalized for the git_commits table. It
// carries no conversation/message linkage itself; persist.UpsertGitCommits
// links a commit to a conversation only through the hash-to-conversation map
// its caller passes in.
type Commit struct {
	Hash         string
	Message      string
	Author       string
	Timestamp    time.Time
	Branch       string
	FilesChanged []string
}

// CollectCommits walks the current branch's history at repoPath, returning
// commits authored at or after since (zero value returns the full history).
// This is the orchestrator's external-collaborator boundary for git history
// analysis: the core defines the write path (git_commits rows), this
// package does the repository walk.
func CollectCommits(repoPath string, since time.Time) ([]Commit, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("git: open repository at %s: %w", repoPath, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("git: resolve HEAD: %w", err)
	}
	branch := head.Name().Short()

	commitIter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("git: walk commit log: %w", err)
	}
	defer commitIter.Close()

	var commits []Commit
	err = commitIter.ForEach(func(c *object.Commit) error {
		if !since.IsZero() && c.Author.When.Before(since) {
			return nil
		}
		files, err := filesChanged(c)
		if err != nil {
			return fmt.Errorf("git: diff stats for %s: %w", c.Hash.String(), err)
		}
		commits = append(commits, Commit{
			Hash:         c.Hash.String(),
			Message:      c.Message,
			Author:       c.Author.Email,
			Timestamp:    c.Author.When,
			Branch:       branch,
			FilesChanged: files,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// filesChanged returns the paths touched by c relative to its first parent,
// or nil for a root commit (no parent to diff against).
func filesChanged(c *object.Commit) ([]string, error) {
	if c.NumParents() == 0 {
		return nil, nil
	}
	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	patch, err := parent.Patch(c)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, fp := range patch.FilePatches() {
		from, to := fp.Files()
		if to != nil {
			files = append(files, to.Path())
		} else if from != nil {
			files = append(files, from.Path())
		}
	}
	return files, nil
}
