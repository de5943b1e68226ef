package cli

import (
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/ingest/adapter/git"
	"github.com/recall-tools/recall/internal/ingest/adapter/jsonl"
	"github.com/recall-tools/recall/internal/ingest/adapter/plaintext"
	"github.com/recall-tools/recall/internal/ingest/adapter/split"
)

// sourceRoots carries the repeatable --jsonl-root/--split-root/
// --plaintext-root/--git-root flags shared by `ingest` and `watch`:
// the core adapters never hard-code a harness's install location, so
// every entry point that can discover sources must be told where to
// look.
type sourceRoots struct {
	jsonlRoots     []string
	splitRoots     []string
	plaintextRoots []string
	gitRoots       []string
	gitAuthor      string
}

func (r *sourceRoots) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&r.jsonlRoots, "jsonl-root", nil, "directory to scan for *.jsonl transcripts (repeatable)")
	cmd.Flags().StringArrayVar(&r.splitRoots, "split-root", nil, "directory to scan for split-file transcript sessions (repeatable)")
	cmd.Flags().StringArrayVar(&r.plaintextRoots, "plaintext-root", nil, "directory to scan for plain-text transcript sessions (repeatable)")
	cmd.Flags().StringArrayVar(&r.gitRoots, "git-root", nil, "directory to scan for git repositories (repeatable)")
	cmd.Flags().StringVar(&r.gitAuthor, "git-author", localGitEmail(), "restrict the git adapter to commits by this author (name or email substring; defaults to the local git user.email, empty = all authors)")
}

// localGitEmail reads user.email out of the caller's git config so the
// git adapter defaults to scoping history to the local developer
// rather than every author in a shared repository.
func localGitEmail() string {
	out, err := exec.Command("git", "config", "--get", "user.email").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// buildAdapters constructs one Adapter per kind that was given at
// least one root, so an orchestrator never carries an adapter with
// nothing to discover.
func (r *sourceRoots) buildAdapters() []ingest.Adapter {
	var adapters []ingest.Adapter
	if len(r.jsonlRoots) > 0 {
		adapters = append(adapters, jsonl.New(r.jsonlRoots...))
	}
	if len(r.splitRoots) > 0 {
		adapters = append(adapters, split.New(r.splitRoots...))
	}
	if len(r.plaintextRoots) > 0 {
		adapters = append(adapters, plaintext.New(r.plaintextRoots...))
	}
	if len(r.gitRoots) > 0 {
		adapters = append(adapters, git.New(r.gitAuthor, r.gitRoots...))
	}
	return adapters
}
