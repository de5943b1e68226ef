// Package git ingests commit and branch-switch history out of a local
// git repository. Grounded on the teacher's internal/sync package's
// exec.Command("git", ...) + CombinedOutput idiom, repointed from
// pal-kit's own config sync repo at arbitrary project working copies.
package git

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/redact"
	"github.com/recall-tools/recall/internal/store"
)

const kind = "git"

// commitLogSeparator delimits fields within one commit record;
// commitRecordEnd is written at the start of each record and splits them.
const commitLogSeparator = "\x1f"
const commitRecordEnd = "\x1e"

// Adapter ingests history from local repositories under Roots.
// AuthorFilter restricts commits to one author identity (the local
// machine user by default); set it empty to ingest all authors.
type Adapter struct {
	Roots       []string
	AuthorFilter string
}

func New(authorFilter string, roots ...string) *Adapter {
	return &Adapter{Roots: roots, AuthorFilter: authorFilter}
}

func (a *Adapter) Kind() string { return kind }

// Discover walks Roots (shallowly) for directories containing a .git
// subdirectory.
func (a *Adapter) Discover(deviceID string) ([]ingest.SourceCandidate, error) {
	var out []ingest.SourceCandidate
	for _, root := range a.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		if isGitRepo(root) {
			out = append(out, ingest.SourceCandidate{Kind: kind, Locator: root, ProjectHint: root})
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			candidate := filepath.Join(root, e.Name())
			if isGitRepo(candidate) {
				out = append(out, ingest.SourceCandidate{Kind: kind, Locator: candidate, ProjectHint: candidate})
			}
		}
	}
	return out, nil
}

func (a *Adapter) WorkingDirs() ([]string, error) {
	candidates, err := a.Discover("")
	if err != nil {
		return nil, err
	}
	dirs := make([]string, len(candidates))
	for i, c := range candidates {
		dirs[i] = c.Locator
	}
	return dirs, nil
}

func isGitRepo(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

type fileStat struct {
	Path       string `json:"path"`
	Status     string `json:"status"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

type commit struct {
	SHA       string     `json:"sha"`
	ShortSHA  string     `json:"short_sha"`
	Subject   string     `json:"subject"`
	Author    string     `json:"author"`
	Email     string     `json:"email"`
	Timestamp time.Time  `json:"timestamp"`
	Parents   []string   `json:"parents"`
	Branches  []string   `json:"branches"`
	Files     []fileStat `json:"files"`
}

// Ingest emits one git_commit event per commit since cur's last run
// (initializing to "now minus 30 days" on first run) and one
// git_branch event per reflog "checkout: moving from … to …" entry.
func (a *Adapter) Ingest(nctx ingest.NormalizationContext, locator string, cur store.Cursor) (ingest.IngestResult, error) {
	if !isGitRepo(locator) {
		return ingest.IngestResult{}, fmt.Errorf("%s: %w", locator, ingest.ErrSourceMissing)
	}

	since := time.Now().UTC().AddDate(0, 0, -30)
	if cur.FileMtime != nil {
		since = *cur.FileMtime
	}

	commits, err := commitsSince(locator, since, a.AuthorFilter)
	if err != nil {
		return ingest.IngestResult{}, fmt.Errorf("commits_since: %w", err)
	}
	switches, err := branchSwitchesSince(locator, since)
	if err != nil {
		return ingest.IngestResult{}, fmt.Errorf("branch_switches_since: %w", err)
	}

	now := time.Now().UTC()
	var events []store.Event
	seq := 0.0
	latest := since

	for _, c := range commits {
		seq++
		filesJSON, _ := json.Marshal(c.Files)
		metaJSON, _ := json.Marshal(map[string]interface{}{
			"sha": c.SHA, "parents": c.Parents, "branches": c.Branches,
			"author": c.Author, "email": c.Email, "files": json.RawMessage(filesJSON),
		})
		filePaths := make([]string, len(c.Files))
		for i, f := range c.Files {
			filePaths[i] = f.Path
		}
		filePathsJSON, _ := json.Marshal(filePaths)

		redactedSubject := c.Subject
		manifestJSON := ""
		if nctx.RedactSecrets {
			redacted, manifest, _ := redact.Redact(c.Subject)
			redactedSubject = redacted
			if len(manifest.Redactions) > 0 {
				if data, err := json.Marshal(manifest); err == nil {
					manifestJSON = string(data)
				}
			}
		}

		events = append(events, store.Event{
			EventID:               ingest.EventID(nctx.SourceID, seq, c.SHA),
			SourceID:              nctx.SourceID,
			SourceSeq:             seq,
			DeviceID:              nctx.DeviceID,
			ProjectID:             nctx.ProjectID,
			EventTS:               c.Timestamp,
			IngestTS:              now,
			SourceKind:            kind,
			EventType:             "git_commit",
			TextRedacted:          redactedSubject,
			FilePathsJSON:         string(filePathsJSON),
			MetaJSON:              string(metaJSON),
			RedactionManifestJSON: manifestJSON,
		})
		if c.Timestamp.After(latest) {
			latest = c.Timestamp
		}
	}

	for _, sw := range switches {
		seq++
		metaJSON, _ := json.Marshal(sw)
		events = append(events, store.Event{
			EventID:      ingest.EventID(nctx.SourceID, seq, sw.From+sw.To+sw.Timestamp.String()),
			SourceID:     nctx.SourceID,
			SourceSeq:    seq,
			DeviceID:     nctx.DeviceID,
			ProjectID:    nctx.ProjectID,
			EventTS:      sw.Timestamp,
			IngestTS:     now,
			SourceKind:   kind,
			EventType:    "git_branch",
			TextRedacted: fmt.Sprintf("%s -> %s", sw.From, sw.To),
			MetaJSON:     string(metaJSON),
		})
		if sw.Timestamp.After(latest) {
			latest = sw.Timestamp
		}
	}

	newCursor := store.Cursor{SourceID: nctx.SourceID, FileMtime: &latest}
	if len(events) > 0 {
		newCursor.LastEventID = events[len(events)-1].EventID
	} else {
		newCursor.LastEventID = cur.LastEventID
	}

	return ingest.IngestResult{
		Events:    events,
		NewCursor: newCursor,
		Report:    ingest.Report{EventsEmitted: len(events)},
	}, nil
}

// commitsSince runs `git log` restricted to author (when non-empty)
// and since, capturing both a name-status block (for A/M/D/R letters)
// and a numstat block (for insertion/deletion counts) per commit.
func commitsSince(repoDir string, since time.Time, author string) ([]commit, error) {
	args := []string{
		"log",
		"--since=" + since.Format(time.RFC3339),
		"--name-status",
		"--numstat",
		"--pretty=format:" + commitRecordEnd + "%H" + commitLogSeparator + "%h" + commitLogSeparator +
			"%s" + commitLogSeparator + "%an" + commitLogSeparator + "%ae" + commitLogSeparator +
			"%aI" + commitLogSeparator + "%P",
	}
	if author != "" {
		args = append(args, "--author="+author)
	}

	out, err := runGit(repoDir, args...)
	if err != nil {
		return nil, err
	}

	branchesBySHA := map[string][]string{}
	var commits []commit
	records := strings.Split(out, commitRecordEnd)
	for _, rec := range records {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		lines := strings.Split(rec, "\n")
		fields := strings.Split(lines[0], commitLogSeparator)
		if len(fields) < 7 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, fields[5])
		var parents []string
		if fields[6] != "" {
			parents = strings.Fields(fields[6])
		}

		statusByPath := map[string]string{}
		var files []fileStat
		for _, l := range lines[1:] {
			l = strings.TrimSpace(l)
			if l == "" {
				continue
			}
			cols := strings.Fields(l)
			if len(cols) < 2 {
				continue
			}
			if isStatusLetter(cols[0]) {
				// name-status line: "<status>\t<path>" or
				// "<status>\t<old path>\t<new path>" for renames/copies.
				path := cols[len(cols)-1]
				statusByPath[path] = cols[0][:1]
				continue
			}
			if len(cols) < 3 {
				continue
			}
			// numstat line: "<insertions>\t<deletions>\t<path>"
			ins, _ := strconv.Atoi(cols[0])
			del, _ := strconv.Atoi(cols[1])
			path := cols[2]
			status := statusByPath[path]
			if status == "" {
				status = "M"
			}
			files = append(files, fileStat{Path: path, Status: status, Insertions: ins, Deletions: del})
		}

		sha := fields[0]
		branches := branchesBySHA[sha]
		if branches == nil {
			branches = branchesContaining(repoDir, sha)
			branchesBySHA[sha] = branches
		}

		commits = append(commits, commit{
			SHA: sha, ShortSHA: fields[1], Subject: fields[2], Author: fields[3], Email: fields[4],
			Timestamp: ts.UTC(), Parents: parents, Branches: branches, Files: files,
		})
	}
	return commits, nil
}

func isStatusLetter(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case 'A', 'M', 'D', 'R', 'C', 'T', 'U':
		return true
	default:
		return false
	}
}

// branchesContaining runs `git branch --contains` for best-effort
// branch attribution; failures are non-fatal since this is advisory.
func branchesContaining(repoDir, sha string) []string {
	out, err := runGit(repoDir, "branch", "--contains", sha, "--format=%(refname:short)")
	if err != nil {
		return nil
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches
}

// branchSwitch is one HEAD reflog "checkout: moving from … to …" entry.
type branchSwitch struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	FromSHA   string    `json:"from_sha"`
	ToSHA     string    `json:"to_sha"`
	Timestamp time.Time `json:"ts"`
}

// branchSwitchesSince walks the HEAD reflog top-down (newest first). A
// "checkout: moving from a to b" line's own leading SHA is the commit
// HEAD landed on (to_sha); the SHA HEAD held immediately before that
// (from_sha) is recorded on the next, older line.
func branchSwitchesSince(repoDir string, since time.Time) ([]branchSwitch, error) {
	out, err := runGit(repoDir, "reflog", "show", "--date=iso-strict", "HEAD")
	if err != nil {
		return nil, nil // a repo with no reflog yet is not an error
	}

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	var switches []branchSwitch
	for i, line := range lines {
		if !strings.Contains(line, "checkout: moving from") {
			continue
		}
		from, to, ok := parseCheckoutLine(line)
		if !ok {
			continue
		}
		fromSHA := ""
		if i+1 < len(lines) {
			fromSHA = leadingSHA(lines[i+1])
		}
		switches = append(switches, branchSwitch{
			From: from, To: to,
			FromSHA: fromSHA, ToSHA: leadingSHA(line),
			Timestamp: reflogTimestamp(line),
		})
	}

	var filtered []branchSwitch
	for _, sw := range switches {
		if sw.Timestamp.After(since) {
			filtered = append(filtered, sw)
		}
	}
	return filtered, nil
}

// leadingSHA pulls the commit hash off the front of a reflog line,
// e.g. "abc123 HEAD@{2026-01-01T00:00:00+00:00}: checkout: ...".
func leadingSHA(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// reflogTimestamp pulls the date out of a reflog line's "HEAD@{<date>}"
// selector, produced by --date=iso-strict.
func reflogTimestamp(line string) time.Time {
	start := strings.Index(line, "@{")
	end := strings.Index(line, "}:")
	if start == -1 || end == -1 || end <= start {
		return time.Now().UTC()
	}
	raw := line[start+2 : end]
	if t, err := time.Parse("2006-01-02T15:04:05-07:00", raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// parseCheckoutLine extracts the from/to branch names out of a reflog
// line of the form "<sha> HEAD@{<n>}: checkout: moving from a to b".
func parseCheckoutLine(line string) (from, to string, ok bool) {
	idx := strings.Index(line, "checkout: moving from ")
	if idx == -1 {
		return "", "", false
	}
	rest := line[idx+len("checkout: moving from "):]
	parts := strings.SplitN(rest, " to ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}
