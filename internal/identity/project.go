package identity

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SharePolicy controls how freely a project's events may be surfaced
// to tooling outside of the local device (currently always private —
// cross-device sync is not implemented).
type SharePolicy string

// SharePolicyPrivate is the only share policy the core currently produces.
const SharePolicyPrivate SharePolicy = "private"

// Project identifies the codebase a source's events belong to.
type Project struct {
	ProjectID   string      `json:"project_id"`
	DisplayName string      `json:"display_name"`
	GitRemote   string      `json:"git_remote,omitempty"`
	RootPath    string      `json:"root_path"`
	SharePolicy SharePolicy `json:"share_policy"`
	CreatedAt   time.Time   `json:"created_at"`
}

var sshRemoteRe = regexp.MustCompile(`^git@([^:]+):(.+?)(\.git)?$`)
var httpsRemoteRe = regexp.MustCompile(`^https?://(?:[^@/]+@)?([^/]+)/(.+?)(\.git)?/?$`)
var sshURLRemoteRe = regexp.MustCompile(`^ssh://(?:[^@/]+@)?([^/]+)/(.+?)(\.git)?/?$`)
var slugInvalidRe = regexp.MustCompile(`[^a-z0-9]+`)

// DetectProject walks up from dir looking for a repository root; if
// found it derives identity from the primary remote, otherwise it
// falls back to the absolute directory path.
func DetectProject(dir string) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	root, isRepo := findRepoRoot(abs)
	if !isRepo {
		root = abs
	}

	var remote string
	if isRepo {
		remote, _ = primaryRemote(root)
	}

	displayName := displayNameFor(root, remote)
	identitySeed := remote
	if identitySeed == "" {
		identitySeed = root
	}

	p := &Project{
		ProjectID:   deriveProjectID(displayName, identitySeed),
		DisplayName: displayName,
		GitRemote:   remote,
		RootPath:    root,
		SharePolicy: SharePolicyPrivate,
		CreatedAt:   time.Now().UTC(),
	}
	return p, nil
}

// deriveProjectID builds `slug(display_name)[:20] + "-" + sha256(seed)[:16]`.
func deriveProjectID(displayName, seed string) string {
	sum := sha256.Sum256([]byte(seed))
	hash := hex.EncodeToString(sum[:])[:16]

	slug := slug(displayName)
	if len(slug) > 20 {
		slug = slug[:20]
	}
	if slug == "" {
		slug = "project"
	}
	return slug + "-" + hash
}

func slug(s string) string {
	lower := strings.ToLower(s)
	dashed := slugInvalidRe.ReplaceAllString(lower, "-")
	return strings.Trim(dashed, "-")
}

// findRepoRoot walks upward from dir looking for a .git entry.
func findRepoRoot(dir string) (string, bool) {
	cur := dir
	for {
		if _, err := os.Stat(filepath.Join(cur, ".git")); err == nil {
			return cur, true
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false
		}
		cur = parent
	}
}

// primaryRemote reads the "origin" remote URL from .git/config, falling
// back to the first configured remote if origin is absent.
func primaryRemote(repoRoot string) (string, error) {
	f, err := os.Open(filepath.Join(repoRoot, ".git", "config"))
	if err != nil {
		return "", fmt.Errorf("open git config: %w", err)
	}
	defer f.Close()

	remotes := map[string]string{}
	var current string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, `[remote "`) {
			current = strings.TrimSuffix(strings.TrimPrefix(line, `[remote "`), `"]`)
			continue
		}
		if strings.HasPrefix(line, "[") {
			current = ""
			continue
		}
		if current != "" && strings.HasPrefix(line, "url") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				remotes[current] = strings.TrimSpace(parts[1])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read git config: %w", err)
	}

	if url, ok := remotes["origin"]; ok {
		return NormalizeRemote(url), nil
	}
	for _, url := range remotes {
		return NormalizeRemote(url), nil
	}
	return "", fmt.Errorf("no remote configured")
}

// NormalizeRemote collapses SSH and HTTPS remote URL forms to the same
// "host/owner/name" string so the same project is recognized across
// clone styles and machines.
func NormalizeRemote(url string) string {
	url = strings.TrimSpace(url)

	if m := sshRemoteRe.FindStringSubmatch(url); m != nil {
		return m[1] + "/" + strings.TrimSuffix(m[2], ".git")
	}
	if m := sshURLRemoteRe.FindStringSubmatch(url); m != nil {
		return m[1] + "/" + strings.TrimSuffix(m[2], ".git")
	}
	if m := httpsRemoteRe.FindStringSubmatch(url); m != nil {
		return m[1] + "/" + strings.TrimSuffix(m[2], ".git")
	}
	return strings.TrimSuffix(url, ".git")
}

func displayNameFor(root, remote string) string {
	if remote != "" {
		segs := strings.Split(remote, "/")
		return segs[len(segs)-1]
	}
	return filepath.Base(root)
}
