package identity

import "testing"

func TestNormalizeRemoteCollapsesSSHAndHTTPS(t *testing.T) {
	cases := map[string]string{
		"git@github.com:acme/widgets.git":   "github.com/acme/widgets",
		"https://github.com/acme/widgets":   "github.com/acme/widgets",
		"https://github.com/acme/widgets.git": "github.com/acme/widgets",
		"ssh://git@github.com/acme/widgets.git": "github.com/acme/widgets",
	}

	for in, want := range cases {
		got := NormalizeRemote(in)
		if got != want {
			t.Errorf("NormalizeRemote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeriveProjectIDIsStableAndBounded(t *testing.T) {
	id1 := deriveProjectID("a-very-long-project-display-name", "github.com/acme/widgets")
	id2 := deriveProjectID("a-very-long-project-display-name", "github.com/acme/widgets")

	if id1 != id2 {
		t.Fatalf("expected deterministic project id, got %q and %q", id1, id2)
	}

	slugPart := id1[:len(id1)-17] // hash is "-" + 16 hex chars
	if len(slugPart) > 20 {
		t.Errorf("slug portion should be capped at 20 chars, got %d", len(slugPart))
	}
}

func TestDetectProjectFallsBackToRootPath(t *testing.T) {
	dir := t.TempDir()

	p, err := DetectProject(dir)
	if err != nil {
		t.Fatalf("DetectProject: %v", err)
	}
	if p.GitRemote != "" {
		t.Errorf("expected no git remote for a non-repo dir, got %q", p.GitRemote)
	}
	if p.RootPath != dir && p.RootPath == "" {
		t.Errorf("expected root path to be set")
	}
	if p.ProjectID == "" {
		t.Errorf("expected a derived project id")
	}
}
