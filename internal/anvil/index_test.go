package anvil

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *RepoIndex {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "index")
	hammers := filepath.Join(root, "hammers")
	for _, d := range []string{dir, hammers} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	idx, err := OpenRepoIndex(dir, hammers)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestIndexInsertAndLookup(t *testing.T) {
	idx := newTestIndex(t)

	added, err := idx.Insert(IndexEntry{Name: "tool", URL: "https://github.com/user/tool"})
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Fatal("first insert reported as duplicate")
	}

	e, err := idx.Lookup("tool")
	if err != nil {
		t.Fatal(err)
	}
	if e.Origin != OriginLocal {
		t.Fatalf("origin %q", e.Origin)
	}

	if _, err := idx.Lookup("missing"); !errors.Is(err, errPackageNotFound) {
		t.Fatalf("want errPackageNotFound, got %v", err)
	}
}

func TestIndexInsertDeduplicatesURLVariants(t *testing.T) {
	idx := newTestIndex(t)

	if _, err := idx.Insert(IndexEntry{Name: "tool", URL: "https://github.com/user/tool"}); err != nil {
		t.Fatal(err)
	}
	added, err := idx.Insert(IndexEntry{Name: "tool2", URL: "git@github.com:user/tool.git"})
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Fatal("cosmetic URL variant inserted as a new entry")
	}
	if len(idx.List()) != 1 {
		t.Fatalf("index has %d entries, want 1", len(idx.List()))
	}
}

func TestIndexCentralWinsOverLocal(t *testing.T) {
	idx := newTestIndex(t)

	central := []IndexEntry{{Name: "tool", URL: "https://github.com/central/tool"}}
	if err := writeEntryFile(idx.centralPath(), central); err != nil {
		t.Fatal(err)
	}
	local := []IndexEntry{{Name: "tool", URL: "https://github.com/local/tool"}}
	if err := writeEntryFile(idx.localPath(), local); err != nil {
		t.Fatal(err)
	}
	if err := idx.reload(); err != nil {
		t.Fatal(err)
	}

	e, err := idx.Lookup("tool")
	if err != nil {
		t.Fatal(err)
	}
	if e.URL != "https://github.com/central/tool" {
		t.Fatalf("local entry shadowed central: %q", e.URL)
	}
	if e.Origin != OriginCentral {
		t.Fatalf("origin %q", e.Origin)
	}
}

func TestIndexRepairCountsRemovals(t *testing.T) {
	idx := newTestIndex(t)

	entries := []IndexEntry{
		{Name: "ok", URL: "https://github.com/user/ok"},
		{Name: "", URL: "https://github.com/user/nameless"},
		{Name: "urlless", URL: ""},
	}
	if err := writeEntryFile(idx.localPath(), entries); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(idx.centralDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(idx.centralPath(), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := idx.Repair()
	if err != nil {
		t.Fatal(err)
	}
	// Two invalid entries plus one unreadable file.
	if removed != 3 {
		t.Fatalf("removed %d, want 3", removed)
	}

	if _, err := idx.Lookup("ok"); err != nil {
		t.Fatalf("valid entry lost during repair: %v", err)
	}
	if len(idx.List()) != 1 {
		t.Fatalf("index has %d entries after repair, want 1", len(idx.List()))
	}

	// Repair again: the store is clean now.
	removed, err = idx.Repair()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("second repair removed %d entries", removed)
	}
}

func TestIndexHammerEntriesMerged(t *testing.T) {
	idx := newTestIndex(t)

	hammerDir := filepath.Join(idx.hammersDir, "extras")
	if err := os.MkdirAll(hammerDir, 0o755); err != nil {
		t.Fatal(err)
	}
	entries := []IndexEntry{{Name: "extra-tool", URL: "https://github.com/extras/extra-tool"}}
	if err := writeEntryFile(filepath.Join(hammerDir, "index.json"), entries); err != nil {
		t.Fatal(err)
	}
	if err := idx.reload(); err != nil {
		t.Fatal(err)
	}

	if _, err := idx.Lookup("extra-tool"); err != nil {
		t.Fatalf("hammer entry not merged: %v", err)
	}
}

// newCentralRemote builds a local git repository usable as a central index
// remote.
func newCentralRemote(t *testing.T, entries []IndexEntry) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	remote := t.TempDir()
	if err := writeEntryFile(filepath.Join(remote, "index.json"), entries); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"init", "-q"},
		{"add", "index.json"},
		{"-c", "user.name=t", "-c", "user.email=t@localhost", "commit", "-q", "-m", "seed"},
	} {
		cmd := exec.Command("git", append([]string{"-C", remote}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	return remote
}

func TestIndexUpdateClonesCentral(t *testing.T) {
	idx := newTestIndex(t)
	remote := newCentralRemote(t, []IndexEntry{
		{Name: "central-tool", URL: "https://github.com/central/central-tool"},
	})

	// The index dir already carries the lock file and a local overlay, the
	// state every fresh install is in before its first update.
	if _, err := idx.Insert(IndexEntry{Name: "mine", URL: "https://github.com/me/mine"}); err != nil {
		t.Fatal(err)
	}

	if err := idx.Update(NewExecutor(context.Background()), remote); err != nil {
		t.Fatal(err)
	}

	e, err := idx.Lookup("central-tool")
	if err != nil {
		t.Fatalf("central entry missing after update: %v", err)
	}
	if e.Origin != OriginCentral {
		t.Fatalf("origin %q", e.Origin)
	}
	if _, err := idx.Lookup("mine"); err != nil {
		t.Fatalf("local overlay lost during update: %v", err)
	}

	// A second update takes the pull path of the existing clone.
	if err := idx.Update(NewExecutor(context.Background()), remote); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Lookup("central-tool"); err != nil {
		t.Fatalf("central entry lost on re-update: %v", err)
	}
}

func TestIndexSearch(t *testing.T) {
	idx := newTestIndex(t)
	seed := []IndexEntry{
		{Name: "ripgrep", URL: "https://github.com/BurntSushi/ripgrep", Description: "line-oriented search"},
		{Name: "fd", URL: "https://github.com/sharkdp/fd", Description: "find alternative"},
	}
	for _, e := range seed {
		if _, err := idx.Insert(e); err != nil {
			t.Fatal(err)
		}
	}

	if got := idx.Search("RIPGREP"); len(got) != 1 {
		t.Fatalf("name search matched %d entries", len(got))
	}
	if got := idx.Search("search"); len(got) != 1 || got[0].Name != "ripgrep" {
		t.Fatalf("description search got %v", got)
	}
	if got := idx.Search("nomatch"); len(got) != 0 {
		t.Fatalf("unexpected matches %v", got)
	}
}
