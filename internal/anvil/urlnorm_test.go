package anvil

import "testing"

func TestNormalizeURLEquivalence(t *testing.T) {
	variants := []string{
		"https://github.com/user/repo",
		"https://github.com/user/repo.git",
		"https://GitHub.com/user/repo",
		"https://github.com/user/repo/",
		"git@github.com:user/repo.git",
		"ssh://git@github.com/user/repo",
	}
	want := NormalizeURL(variants[0])
	for _, v := range variants {
		if got := NormalizeURL(v); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestNormalizeURLPreservesCase(t *testing.T) {
	got := NormalizeURL("https://GitHub.com/User/Repo.git")
	want := "https://github.com/User/Repo"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"git@gitlab.com:group/project.git",
		"https://example.org/a/b/c/",
		"ssh://git@host.example/p.git",
		"not a url at all",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		twice := NormalizeURL(once)
		if once != twice {
			t.Errorf("NormalizeURL not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeURLDistinctRepos(t *testing.T) {
	a := NormalizeURL("https://github.com/user/repo")
	b := NormalizeURL("https://github.com/user/other")
	if a == b {
		t.Fatalf("distinct repositories normalized to the same URL %q", a)
	}
}
