package anvil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeExecutable(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestCollectArtifactsCountsEachNameOnce(t *testing.T) {
	source := t.TempDir()
	stage := t.TempDir()

	// The same binary shows up in the source tree and, via the install
	// step, already staged under bin. That is one artifact, not two.
	writeExecutable(t, filepath.Join(source, "tool"))
	writeExecutable(t, filepath.Join(stage, "bin", "tool"))

	found, err := collectArtifacts(source, stage, &BuildPlan{Binaries: []string{"tool"}})
	if err != nil {
		t.Fatal(err)
	}
	if found != 1 {
		t.Fatalf("found %d, want 1", found)
	}
}

func TestCollectArtifactsIgnoresSourceFilesWithMatchingStem(t *testing.T) {
	source := t.TempDir()
	stage := t.TempDir()

	if err := os.WriteFile(filepath.Join(source, "tool.c"), []byte("int main;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "tool.py"), []byte("pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := collectArtifacts(source, stage, &BuildPlan{Binaries: []string{"tool"}})
	if err != nil {
		t.Fatal(err)
	}
	if found != 0 {
		t.Fatalf("found %d, want 0", found)
	}
	if _, err := os.Stat(filepath.Join(stage, "bin", "tool.c")); !os.IsNotExist(err) {
		t.Fatal("source file staged as a binary")
	}
}

func TestMatchesBinaryName(t *testing.T) {
	wanted := map[string]bool{"tool": true}
	for base, want := range map[string]bool{
		"tool":     true,
		"tool.exe": true,
		"tool.bat": true,
		"tool.c":   false,
		"tool.py":  false,
		"tool.go":  false,
		"toolbox":  false,
	} {
		if got := matchesBinaryName(wanted, base); got != want {
			t.Errorf("matchesBinaryName(%q) = %v, want %v", base, got, want)
		}
	}
}

func TestCollectLibrariesStaysOutOfBin(t *testing.T) {
	source := t.TempDir()
	stage := t.TempDir()

	release := filepath.Join(source, "target", "release")
	if err := os.MkdirAll(release, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"libdemo.so", "libdemo.a", "build.log"} {
		if err := os.WriteFile(filepath.Join(release, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	plan := &BuildPlan{
		LibraryOnly: true,
		Classes:     []ArtifactClass{ArtifactStatic, ArtifactDynamic},
		ReleaseDir:  filepath.Join("target", "release"),
	}
	found, err := collectArtifacts(source, stage, plan)
	if err != nil {
		t.Fatal(err)
	}
	if found != 2 {
		t.Fatalf("found %d, want 2", found)
	}
	for _, name := range []string{"libdemo.so", "libdemo.a"} {
		if _, err := os.Stat(filepath.Join(stage, "lib", name)); err != nil {
			t.Fatalf("%s not collected: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(stage, "bin")); !os.IsNotExist(err) {
		t.Fatal("library plan touched the bin directory")
	}
}
