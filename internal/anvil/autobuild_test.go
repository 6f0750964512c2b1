package anvil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// stubTools replaces PATH probing so detection tests do not depend on what
// is installed on the build host.
func stubTools(t *testing.T, available ...string) {
	t.Helper()
	orig := lookPath
	lookPath = func(name string) (string, error) {
		for _, tool := range available {
			if tool == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", os.ErrNotExist
	}
	t.Cleanup(func() { lookPath = orig })
}

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectNoBuildSystem(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "README.md", "nothing buildable here")
	if _, err := Detect(dir, "linux"); !errors.Is(err, ErrNoBuildSystem) {
		t.Fatalf("want ErrNoBuildSystem, got %v", err)
	}
}

func TestDetectManifestBeatsGenericBuildFile(t *testing.T) {
	stubTools(t, "cargo", "make")
	dir := t.TempDir()
	writeTestFile(t, dir, "Cargo.toml", "[package]\nname = \"tool\"\n")
	writeTestFile(t, dir, "src/main.rs", "fn main() {}")
	writeTestFile(t, dir, "Makefile", "all:\n\ttrue\n")

	plan, err := Detect(dir, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if plan.System != "cargo" {
		t.Fatalf("detected %q, want cargo", plan.System)
	}
}

func TestDetectCargoLibraryOnly(t *testing.T) {
	stubTools(t, "cargo")
	dir := t.TempDir()
	writeTestFile(t, dir, "Cargo.toml", "[package]\nname = \"lib\"\n")
	writeTestFile(t, dir, "src/lib.rs", "")

	plan, err := Detect(dir, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if !plan.LibraryOnly {
		t.Fatal("crate without binary targets should be library-only")
	}
	if len(plan.Classes) != 3 {
		t.Fatalf("want static, dynamic and import classes, got %v", plan.Classes)
	}
	if plan.ReleaseDir != filepath.Join("target", "release") {
		t.Fatalf("release dir %q", plan.ReleaseDir)
	}
}

func TestDetectGoBinaryVsLibrary(t *testing.T) {
	stubTools(t, "go")

	binDir := t.TempDir()
	writeTestFile(t, binDir, "go.mod", "module tool\n")
	writeTestFile(t, binDir, "main.go", "package main\n")
	plan, err := Detect(binDir, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if plan.LibraryOnly {
		t.Fatal("module with main.go should not be library-only")
	}
	if len(plan.Binaries) != 1 || plan.Binaries[0] != filepath.Base(binDir) {
		t.Fatalf("binary name %v, want directory base", plan.Binaries)
	}

	libDir := t.TempDir()
	writeTestFile(t, libDir, "go.mod", "module lib\n")
	writeTestFile(t, libDir, "lib.go", "package lib\n")
	plan, err = Detect(libDir, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if !plan.LibraryOnly {
		t.Fatal("module without main should be library-only")
	}
}

func TestDetectToolNotFound(t *testing.T) {
	stubTools(t) // nothing on PATH
	dir := t.TempDir()
	writeTestFile(t, dir, "setup.py", "")

	_, err := Detect(dir, "linux")
	var terr *ToolNotFoundError
	if !errors.As(err, &terr) {
		t.Fatalf("want ToolNotFoundError, got %v", err)
	}
	if terr.Ecosystem != "python" {
		t.Fatalf("ecosystem %q", terr.Ecosystem)
	}
	if len(terr.Candidates) == 0 {
		t.Fatal("error should name the probed tools")
	}
}

func TestDetectExplicitFormulaWins(t *testing.T) {
	stubTools(t, "cargo", "make")
	dir := t.TempDir()
	writeTestFile(t, dir, "Cargo.toml", "[package]\nname = \"tool\"\n")
	writeTestFile(t, dir, FormulaFile, `{"name": "tool", "build": {"common": ["make custom"]}}`)

	plan, err := Detect(dir, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if plan.System != "formula" {
		t.Fatalf("detected %q, want formula", plan.System)
	}
	if len(plan.Steps) != 1 || plan.Steps[0] != "make custom" {
		t.Fatalf("steps %v", plan.Steps)
	}
}

func TestDetectMalformedFormulaIsFatal(t *testing.T) {
	stubTools(t, "make")
	dir := t.TempDir()
	writeTestFile(t, dir, "Makefile", "all:\n\ttrue\n")
	writeTestFile(t, dir, FormulaFile, `{"name": "tool",`)

	_, err := Detect(dir, "linux")
	var perr *FormulaParseError
	if !errors.As(err, &perr) {
		t.Fatalf("malformed descriptor must not fall back to heuristics, got %v", err)
	}
}

func TestDetectMakeFallbackOrder(t *testing.T) {
	stubTools(t, "gmake")
	dir := t.TempDir()
	writeTestFile(t, dir, "Makefile", "all:\n\ttrue\n")

	plan, err := Detect(dir, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plan.Steps[0], "gmake") {
		t.Fatalf("gmake fallback not used: %v", plan.Steps)
	}
}

func TestDetectMakeInstallTarget(t *testing.T) {
	stubTools(t, "make")
	dir := t.TempDir()
	writeTestFile(t, dir, "Makefile", "all:\n\ttrue\n\ninstall:\n\ttrue\n")

	plan, err := Detect(dir, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 2 || !strings.Contains(plan.Steps[1], "install") {
		t.Fatalf("install target not planned: %v", plan.Steps)
	}
	if !strings.Contains(plan.Steps[1], "{PREFIX}") {
		t.Fatalf("install step must target the prefix: %v", plan.Steps)
	}
}

func TestDetectLoneArchive(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "tool-1.0.tar.gz", "not really a tarball")

	plan, err := Detect(dir, "linux")
	if err != nil {
		t.Fatal(err)
	}
	if plan.System != "archive" {
		t.Fatalf("detected %q, want archive", plan.System)
	}
	if plan.Archive == "" || len(plan.Steps) != 0 {
		t.Fatalf("archive plan should carry the file and no steps: %+v", plan)
	}
}

func TestSubstitutePrefix(t *testing.T) {
	got := substitutePrefix(`./configure --prefix="{PREFIX}" && cp x "{PREFIX}/bin"`, "/opt/tool")
	want := `./configure --prefix="/opt/tool" && cp x "/opt/tool/bin"`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	unchanged := "make -j4"
	if substitutePrefix(unchanged, "/opt/tool") != unchanged {
		t.Fatal("command without placeholder was altered")
	}
}
