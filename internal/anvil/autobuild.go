package anvil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// lookPath probes for a build tool on PATH. Package-level so tests can
// substitute a fake PATH.
var lookPath = exec.LookPath

// ArtifactClass categorizes library build output by extension.
type ArtifactClass string

const (
	ArtifactStatic  ArtifactClass = "static"
	ArtifactDynamic ArtifactClass = "dynamic"
	ArtifactImport  ArtifactClass = "import"
)

// Extensions returns the filename suffixes belonging to the class.
func (c ArtifactClass) Extensions() []string {
	switch c {
	case ArtifactStatic:
		return []string{".a", ".rlib"}
	case ArtifactDynamic:
		return []string{".so", ".dylib"}
	case ArtifactImport:
		return []string{".dll", ".lib", ".dll.a"}
	}
	return nil
}

// BuildPlan is the output of detection: an ordered command sequence plus
// everything the pipeline needs to locate the build's products.
// Command templates may contain the {PREFIX} placeholder, substituted
// textually with the install path right before invocation.
type BuildPlan struct {
	System   string   // which detector produced the plan
	Steps    []string // shell command templates, run in order
	Binaries []string // executable names to locate and link after the build

	// LibraryOnly plans run a release build and collect typed library
	// artifacts instead of installing executables; nothing is ever linked
	// into the shared bin directory.
	LibraryOnly bool
	Classes     []ArtifactClass
	ReleaseDir  string // build-output location searched for artifacts, relative to the source dir

	// Archive is set instead of Steps when the source is a lone archive
	// file: it is unpacked natively into the install prefix.
	Archive string

	ForcePIC bool
}

type buildDetector struct {
	Name    string
	Matches func(dir string) bool
	Plan    func(dir, platform string) (*BuildPlan, error)
}

// Detect inspects a source directory and produces a build plan.
//
// An explicit formula file wins outright; a malformed one is fatal with no
// fallback to heuristics, since explicit intent overrides guessing. After
// that, detectors run in fixed priority order: language package manifests
// first (a manifest is stronger evidence of the intended toolchain), then
// generic build description files, then lone archives. No match yields
// ErrNoBuildSystem and the forge aborts cleanly.
func Detect(dir, platform string) (*BuildPlan, error) {
	if path := findExplicitFormula(dir); path != "" {
		f, err := LoadFormula(path)
		if err != nil {
			return nil, err
		}
		return &BuildPlan{
			System:   "formula",
			Steps:    f.Steps(platform),
			Binaries: append([]string(nil), f.Binaries...),
			ForcePIC: f.ForcePIC,
		}, nil
	}

	for _, d := range detectors {
		if d.Matches(dir) {
			debugf("Detected %s project in %s\n", d.Name, dir)
			return d.Plan(dir, platform)
		}
	}
	return nil, ErrNoBuildSystem
}

// Detectors in priority order. Appending a new ecosystem here is the whole
// extension surface; existing entries never need touching.
var detectors = []buildDetector{
	{"cargo", matchesFile("Cargo.toml"), planCargo},
	{"go", matchesGo, planGo},
	{"python-setuptools", matchesFile("setup.py"), planPip},
	{"python-pyproject", matchesFile("pyproject.toml"), planPip},
	{"python-requirements", matchesFile("requirements.txt"), planPipRequirements},
	{"npm", matchesFile("package.json"), planNpm},
	{"rubygem", matchesGlob("*.gemspec"), planGem},
	{"swiftpm", matchesFile("Package.swift"), planSwift},
	{"maven", matchesFile("pom.xml"), planMaven},
	{"gradle", matchesAny("build.gradle", "gradlew"), planGradle},
	{"dotnet", matchesGlob("*.csproj"), planDotnet},
	{"zig", matchesAny("build.zig", "zig.toml"), planZig},
	{"autotools", matchesFile("configure"), planAutotools},
	{"make", matchesAny("Makefile", "GNUmakefile", "makefile"), planMake},
	{"cmake", matchesFile("CMakeLists.txt"), planCMake},
	{"ninja", matchesFile("build.ninja"), planNinja},
	{"meson", matchesFile("meson.build"), planMeson},
	{"scons", matchesFile("SConstruct"), planScons},
	{"bazel", matchesAny("WORKSPACE", "BUILD"), planBazel},
	{"archive", matchesArchive, planArchive},
}

// --- marker predicates ---

func fileExists(dir, name string) bool {
	info, err := os.Stat(filepath.Join(dir, name))
	return err == nil && !info.IsDir()
}

func matchesFile(name string) func(string) bool {
	return func(dir string) bool { return fileExists(dir, name) }
}

func matchesAny(names ...string) func(string) bool {
	return func(dir string) bool {
		for _, n := range names {
			if fileExists(dir, n) {
				return true
			}
		}
		return false
	}
}

func matchesGlob(pattern string) func(string) bool {
	return func(dir string) bool {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		return len(matches) > 0
	}
}

func matchesGo(dir string) bool {
	if fileExists(dir, "go.mod") {
		return true
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.go"))
	return len(matches) > 0
}

// archiveExtensions in match priority order.
var archiveExtensions = []string{".tar.xz", ".tar.bz2", ".tar.gz", ".tgz", ".tar.zst", ".tar", ".zip"}

func isArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func matchesArchive(dir string) bool {
	return firstArchive(dir) != ""
}

func firstArchive(dir string) string {
	for _, ext := range archiveExtensions {
		matches, _ := filepath.Glob(filepath.Join(dir, "*"+ext))
		if len(matches) > 0 {
			return matches[0]
		}
	}
	return ""
}

// --- tool probing ---

// probeTool returns the first candidate present on PATH. Exhausting the
// list is an error, never a silent skip.
func probeTool(ecosystem string, candidates ...string) (string, error) {
	for _, tool := range candidates {
		if _, err := lookPath(tool); err == nil {
			return tool, nil
		}
	}
	return "", &ToolNotFoundError{Ecosystem: ecosystem, Candidates: candidates}
}

func parallelJobs() string {
	count := runtime.NumCPU()
	if count < 1 {
		count = 1
	}
	return strconv.Itoa(count)
}

// --- plan builders ---

func planCargo(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("cargo", "cargo"); err != nil {
		return nil, err
	}
	if cargoHasBinary(dir) {
		return &BuildPlan{
			System: "cargo",
			Steps:  []string{`cargo install --path . --root "{PREFIX}"`},
		}, nil
	}
	// Library crate or virtual workspace: release build, collect artifacts.
	return &BuildPlan{
		System:      "cargo",
		Steps:       []string{"cargo build --release"},
		LibraryOnly: true,
		Classes:     []ArtifactClass{ArtifactStatic, ArtifactDynamic, ArtifactImport},
		ReleaseDir:  filepath.Join("target", "release"),
	}, nil
}

// cargoHasBinary reports whether the crate has binary targets: src/main.rs,
// anything under src/bin, or an explicit [[bin]] section.
func cargoHasBinary(dir string) bool {
	if fileExists(dir, filepath.Join("src", "main.rs")) {
		return true
	}
	if entries, err := os.ReadDir(filepath.Join(dir, "src", "bin")); err == nil && len(entries) > 0 {
		return true
	}
	if data, err := os.ReadFile(filepath.Join(dir, "Cargo.toml")); err == nil {
		content := string(data)
		if strings.Contains(content, "[[bin]]") {
			return true
		}
		// A virtual workspace has no package section at all.
		if strings.Contains(content, "[workspace]") && !strings.Contains(content, "[package]") {
			return false
		}
	}
	return false
}

func planGo(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("go", "go"); err != nil {
		return nil, err
	}
	name := filepath.Base(dir)
	if goHasMain(dir) {
		return &BuildPlan{
			System:   "go",
			Steps:    []string{fmt.Sprintf(`go build -o "{PREFIX}/bin/%s" .`, name)},
			Binaries: []string{name},
		}, nil
	}
	// Library-only module: compile for verification, nothing to install.
	return &BuildPlan{
		System:      "go",
		Steps:       []string{"go build ./..."},
		LibraryOnly: true,
		Classes:     []ArtifactClass{ArtifactStatic},
	}, nil
}

func goHasMain(dir string) bool {
	if fileExists(dir, "main.go") {
		return true
	}
	cmdDir := filepath.Join(dir, "cmd")
	if info, err := os.Stat(cmdDir); err == nil && info.IsDir() {
		found := false
		filepath.WalkDir(cmdDir, func(path string, d os.DirEntry, err error) error {
			if err == nil && !d.IsDir() && strings.HasSuffix(path, ".go") {
				found = true
			}
			return nil
		})
		return found
	}
	return false
}

func planPip(dir, platform string) (*BuildPlan, error) {
	python, err := probeTool("python", "python3", "python")
	if err != nil {
		return nil, err
	}
	return &BuildPlan{
		System: "pip",
		Steps:  []string{fmt.Sprintf(`%s -m pip install . --target "{PREFIX}" --upgrade`, python)},
	}, nil
}

func planPipRequirements(dir, platform string) (*BuildPlan, error) {
	python, err := probeTool("python", "python3", "python")
	if err != nil {
		return nil, err
	}
	return &BuildPlan{
		System: "pip",
		Steps:  []string{fmt.Sprintf(`%s -m pip install -r requirements.txt --target "{PREFIX}"`, python)},
	}, nil
}

func planNpm(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("npm", "npm"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System: "npm",
		Steps:  []string{"npm install", "npm run build || true"},
	}, nil
}

func planGem(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("gem", "gem"); err != nil {
		return nil, err
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.gemspec"))
	gemspec := filepath.Base(matches[0])
	return &BuildPlan{
		System: "gem",
		Steps: []string{
			fmt.Sprintf("gem build %s", gemspec),
			`gem install *.gem --install-dir "{PREFIX}" --bindir "{PREFIX}/bin" --no-document`,
		},
	}, nil
}

func planSwift(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("swift", "swift"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System:     "swiftpm",
		Steps:      []string{"swift build -c release"},
		ReleaseDir: filepath.Join(".build", "release"),
	}, nil
}

func planMaven(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("maven", "mvn"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System:     "maven",
		Steps:      []string{"mvn package"},
		ReleaseDir: "target",
	}, nil
}

func planGradle(dir, platform string) (*BuildPlan, error) {
	gradle := "gradle"
	if fileExists(dir, "gradlew") {
		gradle = "./gradlew"
	} else if _, err := probeTool("gradle", "gradle"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System:     "gradle",
		Steps:      []string{gradle + " build"},
		ReleaseDir: filepath.Join("build", "libs"),
	}, nil
}

func planDotnet(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("dotnet", "dotnet"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System: "dotnet",
		Steps:  []string{`dotnet publish -c Release -o "{PREFIX}"`},
	}, nil
}

func planZig(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("zig", "zig"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System:     "zig",
		Steps:      []string{"zig build -Drelease-safe"},
		ReleaseDir: filepath.Join("zig-out", "bin"),
	}, nil
}

// makeFallbacks is the fixed candidate order for make-driven builds. On
// Windows the MinGW and MSVC variants are worth probing after GNU make.
func makeFallbacks(platform string) []string {
	if platform == "windows" {
		return []string{"make", "gmake", "mingw32-make", "nmake"}
	}
	return []string{"make", "gmake"}
}

func planAutotools(dir, platform string) (*BuildPlan, error) {
	makeBin, err := probeTool("make", makeFallbacks(platform)...)
	if err != nil {
		return nil, err
	}
	return &BuildPlan{
		System: "autotools",
		Steps: []string{
			`./configure --prefix="{PREFIX}"`,
			fmt.Sprintf("%s -j%s", makeBin, parallelJobs()),
			makeBin + " install",
		},
	}, nil
}

func planMake(dir, platform string) (*BuildPlan, error) {
	makeBin, err := probeTool("make", makeFallbacks(platform)...)
	if err != nil {
		return nil, err
	}

	jobs := "-j" + parallelJobs()
	if makeBin == "nmake" {
		// nmake has no -j
		jobs = ""
	}

	steps := []string{strings.TrimSpace(makeBin + " " + jobs)}
	if makefileHasInstallTarget(dir) {
		steps = append(steps, fmt.Sprintf(`%s install PREFIX="{PREFIX}"`, makeBin))
	}
	return &BuildPlan{System: "make", Steps: steps}, nil
}

// makefileHasInstallTarget scans the Makefile variants for an install rule.
// Projects without one get built and their artifacts collected generically.
func makefileHasInstallTarget(dir string) bool {
	for _, name := range []string{"Makefile", "GNUmakefile", "makefile"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		content := string(data)
		if strings.HasPrefix(content, "install:") || strings.Contains(content, "\ninstall:") {
			return true
		}
	}
	return false
}

func planCMake(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("cmake", "cmake"); err != nil {
		return nil, err
	}
	makeBin, err := probeTool("make", makeFallbacks(platform)...)
	if err != nil {
		return nil, err
	}
	jobs := parallelJobs()
	return &BuildPlan{
		System: "cmake",
		Steps: []string{
			"mkdir -p build",
			`cd build && cmake .. -DCMAKE_INSTALL_PREFIX="{PREFIX}"`,
			fmt.Sprintf("cd build && %s -j%s", makeBin, jobs),
			fmt.Sprintf("cd build && %s install", makeBin),
		},
	}, nil
}

func planNinja(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("ninja", "ninja", "samu"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System: "ninja",
		Steps: []string{
			fmt.Sprintf("ninja -j%s", parallelJobs()),
			"ninja install || true",
		},
	}, nil
}

func planMeson(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("meson", "meson"); err != nil {
		return nil, err
	}
	if _, err := probeTool("ninja", "ninja", "samu"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System: "meson",
		Steps: []string{
			"meson setup build",
			"ninja -C build",
			`ninja -C build install --destdir="{PREFIX}" || true`,
		},
	}, nil
}

func planScons(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("scons", "scons"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System: "scons",
		Steps: []string{
			`scons PREFIX="{PREFIX}"`,
			`scons install PREFIX="{PREFIX}" || true`,
		},
	}, nil
}

func planBazel(dir, platform string) (*BuildPlan, error) {
	if _, err := probeTool("bazel", "bazel", "bazelisk"); err != nil {
		return nil, err
	}
	return &BuildPlan{
		System:     "bazel",
		Steps:      []string{"bazel build //..."},
		ReleaseDir: "bazel-bin",
	}, nil
}

func planArchive(dir, platform string) (*BuildPlan, error) {
	archive := firstArchive(dir)
	return &BuildPlan{
		System:  "archive",
		Archive: archive,
	}, nil
}

// substitutePrefix renders a command template against the install prefix.
// Substitution is textual, with forward slashes to avoid shell escaping
// trouble; templates are never partially evaluated.
func substitutePrefix(step, prefix string) string {
	return strings.ReplaceAll(step, "{PREFIX}", filepath.ToSlash(prefix))
}
