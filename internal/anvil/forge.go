package anvil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// workspaceLockFile marks a build workspace as owned by an in-flight forge
// operation. Housekeeping only reclaims workspaces whose lock it can take.
const workspaceLockFile = ".anvil-lock"

func platformKey() string {
	return runtime.GOOS
}

// forgeSource is a resolved locator: where the package comes from and what
// it is called.
type forgeSource struct {
	name      string
	url       string // remote locator, "" for a pure local tree
	localPath string // set when forging a local directory in place
	kind      SourceType
}

// Forge acquires, builds and links one package. The locator may be an
// index name, a git or archive URL, or a local directory path.
func (a *Anvil) Forge(ctx context.Context, target string) (*InstalledPackage, error) {
	return a.forge(ctx, target, nil)
}

func (a *Anvil) forge(ctx context.Context, target string, stack []string) (*InstalledPackage, error) {
	src, formula, err := a.resolveTarget(target)
	if err != nil {
		return nil, err
	}
	name := src.name

	// Cycle detection happens on the resolution path, so a cyclic graph
	// dies before any build command has run anywhere in the tree.
	if slices.Contains(stack, name) {
		return nil, &DependencyCycleError{Chain: append(append([]string(nil), stack...), name)}
	}

	// Dependencies already installed are skipped; re-forging is only for
	// the package the user actually named.
	if len(stack) > 0 {
		if rec := a.readRecord(name); rec != nil {
			debugf("Dependency %s already installed, skipping\n", name)
			return rec, nil
		}
	}

	// A platform-matching prebuilt release beats building from source.
	if rec, ok := a.forgeFromRelease(src); ok {
		return rec, nil
	}

	colArrow.Print("-> ")
	switch {
	case src.localPath != "":
		colSuccess.Printf("Local forge: %s from %s\n", name, src.localPath)
	case len(stack) > 0:
		colSuccess.Printf("Forging dependency: %s\n", name)
	default:
		colSuccess.Printf("Forging %s from %s\n", name, src.url)
	}

	ws, wsLock, err := a.newWorkspace(name)
	if err != nil {
		return nil, err
	}
	success := false
	defer func() {
		wsLock.Unlock()
		if success {
			if err := a.safeRemoveAll(ws); err != nil {
				colArrow.Print("-> ")
				colWarn.Printf("Failed to clean workspace: %v\n", err)
			}
		} else {
			colArrow.Print("-> ")
			colNote.Printf("Workspace preserved for inspection: %s\n", ws)
		}
	}()

	// --- Step 1: acquire the source tree ---
	sourceDir := src.localPath
	checksum := ""
	switch src.kind {
	case SourceLocal:
		// Local trees are built in place, never copied.
	case SourceArchive:
		cached, sum, err := a.downloadArchive(src.url)
		if err != nil {
			return nil, err
		}
		checksum = sum
		sourceDir = filepath.Join(ws, name)
		if err := extractArchive(cached, sourceDir); err != nil {
			return nil, err
		}
	default:
		sourceDir = filepath.Join(ws, name)
		if err := gitClone(a.Exec, src.url, sourceDir); err != nil {
			return nil, err
		}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("forge aborted: %w", ctx.Err())
	}

	// --- Step 2: resolve the formula ---
	// An explicit formula inside the source tree is authoritative, even
	// over an indexed one; a malformed one is fatal with no heuristic
	// fallback.
	if path := findExplicitFormula(sourceDir); path != "" {
		explicit, err := LoadFormula(path)
		if err != nil {
			return nil, err
		}
		formula = explicit
	}

	// --- Step 3: dependencies, depth-first ---
	if formula != nil {
		for _, dep := range formula.Dependencies {
			if _, err := a.forge(ctx, dep, append(stack, name)); err != nil {
				return nil, fmt.Errorf("dependency %s of %s: %w", dep, name, err)
			}
		}
	}

	// --- Step 4: build plan ---
	var plan *BuildPlan
	if formula != nil && formula.HasBuild() {
		plan = &BuildPlan{
			System:   "formula",
			Steps:    formula.Steps(platformKey()),
			Binaries: append([]string(nil), formula.Binaries...),
			ForcePIC: formula.ForcePIC,
		}
	} else {
		plan, err = Detect(sourceDir, platformKey())
		if err != nil {
			return nil, err
		}
	}

	// --- Step 5: execute the build into a staging prefix ---
	stage := filepath.Join(a.OptDir, fmt.Sprintf(".stage-%s-%s", name, shortID()))
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, err
	}
	defer func() {
		if !success {
			_ = a.safeRemoveAll(stage)
		}
	}()

	if plan.Archive != "" {
		colArrow.Print("-> ")
		colSuccess.Printf("Unpacking archive %s\n", filepath.Base(plan.Archive))
		if err := extractArchive(plan.Archive, stage); err != nil {
			return nil, err
		}
	}

	if err := a.runBuildSteps(ctx, plan, sourceDir, stage); err != nil {
		return nil, err
	}

	// --- Step 6: locate artifacts ---
	found, err := collectArtifacts(sourceDir, stage, plan)
	if err != nil {
		return nil, err
	}
	if found == 0 {
		return nil, ErrNoArtifacts
	}

	// --- Step 7: record and swap ---
	rec := &InstalledPackage{
		Name:           name,
		InstallPath:    a.installDir(name),
		SourceURL:      src.url,
		SourceChecksum: checksum,
		BuildSystem:    plan.System,
		InstalledAt:    time.Now().UTC(),
	}
	if formula != nil {
		rec.Version = formula.Version
	}
	if err := writeRecord(stage, rec); err != nil {
		return nil, err
	}
	if err := a.swapInstall(name, stage, rec); err != nil {
		return nil, err
	}
	success = true

	colArrow.Print("-> ")
	colSuccess.Printf("Successfully forged %s\n", name)

	// Auto-submission is a post-forge convenience; its failure never
	// unwinds the install.
	a.maybeAutoSubmit(src)

	return rec, nil
}

// runBuildSteps executes the plan's command sequence in order, each command
// run to completion before the next. A non-zero exit aborts the sequence;
// effects already on disk are the build tool's own state and stay put.
func (a *Anvil) runBuildSteps(ctx context.Context, plan *BuildPlan, sourceDir, stage string) error {
	execCtx := a.Exec
	if a.BuildTimeout > 0 {
		execCtx = execCtx.WithTimeout(a.BuildTimeout)
	}
	env := buildEnv(stage, plan.ForcePIC || a.ForcePIC)

	for _, step := range plan.Steps {
		rendered := substitutePrefix(step, stage)
		colArrow.Print("-> ")
		colInfo.Printf("Running: %s\n", rendered)

		var stderrBuf bytes.Buffer
		cmd := exec.Command("sh", "-c", rendered)
		cmd.Dir = sourceDir
		cmd.Env = env
		cmd.Stdout = os.Stdout
		cmd.Stderr = io.MultiWriter(os.Stderr, &stderrBuf)

		if err := execCtx.Run(cmd); err != nil {
			if errors.Is(err, ErrBuildTimeout) {
				return err
			}
			if ctx.Err() != nil {
				return fmt.Errorf("build cancelled: %w", ctx.Err())
			}
			for _, hint := range picSuggestions(stderrBuf.String()) {
				colArrow.Print("-> ")
				colWarn.Println(hint)
			}
			exitCode := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
			return &BuildCommandFailed{Command: rendered, ExitCode: exitCode}
		}
	}
	return nil
}

// swapInstall atomically replaces the installed tree with the staged one:
// either the new record fully replaces the old, or the old remains
// untouched. Stale bin links from a replaced version are cleaned up after
// re-linking.
func (a *Anvil) swapInstall(name, stage string, rec *InstalledPackage) error {
	install := a.installDir(name)
	oldRec := a.readRecord(name)

	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	backup := ""
	if _, err := os.Stat(install); err == nil {
		backup = install + ".old-" + shortID()
		if err := os.Rename(install, backup); err != nil {
			return fmt.Errorf("failed to stage replacement of %s: %w", name, err)
		}
	}
	if err := os.Rename(stage, install); err != nil {
		if backup != "" {
			_ = os.Rename(backup, install)
		}
		return fmt.Errorf("failed to install %s: %w", name, err)
	}
	if backup != "" {
		if err := a.safeRemoveAll(backup); err != nil {
			colArrow.Print("-> ")
			colWarn.Printf("Failed to remove previous install: %v\n", err)
		}
	}

	linked, err := a.linkBinaries(name)
	if err != nil {
		return err
	}
	rec.Binaries = linked

	// Links owned by the previous version that the new one no longer
	// provides are dangling now; drop them.
	if oldRec != nil {
		for _, old := range oldRec.Binaries {
			if slices.Contains(linked, old) {
				continue
			}
			if _, err := os.Stat(old); err != nil {
				_ = os.Remove(old)
			}
		}
	}

	return writeRecord(install, rec)
}

// maybeAutoSubmit adds a freshly forged repository to the local index and
// prints a submission reference when it is not indexed yet.
func (a *Anvil) maybeAutoSubmit(src forgeSource) {
	if !a.AutoSubmit {
		return
	}
	url := src.url
	if src.kind == SourceLocal {
		url = gitRemoteOrigin(src.localPath)
	}
	if url == "" || a.Index.HasURL(url) {
		return
	}
	colArrow.Print("-> ")
	colNote.Printf("Repository %s is not indexed yet; submitting\n", url)
	if err := a.Submit(src.name, url, ""); err != nil {
		colArrow.Print("-> ")
		colWarn.Printf("Auto submission failed; continuing: %v\n", err)
	}
}

// resolveTarget maps a locator onto a source: URL, local directory, or
// index name (in that order, matching how ambiguity is broken for users).
func (a *Anvil) resolveTarget(target string) (forgeSource, *Formula, error) {
	if isRemoteURL(target) {
		kind := SourceGit
		if isArchiveName(target) {
			kind = SourceArchive
		}
		src := forgeSource{name: repoNameFromURL(target), url: target, kind: kind}
		// An indexed repository forged by URL still gets its stored formula.
		if entry, ok := a.Index.LookupByURL(target); ok {
			src.name = entry.Name
			formula, err := a.Index.LookupFormula(entry.Name)
			if err != nil {
				return forgeSource{}, nil, err
			}
			return src, formula, nil
		}
		return src, nil, nil
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		abs, err := filepath.Abs(target)
		if err != nil {
			return forgeSource{}, nil, err
		}
		return forgeSource{name: filepath.Base(abs), localPath: abs, kind: SourceLocal}, nil, nil
	}

	entry, err := a.Index.Lookup(target)
	if err != nil {
		return forgeSource{}, nil, fmt.Errorf("package %q: %w", target, err)
	}
	formula, err := a.Index.LookupFormula(target)
	if err != nil {
		// A malformed stored formula is as fatal as a malformed explicit one.
		return forgeSource{}, nil, err
	}

	src := forgeSource{name: entry.Name, url: entry.URL, kind: SourceGit}
	if formula != nil {
		if formula.URL != "" {
			src.url = formula.URL
		}
		if formula.Path != "" {
			src.localPath = formula.Path
		}
		src.kind = formula.SourceKind()
	} else if isArchiveName(src.url) {
		src.kind = SourceArchive
	}
	return src, formula, nil
}

func isRemoteURL(target string) bool {
	return strings.HasPrefix(target, "http://") ||
		strings.HasPrefix(target, "https://") ||
		strings.HasPrefix(target, "git@") ||
		strings.HasPrefix(target, "ssh://")
}

// repoNameFromURL derives a package name from a repository or archive URL.
func repoNameFromURL(url string) string {
	name := url
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	} else if idx := strings.LastIndex(name, ":"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSuffix(name, ".git")
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	return name
}

// newWorkspace creates a uniquely named scratch directory for one forge
// operation and takes its ownership lock. Workspace names are never reused,
// so housekeeping can tell an abandoned workspace from a live one.
func (a *Anvil) newWorkspace(name string) (string, *flock.Flock, error) {
	ws := filepath.Join(a.BuildDir, name+"-"+shortID())
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return "", nil, err
	}
	lock := flock.New(filepath.Join(ws, workspaceLockFile))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return "", nil, fmt.Errorf("failed to take workspace lock for %s: %v", ws, err)
	}
	return ws, lock, nil
}

func shortID() string {
	return uuid.NewString()[:8]
}
