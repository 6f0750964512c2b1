package anvil

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for forge failures that carry no extra state.
var (
	// ErrNoBuildSystem means no detector matched the source tree.
	ErrNoBuildSystem = errors.New("no build system detected")

	// ErrNoArtifacts means the build commands succeeded but nothing
	// matching the expected binaries or library classes was produced.
	ErrNoArtifacts = errors.New("build produced no linkable artifacts")

	// ErrBuildTimeout means a build command exceeded the configured timeout
	// and its process group was terminated.
	ErrBuildTimeout = errors.New("build command timed out")
)

// FormulaParseError reports a malformed explicit formula file. It is fatal:
// an explicit formula is authoritative, so detection never falls back to
// heuristics after a parse failure.
type FormulaParseError struct {
	Path string
	Err  error
}

func (e *FormulaParseError) Error() string {
	return fmt.Sprintf("malformed formula %s: %v", e.Path, e.Err)
}

func (e *FormulaParseError) Unwrap() error { return e.Err }

// ToolNotFoundError reports that none of an ecosystem's candidate build
// tools were found on PATH.
type ToolNotFoundError struct {
	Ecosystem  string
	Candidates []string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("no build tool for %s found on PATH (tried: %s)",
		e.Ecosystem, strings.Join(e.Candidates, ", "))
}

// BuildCommandFailed reports a non-zero exit from a build step. The build
// workspace is preserved so the failure can be inspected.
type BuildCommandFailed struct {
	Command  string
	ExitCode int
}

func (e *BuildCommandFailed) Error() string {
	return fmt.Sprintf("build command failed with exit code %d: %s", e.ExitCode, e.Command)
}

// DependencyCycleError reports a cycle in the dependency graph. It is
// raised during resolution, before any build command runs.
type DependencyCycleError struct {
	Chain []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Chain, " -> "))
}
