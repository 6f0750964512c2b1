package anvil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FormulaFile is the explicit package descriptor looked for at the root of
// a source tree. When present it is authoritative: heuristic detection is
// bypassed entirely.
const FormulaFile = "anvil.json"

// SourceType tags a formula's source locator.
type SourceType string

const (
	SourceGit     SourceType = "git"
	SourceLocal   SourceType = "local"
	SourceArchive SourceType = "archive"
)

// Formula describes how to obtain and build one package. A Formula is
// immutable once loaded for a forge operation; re-detection never mutates a
// stored formula. Unknown JSON fields are ignored, not errors.
type Formula struct {
	Name         string     `json:"name"`
	Version      string     `json:"version,omitempty"`
	Description  string     `json:"description,omitempty"`
	URL          string     `json:"url,omitempty"`
	Path         string     `json:"path,omitempty"`
	Type         SourceType `json:"type,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Binaries     []string   `json:"binaries,omitempty"`

	// Build maps a platform key ("common", "windows", "android", ...) to an
	// ordered command sequence. "common" always applies; a platform entry
	// supplements it, or replaces it when PlatformOverride is set.
	Build            map[string][]string `json:"build,omitempty"`
	PlatformOverride bool                `json:"platform_override,omitempty"`

	ForcePIC bool `json:"force_pic,omitempty"`
}

// ParseFormula decodes a formula document. Decode failures and structural
// problems both surface as *FormulaParseError keyed on origin, which the
// caller reports as the offending file.
func ParseFormula(origin string, data []byte) (*Formula, error) {
	var f Formula
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &FormulaParseError{Path: origin, Err: err}
	}
	if err := f.validate(); err != nil {
		return nil, &FormulaParseError{Path: origin, Err: err}
	}
	return &f, nil
}

// LoadFormula reads and parses an explicit formula file.
func LoadFormula(path string) (*Formula, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FormulaParseError{Path: path, Err: err}
	}
	return ParseFormula(path, data)
}

func (f *Formula) validate() error {
	for _, dep := range f.Dependencies {
		if dep == f.Name && f.Name != "" {
			return fmt.Errorf("formula %q depends on itself", f.Name)
		}
	}
	for key, steps := range f.Build {
		if key == "" {
			return errors.New("empty platform key in build mapping")
		}
		for _, step := range steps {
			if strings.TrimSpace(step) == "" {
				return fmt.Errorf("empty build command under platform %q", key)
			}
		}
	}
	return nil
}

// SourceKind resolves the locator type, inferring it when the formula does
// not tag one: an explicit path is local, an archive-looking URL is an
// archive, anything else is a git repository.
func (f *Formula) SourceKind() SourceType {
	if f.Type != "" {
		return f.Type
	}
	if f.Path != "" {
		return SourceLocal
	}
	if isArchiveName(f.URL) {
		return SourceArchive
	}
	return SourceGit
}

// Steps returns the command sequence for the given platform key: the
// "common" sequence plus the platform-specific one, or the platform one
// alone when the formula declares it as a full override.
func (f *Formula) Steps(platform string) []string {
	common := f.Build["common"]
	plat := f.Build[platform]
	if len(plat) > 0 && f.PlatformOverride {
		return append([]string(nil), plat...)
	}
	steps := make([]string, 0, len(common)+len(plat))
	steps = append(steps, common...)
	steps = append(steps, plat...)
	return steps
}

// HasBuild reports whether the formula carries any explicit build plan.
func (f *Formula) HasBuild() bool {
	for _, steps := range f.Build {
		if len(steps) > 0 {
			return true
		}
	}
	return false
}

// findExplicitFormula returns the path of the formula file in dir, or ""
// when the source tree carries none.
func findExplicitFormula(dir string) string {
	path := filepath.Join(dir, FormulaFile)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return ""
}
