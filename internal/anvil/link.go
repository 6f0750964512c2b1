package anvil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// collectArtifacts locates build products under the source tree and the
// staged install prefix and copies them into place: executables into
// <stage>/bin, library artifacts into <stage>/lib. Returns how many
// artifacts were found; zero means the build produced nothing linkable and
// the forge must fail even though every command succeeded.
func collectArtifacts(sourceDir, stage string, plan *BuildPlan) (int, error) {
	if plan.LibraryOnly {
		return collectLibraries(sourceDir, stage, plan)
	}

	found := 0
	counted := make(map[string]bool)

	// Explicit binaries: search the staged prefix and the source tree for
	// files whose name matches. The match is on the exact basename, with
	// only Windows executable suffixes stripped; a stem match on arbitrary
	// extensions would let a stray source file (tool.c, tool.py) pass for
	// the product of a build that made nothing.
	wanted := make(map[string]bool, len(plan.Binaries))
	for _, b := range plan.Binaries {
		wanted[b] = true
	}
	if len(wanted) > 0 {
		for _, root := range []string{stage, sourceDir} {
			inStage := root == stage
			err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				base := d.Name()
				if !matchesBinaryName(wanted, base) {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil
				}
				// Outside the staged prefix only an executable file is
				// believable as a build product.
				if !inStage && !isExecutable(info) {
					return nil
				}
				dest := filepath.Join(stage, "bin", base)
				if path == dest {
					if !counted[base] {
						counted[base] = true
						found++
					}
					return nil
				}
				if err := copyFile(path, dest, info.Mode().Perm()|0o755); err != nil {
					return err
				}
				if !counted[base] {
					counted[base] = true
					found++
				}
				return nil
			})
			if err != nil {
				return found, err
			}
		}
	}

	// Release-output location: anything executable there is a product.
	if plan.ReleaseDir != "" {
		release := filepath.Join(sourceDir, plan.ReleaseDir)
		entries, _ := os.ReadDir(release)
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || !isExecutable(info) {
				continue
			}
			dest := filepath.Join(stage, "bin", e.Name())
			if err := copyFile(filepath.Join(release, e.Name()), dest, info.Mode().Perm()); err != nil {
				return found, err
			}
			if !counted[e.Name()] {
				counted[e.Name()] = true
				found++
			}
		}
	}

	// Whatever the install commands placed into the prefix counts too, once
	// per name.
	for _, path := range stagedExecutables(stage) {
		if base := filepath.Base(path); !counted[base] {
			counted[base] = true
			found++
		}
	}

	if found == 0 {
		// An install step may have populated the prefix with a purely
		// non-executable tree (modules, headers, data). That is still
		// output; only a genuinely empty prefix fails the forge.
		filepath.WalkDir(stage, func(path string, d os.DirEntry, err error) error {
			if err == nil && !d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
				found++
			}
			return nil
		})
	}

	return found, nil
}

// matchesBinaryName reports whether base names a wanted binary, exactly or
// with a Windows executable suffix.
func matchesBinaryName(wanted map[string]bool, base string) bool {
	if wanted[base] {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".exe", ".bat", ".cmd":
		return wanted[strings.TrimSuffix(base, filepath.Ext(base))]
	}
	return false
}

// collectLibraries gathers typed library artifacts from the release-output
// location into <stage>/lib. Library plans never touch the bin directory.
func collectLibraries(sourceDir, stage string, plan *BuildPlan) (int, error) {
	release := sourceDir
	if plan.ReleaseDir != "" {
		release = filepath.Join(sourceDir, plan.ReleaseDir)
	}
	libDir := filepath.Join(stage, "lib")

	var exts []string
	for _, class := range plan.Classes {
		exts = append(exts, class.Extensions()...)
	}

	found := 0
	entries, _ := os.ReadDir(release)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		for _, ext := range exts {
			if strings.HasSuffix(name, ext) {
				info, err := e.Info()
				if err != nil {
					break
				}
				if err := copyFile(filepath.Join(release, e.Name()), filepath.Join(libDir, e.Name()), info.Mode().Perm()); err != nil {
					return found, err
				}
				found++
				break
			}
		}
	}
	return found, nil
}

// stagedExecutables returns executables in the prefix's bin directory and
// directly at its root, deduplicated and sorted. Hidden files are skipped.
func stagedExecutables(stage string) []string {
	seen := make(map[string]string)
	for _, dir := range []string{filepath.Join(stage, "bin"), stage} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			info, err := e.Info()
			if err != nil || !isExecutable(info) {
				continue
			}
			if _, dup := seen[e.Name()]; !dup {
				seen[e.Name()] = filepath.Join(dir, e.Name())
			}
		}
	}
	out := make([]string, 0, len(seen))
	for _, path := range seen {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// linkBinaries symlinks every executable in the package's install prefix
// into the shared bin directory, replacing stale entries, and returns the
// created link paths for the package record.
func (a *Anvil) linkBinaries(name string) ([]string, error) {
	var linked []string
	for _, src := range stagedExecutables(a.installDir(name)) {
		dest := filepath.Join(a.BinDir, filepath.Base(src))
		_ = os.Remove(dest)
		if err := os.Symlink(src, dest); err != nil {
			return linked, err
		}
		debugf("Linked %s -> %s\n", dest, src)
		linked = append(linked, dest)
	}
	return linked, nil
}
