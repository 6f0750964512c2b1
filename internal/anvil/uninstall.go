package anvil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Uninstall removes an installed package: first the bin links that resolve
// into its install tree, then the tree itself.
func (a *Anvil) Uninstall(name string) error {
	install := a.installDir(name)
	rec := a.readRecord(name)
	if rec == nil {
		if _, err := os.Stat(install); err != nil {
			return fmt.Errorf("package %q: %w", name, errPackageNotFound)
		}
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Uninstalling %s\n", name)

	removed := 0
	if rec != nil {
		for _, link := range rec.Binaries {
			if a.removeOwnedLink(link, install) {
				removed++
			}
		}
	}
	// Links not listed in the record (older installs, manual relinks) are
	// still ours if they resolve into the install tree.
	entries, err := os.ReadDir(a.BinDir)
	if err == nil {
		for _, entry := range entries {
			link := filepath.Join(a.BinDir, entry.Name())
			if a.removeOwnedLink(link, install) {
				removed++
			}
		}
	}
	debugf("Removed %d bin links for %s\n", removed, name)

	if err := a.safeRemoveAll(install); err != nil {
		return fmt.Errorf("failed to remove %s: %w", install, err)
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Uninstalled %s\n", name)
	return nil
}

// removeOwnedLink removes link if it is a symlink pointing into owner.
func (a *Anvil) removeOwnedLink(link, owner string) bool {
	target, err := os.Readlink(link)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	if !strings.HasPrefix(filepath.Clean(target), owner+string(filepath.Separator)) {
		return false
	}
	if err := os.Remove(link); err != nil {
		cPrintf(colWarn, "Failed to remove link %s: %v\n", link, err)
		return false
	}
	return true
}
