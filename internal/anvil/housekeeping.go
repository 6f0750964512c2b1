package anvil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// HousekeepingResult reports what a maintenance pass reclaimed.
type HousekeepingResult struct {
	RemovedWorkspaces     []string
	RemovedOrphanBinaries []string
}

// Housekeeping reclaims abandoned build workspaces and orphaned bin links.
// Workspaces still owned by a live forge operation hold their lock and are
// left alone, so a maintenance pass is safe to run at any time.
func (a *Anvil) Housekeeping() (*HousekeepingResult, error) {
	res := &HousekeepingResult{}

	colArrow.Print("-> ")
	colSuccess.Println("Running housekeeping")

	entries, err := os.ReadDir(a.BuildDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ws := filepath.Join(a.BuildDir, entry.Name())
		if !a.reclaimWorkspace(ws) {
			debugf("Workspace %s is in use, skipping\n", ws)
			continue
		}
		res.RemovedWorkspaces = append(res.RemovedWorkspaces, ws)
	}

	binEntries, err := os.ReadDir(a.BinDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range binEntries {
		link := filepath.Join(a.BinDir, entry.Name())
		if !a.isOrphanBinary(link) {
			continue
		}
		if err := os.Remove(link); err != nil {
			cPrintf(colWarn, "Failed to remove orphan %s: %v\n", link, err)
			continue
		}
		res.RemovedOrphanBinaries = append(res.RemovedOrphanBinaries, link)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Housekeeping removed %d workspaces and %d orphan binaries\n",
		len(res.RemovedWorkspaces), len(res.RemovedOrphanBinaries))
	return res, nil
}

// reclaimWorkspace removes a workspace if no forge operation owns it.
// Taking the lock proves the owner is gone; a held lock means in-flight.
func (a *Anvil) reclaimWorkspace(ws string) bool {
	lock := flock.New(filepath.Join(ws, workspaceLockFile))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return false
	}
	defer lock.Unlock()
	if err := a.safeRemoveAll(ws); err != nil {
		cPrintf(colWarn, "Failed to remove workspace %s: %v\n", ws, err)
		return false
	}
	return true
}

// isOrphanBinary reports whether a bin entry no longer corresponds to any
// installed package: a dangling symlink, a symlink escaping the opt tree,
// or a symlink into an install directory with no package record.
func (a *Anvil) isOrphanBinary(link string) bool {
	target, err := os.Readlink(link)
	if err != nil {
		// Regular files dropped into bin by hand are not ours to manage.
		return false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	target = filepath.Clean(target)

	if _, err := os.Stat(target); err != nil {
		return true
	}
	optPrefix := a.OptDir + string(filepath.Separator)
	if !strings.HasPrefix(target, optPrefix) {
		return false
	}
	rel := strings.TrimPrefix(target, optPrefix)
	name := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	if strings.HasPrefix(name, ".stage-") || strings.Contains(name, ".old-") {
		return true
	}
	return a.readRecord(name) == nil
}
