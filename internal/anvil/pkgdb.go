package anvil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// recordFile is the per-package record kept inside the install directory.
// Its presence is what makes a package "installed"; bin entries whose
// target has no record are orphans for housekeeping to reap.
const recordFile = ".anvil-record.json"

// InstalledPackage records one successful forge.
type InstalledPackage struct {
	Name           string    `json:"name"`
	Version        string    `json:"version,omitempty"`
	InstallPath    string    `json:"install_path"`
	Binaries       []string  `json:"binaries,omitempty"` // linked paths in the bin directory
	SourceURL      string    `json:"source_url,omitempty"`
	SourceChecksum string    `json:"source_checksum,omitempty"`
	BuildSystem    string    `json:"build_system,omitempty"`
	InstalledAt    time.Time `json:"installed_at"`
}

// installDir returns the package's directory under opt.
func (a *Anvil) installDir(name string) string {
	return filepath.Join(a.OptDir, name)
}

// readRecord loads a package's record, or nil when the package is not
// installed or its record is unreadable.
func (a *Anvil) readRecord(name string) *InstalledPackage {
	data, err := os.ReadFile(filepath.Join(a.installDir(name), recordFile))
	if err != nil {
		return nil
	}
	var rec InstalledPackage
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}

// writeRecord persists a record into the given directory (normally the
// staging dir, so the record lands atomically with the install swap).
func writeRecord(dir string, rec *InstalledPackage) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, recordFile), data, 0o644)
}

// IsInstalled reports whether a valid record exists for the package.
func (a *Anvil) IsInstalled(name string) bool {
	return a.readRecord(name) != nil
}

// InstalledPackages returns all records, sorted by name.
func (a *Anvil) InstalledPackages() []*InstalledPackage {
	entries, err := os.ReadDir(a.OptDir)
	if err != nil {
		return nil
	}
	var out []*InstalledPackage
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if rec := a.readRecord(e.Name()); rec != nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
