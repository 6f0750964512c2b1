package anvil

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// IndexEntry represents one known package source in the index.
type IndexEntry struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	NormalizedURL string `json:"normalized_url,omitempty"`
	Description   string `json:"description,omitempty"`
	Origin        string `json:"origin,omitempty"`
}

const (
	OriginCentral = "central"
	OriginLocal   = "local"
)

// Valid reports whether an entry is well-formed enough to keep. Repair
// drops everything else.
func (e IndexEntry) Valid() bool {
	return e.Name != "" && e.URL != ""
}

// RepoIndex is the persistent catalog of known formulas. The backing store
// is plain JSON files: index.json inside the central index clone, local.json
// for user additions, and one index.json per hammer. The merged in-memory
// view is safe for concurrent readers; mutation takes an advisory file lock
// so independent forge operations never corrupt the store.
type RepoIndex struct {
	dir        string
	hammersDir string
	lock       *flock.Flock

	mu      sync.RWMutex
	entries []IndexEntry
	byName  map[string]int
	byURL   map[string]int // keyed on normalized URL
}

// The central clone lives in its own subdirectory so the index dir itself
// can hold the lock file and the local overlay without tripping git clone.
func (idx *RepoIndex) centralDir() string  { return filepath.Join(idx.dir, "central") }
func (idx *RepoIndex) centralPath() string { return filepath.Join(idx.centralDir(), "index.json") }
func (idx *RepoIndex) localPath() string   { return filepath.Join(idx.dir, "local.json") }

// OpenRepoIndex loads the merged index view from dir and the hammer tree.
func OpenRepoIndex(dir, hammersDir string) (*RepoIndex, error) {
	idx := &RepoIndex{
		dir:        dir,
		hammersDir: hammersDir,
		lock:       flock.New(filepath.Join(dir, "index.lock")),
	}
	if err := idx.reload(); err != nil {
		return nil, err
	}
	return idx, nil
}

func readEntryFile(path string) ([]IndexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func writeEntryFile(path string, entries []IndexEntry) error {
	if entries == nil {
		entries = []IndexEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// backingFiles lists every store file with the origin its entries get.
// Central first: local entries never shadow central ones.
func (idx *RepoIndex) backingFiles() [][2]string {
	files := [][2]string{
		{idx.centralPath(), OriginCentral},
		{idx.localPath(), OriginLocal},
	}
	hammers, _ := os.ReadDir(idx.hammersDir)
	for _, h := range hammers {
		if h.IsDir() {
			files = append(files, [2]string{filepath.Join(idx.hammersDir, h.Name(), "index.json"), OriginLocal})
		}
	}
	return files
}

// reload rebuilds the merged view. Unreadable store files are skipped here;
// Repair is the place that removes them.
func (idx *RepoIndex) reload() error {
	if err := idx.lock.RLock(); err == nil {
		defer idx.lock.Unlock()
	}

	var merged []IndexEntry
	byName := make(map[string]int)
	byURL := make(map[string]int)

	for _, file := range idx.backingFiles() {
		entries, err := readEntryFile(file[0])
		if err != nil {
			debugf("Skipping unreadable index file %s: %v\n", file[0], err)
			continue
		}
		for _, e := range entries {
			if !e.Valid() {
				continue
			}
			e.Origin = file[1]
			if e.NormalizedURL == "" {
				e.NormalizedURL = NormalizeURL(e.URL)
			}
			if _, dup := byURL[e.NormalizedURL]; dup {
				continue
			}
			merged = append(merged, e)
			byURL[e.NormalizedURL] = len(merged) - 1
			if _, taken := byName[e.Name]; !taken {
				byName[e.Name] = len(merged) - 1
			}
		}
	}

	idx.mu.Lock()
	idx.entries = merged
	idx.byName = byName
	idx.byURL = byURL
	idx.mu.Unlock()
	return nil
}

// Lookup returns the entry for a package name.
func (idx *RepoIndex) Lookup(name string) (IndexEntry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if i, ok := idx.byName[name]; ok {
		return idx.entries[i], nil
	}
	return IndexEntry{}, errPackageNotFound
}

// HasURL reports whether a locator is already indexed, in any notation.
func (idx *RepoIndex) HasURL(url string) bool {
	_, ok := idx.LookupByURL(url)
	return ok
}

// LookupByURL finds the entry for a repository locator, in any notation.
func (idx *RepoIndex) LookupByURL(url string) (IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if i, ok := idx.byURL[NormalizeURL(url)]; ok {
		return idx.entries[i], true
	}
	return IndexEntry{}, false
}

// Insert adds an entry to the local store. Keyed on the normalized URL:
// inserting an equivalent locator twice is a no-op, not an error. Returns
// whether the entry was actually added.
func (idx *RepoIndex) Insert(entry IndexEntry) (bool, error) {
	if !entry.Valid() {
		return false, fmt.Errorf("index entry needs a name and a url")
	}
	entry.NormalizedURL = NormalizeURL(entry.URL)
	entry.Origin = OriginLocal

	if err := idx.lock.Lock(); err != nil {
		return false, fmt.Errorf("failed to lock index: %w", err)
	}
	defer idx.lock.Unlock()

	idx.mu.RLock()
	_, dup := idx.byURL[entry.NormalizedURL]
	idx.mu.RUnlock()
	if dup {
		return false, nil
	}

	local, err := readEntryFile(idx.localPath())
	if err != nil {
		// Corrupt local store; start over rather than failing the insert.
		debugf("Resetting unreadable local index: %v\n", err)
		local = nil
	}
	for _, e := range local {
		if NormalizeURL(e.URL) == entry.NormalizedURL {
			return false, nil
		}
	}
	local = append(local, entry)
	if err := writeEntryFile(idx.localPath(), local); err != nil {
		return false, err
	}

	idx.mu.Lock()
	idx.entries = append(idx.entries, entry)
	idx.byURL[entry.NormalizedURL] = len(idx.entries) - 1
	if _, taken := idx.byName[entry.Name]; !taken {
		idx.byName[entry.Name] = len(idx.entries) - 1
	}
	idx.mu.Unlock()
	return true, nil
}

// List returns all entries sorted by name.
func (idx *RepoIndex) List() []IndexEntry {
	idx.mu.RLock()
	out := append([]IndexEntry(nil), idx.entries...)
	idx.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search returns entries whose name or description contains the term.
func (idx *RepoIndex) Search(term string) []IndexEntry {
	term = strings.ToLower(term)
	var out []IndexEntry
	idx.mu.RLock()
	for _, e := range idx.entries {
		if strings.Contains(strings.ToLower(e.Name), term) ||
			strings.Contains(strings.ToLower(e.Description), term) {
			out = append(out, e)
		}
	}
	idx.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Repair scans the backing store for malformed files and entries, removes
// them and returns how many entries were dropped. Repair never fails an
// update cycle; callers treat its errors as log-only.
func (idx *RepoIndex) Repair() (int, error) {
	if err := idx.lock.Lock(); err != nil {
		return 0, fmt.Errorf("failed to lock index: %w", err)
	}

	removed := 0
	for _, file := range idx.backingFiles() {
		path := file[0]
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		entries, err := readEntryFile(path)
		if err != nil {
			// Whole file unreadable: count its loss as one removal and
			// reset it so the store parses again.
			debugf("Repair: resetting unreadable index file %s: %v\n", path, err)
			if werr := writeEntryFile(path, nil); werr != nil {
				idx.lock.Unlock()
				return removed, werr
			}
			removed++
			continue
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.Valid() {
				kept = append(kept, e)
			} else {
				removed++
			}
		}
		if len(kept) != len(entries) {
			if werr := writeEntryFile(path, kept); werr != nil {
				idx.lock.Unlock()
				return removed, werr
			}
		}
	}
	idx.lock.Unlock()

	return removed, idx.reload()
}

// Update syncs the central index clone and every hammer, then merges. Pull
// failures are tolerated (offline operation is normal); a repair failure is
// logged and never fails the update.
func (idx *RepoIndex) Update(execCtx *Executor, centralURL string) error {
	if _, err := os.Stat(filepath.Join(idx.centralDir(), ".git")); err == nil {
		colArrow.Print("-> ")
		colSuccess.Println("Syncing central index")
		pull := exec.Command("git", "-C", idx.centralDir(), "pull", "--ff-only")
		if err := execCtx.Run(pull); err != nil {
			colArrow.Print("-> ")
			colWarn.Printf("Central index pull failed: %v\n", err)
		}
	} else if centralURL != "" {
		colArrow.Print("-> ")
		colSuccess.Printf("Cloning central index from %s\n", centralURL)
		// Clone to the side and swap in, so a half-finished clone never
		// shadows an existing central tree.
		tmp := idx.centralDir() + ".cloning"
		_ = os.RemoveAll(tmp)
		clone := exec.Command("git", "clone", centralURL, tmp)
		if err := execCtx.Run(clone); err != nil {
			_ = os.RemoveAll(tmp)
			colArrow.Print("-> ")
			colWarn.Printf("Central index clone failed (offline?): %v\n", err)
		} else {
			_ = os.RemoveAll(idx.centralDir())
			if err := os.Rename(tmp, idx.centralDir()); err != nil {
				colArrow.Print("-> ")
				colWarn.Printf("Failed to move central index into place: %v\n", err)
			}
		}
	}

	hammers, _ := os.ReadDir(idx.hammersDir)
	for _, h := range hammers {
		if !h.IsDir() {
			continue
		}
		path := filepath.Join(idx.hammersDir, h.Name())
		if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Syncing hammer %s\n", h.Name())
		pull := exec.Command("git", "-C", path, "pull", "--ff-only")
		if err := execCtx.Run(pull); err != nil {
			colArrow.Print("-> ")
			colWarn.Printf("Hammer %s pull failed: %v\n", h.Name(), err)
		}
	}

	if removed, err := idx.Repair(); err != nil {
		colArrow.Print("-> ")
		colWarn.Printf("Index repair failed: %v\n", err)
	} else if removed > 0 {
		colArrow.Print("-> ")
		colNote.Printf("Index repair removed %d corrupt entries\n", removed)
	}

	return idx.reload()
}

// LookupFormula finds a full formula document for a package name: first in
// the hammers (<hammer>/<name>.json), then under formulas/ in the central
// index clone. Returns nil without error when none exists; the forge falls
// back to detection then.
func (idx *RepoIndex) LookupFormula(name string) (*Formula, error) {
	var candidates []string
	hammers, _ := os.ReadDir(idx.hammersDir)
	for _, h := range hammers {
		if h.IsDir() {
			candidates = append(candidates, filepath.Join(idx.hammersDir, h.Name(), name+".json"))
		}
	}
	candidates = append(candidates, filepath.Join(idx.centralDir(), "formulas", name+".json"))

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		f, err := LoadFormula(path)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, nil
}
