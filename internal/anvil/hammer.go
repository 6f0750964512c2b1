package anvil

import (
	"fmt"
	"os"
	"path/filepath"
)

// A hammer is a user-added formula repository layered on top of the
// central index: a git repo carrying an index.json plus one JSON formula
// per package. Hammers live under their own directory each and are synced
// together with the central index on update.

// AddHammer clones a formula repository under the given name and merges its
// entries into the index view. An empty name derives one from the URL.
func (a *Anvil) AddHammer(name, repoURL string) error {
	if name == "" {
		name = repoNameFromURL(repoURL)
	}
	if name == "" {
		return fmt.Errorf("cannot derive a hammer name from %q", repoURL)
	}
	dest := filepath.Join(a.HammersDir, name)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("hammer %q already exists", name)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Adding hammer %s from %s\n", name, repoURL)
	if err := gitClone(a.Exec, repoURL, dest); err != nil {
		_ = a.safeRemoveAll(dest)
		return fmt.Errorf("failed to clone hammer %s: %w", name, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "index.json")); err != nil {
		colArrow.Print("-> ")
		colWarn.Printf("Hammer %s has no index.json; its formulas are still usable by name\n", name)
	}
	return a.Index.reload()
}

// RemoveHammer deletes a hammer and drops its entries from the index view.
func (a *Anvil) RemoveHammer(name string) error {
	dest := filepath.Join(a.HammersDir, name)
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("hammer %q not found", name)
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Removing hammer %s\n", name)
	if err := a.safeRemoveAll(dest); err != nil {
		return err
	}
	return a.Index.reload()
}

// Hammers returns the names of the installed hammers, if any.
func (a *Anvil) Hammers() []string {
	entries, err := os.ReadDir(a.HammersDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names
}

// PrintRepos lists the configured index sources: the central index and
// every hammer.
func (a *Anvil) PrintRepos() {
	colArrow.Print("-> ")
	colSuccess.Println("Index sources:")
	fmt.Printf("  central  %s\n", centralIndexURL)
	for _, name := range a.Hammers() {
		url := gitRemoteOrigin(filepath.Join(a.HammersDir, name))
		if url == "" {
			url = "(no remote)"
		}
		fmt.Printf("  hammer   %s  %s\n", name, url)
	}
}
