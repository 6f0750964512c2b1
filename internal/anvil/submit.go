package anvil

import (
	"fmt"
	"net/url"
	"strings"
)

// Submit registers a repository in the local index overlay and prints a
// prefilled submission link for the shared central index. Duplicate
// submissions (same repository under cosmetic URL variants) are rejected
// before anything is written.
func (a *Anvil) Submit(name, repoURL, description string) error {
	if name == "" || repoURL == "" {
		return fmt.Errorf("submit requires a package name and a repository URL")
	}
	normalized := NormalizeURL(repoURL)

	added, err := a.Index.Insert(IndexEntry{
		Name:        name,
		URL:         repoURL,
		Description: description,
		Origin:      OriginLocal,
	})
	if err != nil {
		return err
	}
	if !added {
		colArrow.Print("-> ")
		colNote.Printf("Repository %s is already indexed\n", normalized)
		return nil
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Added %s to the local index\n", name)

	colArrow.Print("-> ")
	colInfo.Printf("Propose it for the shared index:\n   %s\n", submissionLink(name, normalized, description))
	return nil
}

// submissionLink builds a prefilled new-issue link against the central
// index repository.
func submissionLink(name, normalized, description string) string {
	base := strings.TrimSuffix(centralIndexURL, ".git")
	body := fmt.Sprintf("Package: %s\nRepository: %s\n", name, normalized)
	if description != "" {
		body += "Description: " + description + "\n"
	}
	q := url.Values{}
	q.Set("title", "Add package: "+name)
	q.Set("body", body)
	q.Set("labels", "package-submission")
	return base + "/issues/new?" + q.Encode()
}
