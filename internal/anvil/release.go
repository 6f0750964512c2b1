package anvil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
)

// releaseAPIBase is the GitHub API root for release lookups. Package-level
// so tests can point it at a local server.
var releaseAPIBase = "https://api.github.com/repos"

type releaseAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

type releaseInfo struct {
	TagName string         `json:"tag_name"`
	Assets  []releaseAsset `json:"assets"`
}

var githubRepoPattern = regexp.MustCompile(`github\.com[:/]+([^/]+)/([^/.]+)`)

// githubOwnerRepo extracts "owner/repo" from a GitHub locator in any
// notation, or "" when the locator is not a GitHub repository.
func githubOwnerRepo(target string) string {
	m := githubRepoPattern.FindStringSubmatch(target)
	if m == nil {
		return ""
	}
	return m[1] + "/" + m[2]
}

// platformAssetTokens are the substrings that mark a release asset as a
// prebuilt for the running platform.
func platformAssetTokens() []string {
	tokens := []string{runtime.GOOS, runtime.GOARCH, "x86_64", "x64", "amd64"}
	switch runtime.GOOS {
	case "windows":
		tokens = append(tokens, "win", ".exe", ".zip")
	case "darwin":
		tokens = append(tokens, "mac", ".tar.gz", ".zip")
	default:
		tokens = append(tokens, "linux", ".tar.gz", ".tar.xz", ".tgz")
	}
	return tokens
}

func assetMatchesPlatform(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, tok := range platformAssetTokens() {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// latestReleaseAsset queries the repository's latest release for a
// platform-matching asset. Conservative on purpose: any network or parse
// problem returns nil and the forge builds from source.
func latestReleaseAsset(repoURL string) *releaseAsset {
	ownerRepo := githubOwnerRepo(repoURL)
	if ownerRepo == "" {
		return nil
	}

	req, err := http.NewRequest(http.MethodGet, releaseAPIBase+"/"+ownerRepo+"/releases/latest", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", "anvil-release-check/1.0")
	if token := os.Getenv("GITHUB_TOKEN"); token == "" {
		if token = os.Getenv("GH_TOKEN"); token != "" {
			req.Header.Set("Authorization", "token "+token)
		}
	} else {
		req.Header.Set("Authorization", "token "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		debugf("Release check failed for %s: %v\n", ownerRepo, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		debugf("Release check for %s returned %s\n", ownerRepo, resp.Status)
		return nil
	}

	var rel releaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		debugf("Release check parse error for %s: %v\n", ownerRepo, err)
		return nil
	}
	for _, asset := range rel.Assets {
		if asset.DownloadURL != "" && assetMatchesPlatform(asset.Name) {
			return &asset
		}
	}
	return nil
}

// forgeFromRelease tries to satisfy a forge with a prebuilt release asset
// instead of a source build. Returns false whenever no suitable asset
// exists or anything goes wrong; the caller then builds from source.
func (a *Anvil) forgeFromRelease(src forgeSource) (*InstalledPackage, bool) {
	if !a.ReleaseCheck || src.url == "" {
		return nil, false
	}
	asset := latestReleaseAsset(src.url)
	if asset == nil {
		return nil, false
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Found prebuilt release asset %s; skipping build\n", asset.Name)

	cached, sum, err := a.downloadArchive(asset.DownloadURL)
	if err != nil {
		cPrintf(colWarn, "Release asset download failed; building from source: %v\n", err)
		return nil, false
	}

	stage := filepath.Join(a.OptDir, fmt.Sprintf(".stage-%s-%s", src.name, shortID()))
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, false
	}
	if isArchiveName(asset.Name) {
		err = extractArchive(cached, stage)
	} else {
		// A bare binary asset installs straight into bin.
		err = copyFile(cached, filepath.Join(stage, "bin", asset.Name), 0o755)
	}
	if err != nil {
		_ = a.safeRemoveAll(stage)
		cPrintf(colWarn, "Release asset unpack failed; building from source: %v\n", err)
		return nil, false
	}

	rec := &InstalledPackage{
		Name:           src.name,
		InstallPath:    a.installDir(src.name),
		SourceURL:      src.url,
		SourceChecksum: sum,
		BuildSystem:    "release",
		InstalledAt:    time.Now().UTC(),
	}
	if err := writeRecord(stage, rec); err != nil {
		_ = a.safeRemoveAll(stage)
		return nil, false
	}
	if err := a.swapInstall(src.name, stage, rec); err != nil {
		_ = a.safeRemoveAll(stage)
		cPrintf(colWarn, "Release install failed; building from source: %v\n", err)
		return nil, false
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Installed prebuilt release for %s\n", src.name)
	a.maybeAutoSubmit(src)
	return rec, true
}
