package anvil

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"
)

// hashString returns the BLAKE3 hex digest of a string, used for cache keys.
func hashString(s string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ComputeChecksum returns the BLAKE3 hex digest of a file's contents.
func ComputeChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// gitClone performs a shallow clone of url into dest.
func gitClone(execCtx *Executor, url, dest string) error {
	cmd := exec.Command("git", "clone", "--depth", "1", url, dest)
	if err := execCtx.Run(cmd); err != nil {
		return fmt.Errorf("git clone of %s failed: %w", url, err)
	}
	return nil
}

// gitRemoteOrigin returns the remote origin URL of a local repository, or
// "" when the directory is not a git checkout or has no origin.
func gitRemoteOrigin(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return ""
	}
	out, err := exec.Command("git", "-C", dir, "config", "--get", "remote.origin.url").Output()
	if err != nil {
		return ""
	}
	url := string(out)
	for len(url) > 0 && (url[len(url)-1] == '\n' || url[len(url)-1] == '\r') {
		url = url[:len(url)-1]
	}
	return url
}

// downloadArchive fetches url into the shared cache and returns the cached
// path plus its checksum. The cache key hashes the URL so distinct sources
// with identical filenames never collide. A flock around the cache slot
// keeps concurrent forge operations from clobbering each other's download.
func (a *Anvil) downloadArchive(url string) (string, string, error) {
	filename := filepath.Base(url)
	cachePath := filepath.Join(a.CacheDir, hashString(url)[:16]+"-"+filename)

	if err := os.MkdirAll(a.CacheDir, 0o755); err != nil {
		return "", "", err
	}

	lockPath := cachePath + ".lock"
	lFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("failed to create download lock: %w", err)
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return "", "", fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Another operation may have finished the download while we waited.
	if _, err := os.Stat(cachePath); err == nil {
		debugf("Already in cache: %s\n", cachePath)
	} else {
		colArrow.Print("-> ")
		colSuccess.Printf("Fetching source: %s\n", filename)
		if err := downloadFile(url, cachePath); err != nil {
			os.Remove(cachePath)
			return "", "", err
		}
		_ = os.Remove(lockPath)
	}

	sum, err := ComputeChecksum(cachePath)
	if err != nil {
		return "", "", err
	}
	return cachePath, sum, nil
}

// downloadFile downloads a URL to an absolute destination path. curl is
// preferred, wget next, with a native Go HTTP client as the last fallback.
func downloadFile(url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", dest, err)
	}

	// --- Primary choice: curl ---
	if _, err := exec.LookPath("curl"); err == nil {
		cmd := exec.Command("curl", "-L", "--fail", "-#", "-o", dest, url)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("curl failed, falling back to wget\n")
	} else {
		debugf("curl not found, trying wget\n")
	}

	// --- Fallback 1: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		cmd := exec.Command("wget", "-nv", "-O", dest, url)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("wget failed, falling back to native Go HTTP client\n")
	} else {
		debugf("wget not found, using native Go HTTP client\n")
	}

	// --- Fallback 2: native Go HTTP client ---
	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dest, err)
	}
	defer out.Close()

	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(dest))
	if _, err := io.Copy(io.MultiWriter(out, bar), resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	return nil
}
