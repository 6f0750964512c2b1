package anvil

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Load ~/.anvil/anvil.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge ANVIL_* env overrides
	mergeEnvOverrides(cfg)

	// Ensure TMPDIR has a default
	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}

	return cfg, nil
}

// Merge ANVIL_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "ANVIL_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// boolValue interprets a config value as a toggle. Empty means defaultOn.
func boolValue(val string, defaultOn bool) bool {
	if val == "" {
		return defaultOn
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// Anvil holds the persistent state layout and shared collaborators for one
// invocation. Everything operating on the opt/bin/build trees or the index
// goes through this handle, so tests can run against a throwaway root.
type Anvil struct {
	cfg *Config

	Root       string // top-level state directory (~/.anvil)
	IndexDir   string // clone of the central formula index
	HammersDir string // one subdirectory per local formula repository
	BuildDir   string // ephemeral per-operation workspaces
	OptDir     string // one subdirectory per installed package
	BinDir     string // linked executables
	CacheDir   string // downloaded source archives

	Index      *RepoIndex
	Exec       *Executor
	AutoSubmit bool
	ForcePIC   bool

	// ReleaseCheck lets a forge install a platform-matching prebuilt
	// release asset instead of building from source.
	ReleaseCheck bool

	// BuildTimeout limits each build command. Zero means no timeout;
	// long-running builds are expected.
	BuildTimeout time.Duration
}

// NewAnvil derives the state layout from the configuration, creates the
// directory tree and opens the index.
func NewAnvil(cfg *Config, exec *Executor) (*Anvil, error) {
	root := cfg.Values["ANVIL_ROOT"]
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		root = filepath.Join(home, ".anvil")
	}

	a := &Anvil{
		cfg:        cfg,
		Root:       root,
		IndexDir:   filepath.Join(root, "index"),
		HammersDir: filepath.Join(root, "hammers"),
		BuildDir:   filepath.Join(root, "build"),
		OptDir:     filepath.Join(root, "opt"),
		BinDir:     filepath.Join(root, "bin"),
		CacheDir:   filepath.Join(root, "cache"),
		Exec:       exec,
	}

	for _, dir := range []string{a.Root, a.IndexDir, a.HammersDir, a.BuildDir, a.OptDir, a.BinDir, a.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	// Auto-submit is on unless explicitly disabled. Read once here; the
	// forge pipeline never re-reads the environment mid-operation.
	a.AutoSubmit = boolValue(cfg.Values["ANVIL_AUTO_SUBMIT"], true)
	a.ForcePIC = boolValue(cfg.Values["ANVIL_FORCE_PIC"], false)
	a.ReleaseCheck = boolValue(cfg.Values["ANVIL_RELEASE_CHECK"], true)

	if val := cfg.Values["ANVIL_BUILD_TIMEOUT"]; val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			a.BuildTimeout = time.Duration(secs) * time.Second
		}
	}

	Debug = boolValue(cfg.Values["ANVIL_DEBUG"], false)

	idx, err := OpenRepoIndex(a.IndexDir, a.HammersDir)
	if err != nil {
		return nil, err
	}
	a.Index = idx

	return a, nil
}

// warnIfBinDirNotOnPath nags once per invocation when the shim directory is
// missing from PATH, since freshly forged binaries would be unreachable.
func (a *Anvil) warnIfBinDirNotOnPath() {
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == a.BinDir {
			return
		}
	}
	colArrow.Print("-> ")
	colWarn.Printf("Add %s to your PATH to use forged binaries.\n", a.BinDir)
}
