package anvil

import (
	"errors"
	"sync/atomic"

	"github.com/gookit/color"
)

// GLOBAL STATE
// We use a value of 1 for critical and 0 for non-critical/default.
// While critical (record swap in progress) the signal handler blocks the
// first interrupt instead of cancelling.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	Debug     bool
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time

	// Default location of the central formula index repository.
	centralIndexURL = "https://github.com/anvil-forge/anvil-index.git"

	errPackageNotFound = errors.New("package not found")
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
