package anvil

import (
	"fmt"
	"io"
	"os"
)

// colorPrinter is satisfied by *color.Theme and *color.Style; a nil printer
// degrades to plain output.
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// debugWriter receives debug output. Stderr keeps diagnostics out of piped
// stdout; tests swap in a buffer.
var debugWriter io.Writer = os.Stderr

// debugf prints a prefixed diagnostic line when Debug is on.
func debugf(format string, args ...any) {
	if Debug {
		fmt.Fprintf(debugWriter, "[debug] "+format, args...)
	}
}
