package anvil

import (
	"bytes"
	"strings"
	"testing"
)

func TestDebugfGatedAndPrefixed(t *testing.T) {
	var buf bytes.Buffer
	origWriter := debugWriter
	origDebug := Debug
	debugWriter = &buf
	t.Cleanup(func() {
		debugWriter = origWriter
		Debug = origDebug
	})

	Debug = false
	debugf("hidden %d\n", 1)
	if buf.Len() != 0 {
		t.Fatalf("debug output while disabled: %q", buf.String())
	}

	Debug = true
	debugf("shown %d\n", 2)
	got := buf.String()
	if !strings.HasPrefix(got, "[debug] ") || !strings.Contains(got, "shown 2") {
		t.Fatalf("debug output %q", got)
	}
}
