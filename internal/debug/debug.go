// Package debug provides env-gated diagnostic logging. It is off by
// default so command output stays clean; set STORY_DEBUG=1 to see it.
package debug

import (
	"fmt"
	"os"
)

// Enabled reports whether STORY_DEBUG is set.
func Enabled() bool {
	val := os.Getenv("STORY_DEBUG")
	return val == "1" || val == "true"
}

// Logf writes a diagnostic line to stderr when debugging is enabled.
func Logf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Fprintf(os.Stderr, "[story debug] "+format+"\n", args...)
	}
}
