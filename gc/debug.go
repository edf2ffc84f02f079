package gc

import (
	"fmt"
	"os"
)

// Debug flag - set to true to enable verbose cycle logging (compile-time toggle).
const debugGC = false

// Runtime debug flag for cycle logging - controlled by GCKIT_LOG_GC env var.
var logGC = os.Getenv("GCKIT_LOG_GC") != ""

func debugLogf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[GC] "+format+"\n", args...)
}
