package debug

import (
	"os"
	"path/filepath"
	"strings"
)

// IsDebuggerAttached returns true if the program is running under a debugger
func IsDebuggerAttached() bool {
	if os.Getenv("VSCODE_DEBUG_MODE") != "" || os.Getenv("DELVE_DEBUGGER") != "" {
		return true
	}
	// binaries built by dlv and IDEs
	return strings.HasPrefix(filepath.Base(os.Args[0]), "__debug_bin")
}
