package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDebuggerAttached(t *testing.T) {
	t.Setenv("VSCODE_DEBUG_MODE", "")
	t.Setenv("DELVE_DEBUGGER", "1")
	assert.True(t, IsDebuggerAttached())

	t.Setenv("DELVE_DEBUGGER", "")
	assert.False(t, IsDebuggerAttached())
}
