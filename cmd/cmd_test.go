package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// isolate points every config and data location at a temp dir and resets
// flag state left behind by earlier runs.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_DATA_HOME", tmp)
	t.Chdir(tmp)

	configPath, logEnv = "", "development"
	plainOutput = false
	replayDeliver, replayFollow, replayFormat, replayOutput = false, false, "", ""
	t.Cleanup(func() { logEnv = "" })
	return tmp
}
