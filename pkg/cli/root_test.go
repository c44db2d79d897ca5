package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// captureOutput redirects command output for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := output
	output = &buf
	t.Cleanup(func() { output = old })
	return &buf
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "axlectl", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{
		"list",
		"get",
		"load",
		"unload",
		"reload",
		"discover",
		"publish",
		"capabilities",
		"graph",
	}
	for _, name := range expectedCommands {
		assert.Contains(t, root.Subcommands, name, "Expected subcommand %s to be registered", name)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	buf := captureOutput(t)
	root := NewRootCommand()

	assert.NoError(t, root.usage())

	out := buf.String()
	assert.Contains(t, out, "Usage: axlectl <command> [flags] [args]")
	assert.Contains(t, out, "unload")
	assert.Contains(t, out, "-server")
	// sorted
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("capabilities")), bytes.Index(buf.Bytes(), []byte("unload")))
}

func TestCommandExecute_Help(t *testing.T) {
	for _, arg := range []string{"-h", "--help", "--HELP", "help"} {
		t.Run(arg, func(t *testing.T) {
			buf := captureOutput(t)
			assert.NoError(t, NewRootCommand().ExecuteArgs([]string{arg}))
			assert.Contains(t, buf.String(), "Usage: axlectl")
		})
	}
}

func TestCommandExecute_NoArgs(t *testing.T) {
	buf := captureOutput(t)
	assert.NoError(t, NewRootCommand().ExecuteArgs(nil))
	assert.Contains(t, buf.String(), "Usage: axlectl")
}

func TestCommandExecute_Subcommand(t *testing.T) {
	root := NewRootCommand()

	var received []string
	root.Subcommands["test"] = &Command{
		Name: "test",
		Run: func(args []string) error {
			received = args
			return nil
		},
	}

	assert.NoError(t, root.ExecuteArgs([]string{"test", "-x", "y"}))
	assert.Equal(t, []string{"-x", "y"}, received)
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	err := NewRootCommand().ExecuteArgs([]string{"nonexistent"})
	assert.EqualError(t, err, "unknown command: nonexistent")
}
