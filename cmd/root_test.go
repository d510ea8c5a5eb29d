package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRootCmd returns the root command with output captured, without
// touching the process-wide exit handling in Execute.
func newTestRootCmd(args ...string) (*bytes.Buffer, func() error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	// The package-level rootCmd is shared across tests; clear flag state
	// left behind by a previous Execute so runs stay independent.
	if f := rootCmd.Flags().Lookup("version"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	return &out, func() error { return rootCmd.ExecuteContext(context.Background()) }
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, execute := newTestRootCmd("--version")

	require.NoError(t, execute())
	assert.Contains(t, out.String(), Version)
}

func TestRootCmd_NoArgsShowsHelp(t *testing.T) {
	out, execute := newTestRootCmd()

	require.NoError(t, execute())
	assert.Contains(t, out.String(), "archives your CS2 match replays")
}

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"run", "serve", "login"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCmd_MissingConfigFileFails(t *testing.T) {
	_, execute := newTestRootCmd("--config", "/nonexistent/demovault.yaml", "run")

	err := execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
