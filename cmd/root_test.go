//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"status", "run", "contact", "sync", "rescore", "import-connections", "intro", "runs", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "relgraph", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"budget", "resume", "limit"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run should have --%s", name)
	}
	assert.Equal(t, "0", runCmd.Flags().Lookup("budget").DefValue)
}

func TestContactCommand_Flags(t *testing.T) {
	flag := contactCmd.Flags().Lookup("save")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestIntroCommand_Flags(t *testing.T) {
	flag := introCmd.Flags().Lookup("top")
	require.NotNil(t, flag)
	assert.Equal(t, "5", flag.DefValue)
	assert.NotNil(t, introCmd.Flags().Lookup("json"))
}

func TestImportConnectionsCommand_Flags(t *testing.T) {
	assert.NotNil(t, importConnectionsCmd.Flags().Lookup("file"))
	assert.NotNil(t, importConnectionsCmd.Flags().Lookup("owner"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}
