package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"register", "fetch", "normalize", "extract", "consolidate", "run", "status"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "sec-digest-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRegisterCommand_Flags(t *testing.T) {
	flag := registerCmd.Flags().Lookup("from")
	require.NotNil(t, flag, "register command should have --from flag")
	assert.Equal(t, "1956", flag.DefValue)

	require.NotNil(t, registerCmd.Flags().Lookup("to"))
}

func TestFetchCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"era", "limit", "force", "retry-failed"} {
		flag := fetchCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "fetch should have --%s flag", flagName)
	}
}

func TestExtractCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"era", "limit", "retry-failed"} {
		flag := extractCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "extract should have --%s flag", flagName)
	}
}

func TestConsolidateCommand_Flags(t *testing.T) {
	require.NotNil(t, consolidateCmd.Flags().Lookup("rebuild"))
}
