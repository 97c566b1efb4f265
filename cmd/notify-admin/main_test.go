package main

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrintUsageListsAllCommands(t *testing.T) {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)

	defer func() {
		os.Stdout = oldStdout
	}()

	os.Stdout = w

	require.NoError(t, printUsage())

	require.NoError(t, w.Close())
	os.Stdout = oldStdout

	output, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	outStr := string(output)
	for name, cmd := range commands() {
		require.Contains(t, outStr, name)
		require.Contains(t, outStr, cmd.description)
		require.NotEmpty(t, cmd.name)
		require.NotNil(t, cmd.run)
	}
}
