package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusRequiresIdentity(t *testing.T) {
	t.Setenv("FITSYNC_CONFIG", "")
	t.Setenv("FITSYNC_TOKEN", "")
	t.Setenv("REMOTE_STORE", "memory")

	_, err := runCLI(t, "status")
	require.ErrorContains(t, err, "--token or --owner")
}

func TestStatusWithOwner(t *testing.T) {
	t.Setenv("FITSYNC_CONFIG", "")
	t.Setenv("FITSYNC_TOKEN", "")
	t.Setenv("REMOTE_STORE", "memory")
	t.Setenv("LOCAL_STORE", "sqlite")
	t.Setenv("LOCAL_STORE_PATH", t.TempDir())

	out, err := runCLI(t, "status", "--owner", "user-1")
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Equal(t, false, status["isCompleted"])
	require.Equal(t, false, status["hasBackup"])
}

func TestRejectsBadToken(t *testing.T) {
	t.Setenv("FITSYNC_CONFIG", "")
	t.Setenv("REMOTE_STORE", "memory")

	_, err := runCLI(t, "status", "--token", "not-a-jwt")
	require.Error(t, err)
}
