package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat's first development account.
const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEncryptThenAddress(t *testing.T) {
	t.Setenv(envKey, "")
	t.Setenv(envPassword, "")
	path := filepath.Join(t.TempDir(), "rollover.json")

	out, err := run(t, devKey+"\nhunter2\n", "encrypt", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, devAddress)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err = run(t, "hunter2\n", "address", "--key-file", path)
	require.NoError(t, err)
	assert.Equal(t, devAddress, strings.TrimSpace(out))

	_, err = run(t, "wrong\n", "address", "--key-file", path)
	assert.Error(t, err)
}

func TestAddressFromEnvironment(t *testing.T) {
	t.Setenv(envKey, "0x"+devKey)
	out, err := run(t, "", "address")
	require.NoError(t, err)
	assert.Equal(t, devAddress, strings.TrimSpace(out))
}

func TestEncryptRequiresPassword(t *testing.T) {
	t.Setenv(envKey, devKey)
	t.Setenv(envPassword, "")
	_, err := run(t, "", "encrypt")
	assert.Error(t, err)
}

func TestCheckConfigRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[audit]
backend = "sqlite"

[sqlite]
path = "`+filepath.ToSlash(filepath.Join(dir, "keeper.db"))+`"

[redis]
enabled = false
password = "redis-secret"

[server]
api_key = "api-secret"
`), 0o600))

	out, err := run(t, "", "check-config", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "api-secret")
	assert.NotContains(t, out, "redis-secret")
	assert.Contains(t, out, `"Mode": "monitor"`)
}
