package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clusterYAML = `
cluster:
  name: test
transport: mangos
nodes:
  - name: a
    address: tcp://127.0.0.1:17001
    admin: 127.0.0.1:18001
  - name: b
    address: tcp://127.0.0.1:17002
`

func writeCluster(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(clusterYAML), 0o600))
	return path
}

func TestParseFlags(t *testing.T) {
	t.Setenv("CCM_NODE", "")
	_, err := parseFlags([]string{"-config", "x.yaml"})
	assert.Error(t, err, "node is required")

	o, err := parseFlags([]string{"-config", "x.yaml", "-node", "a", "-log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "a", o.node)
	assert.Equal(t, "debug", o.logLevel)

	t.Setenv("CCM_NODE", "b")
	o, err = parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "b", o.node)
	assert.Equal(t, "cluster.yaml", o.configPath)
}

func TestResolve(t *testing.T) {
	path := writeCluster(t)

	f, err := resolve(options{configPath: path, node: "a"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18001", f.Admin.Addr, "admin address comes from the node entry")
	assert.Equal(t, "info", f.LogLevel)

	f, err = resolve(options{configPath: path, node: "b", adminAddr: "127.0.0.1:9999", logLevel: "warn"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", f.Admin.Addr)
	assert.Equal(t, "warn", f.LogLevel)

	_, err = resolve(options{configPath: path, node: "a", transport: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = resolve(options{configPath: path, node: "z"})
	assert.Error(t, err)
}
