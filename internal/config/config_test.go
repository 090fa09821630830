package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTopology(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTopologyParsesChannelsAndTargets(t *testing.T) {
	path := writeTopology(t, `
channels:
  - name: workers
    heartbeatInterval: 2s
    heartbeatTtl: 5s
    debug: false
    targets:
      - name: web
        host: web-1
        port: "9000"
        containerName: web-1
members: 3
`)

	top, err := LoadTopology(path)
	require.NoError(t, err)

	require.Len(t, top.Channels, 1)
	ch := top.Channels[0]
	assert.Equal(t, "workers", ch.Name)
	assert.Equal(t, 2*time.Second, ch.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, ch.HeartbeatTtl)
	assert.Equal(t, 3, top.Members)

	opts := ch.FlockOptions()
	assert.Equal(t, "workers", opts.ChannelName)
	assert.Equal(t, 2*time.Second, opts.HeartbeatInterval)

	targets := ch.ActuatorTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, "web-1", targets[0].ContainerName)
}

func TestLoadTopologyDefaultsMembersToOne(t *testing.T) {
	path := writeTopology(t, `
channels:
  - name: solo
`)

	top, err := LoadTopology(path)
	require.NoError(t, err)
	assert.Equal(t, 1, top.Members)
}

func TestLoadTopologyMissingFile(t *testing.T) {
	_, err := LoadTopology(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
