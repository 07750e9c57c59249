package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/relpose/internal/core/observability/log"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "controller_1", c.Subject)
	assert.Equal(t, "tracker_1", c.Reference)
	assert.Equal(t, 100*time.Millisecond, c.Interval)
	assert.Equal(t, SourceSim, c.Source.Kind)
	assert.Len(t, c.Source.Sim.Devices, 2)
	assert.Equal(t, log.LevelInfo, c.Level())
	assert.Empty(t, c.Network.HTTPAddr)
	assert.Empty(t, c.Network.QUICAddr)
}

func TestLoadYAML(t *testing.T) {
	const doc = `
subject: controller_2
interval: 50ms
log_level: debug
source:
  kind: network
  max_age: 250ms
network:
  http_addr: 127.0.0.1:9000
  quic_addr: 127.0.0.1:9001
  token: secret
output:
  format: json
`
	c, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "controller_2", c.Subject)
	assert.Equal(t, "tracker_1", c.Reference, "unset fields keep defaults")
	assert.Equal(t, 50*time.Millisecond, c.Interval)
	assert.Equal(t, log.LevelDebug, c.Level())
	assert.Equal(t, 250*time.Millisecond, c.Source.MaxAge)
	assert.Equal(t, "secret", c.Network.Token)
	assert.Equal(t, 16, c.Network.Shards)
	assert.Equal(t, "json", c.Output.Format)

	tc := c.Tracker()
	assert.Equal(t, "controller_2", tc.Subject)
	assert.Equal(t, 50*time.Millisecond, tc.Interval)
}

func TestLoadYAML_Empty(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Subject, c.Subject)
}

func TestLoadJSON(t *testing.T) {
	c, err := LoadJSON(strings.NewReader(`{"reference":"tracker_2","interval":20000000,"source":{"kind":"replay","replay":{"path":"trace.yaml","loop":true}}}`))
	require.NoError(t, err)
	assert.Equal(t, "tracker_2", c.Reference)
	assert.Equal(t, 20*time.Millisecond, c.Interval)
	assert.Equal(t, "trace.yaml", c.Source.Replay.Path)
	assert.True(t, c.Source.Replay.Loop)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "relpose.yaml")
	require.NoError(t, os.WriteFile(yml, []byte("subject: controller_3\n"), 0o600))
	c, err := Load(yml)
	require.NoError(t, err)
	assert.Equal(t, "controller_3", c.Subject)

	js := filepath.Join(dir, "relpose.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"subject":"controller_4"}`), 0o600))
	c, err = Load(js)
	require.NoError(t, err)
	assert.Equal(t, "controller_4", c.Subject)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"unknown source", func(c *Config) { c.Source.Kind = "openvr" }},
		{"sim without devices", func(c *Config) { c.Source.Sim.Devices = nil }},
		{"replay without path", func(c *Config) { c.Source.Kind = SourceReplay }},
		{"network without addresses", func(c *Config) {
			c.Source.Kind = SourceNetwork
			c.Network.HTTPAddr = ""
		}},
		{"negative max age", func(c *Config) { c.Source.MaxAge = -time.Second }},
		{"zero shards", func(c *Config) { c.Network.Shards = 0 }},
		{"cert without key", func(c *Config) { c.Network.CertFile = "cert.pem" }},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
