// Package config loads the relpose configuration file.
//
// Durations are Go duration strings in YAML ("100ms") and nanoseconds in JSON.
// Fields missing from the file keep their Default values.
package config

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/tracking/sim"
	"github.com/zeusync/relpose/internal/output"
	"github.com/zeusync/relpose/internal/tracker"
)

const (
	SourceSim     = "sim"
	SourceReplay  = "replay"
	SourceNetwork = "network"
)

type Config struct {
	Subject   string        `json:"subject" yaml:"subject"`
	Reference string        `json:"reference" yaml:"reference"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	MaxCycles uint64        `json:"max_cycles,omitempty" yaml:"max_cycles,omitempty"`
	LogLevel  string        `json:"log_level" yaml:"log_level"`

	Source  SourceConfig  `json:"source" yaml:"source"`
	Network NetworkConfig `json:"network" yaml:"network"`
	Output  OutputConfig  `json:"output" yaml:"output"`
}

type SourceConfig struct {
	// Kind is one of sim, replay or network.
	Kind string `json:"kind" yaml:"kind"`
	// MaxAge marks network samples older than this as not tracked.
	MaxAge time.Duration `json:"max_age" yaml:"max_age"`
	Replay ReplayConfig  `json:"replay" yaml:"replay"`
	Sim    SimConfig     `json:"sim" yaml:"sim"`
}

type ReplayConfig struct {
	Path string `json:"path" yaml:"path"`
	// Loop overrides the trace's own loop flag when set.
	Loop bool `json:"loop" yaml:"loop"`
}

type SimConfig struct {
	Devices []sim.DeviceSpec `json:"devices" yaml:"devices"`
}

type NetworkConfig struct {
	// HTTPAddr serves websocket ingest, the reading feed and the device list.
	// Empty, the default, disables the HTTP server.
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	// QUICAddr enables QUIC pose ingest when set.
	QUICAddr string `json:"quic_addr" yaml:"quic_addr"`
	// Token is required from ingest clients when set.
	Token    string `json:"token" yaml:"token"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	// Shards is the pose store shard count.
	Shards int `json:"shards" yaml:"shards"`
	// RateLimit caps each publisher connection at this many envelopes per
	// second; zero means unlimited.
	RateLimit int `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

type OutputConfig struct {
	// Format is console or json.
	Format string `json:"format" yaml:"format"`
}

func Default() Config {
	tc := tracker.DefaultConfig()
	return Config{
		Subject:   tc.Subject,
		Reference: tc.Reference,
		Interval:  tc.Interval,
		LogLevel:  log.LevelInfo.String(),
		Source: SourceConfig{
			Kind:   SourceSim,
			MaxAge: 500 * time.Millisecond,
			Sim:    SimConfig{Devices: sim.DefaultDevices()},
		},
		Network: NetworkConfig{Shards: 16},
		Output: OutputConfig{Format: output.FormatConsole},
	}
}

// Load reads path, choosing JSON for a .json extension and YAML otherwise.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, pkgerrors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(f)
	}
	return LoadYAML(f)
}

func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, pkgerrors.Wrap(err, "decode yaml config")
	}
	return c, c.Validate()
}

func LoadJSON(r io.Reader) (Config, error) {
	c := Default()
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, pkgerrors.Wrap(err, "decode json config")
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if err := c.Tracker().Validate(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.Source.Kind {
	case SourceSim:
		if len(c.Source.Sim.Devices) == 0 {
			return errors.New("sim source needs at least one device")
		}
	case SourceReplay:
		if c.Source.Replay.Path == "" {
			return errors.New("replay source needs a trace path")
		}
	case SourceNetwork:
		if c.Network.HTTPAddr == "" && c.Network.QUICAddr == "" {
			return errors.New("network source needs http_addr or quic_addr")
		}
	default:
		return pkgerrors.Errorf("unknown source kind %q", c.Source.Kind)
	}

	if c.Source.MaxAge < 0 {
		return errors.New("source max_age must not be negative")
	}
	if c.Network.Shards <= 0 {
		return errors.New("network shards must be positive")
	}
	if c.Network.RateLimit < 0 {
		return errors.New("network rate_limit must not be negative")
	}
	if (c.Network.CertFile == "") != (c.Network.KeyFile == "") {
		return errors.New("cert_file and key_file must be set together")
	}

	switch c.Output.Format {
	case output.FormatConsole, output.FormatJSON:
	default:
		return pkgerrors.Errorf("unknown output format %q", c.Output.Format)
	}
	return nil
}

// Tracker returns the loop settings.
func (c Config) Tracker() tracker.Config {
	return tracker.Config{
		Subject:   c.Subject,
		Reference: c.Reference,
		Interval:  c.Interval,
		MaxCycles: c.MaxCycles,
	}
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() log.Level {
	l, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.LevelInfo
	}
	return l
}
