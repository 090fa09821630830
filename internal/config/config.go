// Package config loads the YAML topology document that bootstraps
// several named channels in one process.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/actuator"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/flock"
)

// ChannelConfig is one entry of the topology's channels list.
type ChannelConfig struct {
	Name              string         `yaml:"name"`
	HeartbeatInterval time.Duration  `yaml:"heartbeatInterval"`
	HeartbeatTtl      time.Duration  `yaml:"heartbeatTtl"`
	Debug             bool           `yaml:"debug"`
	Targets           []TargetConfig `yaml:"targets"`
}

// TargetConfig names one actuator.Target, as YAML.
type TargetConfig struct {
	Name          string `yaml:"name"`
	Host          string `yaml:"host"`
	Port          string `yaml:"port"`
	ContainerName string `yaml:"containerName"`
}

// Topology is the parsed document: a set of channels plus the member
// count each one expects (used by cmd/flockd to size a demo fleet).
type Topology struct {
	Channels []ChannelConfig `yaml:"channels"`
	Members  int             `yaml:"members"`
}

// LoadTopology reads and parses path into a Topology.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read topology file: %w", err)
	}

	var top Topology
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("config: parse topology file: %w", err)
	}
	if top.Members <= 0 {
		top.Members = 1
	}
	return &top, nil
}

// FlockOptions converts c into flock.Options, defaulting ChannelName to
// c.Name and leaving zero-valued timings for flock.Options.withDefaults
// to fill in.
func (c ChannelConfig) FlockOptions() flock.Options {
	return flock.Options{
		ChannelName:       c.Name,
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatTtl:      c.HeartbeatTtl,
		Debug:             c.Debug,
	}
}

// ActuatorTargets converts c.Targets into actuator.Target values.
func (c ChannelConfig) ActuatorTargets() []actuator.Target {
	out := make([]actuator.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		out = append(out, actuator.Target{
			Name:          t.Name,
			Host:          t.Host,
			Port:          t.Port,
			ContainerName: t.ContainerName,
		})
	}
	return out
}
