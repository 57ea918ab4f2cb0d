/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package conf holds the node's persisted configuration: the settings
// that outlive a single process invocation and are worth writing to a
// YAML file rather than passed as flags every time. It is adapted from
// the teacher's own conf package, which loaded a block-producer/DHT
// topology file; Catena has no such topology, so this trades that
// schema for the settings named in the CLI surface design notes.
package conf

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config holds every setting a Catena node needs that is not more
// naturally a one-shot CLI flag: identity and network defaults a node
// operator would want to keep across restarts. cmd/catenad does not load
// a Config: its flags take their defaults from the constants in limits.go.
type Config struct {
	// GossipPort is the port the gossip server binds.
	GossipPort int `yaml:"gossipPort"`
	// QueryPort is the query endpoint port.
	QueryPort int `yaml:"queryPort"`
	// Difficulty is the leading-zero-bit proof-of-work target new chains
	// (and locally mined blocks) target.
	Difficulty int `yaml:"difficulty"`
	// Seed is the genesis seed used when this node initializes a fresh
	// chain rather than syncing one from peers.
	Seed string `yaml:"seed"`
	// Join lists gossip URLs to dial on startup.
	Join []string `yaml:"join"`
	// AllowedDomains restricts the gossip server's WebSocket origin
	// check; empty means allow all origins.
	AllowedDomains []string `yaml:"allowedDomains"`
}

// Default returns the built-in configuration used when no config file
// is supplied.
func Default() *Config {
	return &Config{
		GossipPort: DefaultGossipPort,
		QueryPort:  DefaultGossipPort + 1,
		Difficulty: DefaultDifficulty,
	}
}

// LoadConfig reads and parses the YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return ioutil.WriteFile(path, raw, 0600)
}
