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

package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catena.yaml")

	cfg := Default()
	cfg.Seed = "hello"
	cfg.Join = []string{"ws://peer-a:8338", "ws://peer-b:8338"}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Seed, loaded.Seed)
	require.Equal(t, cfg.Join, loaded.Join)
	require.Equal(t, DefaultGossipPort, loaded.GossipPort)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gossipPort: [this, is, not, an, int]"), 0600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestDefaultUsesPackageConstants(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultGossipPort, cfg.GossipPort)
	require.Equal(t, DefaultGossipPort+1, cfg.QueryPort)
	require.Equal(t, DefaultDifficulty, cfg.Difficulty)
}
