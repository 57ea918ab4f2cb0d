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

const (
	// DefaultGossipPort is the gossip server's default bind port, absent
	// an explicit -p/--gossip-port flag.
	DefaultGossipPort = 8338
	// DefaultDifficulty is the leading-zero-bit target new chains start
	// at when no config overrides it.
	DefaultDifficulty = 10
	// DefaultChainDatabase is the chain-state backend file used absent
	// -d/--database or --in-memory-database.
	DefaultChainDatabase = "catena.sqlite"
	// DefaultNodeDatabase holds peers and node identity, absent
	// --node-database.
	DefaultNodeDatabase = "catena-node.sqlite"
)
