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

package main

import (
	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/exec"
	"github.com/Alalun/catena/replay"
)

// ledgerSource satisfies replay.ChainSource by forwarding to a
// *ledger.Ledger set after construction. It exists only to break the
// construction cycle: replay.New wants a ChainSource up front, and
// ledger.New wants a Listener up front, but the ledger built here is that
// same ChainSource.
type ledgerSource struct {
	ledger interface {
		Get(h hash.Hash) (*block.Block, bool)
	}
}

func (s *ledgerSource) Get(h hash.Hash) (*block.Block, bool) { return s.ledger.Get(h) }

func newReplayQueue(applier *exec.Executive, source replay.ChainSource, difficulty int) *replay.Queue {
	return replay.New(applier, source, difficulty)
}
