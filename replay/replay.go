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

// Package replay bridges the ledger's fork-choice notifications to the
// permanent backend store: a small in-memory window of recent blocks
// absorbs ordinary reorgs in O(1), and only a reorg that reaches past the
// window forces a full O(chain length) replay from genesis. It is
// grounded on xenomint's pool: the same "keep a short window of pending
// work, truncate/rebuild it on rollback" idiom, generalized from pending
// queries to pending blocks.
package replay

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/ledger"
	"github.com/Alalun/catena/log"
	"github.com/Alalun/catena/metric"
)

// MaxQueueSize bounds how many recently-appended blocks are held in memory
// before the oldest is promoted into the permanent store.
const MaxQueueSize = 7

// ChainSource resolves blocks by hash and walks a chain back to genesis;
// the ledger satisfies this.
type ChainSource interface {
	Get(h hash.Hash) (*block.Block, bool)
}

// Applier is the permanent store's block-application entry point; the
// executive satisfies this.
type Applier interface {
	ApplyBlock(b *block.Block, difficulty int, replay bool) error
	// Reset wipes the permanent store back to an empty database, so a
	// deep replay can rebuild it from genesis instead of failing against
	// stale state left over from an abandoned fork.
	Reset() error
}

// Queue is the ledger.Listener implementation that maintains the bounded
// window and drives permanent-store promotion and rewind, per spec §4.9.
type Queue struct {
	mu         sync.Mutex
	entries    []*block.Block
	applier    Applier
	source     ChainSource
	difficulty int
	headIndex  uint64
	headHash   hash.Hash
	hasHead    bool
}

// New builds a Queue that promotes into applier and, on a rewind past the
// window, replays from source starting at genesis.
func New(applier Applier, source ChainSource, difficulty int) *Queue {
	return &Queue{applier: applier, source: source, difficulty: difficulty}
}

var _ ledger.Listener = (*Queue)(nil)

// DidAppend implements ledger.Listener: b joins the window, and the oldest
// entry is promoted to the permanent store once the window overflows.
func (q *Queue) DidAppend(b *block.Block) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, b)
	defer q.reportQueueSize()
	if len(q.entries) <= MaxQueueSize {
		return
	}
	promoted := q.entries[0]
	q.entries = q.entries[1:]
	q.promote(promoted)
}

// reportQueueSize publishes the current window length; callers must hold
// q.mu.
func (q *Queue) reportQueueSize() {
	metric.ReplayQueueSize.Update(int64(len(q.entries)))
}

// promote applies b to the permanent store if it directly extends the
// recorded head; otherwise the queue's front has drifted from the
// permanent head (a rewind happened while the queue was full), and a full
// replay from b's parent is required.
func (q *Queue) promote(b *block.Block) {
	if q.hasHead && b.Index != q.headIndex+1 {
		q.replayFrom(b.Previous)
		return
	}
	if err := q.applier.ApplyBlock(b, q.difficulty, true); err != nil {
		log.WithError(err).Errorf("promote block %d to permanent store", b.Index)
		return
	}
	h, err := b.Hash()
	if err != nil {
		log.WithError(err).Errorf("hash promoted block %d", b.Index)
		return
	}
	q.headIndex = b.Index
	q.headHash = h
	q.hasHead = true
}

// DidUnwind implements ledger.Listener. If the permanent store's head is
// still behind or at the new common ancestor, dropping the window entries
// past it is enough; otherwise the permanent store itself must be rebuilt
// from genesis along the new longest chain.
func (q *Queue) DidUnwind(from, to hash.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ancestor, ok := q.source.Get(to)
	if !ok {
		log.Errorf("replay: unwind target %s not found in ledger", to.Short(8))
		return
	}
	if !q.hasHead || q.headIndex <= ancestor.Index {
		q.dropAfter(ancestor.Index)
		return
	}
	q.replayFrom(to)
}

// dropAfter removes queued blocks with an index past keep, since they sit
// on a chain that fork choice just abandoned.
func (q *Queue) dropAfter(keep uint64) {
	kept := q.entries[:0]
	for _, b := range q.entries {
		if b.Index <= keep {
			kept = append(kept, b)
		}
	}
	q.entries = kept
	q.reportQueueSize()
}

// replayFrom rebuilds the permanent store from genesis through ancestor
// (exclusive of ancestor's own descendants that fork choice abandoned),
// then drops every queued block whose index is past the rebuilt head.
func (q *Queue) replayFrom(ancestor hash.Hash) {
	chain, err := q.walkToGenesis(ancestor)
	if err != nil {
		log.WithError(err).Errorf("replay: could not walk chain to genesis")
		return
	}
	log.Infof("replay: rebuilding permanent store, %d blocks", len(chain))

	if err := q.applier.Reset(); err != nil {
		log.WithError(err).Errorf("replay: reset permanent store")
		return
	}

	q.headIndex = 0
	q.hasHead = false
	for _, b := range chain {
		if err := q.applier.ApplyBlock(b, q.difficulty, true); err != nil {
			log.WithError(err).Errorf("replay block %d", b.Index)
			return
		}
		h, err := b.Hash()
		if err != nil {
			log.WithError(err).Errorf("hash replayed block %d", b.Index)
			return
		}
		q.headIndex = b.Index
		q.headHash = h
		q.hasHead = true
	}
	q.dropAfter(q.headIndex)
}

// walkToGenesis returns the chain from genesis to ancestor (inclusive),
// oldest first, by following Previous pointers backward through source.
func (q *Queue) walkToGenesis(ancestor hash.Hash) ([]*block.Block, error) {
	var reversed []*block.Block
	cur := ancestor
	for {
		b, ok := q.source.Get(cur)
		if !ok {
			return nil, errors.Errorf("replay: block %s missing from ledger", cur.Short(8))
		}
		reversed = append(reversed, b)
		if b.IsGenesis() {
			break
		}
		cur = b.Previous
	}
	chain := make([]*block.Block, len(reversed))
	for i, b := range reversed {
		chain[len(reversed)-1-i] = b
	}
	return chain, nil
}
