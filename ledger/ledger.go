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

// Package ledger tracks every chain a node has seen, resolves forks by
// longest-chain height, and pools orphan blocks until their parent shows
// up. Unlike the teacher's BFT chain, which never forks, Catena runs
// Nakamoto-style proof-of-work consensus, so fork bookkeeping is the
// whole point of this package.
package ledger

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/errkind"
)

// ErrParentNotFound names the case of a block whose previous hash resolves
// to neither a chain head nor a mid-chain block. Receive does not return
// it: such a block goes to the orphan pool instead.
var ErrParentNotFound = errors.New("ledger: could not find parent block")

// ErrBlockExists indicates a block already present in some chain.
var ErrBlockExists = errors.New("ledger: block already exists")

// ErrInvalidBlock indicates a block failed signature or payload
// verification.
var ErrInvalidBlock = errors.New("ledger: invalid block")

const orphanPoolSize = 256

// chain is one candidate history: a genesis hash and every block reachable
// from it, indexed by hash and by height.
type chain struct {
	genesis    hash.Hash
	blocks     map[hash.Hash]*block.Block
	byHeight   map[uint64]*block.Block
	head       hash.Hash
	headHeight uint64
}

func newChain(genesis *block.Block) *chain {
	h := blockHash(genesis)
	c := &chain{
		genesis:  h,
		blocks:   map[hash.Hash]*block.Block{h: genesis},
		byHeight: map[uint64]*block.Block{0: genesis},
		head:     h,
	}
	return c
}

// verifyPayload checks every transaction's signature, per spec §4.8 step
// 1: a block is only a candidate chain head once both its header and its
// payload check out. mempool.Pool.Append already rejects a bad signature
// on gossip-in of a lone transaction; this closes the same gap for
// transactions arriving bundled inside a block.
func verifyPayload(b *block.Block) error {
	if len(b.Transactions) > block.MaxTransactionsPerBlock {
		return errkind.New(errkind.TooManyTransactions,
			fmt.Sprintf("block carries %d transactions, more than the %d limit", len(b.Transactions), block.MaxTransactionsPerBlock))
	}
	for _, tx := range b.Transactions {
		if err := tx.Verify(); err != nil {
			return errkind.Wrap(err, errkind.PayloadSignatureError, "ledger: transaction signature")
		}
	}
	return nil
}

func blockHash(b *block.Block) hash.Hash {
	h, err := b.Hash()
	if err != nil {
		// Hash only fails on malformed transactions, which cannot occur
		// for a block that already passed VerifySignature.
		panic(err)
	}
	return h
}

// clone deep-copies the chain's index so a fork can share history without
// two chains aliasing the same maps (see the "a chain owns its block map;
// blocks are copied into it, never shared" ownership rule).
func (c *chain) clone() *chain {
	nc := &chain{
		genesis:    c.genesis,
		blocks:     make(map[hash.Hash]*block.Block, len(c.blocks)),
		byHeight:   make(map[uint64]*block.Block, len(c.byHeight)),
		head:       c.head,
		headHeight: c.headHeight,
	}
	for k, v := range c.blocks {
		nc.blocks[k] = v
	}
	for k, v := range c.byHeight {
		nc.byHeight[k] = v
	}
	return nc
}

// Splice describes the didUnwind/didAppend notification pair the ledger
// emits when the longest chain changes.
type Splice struct {
	UnwoundFrom hash.Hash
	UnwoundTo   hash.Hash
	Appended    []*block.Block // in order, common-ancestor exclusive
}

// Listener receives fork-choice notifications.
type Listener interface {
	DidUnwind(from, to hash.Hash)
	DidAppend(b *block.Block)
}

// Ledger owns the chain set, the orphan pool, and the current longest
// chain. All mutating operations take mu; callers outside this package
// never need their own lock (see the concurrency design notes: "the
// ledger mutex guards the chain set, orphan pool, and longest pointer").
type Ledger struct {
	mu         sync.Mutex
	chains     map[hash.Hash]*chain // by genesis hash
	longest    hash.Hash            // genesis hash of the current best chain
	difficulty int
	orphans    *lru.Cache // hash.Hash -> *block.Block
	byPrevious map[hash.Hash][]hash.Hash
	listener   Listener
}

// New creates an empty ledger. Call Receive with a genesis block to seed
// the first chain.
func New(difficulty int, listener Listener) (*Ledger, error) {
	cache, err := lru.New(orphanPoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "create orphan pool")
	}
	return &Ledger{
		chains:     map[hash.Hash]*chain{},
		difficulty: difficulty,
		orphans:    cache,
		byPrevious: map[hash.Hash][]hash.Hash{},
		listener:   listener,
	}, nil
}

// Longest returns the current best chain's head block, or nil if the
// ledger holds no chains yet.
func (l *Ledger) Longest() *block.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[l.longest]
	if !ok {
		return nil
	}
	return c.blocks[c.head]
}

// Get returns the block with the given hash, if the ledger has it in any
// chain.
func (l *Ledger) Get(h hash.Hash) (*block.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.chains {
		if b, ok := c.blocks[h]; ok {
			return b, true
		}
	}
	return nil, false
}

// Receive validates and inserts b, updates fork choice, and drains any
// orphans that now have a known parent. It implements the algorithm in
// the ledger and fork choice design notes.
func (l *Ledger) Receive(b *block.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.receiveLocked(b)
}

func (l *Ledger) receiveLocked(b *block.Block) error {
	if err := b.VerifySignature(l.difficulty); err != nil {
		return errkind.Wrap(errors.Wrap(ErrInvalidBlock, err.Error()), errkind.SignatureError, "ledger: block signature")
	}
	if err := verifyPayload(b); err != nil {
		return err
	}
	h := blockHash(b)

	if b.IsGenesis() {
		if _, exists := l.chains[h]; exists {
			return ErrBlockExists
		}
		c := newChain(b)
		l.chains[h] = c
		l.reevaluateLongestAndNotify(b)
		l.drainOrphans(h)
		return nil
	}

	for _, c := range l.chains {
		if _, ok := c.blocks[h]; ok {
			return ErrBlockExists
		}
	}

	for _, c := range l.chains {
		if c.head == b.Previous {
			c.blocks[h] = b
			c.byHeight[b.Index] = b
			c.head = h
			c.headHeight = b.Index
			l.reevaluateLongestAndNotify(b)
			l.drainOrphans(h)
			return nil
		}
	}

	for genesis, c := range l.chains {
		if _, ok := c.blocks[b.Previous]; ok {
			nc := c.clone()
			nc.blocks[h] = b
			nc.byHeight[b.Index] = b
			nc.head = h
			nc.headHeight = b.Index
			newGenesis := genesis
			if b.Previous != c.head {
				// branching mid-chain creates a logically distinct chain,
				// but it still shares the same genesis hash, so key it
				// under a synthetic identity derived from the new head.
				newGenesis = h
			}
			l.chains[newGenesis] = nc
			l.reevaluateLongestAndNotify(b)
			l.drainOrphans(h)
			return nil
		}
	}

	l.orphans.Add(h, b)
	l.byPrevious[b.Previous] = append(l.byPrevious[b.Previous], h)
	return nil
}

// reevaluateLongestAndNotify picks the chain with the greatest head
// height (ties keeping the incumbent) and notifies the listener exactly
// once for b's insertion: either as part of a didUnwind/didAppend splice,
// if the longest chain just changed, or as a bare didAppend, if b merely
// extended the chain that was already longest. If b landed on a chain
// that is neither the old nor the new longest chain, no notification
// fires: the block is recorded, but not yet part of the canonical view.
func (l *Ledger) reevaluateLongestAndNotify(b *block.Block) {
	var bestHeight uint64
	var best hash.Hash
	found := false
	if c, ok := l.chains[l.longest]; ok {
		best = l.longest
		bestHeight = c.headHeight
		found = true
	}
	for g, c := range l.chains {
		if !found || c.headHeight > bestHeight {
			best = g
			bestHeight = c.headHeight
			found = true
		}
	}
	if !found {
		return
	}
	old := l.longest
	bh := blockHash(b)

	if best == old {
		if c, ok := l.chains[best]; ok && c.head == bh && l.listener != nil {
			l.listener.DidAppend(b)
		}
		return
	}

	l.longest = best
	if old == (hash.Hash{}) {
		if l.listener != nil {
			l.listener.DidAppend(b)
		}
		return
	}
	l.emitSplice(old, best)
}

// emitSplice computes the common ancestor between the old and new longest
// chains and fires didUnwind/didAppend for the listener.
func (l *Ledger) emitSplice(oldGenesis, newGenesis hash.Hash) {
	if l.listener == nil {
		return
	}
	oldChain, ok1 := l.chains[oldGenesis]
	newChainSet, ok2 := l.chains[newGenesis]
	if !ok1 || !ok2 {
		return
	}
	ancestor := commonAncestor(oldChain, newChainSet)
	l.listener.DidUnwind(oldChain.head, ancestor)
	for _, b := range appendedSince(newChainSet, ancestor) {
		l.listener.DidAppend(b)
	}
}

func commonAncestor(a, b *chain) hash.Hash {
	i, j := a.headHeight, b.headHeight
	ah, bh := a.head, b.head
	for i > j {
		ah = a.blocks[ah].Previous
		i--
	}
	for j > i {
		bh = b.blocks[bh].Previous
		j--
	}
	for ah != bh {
		if _, ok := a.blocks[ah]; !ok {
			break
		}
		if _, ok := b.blocks[bh]; !ok {
			break
		}
		ah = a.blocks[ah].Previous
		bh = b.blocks[bh].Previous
	}
	return ah
}

func appendedSince(c *chain, ancestor hash.Hash) []*block.Block {
	var out []*block.Block
	cur := c.head
	for cur != ancestor {
		b, ok := c.blocks[cur]
		if !ok {
			break
		}
		out = append([]*block.Block{b}, out...)
		cur = b.Previous
	}
	return out
}

func (l *Ledger) drainOrphans(parent hash.Hash) {
	pending, ok := l.byPrevious[parent]
	if !ok {
		return
	}
	delete(l.byPrevious, parent)
	for _, h := range pending {
		v, ok := l.orphans.Get(h)
		if !ok {
			continue
		}
		l.orphans.Remove(h)
		l.receiveLocked(v.(*block.Block))
	}
}

// IsOrphan reports whether h is currently sitting in the orphan pool.
func (l *Ledger) IsOrphan(h hash.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orphans.Contains(h)
}
