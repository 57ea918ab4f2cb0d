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

// Package mempool holds transactions that have been accepted from the
// query endpoint or gossiped by a peer but not yet mined into a block.
// It is owned by the miner and guarded by its own mutex per the
// concurrency design notes; its mutation points are Append, Drain, which
// the miner calls to pull a batch for the next block, and Requeue.
package mempool

import (
	"sync"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/metric"
	"github.com/Alalun/catena/txn"
)

// Pool is a FIFO of pending, verified transactions.
type Pool struct {
	mu  sync.Mutex
	txs []*txn.Transaction
}

// New returns an empty pool.
func New() *Pool { return &Pool{} }

// Append validates tx's signature and adds it to the back of the queue.
// A transaction whose signature does not verify is rejected outright;
// replay-counter and privilege checks happen later, when the block
// containing it is applied.
func (p *Pool) Append(tx *txn.Transaction) error {
	if err := tx.Verify(); err != nil {
		return errkind.Wrap(err, errkind.PayloadSignatureError, "mempool: transaction signature")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = append(p.txs, tx)
	metric.TxAccepted.Mark(1)
	return nil
}

// Len reports how many transactions are currently pending.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// Drain removes and returns up to max pending transactions, oldest
// first, for inclusion in the next mined block.
func (p *Pool) Drain(max int) []*txn.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if max <= 0 || max > len(p.txs) {
		max = len(p.txs)
	}
	batch := p.txs[:max]
	p.txs = p.txs[max:]
	out := make([]*txn.Transaction, len(batch))
	copy(out, batch)
	return out
}

// Requeue puts txs back at the front of the queue, e.g. because the
// block being built for them lost a mining race.
func (p *Pool) Requeue(txs []*txn.Transaction) {
	if len(txs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = append(append([]*txn.Transaction{}, txs...), p.txs...)
}

// MaxBatch caps how many pending transactions a single block draws from
// the pool.
const MaxBatch = block.MaxTransactionsPerBlock
