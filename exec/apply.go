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

package exec

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/log"
	"github.com/Alalun/catena/metric"
	"github.com/Alalun/catena/storage"
	"github.com/Alalun/catena/txn"
)

// ApplyBlock is the canonical reducer of spec §4.6: it validates b against
// the recorded chain head, orders and filters its transactions, dispatches
// each surviving one inside its own savepoint, and advances the head. Only
// a failure before the final append rolls back the whole block; a single
// transaction's failure rolls back just that transaction.
func (e *Executive) ApplyBlock(b *block.Block, difficulty int, replay bool) error {
	headIndex, headHash, hasHead, err := e.meta.Head()
	if err != nil {
		return err
	}
	if !hasHead {
		if !b.IsGenesis() {
			return errkind.New(errkind.MetadataError, "no chain head recorded, but block is not genesis")
		}
	} else if b.Index != headIndex+1 || b.Previous != headHash {
		return errkind.New(errkind.Inconsecutive, "block does not extend the recorded head")
	}

	if err := b.VerifySignature(difficulty); err != nil {
		return errkind.Wrap(err, errkind.SignatureError, "block signature")
	}
	if len(b.Transactions) > block.MaxTransactionsPerBlock {
		return errkind.New(errkind.TooManyTransactions,
			fmt.Sprintf("block carries %d transactions, more than the %d limit", len(b.Transactions), block.MaxTransactionsPerBlock))
	}
	for i, tx := range b.Transactions {
		if err := tx.Verify(); err != nil {
			return errkind.Wrap(err, errkind.PayloadSignatureError, fmt.Sprintf("transaction #%d", i))
		}
	}

	h, err := b.Hash()
	if err != nil {
		return err
	}
	sp, err := e.meta.Begin(fmt.Sprintf("block-%s", h.Short(16)))
	if err != nil {
		return err
	}

	if err := e.applyTransactions(b, replay); err != nil {
		sp.Rollback()
		return err
	}

	if err := e.meta.AppendBlock(b.Index, h, b); err != nil {
		sp.Rollback()
		return err
	}
	if err := e.meta.SetHead(b.Index, h); err != nil {
		sp.Rollback()
		return err
	}
	return sp.Release()
}

func orderTransactions(txs []*txn.Transaction) []*txn.Transaction {
	ordered := make([]*txn.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Counter != ordered[j].Counter {
			return ordered[i].Counter < ordered[j].Counter
		}
		return bytes.Compare(ordered[i].Signature.Bytes(), ordered[j].Signature.Bytes()) < 0
	})
	return ordered
}

// touchesReservedTable reports whether any privilege stmt declares is
// scoped to a table name that collides with one of the fixed metadata
// tables, so a transaction can never reach them through ordinary dispatch.
func touchesReservedTable(tx *txn.Transaction) bool {
	for _, p := range tx.Statement.RequiredPrivileges() {
		if p.Table != nil && storage.ReservedTables[p.TableName()] {
			return true
		}
	}
	return false
}

func (e *Executive) applyTransactions(b *block.Block, replay bool) error {
	expected := map[hash.Hash]uint64{}
	for _, tx := range orderTransactions(b.Transactions) {
		invokerHash := tx.Invoker.Hash()

		if touchesReservedTable(tx) {
			log.Debugf("dropping transaction: touches a reserved metadata table")
			continue
		}

		want, ok := expected[invokerHash]
		if !ok {
			last, hasLast, err := e.meta.LastCounter(invokerHash)
			if err != nil {
				return err
			}
			if hasLast {
				want = last + 1
			}
		}
		if tx.Counter != want {
			log.Debugf("dropping transaction: counter %d does not match expected %d", tx.Counter, want)
			continue
		}
		expected[invokerHash] = tx.Counter + 1

		if err := e.applyOne(b, tx, replay); err != nil {
			log.WithField("counter", tx.Counter).Debugf("transaction failed and was rolled back: %v", err)
		} else {
			metric.TxApplied.Mark(1)
		}
		if err := e.meta.SetCounter(invokerHash, tx.Counter); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executive) applyOne(b *block.Block, tx *txn.Transaction, replay bool) error {
	name := "tr-" + tx.Signature.Hex()
	sp, err := e.meta.Begin(name)
	if err != nil {
		return err
	}

	ctx := &Context{Database: tx.Database, Invoker: tx.Invoker, Block: b}
	err = func() error {
		if !replay {
			return nil
		}
		granted, err := e.Authorize(ctx, tx.Statement, false)
		if err != nil {
			return err
		}
		_, err = e.Dispatch(ctx, tx.Statement, granted)
		return err
	}()
	if err != nil {
		sp.Rollback()
		return err
	}
	return sp.Release()
}
