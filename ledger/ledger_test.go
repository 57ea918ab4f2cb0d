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

package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/sql/parser"
	"github.com/Alalun/catena/txn"
)

// testDifficulty is small enough that mining a handful of blocks in a unit
// test costs microseconds.
const testDifficulty = 4

type call struct {
	kind string // "append" or "unwind"
	a, b string
}

type spyListener struct {
	calls []call
}

func (s *spyListener) DidAppend(b *block.Block) {
	s.calls = append(s.calls, call{kind: "append", a: blockHash(b).Short(8)})
}

func (s *spyListener) DidUnwind(from, to hash.Hash) {
	s.calls = append(s.calls, call{kind: "unwind", a: from.Short(8), b: to.Short(8)})
}

func mineBlock(t *testing.T, index uint64, previous hash.Hash, seed string) *block.Block {
	t.Helper()
	b := &block.Block{
		Version:     block.Version,
		Index:       index,
		Previous:    previous,
		Timestamp:   1000 + index,
		GenesisSeed: seed,
	}
	require.NoError(t, block.Mine(b, testDifficulty, nil))
	return b
}

func TestReceiveGenesisNotifiesAppend(t *testing.T) {
	spy := &spyListener{}
	l, err := New(testDifficulty, spy)
	require.NoError(t, err)

	genesis := mineBlock(t, 0, hash.Hash{}, "catena genesis")
	require.NoError(t, l.Receive(genesis))

	require.Equal(t, blockHash(genesis), blockHash(l.Longest()))
	require.Equal(t, []call{{kind: "append", a: blockHash(genesis).Short(8)}}, spy.calls)
}

func TestReceiveExtendsChain(t *testing.T) {
	spy := &spyListener{}
	l, err := New(testDifficulty, spy)
	require.NoError(t, err)

	genesis := mineBlock(t, 0, hash.Hash{}, "seed")
	require.NoError(t, l.Receive(genesis))
	child := mineBlock(t, 1, blockHash(genesis), "")
	require.NoError(t, l.Receive(child))

	require.Equal(t, blockHash(child), blockHash(l.Longest()))
	require.Len(t, spy.calls, 2)
	require.Equal(t, "append", spy.calls[1].kind)
	require.Equal(t, blockHash(child).Short(8), spy.calls[1].a)
}

func TestReceiveRejectsDuplicateGenesis(t *testing.T) {
	l, err := New(testDifficulty, nil)
	require.NoError(t, err)

	genesis := mineBlock(t, 0, hash.Hash{}, "seed")
	require.NoError(t, l.Receive(genesis))
	require.ErrorIs(t, l.Receive(genesis), ErrBlockExists)
}

func TestReceiveRejectsInvalidSignature(t *testing.T) {
	l, err := New(testDifficulty, nil)
	require.NoError(t, err)

	genesis := mineBlock(t, 0, hash.Hash{}, "seed")
	genesis.GenesisSeed = "tampered after mining"
	require.ErrorIs(t, l.Receive(genesis), ErrInvalidBlock)
}

func TestReceiveRejectsTooManyTransactions(t *testing.T) {
	l, err := New(testDifficulty, nil)
	require.NoError(t, err)

	genesis := mineBlock(t, 0, hash.Hash{}, "seed")
	require.NoError(t, l.Receive(genesis))

	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	stmt, err := parser.Parse("SELECT 1;")
	require.NoError(t, err)

	txs := make([]*txn.Transaction, block.MaxTransactionsPerBlock+1)
	for i := range txs {
		tx, err := txn.New(priv, "shop", uint64(i), stmt)
		require.NoError(t, err)
		txs[i] = tx
	}

	overfull := &block.Block{
		Version:      block.Version,
		Index:        1,
		Previous:     blockHash(genesis),
		Timestamp:    1001,
		Transactions: txs,
	}
	require.NoError(t, block.Mine(overfull, testDifficulty, nil))

	err = l.Receive(overfull)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.TooManyTransactions))
	require.Equal(t, blockHash(genesis), blockHash(l.Longest()))
}

func TestOrphanBlockDrainsWhenParentArrives(t *testing.T) {
	spy := &spyListener{}
	l, err := New(testDifficulty, spy)
	require.NoError(t, err)

	genesis := mineBlock(t, 0, hash.Hash{}, "seed")
	child := mineBlock(t, 1, blockHash(genesis), "")

	require.NoError(t, l.Receive(child))
	require.True(t, l.IsOrphan(blockHash(child)))
	require.Empty(t, spy.calls)

	require.NoError(t, l.Receive(genesis))
	require.False(t, l.IsOrphan(blockHash(child)))
	require.Equal(t, blockHash(child), blockHash(l.Longest()))
	require.Len(t, spy.calls, 2)
	require.Equal(t, blockHash(genesis).Short(8), spy.calls[0].a)
	require.Equal(t, blockHash(child).Short(8), spy.calls[1].a)
}

func TestForkChoiceKeepsIncumbentOnTie(t *testing.T) {
	spy := &spyListener{}
	l, err := New(testDifficulty, spy)
	require.NoError(t, err)

	genesis := mineBlock(t, 0, hash.Hash{}, "seed")
	require.NoError(t, l.Receive(genesis))
	a1 := mineBlock(t, 1, blockHash(genesis), "")
	require.NoError(t, l.Receive(a1))
	b1 := &block.Block{Version: block.Version, Index: 1, Previous: blockHash(genesis), Timestamp: 2001}
	require.NoError(t, block.Mine(b1, testDifficulty, nil))
	require.NoError(t, l.Receive(b1))

	// b1 ties a1's height; the incumbent chain (a1's) stays longest and no
	// notification fires for a block that isn't part of the canonical view.
	require.Equal(t, blockHash(a1), blockHash(l.Longest()))
	require.Len(t, spy.calls, 2)
}

func TestForkChoiceSwitchesAndSplicesOnLongerChain(t *testing.T) {
	spy := &spyListener{}
	l, err := New(testDifficulty, spy)
	require.NoError(t, err)

	genesis := mineBlock(t, 0, hash.Hash{}, "seed")
	require.NoError(t, l.Receive(genesis))
	a1 := mineBlock(t, 1, blockHash(genesis), "")
	require.NoError(t, l.Receive(a1))
	b1 := &block.Block{Version: block.Version, Index: 1, Previous: blockHash(genesis), Timestamp: 2001}
	require.NoError(t, block.Mine(b1, testDifficulty, nil))
	require.NoError(t, l.Receive(b1))
	b2 := mineBlock(t, 2, blockHash(b1), "")
	require.NoError(t, l.Receive(b2))

	require.Equal(t, blockHash(b2), blockHash(l.Longest()))
	// genesis append, a1 append, (b1: no-op), unwind to genesis, b1 append, b2 append
	require.Len(t, spy.calls, 5)
	unwind := spy.calls[2]
	require.Equal(t, "unwind", unwind.kind)
	require.Equal(t, blockHash(a1).Short(8), unwind.a)
	require.Equal(t, blockHash(genesis).Short(8), unwind.b)
	require.Equal(t, "append", spy.calls[3].kind)
	require.Equal(t, blockHash(b1).Short(8), spy.calls[3].a)
	require.Equal(t, "append", spy.calls[4].kind)
	require.Equal(t, blockHash(b2).Short(8), spy.calls[4].a)
}
