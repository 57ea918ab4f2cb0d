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

package replay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/exec"
	"github.com/Alalun/catena/storage"
)

const testDifficulty = 1

type fakeApplier struct {
	applied    []uint64
	resetCalls int
}

func (f *fakeApplier) ApplyBlock(b *block.Block, difficulty int, replay bool) error {
	f.applied = append(f.applied, b.Index)
	return nil
}

func (f *fakeApplier) Reset() error {
	f.resetCalls++
	return nil
}

type fakeSource struct {
	byHash map[hash.Hash]*block.Block
}

func newFakeSource() *fakeSource {
	return &fakeSource{byHash: map[hash.Hash]*block.Block{}}
}

func (f *fakeSource) add(b *block.Block) hash.Hash {
	h, err := b.Hash()
	if err != nil {
		panic(err)
	}
	f.byHash[h] = b
	return h
}

func (f *fakeSource) Get(h hash.Hash) (*block.Block, bool) {
	b, ok := f.byHash[h]
	return b, ok
}

func mineBlock(t *testing.T, index uint64, previous hash.Hash, seed string) *block.Block {
	t.Helper()
	b := &block.Block{Version: block.Version, Index: index, Previous: previous, Timestamp: 1000 + index, GenesisSeed: seed}
	require.NoError(t, block.Mine(b, testDifficulty, nil))
	return b
}

func TestQueuePromotesOldestOnOverflow(t *testing.T) {
	src := newFakeSource()
	app := &fakeApplier{}
	q := New(app, src, testDifficulty)

	gen := mineBlock(t, 0, hash.Hash{}, "genesis")
	genHash := src.add(gen)
	q.DidAppend(gen)

	prev := genHash
	for i := uint64(1); i < MaxQueueSize; i++ {
		b := mineBlock(t, i, prev, "")
		prev = src.add(b)
		q.DidAppend(b)
	}
	// the window now holds exactly MaxQueueSize blocks (genesis..6); one
	// more append is needed to overflow it.
	require.Empty(t, app.applied)

	overflow := mineBlock(t, MaxQueueSize, prev, "")
	src.add(overflow)
	q.DidAppend(overflow)

	require.Equal(t, []uint64{0}, app.applied)
}

func TestQueueUnwindWithinWindowJustTrims(t *testing.T) {
	src := newFakeSource()
	app := &fakeApplier{}
	q := New(app, src, testDifficulty)

	gen := mineBlock(t, 0, hash.Hash{}, "genesis")
	genHash := src.add(gen)
	q.DidAppend(gen)

	a1 := mineBlock(t, 1, genHash, "a")
	a1Hash := src.add(a1)
	q.DidAppend(a1)

	q.DidUnwind(a1Hash, genHash)
	require.Empty(t, app.applied)
	require.Len(t, q.entries, 1)
	require.Equal(t, uint64(0), q.entries[0].Index)
}

func TestQueueUnwindPastPermanentHeadReplays(t *testing.T) {
	src := newFakeSource()
	app := &fakeApplier{}
	q := New(app, src, testDifficulty)

	gen := mineBlock(t, 0, hash.Hash{}, "genesis")
	genHash := src.add(gen)
	q.DidAppend(gen)

	prev := genHash
	var oldChainHead hash.Hash
	for i := uint64(1); i <= MaxQueueSize+1; i++ {
		b := mineBlock(t, i, prev, "")
		prev = src.add(b)
		oldChainHead = prev
		q.DidAppend(b)
	}
	// two overflows have promoted blocks 0 and 1; permanent head is at 1.
	require.Equal(t, []uint64{0, 1}, app.applied)

	// The longest chain now switches to a fork whose common ancestor with
	// the old chain is genesis itself — behind the permanent store's
	// already-promoted head, so the whole store must be rebuilt.
	q.DidUnwind(oldChainHead, genHash)

	require.Equal(t, []uint64{0, 1, 0}, app.applied)
	require.Equal(t, uint64(0), q.headIndex)
	require.Equal(t, 1, app.resetCalls, "a deep replay must reset the permanent store before rebuilding it")
}

// TestQueueUnwindPastPermanentHeadRebuildsRealStore drives the same
// deep-rewind scenario through a real exec.Executive backed by
// storage.Metadata, not the fakeApplier stub: this is the only way to
// catch a replayFrom that forgets to reset the permanent store, since
// ApplyBlock's own head-continuity check (errkind.Inconsecutive) rejects
// a genesis-first replay against a store still holding the old head.
func TestQueueUnwindPastPermanentHeadRebuildsRealStore(t *testing.T) {
	dsn := fmt.Sprintf("file:replay-rebuild-test-%p?mode=memory&cache=shared", t)
	meta, err := storage.OpenMetadata(dsn)
	require.NoError(t, err)
	e := exec.New(meta)

	src := newFakeSource()
	q := New(e, src, testDifficulty)

	gen := mineBlock(t, 0, hash.Hash{}, "genesis")
	genHash := src.add(gen)
	q.DidAppend(gen)

	prev := genHash
	var oldChainHead hash.Hash
	for i := uint64(1); i <= MaxQueueSize+1; i++ {
		b := mineBlock(t, i, prev, "")
		prev = src.add(b)
		oldChainHead = prev
		q.DidAppend(b)
	}

	// two overflows have promoted blocks 0 and 1 into the real store.
	headIndex, _, ok, err := meta.Head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), headIndex)

	// The longest chain switches to a fork whose common ancestor with the
	// old chain is genesis itself, behind the already-promoted head, so
	// the permanent store must be wiped and rebuilt from genesis.
	q.DidUnwind(oldChainHead, genHash)

	headIndex, headHash, ok, err := meta.Head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), headIndex)
	require.Equal(t, genHash, headHash)
	require.Equal(t, uint64(0), q.headIndex)
}
