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

package node

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/exec"
	"github.com/Alalun/catena/gossip"
	"github.com/Alalun/catena/ledger"
	"github.com/Alalun/catena/mempool"
	"github.com/Alalun/catena/storage"
)

var dsnSeq int

func newTestNode(t *testing.T, mine bool) *Node {
	t.Helper()
	dsnSeq++
	dsn := fmt.Sprintf("file:node-test-%d?mode=memory&cache=shared", dsnSeq)
	meta, err := storage.OpenMetadata(dsn)
	require.NoError(t, err)
	e := exec.New(meta)

	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	led, err := ledger.New(1, noopListener{})
	require.NoError(t, err)

	opts := Options{Difficulty: 1, Ledger: led, Mempool: mempool.New(), Exec: e}
	if mine {
		opts.MinerKey = priv
	}
	return New(opts)
}

type noopListener struct{}

func (noopListener) DidUnwind(from, to hash.Hash) {}
func (noopListener) DidAppend(b *block.Block)     {}

func TestAddPeerRegistersUnderAddr(t *testing.T) {
	n := newTestNode(t, false)
	p := n.AddPeer("ws://example.invalid:8338")
	require.NotNil(t, p)
	require.Contains(t, n.peerAddrs(), "ws://example.invalid:8338")
}

func TestEnqueueCandidateDedups(t *testing.T) {
	n := newTestNode(t, false)
	p := n.AddPeer("ws://a")
	h := mustHash(t, "x")
	n.enqueueCandidate(gossip.Candidate{Peer: p, Hash: h, Height: 1})
	n.enqueueCandidate(gossip.Candidate{Peer: p, Hash: h, Height: 1})
	require.Len(t, n.candidates, 1)
}

func TestPopCandidateFIFO(t *testing.T) {
	n := newTestNode(t, false)
	p := n.AddPeer("ws://a")
	h1, h2 := mustHash(t, "a"), mustHash(t, "b")
	n.enqueueCandidate(gossip.Candidate{Peer: p, Hash: h1})
	n.enqueueCandidate(gossip.Candidate{Peer: p, Hash: h2})

	c, ok := n.popCandidate()
	require.True(t, ok)
	require.Equal(t, h1, c.Hash)

	c, ok = n.popCandidate()
	require.True(t, ok)
	require.Equal(t, h2, c.Hash)

	_, ok = n.popCandidate()
	require.False(t, ok)
}

func TestMineOnceProducesGenesisThenExtends(t *testing.T) {
	n := newTestNode(t, true)

	require.Nil(t, n.Ledger.Longest())
	require.NoError(t, n.mineOnce(context.Background()))
	gen := n.Ledger.Longest()
	require.NotNil(t, gen)
	require.Equal(t, uint64(0), gen.Index)

	require.NoError(t, n.mineOnce(context.Background()))
	head := n.Ledger.Longest()
	require.Equal(t, uint64(1), head.Index)
}

func TestStartStopMiningIsIdempotentAndAborts(t *testing.T) {
	n := newTestNode(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n.StartMining(ctx)
	n.StartMining(ctx) // second call is a no-op, not a second goroutine

	require.Eventually(t, func() bool { return n.Ledger.Longest() != nil }, 2*time.Second, 10*time.Millisecond)
	n.StopMining()
}

func mustHash(t *testing.T, seed string) hash.Hash {
	t.Helper()
	var h hash.Hash
	copy(h[:], seed)
	return h
}
