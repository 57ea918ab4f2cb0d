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

// Package node is the orchestrator of spec §4.11: it owns the ledger,
// the mempool, the miner, the gossip server, and the peer/candidate/query
// bookkeeping, and drives all of it from a single periodic tick. It is
// grounded on the teacher's worker/dbms.go dispatcher loop and
// route/node registry (a central struct that owns a map of remote
// endpoints behind one mutex and steps its own background work off a
// timer), generalized to a longest-chain gossip scheduler.
package node

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"

	uuid "github.com/satori/go.uuid"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/exec"
	"github.com/Alalun/catena/gossip"
	"github.com/Alalun/catena/ledger"
	"github.com/Alalun/catena/log"
	"github.com/Alalun/catena/mempool"
	"github.com/Alalun/catena/metric"
)

// TickInterval is how often the scheduler steps, per the node
// orchestrator design notes.
const TickInterval = 2 * time.Second

// Node ties together the pieces that make up one running Catena
// process. All mutations to peers, the candidate queue, and the query
// queue go through mu, per the concurrency design notes' "node mutex"
// rule; ledger and mempool guard themselves.
type Node struct {
	mu sync.Mutex

	UUID        string
	Difficulty  int
	GenesisSeed string

	Ledger  *ledger.Ledger
	Mempool *mempool.Pool
	Exec    *exec.Executive

	minerKey *identity.PrivateKey
	mining   bool
	abort    chan struct{}

	peers         map[string]*gossip.Peer
	candidates    []gossip.Candidate
	candidateSeen mapset.Set // hash.Hash values currently queued, for O(1) dedup
	queryQueue    []*gossip.Peer

	handler    *gossip.Handler
	gossipPort int

	stop chan struct{}
	done chan struct{}
}

// Options configures New.
type Options struct {
	UUID        string // empty generates a fresh UUID
	Difficulty  int
	GenesisSeed string // used to mine the genesis block when the ledger is empty
	Ledger      *ledger.Ledger
	Mempool     *mempool.Pool
	Exec        *exec.Executive
	MinerKey    *identity.PrivateKey // nil disables mining
	GossipPort  int
}

// New builds a Node and its gossip handler. Wire Handler into a
// gossip.Server to accept inbound connections, and call Run to start the
// scheduler.
func New(opts Options) *Node {
	id := opts.UUID
	if id == "" {
		id = uuid.NewV4().String()
	}
	n := &Node{
		UUID:          id,
		Difficulty:    opts.Difficulty,
		GenesisSeed:   opts.GenesisSeed,
		Ledger:        opts.Ledger,
		Mempool:       opts.Mempool,
		Exec:          opts.Exec,
		minerKey:      opts.MinerKey,
		peers:         map[string]*gossip.Peer{},
		candidateSeen: mapset.NewSet(),
		gossipPort:    opts.GossipPort,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	n.handler = &gossip.Handler{
		Ledger:      n.Ledger,
		Mempool:     n.Mempool,
		GenesisHash: n.genesisHash,
		PeerAddrs:   n.peerAddrs,
		OnCandidate: n.enqueueCandidate,
	}
	return n
}

// Handler returns the gossip handler backing this node's server, for
// wiring into a gossip.Server.
func (n *Node) Handler() *gossip.Handler { return n.handler }

func (n *Node) genesisHash() hash.Hash {
	b := n.Ledger.Longest()
	if b == nil {
		return hash.Hash{}
	}
	for {
		if b.IsGenesis() {
			h, _ := b.Hash()
			return h
		}
		parent, ok := n.Ledger.Get(b.Previous)
		if !ok {
			return hash.Hash{}
		}
		b = parent
	}
}

func (n *Node) peerAddrs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	addrs := make([]string, 0, len(n.peers))
	for _, p := range n.peers {
		if p.Addr != "" {
			addrs = append(addrs, p.Addr)
		}
	}
	return addrs
}

func (n *Node) enqueueCandidate(c gossip.Candidate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.candidateSeen.Contains(c.Hash) {
		return
	}
	n.candidateSeen.Add(c.Hash)
	n.candidates = append(n.candidates, c)
}

// AddPeer registers a dial target and returns the Peer, in state new
// until Join dials it. The scheduler does not dial peers, so a peer added
// only from an index reply stays in state new.
func (n *Node) AddPeer(addr string) *gossip.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := gossip.NewPeer("", addr)
	n.peers[addr] = p
	return p
}

// AcceptPeer registers an inbound-connected peer under its UUID.
func (n *Node) AcceptPeer(p *gossip.Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := p.UUID
	if key == "" {
		key = p.Addr
	}
	if _, exists := n.peers[key]; !exists {
		metric.PeersConnected.Inc(1)
	}
	n.peers[key] = p
}

// Join dials every address and adds it as a peer.
func (n *Node) Join(ctx context.Context, addrs []string) {
	for _, addr := range addrs {
		p := n.AddPeer(addr)
		if err := p.Dial(ctx, n.UUID, n.gossipPort); err != nil {
			log.WithError(err).Warnf("join %s", addr)
		}
	}
}

func (n *Node) allPeers() []*gossip.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*gossip.Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// Run starts the 2-second scheduler loop; it returns when Stop is
// called or ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		case <-ticker.C:
			n.tick(ctx)
		}
	}
}

// Stop halts the scheduler loop started by Run.
func (n *Node) Stop() {
	close(n.stop)
	<-n.done
}

// tick executes one scheduler step, per the node orchestrator design
// notes: drain one candidate, advance one queried peer, and refill the
// query queue once it runs dry.
func (n *Node) tick(ctx context.Context) {
	if c, ok := n.popCandidate(); ok {
		n.dispatchFetch(ctx, c)
	}

	peer, ok := n.popQueryQueue()
	if !ok {
		n.refillQueryQueue()
		return
	}
	n.queryPeer(ctx, peer)
}

func (n *Node) popCandidate() (gossip.Candidate, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.candidates) == 0 {
		return gossip.Candidate{}, false
	}
	c := n.candidates[0]
	n.candidates = n.candidates[1:]
	n.candidateSeen.Remove(c.Hash)
	return c, true
}

func (n *Node) popQueryQueue() (*gossip.Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queryQueue) == 0 {
		return nil, false
	}
	p := n.queryQueue[0]
	n.queryQueue = n.queryQueue[1:]
	return p, true
}

func (n *Node) refillQueryQueue() {
	peers := n.allPeers()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queryQueue = n.queryQueue[:0]
	for _, p := range peers {
		state, _ := p.State()
		if state == gossip.StateConnected || state == gossip.StateQueried {
			n.queryQueue = append(n.queryQueue, p)
		}
	}
}

func (n *Node) queryPeer(ctx context.Context, peer *gossip.Peer) {
	highest, height, _, peerAddrs, err := peer.Query(ctx)
	if err != nil {
		return
	}
	for _, addr := range peerAddrs {
		n.mu.Lock()
		_, known := n.peers[addr]
		n.mu.Unlock()
		if !known {
			n.AddPeer(addr)
		}
	}

	local := n.Ledger.Longest()
	var localHeight uint64
	if local != nil {
		localHeight = local.Index
	}
	if height > localHeight {
		n.enqueueCandidate(gossip.Candidate{Peer: peer, Hash: highest, Height: height})
	}
}

func (n *Node) dispatchFetch(ctx context.Context, c gossip.Candidate) {
	bm, err := c.Peer.Fetch(ctx, c.Hash)
	if err != nil || bm.Block == nil {
		return
	}
	if err := n.Ledger.Receive(bm.Block); err != nil {
		metric.BlocksRejected.Mark(1)
		log.WithField("peer", c.Peer.UUID).Debugf("fetched block rejected: %v", err)
		if errkind.Is(err, errkind.SignatureError) || errkind.Is(err, errkind.PayloadSignatureError) || errkind.Is(err, errkind.TooManyTransactions) {
			c.Peer.MarkSuspect(err.Error())
		}
		return
	}
	metric.BlocksReceived.Mark(1)
	if !bm.Block.IsGenesis() {
		if _, known := n.Ledger.Get(bm.Block.Previous); !known && !n.Ledger.IsOrphan(bm.Block.Previous) {
			n.enqueueCandidate(gossip.Candidate{Peer: c.Peer, Hash: bm.Block.Previous, Height: bm.Block.Index - 1})
		}
	}
}

// BroadcastBlock announces b to every peer currently connected or
// queried, best-effort.
func (n *Node) BroadcastBlock(b *block.Block) {
	for _, p := range n.allPeers() {
		state, _ := p.State()
		if state != gossip.StateConnected && state != gossip.StateQueried {
			continue
		}
		if err := gossip.SendBlock(p, b); err != nil {
			log.WithField("peer", p.UUID).Debugf("broadcast block: %v", err)
		}
	}
}

// StartMining launches a background loop that repeatedly assembles a
// candidate block from the mempool and the current longest chain, mines
// it, then receives it into the ledger and broadcasts it. It does not
// check whether the head moved while mining; the ledger's fork choice
// places the block. It is a no-op if the
// node was built without a miner key.
func (n *Node) StartMining(ctx context.Context) {
	if n.minerKey == nil {
		return
	}
	n.mu.Lock()
	if n.mining {
		n.mu.Unlock()
		return
	}
	n.mining = true
	n.abort = make(chan struct{})
	n.mu.Unlock()

	go n.mineLoop(ctx)
}

func (n *Node) mineLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !n.isMining() {
			return
		}
		if err := n.mineOnce(ctx); err != nil && err != block.ErrMiningAborted {
			log.WithError(err).Warnf("mining")
			time.Sleep(time.Second)
		}
	}
}

func (n *Node) isMining() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mining
}

func (n *Node) mineOnce(ctx context.Context) error {
	head := n.Ledger.Longest()
	var index uint64
	var previous hash.Hash
	if head != nil {
		index = head.Index + 1
		var err error
		previous, err = head.Hash()
		if err != nil {
			return err
		}
	}

	pending := n.Mempool.Drain(mempool.MaxBatch)
	b := &block.Block{
		Version:      block.Version,
		Index:        index,
		Previous:     previous,
		Miner:        n.minerKey.PubKey().Hash(),
		Timestamp:    uint64(time.Now().Unix()),
		Transactions: pending,
	}
	if index == 0 {
		b.GenesisSeed = n.GenesisSeed
	}

	n.mu.Lock()
	abort := n.abort
	n.mu.Unlock()

	if err := block.Mine(b, n.Difficulty, abort); err != nil {
		n.Mempool.Requeue(pending)
		return err
	}
	if err := n.Ledger.Receive(b); err != nil {
		n.Mempool.Requeue(pending)
		return errors.Wrap(err, "mined block rejected by own ledger")
	}
	metric.BlocksMined.Mark(1)
	n.BroadcastBlock(b)
	return nil
}

// StopMining aborts any in-flight proof-of-work loop.
func (n *Node) StopMining() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mining && n.abort != nil {
		close(n.abort)
		n.mining = false
	}
}
