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

package gossip

import (
	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/log"
	"github.com/Alalun/catena/transport"
	"github.com/Alalun/catena/txn"
)

// LedgerView is the slice of *ledger.Ledger the gossip layer needs: it
// never mutates fork choice itself, only forwards received blocks to it.
type LedgerView interface {
	Longest() *block.Block
	Get(h hash.Hash) (*block.Block, bool)
	Receive(b *block.Block) error
	IsOrphan(h hash.Hash) bool
}

// MempoolView is the slice of the mempool a gossiped transaction is
// appended to.
type MempoolView interface {
	Append(tx *txn.Transaction) error
}

// Candidate is a (peer, hash, height) tuple the node's scheduler should
// eventually dispatch a fetch for.
type Candidate struct {
	Peer   *Peer
	Hash   hash.Hash
	Height uint64
}

// Handler answers inbound gossip frames against a ledger and mempool,
// and reports blocks whose parent is unresolved so the node scheduler
// can queue a fetch for it.
type Handler struct {
	Ledger      LedgerView
	Mempool     MempoolView
	GenesisHash func() hash.Hash
	PeerAddrs   func() []string
	OnCandidate func(Candidate)
}

// Dispatch handles one non-reply frame arriving on conn from peer.
func (h *Handler) Dispatch(conn *transport.Conn, peer *Peer, seq uint64, env transport.Envelope) {
	switch env.Type {
	case transport.TypeQuery:
		h.handleQuery(conn, seq)
	case transport.TypeFetch:
		h.handleFetch(conn, seq, env)
	case transport.TypeBlock:
		h.handleBlock(peer, env)
	case transport.TypeTx:
		h.handleTx(env)
	case transport.TypeError:
		var e errorMsg
		_ = unmarshalEnvelope(env, &e)
		log.WithField("peer", peer.UUID).Debugf("peer reported error: %s", e.Message)
	default:
		log.WithField("peer", peer.UUID).Debugf("unrecognized gossip message type %q", env.Type)
	}
}

func (h *Handler) handleQuery(conn *transport.Conn, seq uint64) {
	head := h.Ledger.Longest()
	var highest hash.Hash
	var height uint64
	if head != nil {
		if hh, err := head.Hash(); err == nil {
			highest = hh
			height = head.Index
		}
	}
	var peers []string
	if h.PeerAddrs != nil {
		peers = h.PeerAddrs()
	}
	var genesis hash.Hash
	if h.GenesisHash != nil {
		genesis = h.GenesisHash()
	}
	if err := conn.Reply(seq, newIndex(highest, genesis, height, peers)); err != nil {
		log.WithError(err).Debugf("reply to query")
	}
}

func (h *Handler) handleFetch(conn *transport.Conn, seq uint64, env transport.Envelope) {
	var f fetchMsg
	if err := unmarshalEnvelope(env, &f); err != nil {
		_ = conn.Reply(seq, newError("malformed fetch"))
		return
	}
	b, ok := h.Ledger.Get(f.Hash)
	if !ok {
		_ = conn.Reply(seq, newError("unknown block"))
		return
	}
	if err := conn.Reply(seq, newBlockMsg(b)); err != nil {
		log.WithError(err).Debugf("reply to fetch")
	}
}

func (h *Handler) handleBlock(peer *Peer, env transport.Envelope) {
	var bm blockMsg
	if err := unmarshalEnvelope(env, &bm); err != nil || bm.Block == nil {
		log.WithField("peer", peer.UUID).Debugf("malformed block gossip")
		return
	}
	b := bm.Block
	if err := h.Ledger.Receive(b); err != nil {
		log.WithField("peer", peer.UUID).Debugf("block rejected: %v", err)
		// §7: SignatureError, PayloadSignatureError, and their sibling
		// TooManyTransactions all mark the gossiping peer suspect; failed
		// is the closest terminal state this machine has.
		if errkind.Is(err, errkind.SignatureError) || errkind.Is(err, errkind.PayloadSignatureError) || errkind.Is(err, errkind.TooManyTransactions) {
			peer.fail(err.Error())
		}
		return
	}
	if !b.IsGenesis() && !h.Ledger.IsOrphan(b.Previous) {
		if _, known := h.Ledger.Get(b.Previous); !known && h.OnCandidate != nil {
			h.OnCandidate(Candidate{Peer: peer, Hash: b.Previous, Height: b.Index - 1})
		}
	}
}

func (h *Handler) handleTx(env transport.Envelope) {
	var tm txMsg
	if err := unmarshalEnvelope(env, &tm); err != nil || tm.Tx == nil {
		return
	}
	if h.Mempool == nil {
		return
	}
	if err := h.Mempool.Append(tm.Tx); err != nil {
		log.WithError(err).Debugf("append gossiped transaction to mempool")
	}
}
