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
	"github.com/Alalun/catena/transport"
	"github.com/Alalun/catena/txn"
)

// queryMsg carries no fields; it asks a peer to describe its longest
// chain.
type queryMsg struct {
	T transport.MessageType `json:"t"`
}

// indexMsg describes a peer's view of the network: its own longest
// chain, plus every peer address it currently knows about, so a newly
// joined node can discover the rest of the mesh transitively.
type indexMsg struct {
	T       transport.MessageType `json:"t"`
	Highest hash.Hash             `json:"highest"`
	Height  uint64                `json:"height"`
	Genesis hash.Hash             `json:"genesis"`
	Peers   []string              `json:"peers"`
}

// fetchMsg requests the block identified by Hash.
type fetchMsg struct {
	T    transport.MessageType `json:"t"`
	Hash hash.Hash             `json:"hash"`
}

// blockMsg both answers a fetch and announces a freshly mined block.
type blockMsg struct {
	T     transport.MessageType `json:"t"`
	Block *block.Block          `json:"block"`
}

// txMsg relays a signed transaction the sender wants gossiped further.
type txMsg struct {
	T  transport.MessageType `json:"t"`
	Tx *txn.Transaction      `json:"tx"`
}

// errorMsg answers a request the receiver could not satisfy, e.g. a
// fetch for an unknown hash.
type errorMsg struct {
	T       transport.MessageType `json:"t"`
	Message string                `json:"message"`
}

func newQuery() queryMsg { return queryMsg{T: transport.TypeQuery} }

func newIndex(highest, genesis hash.Hash, height uint64, peers []string) indexMsg {
	return indexMsg{T: transport.TypeIndex, Highest: highest, Height: height, Genesis: genesis, Peers: peers}
}

func newFetch(h hash.Hash) fetchMsg { return fetchMsg{T: transport.TypeFetch, Hash: h} }

func newBlockMsg(b *block.Block) blockMsg { return blockMsg{T: transport.TypeBlock, Block: b} }

func newTxMsg(tx *txn.Transaction) txMsg { return txMsg{T: transport.TypeTx, Tx: tx} }

func newError(message string) errorMsg { return errorMsg{T: transport.TypeError, Message: message} }
