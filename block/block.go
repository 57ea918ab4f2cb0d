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

// Package block defines the block header/payload container, its canonical
// bytes-for-signing, and the proof-of-work loop that produces the block's
// signature.
package block

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/txn"
)

// Version is the only block format this node emits.
const Version uint32 = 1

// InitialDifficulty is the leading-zero-bit target new chains start at.
const InitialDifficulty = 10

// MaxTransactionsPerBlock bounds a non-genesis block's payload.
const MaxTransactionsPerBlock = 100

// MaxPayloadForSigningBytes bounds the concatenated-signatures payload
// that gets hashed into a block's bytes-for-signing.
const MaxPayloadForSigningBytes = 1 << 20

// Block is a header plus its payload: either a genesis seed string, or a
// batch of transactions.
type Block struct {
	Version      uint32
	Index        uint64
	Previous     hash.Hash
	Miner        hash.Hash // SHA-256 of the miner's public key
	Timestamp    uint64    // seconds since epoch
	Nonce        uint64
	GenesisSeed  string // set only when Index == 0
	Transactions []*txn.Transaction
	Signature    hash.Hash // the proof-of-work output
}

// IsGenesis reports whether b is a chain's genesis block.
func (b *Block) IsGenesis() bool { return b.Index == 0 }

// Hash returns the SHA-256 digest of b's bytes-for-signing: the identity
// other packages (the ledger, the executive, gossip) key blocks by.
func (b *Block) Hash() (hash.Hash, error) {
	buf, err := b.BytesForSigning()
	if err != nil {
		return hash.Hash{}, err
	}
	return hash.Sum(buf), nil
}

// payloadForSigning is the genesis seed (UTF-8) for the genesis block, or
// the concatenation of the constituent transactions' raw signatures.
func (b *Block) payloadForSigning() ([]byte, error) {
	if b.IsGenesis() {
		return []byte(b.GenesisSeed), nil
	}
	var buf bytes.Buffer
	for _, tx := range b.Transactions {
		if tx.Signature == nil {
			return nil, errors.New("block: transaction missing signature")
		}
		buf.Write(tx.Signature.Bytes())
	}
	if buf.Len() > MaxPayloadForSigningBytes {
		return nil, errors.New("block: payload for signing exceeds size limit")
	}
	return buf.Bytes(), nil
}

// BytesForSigning renders the canonical concatenation `version ‖ index ‖
// previous ‖ miner ‖ timestamp ‖ nonce ‖ payload-for-signing`, all
// integers big-endian fixed-width, that the block's proof-of-work hashes.
func (b *Block) BytesForSigning() ([]byte, error) {
	payload, err := b.payloadForSigning()
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, b.Version); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, b.Index); err != nil {
		return nil, err
	}
	buf.Write(b.Previous.AsBytes())
	buf.Write(b.Miner.AsBytes())
	if err := binary.Write(buf, binary.BigEndian, b.Timestamp); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, b.Nonce); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// VerifySignature reports whether b.Signature is both the correct
// SHA-256 of b's bytes-for-signing and meets difficulty's leading-zero-bit
// target.
func (b *Block) VerifySignature(difficulty int) error {
	buf, err := b.BytesForSigning()
	if err != nil {
		return err
	}
	want := hash.Sum(buf)
	if !want.IsEqual(&b.Signature) {
		return errors.New("block: signature does not match bytes-for-signing")
	}
	if b.Signature.Difficulty() < difficulty {
		return errors.New("block: signature does not meet difficulty target")
	}
	return nil
}

// wireBlock is the JSON transport/archive form.
type wireBlock struct {
	Version      uint32             `json:"version"`
	Index        uint64             `json:"index"`
	Previous     hash.Hash          `json:"previous"`
	Miner        hash.Hash          `json:"miner"`
	Timestamp    uint64             `json:"timestamp"`
	Nonce        uint64             `json:"nonce"`
	GenesisSeed  string             `json:"genesisSeed,omitempty"`
	Transactions []*txn.Transaction `json:"transactions,omitempty"`
	Signature    hash.Hash          `json:"signature"`
}

// MarshalJSON implements json.Marshaler.
func (b *Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBlock{
		Version:      b.Version,
		Index:        b.Index,
		Previous:     b.Previous,
		Miner:        b.Miner,
		Timestamp:    b.Timestamp,
		Nonce:        b.Nonce,
		GenesisSeed:  b.GenesisSeed,
		Transactions: b.Transactions,
		Signature:    b.Signature,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.Version = w.Version
	b.Index = w.Index
	b.Previous = w.Previous
	b.Miner = w.Miner
	b.Timestamp = w.Timestamp
	b.Nonce = w.Nonce
	b.GenesisSeed = w.GenesisSeed
	b.Transactions = w.Transactions
	b.Signature = w.Signature
	return nil
}
