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

// Package hash implements the 32-byte content hash used throughout Catena:
// block signatures (proof-of-work output), transaction signing digests, and
// invoker/miner identities (SHA-256 of an Ed25519 public key).
package hash

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcutil/base58"
)

// Size is the number of bytes in a Hash.
const Size = 32

// MaxStringSize is the maximum length of a hex-encoded Hash string.
const MaxStringSize = Size * 2

// ErrHashStrSize describes an error that indicates the caller specified a
// hash string that has too many characters.
var ErrHashStrSize = fmt.Errorf("max hash string length is %v bytes", MaxStringSize)

// Hash is a fixed-size SHA-256 digest. The zero value is the "no previous
// block" sentinel used by genesis blocks.
type Hash [Size]byte

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Base58 returns the base58 (Bitcoin alphabet) encoding of the hash.
func (h Hash) Base58() string {
	return base58.Encode(h[:])
}

// Short returns the hex encoding of the first n bytes.
func (h Hash) Short(n int) string {
	if n > Size {
		n = Size
	}
	return hex.EncodeToString(h[:n])
}

// IsZero reports whether h is the all-zero "no previous block" hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// AsBytes returns the underlying bytes of the hash.
func (h Hash) AsBytes() []byte {
	return h[:]
}

// CloneBytes returns a fresh copy of the hash bytes.
func (h *Hash) CloneBytes() []byte {
	out := make([]byte, Size)
	copy(out, h[:])
	return out
}

// SetBytes sets the hash from b, which must be exactly Size bytes.
func (h *Hash) SetBytes(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("invalid hash length of %v, want %v", len(b), Size)
	}
	copy(h[:], b)
	return nil
}

// IsEqual reports whether h and target hold the same bytes. Two nil
// pointers are equal; a nil and a non-nil pointer are not.
func (h *Hash) IsEqual(target *Hash) bool {
	if h == nil && target == nil {
		return true
	}
	if h == nil || target == nil {
		return false
	}
	return *h == *target
}

// Difficulty returns the number of leading zero bits in the hash, read as
// a big-endian integer. This is the proof-of-work acceptance predicate:
// a block is valid when its hash's Difficulty is at least the target.
func (h *Hash) Difficulty() int {
	if h == nil {
		return -1
	}
	for i, b := range h {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return Size * 8
}

// MarshalJSON implements json.Marshaler, rendering the hash as hex.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return Decode(h, s)
}

// New returns a new Hash from a byte slice, which must be exactly Size bytes.
func New(b []byte) (*Hash, error) {
	var h Hash
	if err := h.SetBytes(b); err != nil {
		return nil, err
	}
	return &h, nil
}

// FromString decodes a hex-encoded hash string.
func FromString(s string) (*Hash, error) {
	h := new(Hash)
	if err := Decode(h, s); err != nil {
		return nil, err
	}
	return h, nil
}

// Decode hex-decodes src into dst. Unlike bitcoin-style hashes, Catena
// hashes are not byte-reversed for display.
func Decode(dst *Hash, src string) error {
	if len(src) > MaxStringSize {
		return ErrHashStrSize
	}
	b, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	copy(dst[Size-len(b):], b)
	return nil
}

// Sum returns the SHA-256 digest of b as a Hash.
func Sum(b []byte) Hash {
	return sum(b)
}

// SumBytes returns the SHA-256 digest of b as a byte slice.
func SumBytes(b []byte) []byte {
	h := sum(b)
	return h[:]
}
