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

// Package identity wraps Ed25519 key pairs and derives the SHA-256
// identities (miner identity, invoker hash) used by the ledger and grants
// engine.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/Alalun/catena/crypto/hash"
)

// PublicKey is an Ed25519 public key.
type PublicKey struct {
	raw ed25519.PublicKey
}

// PrivateKey is an Ed25519 private key.
type PrivateKey struct {
	raw ed25519.PrivateKey
}

// Signature is a raw Ed25519 signature.
type Signature struct {
	raw []byte
}

// ErrInvalidPublicKeyLength is returned when decoding a public key of the
// wrong size.
var ErrInvalidPublicKeyLength = errors.New("invalid public key length")

// ErrInvalidSignature is returned by Verify when the signature does not
// check out.
var ErrInvalidSignature = errors.New("signature verification failed")

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (priv *PrivateKey, pub *PublicKey, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate ed25519 key")
	}
	return &PrivateKey{raw: sk}, &PublicKey{raw: pk}, nil
}

// PubKey returns the public key corresponding to p.
func (p *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{raw: p.raw.Public().(ed25519.PublicKey)}
}

// Sign produces an Ed25519 signature over msg.
func (p *PrivateKey) Sign(msg []byte) (*Signature, error) {
	if p == nil {
		return nil, errors.New("nil private key")
	}
	return &Signature{raw: ed25519.Sign(p.raw, msg)}, nil
}

// Bytes returns the raw 64-byte seed+public form of the private key.
func (p *PrivateKey) Bytes() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	return out
}

// Hex returns the hex encoding of the private key.
func (p *PrivateKey) Hex() string {
	return hex.EncodeToString(p.Bytes())
}

// PrivateKeyFromHex parses a hex-encoded Ed25519 private key.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode private key hex")
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key length")
	}
	return &PrivateKey{raw: ed25519.PrivateKey(b)}, nil
}

// Bytes returns the raw 32-byte public key.
func (p *PublicKey) Bytes() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	return out
}

// Hex returns the hex encoding of the public key.
func (p *PublicKey) Hex() string {
	return hex.EncodeToString(p.Bytes())
}

// IsEqual reports whether p and other hold the same key bytes.
func (p *PublicKey) IsEqual(other *PublicKey) bool {
	if p == nil || other == nil {
		return p == other
	}
	return string(p.raw) == string(other.raw)
}

// Hash returns the SHA-256 digest of the public key — the invoker hash /
// miner identity used throughout the metadata tables.
func (p *PublicKey) Hash() hash.Hash {
	return hash.Sum(p.raw)
}

// PublicKeyFromBytes parses a raw 32-byte Ed25519 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKeyLength
	}
	out := make([]byte, len(b))
	copy(out, b)
	return &PublicKey{raw: out}, nil
}

// PublicKeyFromHex parses a hex-encoded Ed25519 public key.
func PublicKeyFromHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode public key hex")
	}
	return PublicKeyFromBytes(b)
}

// Verify reports whether sig is a valid signature over msg by signee.
func (s *Signature) Verify(msg []byte, signee *PublicKey) bool {
	if s == nil || signee == nil {
		return false
	}
	return ed25519.Verify(signee.raw, msg, s.raw)
}

// Bytes returns the raw signature bytes.
func (s *Signature) Bytes() []byte {
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

// Hex returns the hex encoding of the signature.
func (s *Signature) Hex() string {
	return hex.EncodeToString(s.raw)
}

// SignatureFromBytes wraps a raw signature.
func SignatureFromBytes(b []byte) *Signature {
	out := make([]byte, len(b))
	copy(out, b)
	return &Signature{raw: out}
}
