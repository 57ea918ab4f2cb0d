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

// Package txn defines the signed transaction that carries one SQL
// statement from a client into the mempool and, eventually, into a block.
package txn

import (
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/sql/ast"
	"github.com/Alalun/catena/sql/dialect"
	"github.com/Alalun/catena/sql/parser"
)

// Transaction is a signed SQL statement bound to an invoker, a database,
// and a per-invoker replay counter.
type Transaction struct {
	Invoker   *identity.PublicKey
	Database  string
	Counter   uint64
	Statement ast.Statement
	Signature *identity.Signature
}

// signable mirrors Transaction's four signed fields in the alphabetical
// key order that makes json.Marshal produce the "stable JSON with sorted
// keys" the signature is defined over: struct fields marshal in
// declaration order, so declaring them alphabetically by tag name is
// enough — no map indirection needed to get sorted keys.
type signable struct {
	Counter   uint64 `json:"counter"`
	Database  string `json:"database"`
	Invoker   string `json:"invoker"`
	Statement string `json:"statement"`
}

// canonicalBytes renders the four signed fields to their canonical byte
// form: the statement is rendered through the Standard dialect so that
// signing is independent of how the statement was originally typed
// (whitespace, letter case in keywords, etc).
func canonicalBytes(invoker *identity.PublicKey, database string, counter uint64, stmt ast.Statement) ([]byte, error) {
	text, err := dialect.Render(stmt, dialect.Standard)
	if err != nil {
		return nil, errors.Wrap(err, "render statement for signing")
	}
	s := signable{
		Counter:   counter,
		Database:  database,
		Invoker:   invoker.Hex(),
		Statement: text,
	}
	return json.Marshal(s)
}

// New builds and signs a Transaction.
func New(priv *identity.PrivateKey, database string, counter uint64, stmt ast.Statement) (*Transaction, error) {
	pub := priv.PubKey()
	buf, err := canonicalBytes(pub, database, counter, stmt)
	if err != nil {
		return nil, err
	}
	sig, err := priv.Sign(buf)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	return &Transaction{
		Invoker:   pub,
		Database:  database,
		Counter:   counter,
		Statement: stmt,
		Signature: sig,
	}, nil
}

// Verify reports whether tx's signature is valid over its four signed
// fields and whether its statement parses back to itself, per the
// invariants in the data model design notes.
func (tx *Transaction) Verify() error {
	if tx.Invoker == nil || tx.Signature == nil {
		return errors.New("transaction missing invoker or signature")
	}
	buf, err := canonicalBytes(tx.Invoker, tx.Database, tx.Counter, tx.Statement)
	if err != nil {
		return err
	}
	if !tx.Signature.Verify(buf, tx.Invoker) {
		return errors.New("transaction signature verification failed")
	}
	return nil
}

// wireTransaction is the JSON form used on the wire and in the blocks
// archive: the statement travels as canonical SQL text and is re-parsed
// on the receiving end rather than shipped as a serialized AST.
type wireTransaction struct {
	Invoker   string `json:"invoker"`
	Database  string `json:"database"`
	Counter   uint64 `json:"counter"`
	Statement string `json:"statement"`
	Signature string `json:"signature"`
}

// MarshalJSON implements json.Marshaler.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	text, err := dialect.Render(tx.Statement, dialect.Standard)
	if err != nil {
		return nil, errors.Wrap(err, "render statement")
	}
	return json.Marshal(wireTransaction{
		Invoker:   tx.Invoker.Hex(),
		Database:  tx.Database,
		Counter:   tx.Counter,
		Statement: text,
		Signature: tx.Signature.Hex(),
	})
}

// UnmarshalJSON implements json.Unmarshaler, reparsing the statement text
// and reconstructing the Ed25519 types from their hex encodings.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	pub, err := identity.PublicKeyFromHex(w.Invoker)
	if err != nil {
		return errors.Wrap(err, "decode invoker public key")
	}
	stmt, err := parser.Parse(w.Statement + ";")
	if err != nil {
		return errors.Wrap(err, "parse statement")
	}
	sigBytes, err := hex.DecodeString(w.Signature)
	if err != nil {
		return errors.Wrap(err, "decode signature")
	}
	tx.Invoker = pub
	tx.Database = w.Database
	tx.Counter = w.Counter
	tx.Statement = stmt
	tx.Signature = identity.SignatureFromBytes(sigBytes)
	return nil
}
