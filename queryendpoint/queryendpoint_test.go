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

package queryendpoint

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/exec"
	"github.com/Alalun/catena/mempool"
	"github.com/Alalun/catena/storage"
)

var dsnSeq int

func newTestServer(t *testing.T) (*Server, net.Listener) {
	t.Helper()
	dsnSeq++
	dsn := fmt.Sprintf("file:queryendpoint-test-%d?mode=memory&cache=shared", dsnSeq)
	meta, err := storage.OpenMetadata(dsn)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{Exec: exec.New(meta), Meta: meta, Mempool: mempool.New()}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s, ln
}

func roundTrip(t *testing.T, addr net.Addr, username, password, database, query string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "%s\n%s\n%s\n%s\n", username, password, database, query)
	conn.(*net.TCPConn).CloseWrite()

	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(out)
}

func TestMutatingStatementIsQueuedToMempool(t *testing.T) {
	s, ln := newTestServer(t)
	defer ln.Close()

	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	out := roundTrip(t, ln.Addr(), "random", priv.Hex(), "", "CREATE DATABASE demo;")
	require.Contains(t, out, "OK")
	require.Equal(t, 1, s.Mempool.Len())
}

func TestBadPrivateKeyIsRejected(t *testing.T) {
	_, ln := newTestServer(t)
	defer ln.Close()

	out := roundTrip(t, ln.Addr(), "random", "not-hex", "", "SELECT 1;")
	require.Contains(t, out, "ERROR")
}

func TestUsernameMustMatchPrivateKey(t *testing.T) {
	_, ln := newTestServer(t)
	defer ln.Close()

	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	_, otherPub, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	out := roundTrip(t, ln.Addr(), otherPub.Hex(), priv.Hex(), "", "SELECT 1;")
	require.Contains(t, out, "ERROR")
}

func TestReadOnlyStatementExecutesDirectly(t *testing.T) {
	s, ln := newTestServer(t)
	defer ln.Close()

	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	out := roundTrip(t, ln.Addr(), "random", priv.Hex(), "", "SHOW DATABASES;")
	require.Contains(t, out, "database")
	require.Equal(t, 0, s.Mempool.Len())
}
