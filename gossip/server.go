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
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/log"
	"github.com/Alalun/catena/transport"
	"github.com/Alalun/catena/txn"
)

// Server accepts inbound gossip connections and hands each accepted
// peer to OnAccept. Its Serve/Shutdown shape follows the teacher's
// jsonrpc.WebsocketServer; the RPC framing itself is replaced by this
// package's transport.Conn since sourcegraph/jsonrpc2 is not part of
// this module's dependency set.
type Server struct {
	http.Server

	SelfUUID       string
	AllowedOrigins map[string]bool // empty means allow all
	OnAccept       func(p *Peer)
	Handler        *Handler
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return s.AllowedOrigins[origin]
}

// Serve binds addr and accepts connections until the server is shut
// down.
func (s *Server) Serve(addr string) error {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		remoteUUID := r.Header.Get(HeaderUUID)
		remotePort := r.Header.Get(HeaderPort)
		remoteVersion := r.Header.Get(HeaderVersion)
		if err := ValidateHandshake(s.SelfUUID, remoteUUID, remotePort, remoteVersion); err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}

		header := http.Header{}
		header.Set(HeaderUUID, s.SelfUUID)
		header.Set(HeaderVersion, ProtocolVersion)
		conn, err := upgrader.Upgrade(rw, r, header)
		if err != nil {
			log.WithError(err).Errorf("gossip: upgrade to websocket failed")
			return
		}

		peer := Accept(conn, remoteUUID)
		if s.OnAccept != nil {
			s.OnAccept(peer)
		}
		s.serveConn(peer)
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "gossip: bind %q", addr)
	}
	s.Server.Handler = mux
	return s.Server.Serve(listener)
}

func (s *Server) serveConn(peer *Peer) {
	defer func() {
		conn := peer.Conn()
		if conn != nil {
			conn.Close()
		}
	}()
	conn := peer.Conn()
	if conn == nil || s.Handler == nil {
		return
	}
	err := conn.ReadLoop(func(seq uint64, env transport.Envelope) {
		s.Handler.Dispatch(conn, peer, seq, env)
	})
	if err != nil {
		peer.fail(errors.Wrap(err, "read loop").Error())
	}
}

// Shutdown gracefully stops accepting new connections.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Server.Shutdown(ctx)
}

// SendBlock announces a freshly mined or received block to peer. It
// returns an error when the peer has no connection or the send fails; it
// does not change the peer's state.
func SendBlock(peer *Peer, b *block.Block) error {
	conn := peer.Conn()
	if conn == nil {
		return errors.New("peer has no connection")
	}
	return conn.Send(newBlockMsg(b))
}

// SendTx relays a signed transaction to peer.
func SendTx(peer *Peer, tx *txn.Transaction) error {
	conn := peer.Conn()
	if conn == nil {
		return errors.New("peer has no connection")
	}
	return conn.Send(newTxMsg(tx))
}
