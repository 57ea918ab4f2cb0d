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

// Package gossip implements the peer state machine and wire messages
// that keep this node's ledger in sync with the rest of the network. It
// is grounded on the shape of CovenantSQL's rpc/route connection
// bookkeeping (a per-peer struct guarding its own connection and state
// behind a mutex, registered into a map the caller locks separately),
// generalized from a request/service registry to the query/candidate
// state machine this design calls for.
package gossip

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/log"
	"github.com/Alalun/catena/transport"
)

// State is a peer's position in the connection/query lifecycle.
type State string

// Peer states, per the gossip design notes.
const (
	StateNew        State = "new"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateQuerying   State = "querying"
	StateQueried    State = "queried"
	StateFailed     State = "failed"
	StateIgnored    State = "ignored"
)

// ProtocolVersion is the only X-Version this node speaks.
const ProtocolVersion = "1"

// RequestTimeout bounds any single outstanding request-response
// exchange; expiry transitions the peer to failed.
const RequestTimeout = 10 * time.Second

// Peer tracks one remote node: its address, connection, and state.
// Passive peers were accepted inbound rather than dialed and so have no
// URL to redial if the connection drops.
type Peer struct {
	mu sync.Mutex

	UUID    string
	Addr    string // ws URL; empty for passive peers
	Passive bool

	state  State
	reason string

	conn *transport.Conn
}

// NewPeer creates a peer in state new for the given address (dial
// target). Passive peers are constructed by Accept instead.
func NewPeer(uuid, addr string) *Peer {
	return &Peer{UUID: uuid, Addr: addr, state: StateNew}
}

// State returns the peer's current state and, if failed or ignored, the
// reason.
func (p *Peer) State() (State, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.reason
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Peer) fail(reason string) {
	p.mu.Lock()
	p.state = StateFailed
	p.reason = reason
	c := p.conn
	p.conn = nil
	p.mu.Unlock()
	if c != nil {
		c.Close()
	}
	log.WithField("peer", p.UUID).Warnf("peer failed: %s", reason)
}

// MarkSuspect transitions the peer to failed for a protocol violation
// noticed outside the peer's own request/response calls — a gossiped or
// fetched block whose signature or payload does not verify, per §7's
// SignatureError/PayloadSignatureError handling.
func (p *Peer) MarkSuspect(reason string) {
	p.fail(reason)
}

func (p *Peer) ignore(reason string) {
	p.mu.Lock()
	p.state = StateIgnored
	p.reason = reason
	p.mu.Unlock()
	log.WithField("peer", p.UUID).Debugf("peer ignored: %s", reason)
}

// Handshake headers exchanged when a connection is opened.
const (
	HeaderUUID    = "X-UUID"
	HeaderPort    = "X-Port"
	HeaderVersion = "X-Version"
)

// Dial opens a connection to the peer's address, performs the handshake,
// and stores the resulting Conn. selfUUID and selfPort populate the
// handshake headers; selfUUID is compared against the header the remote
// end returns to reject self-connections.
func (p *Peer) Dial(ctx context.Context, selfUUID string, selfPort int) error {
	p.setState(StateConnecting)

	header := make(map[string][]string)
	header[HeaderUUID] = []string{selfUUID}
	header[HeaderPort] = []string{portString(selfPort)}
	header[HeaderVersion] = []string{ProtocolVersion}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, p.Addr, header)
	if err != nil {
		p.fail(errors.Wrap(err, "dial").Error())
		return err
	}

	remoteUUID := resp.Header.Get(HeaderUUID)
	remoteVersion := resp.Header.Get(HeaderVersion)
	if remoteUUID == selfUUID {
		ws.Close()
		reason := "peer is self"
		p.ignore(reason)
		return errors.New(reason)
	}
	if remoteVersion != "" && remoteVersion != ProtocolVersion {
		ws.Close()
		reason := "protocol version mismatch"
		p.fail(reason)
		return errors.New(reason)
	}

	p.mu.Lock()
	p.conn = transport.New(ws, true)
	if p.UUID == "" {
		p.UUID = remoteUUID
	}
	p.state = StateConnected
	p.mu.Unlock()
	return nil
}

// Accept wraps an inbound, already-upgraded connection as a passive
// peer. remoteUUID is the UUID header of the request that was upgraded.
func Accept(ws *websocket.Conn, remoteUUID string) *Peer {
	p := &Peer{UUID: remoteUUID, Passive: true, state: StateConnected}
	p.conn = transport.New(ws, false)
	return p
}

// ValidateHandshake checks a candidate peer's headers against the rules
// in the gossip design notes: reject a self-UUID, a version mismatch, or
// a port outside (0, 65536).
func ValidateHandshake(selfUUID, remoteUUID, remotePort, remoteVersion string) error {
	if remoteUUID == "" {
		return errors.New("missing X-UUID header")
	}
	if remoteUUID == selfUUID {
		return errors.New("peer UUID equals own UUID")
	}
	if remoteVersion != "" && remoteVersion != ProtocolVersion {
		return errors.Errorf("unsupported protocol version %q", remoteVersion)
	}
	if remotePort != "" {
		port, err := parsePort(remotePort)
		if err != nil || port <= 0 || port >= 65536 {
			return errors.Errorf("invalid X-Port %q", remotePort)
		}
	}
	return nil
}

// Conn exposes the peer's underlying framed connection, or nil if it is
// not currently connected.
func (p *Peer) Conn() *transport.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Query sends a query message and awaits the index reply, transitioning
// through querying -> queried (or failed on timeout/error).
func (p *Peer) Query(ctx context.Context) (highest hash.Hash, height uint64, genesis hash.Hash, peers []string, err error) {
	conn := p.Conn()
	if conn == nil {
		err = errors.New("peer has no connection")
		p.fail(err.Error())
		return
	}
	p.setState(StateQuerying)

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	env, reqErr := conn.Request(ctx, newQuery())
	if reqErr != nil {
		p.fail(errors.Wrap(reqErr, "query").Error())
		err = reqErr
		return
	}
	var idx indexMsg
	if unmarshalErr := unmarshalEnvelope(env, &idx); unmarshalErr != nil {
		p.fail(errors.Wrap(unmarshalErr, "decode index").Error())
		err = unmarshalErr
		return
	}
	p.setState(StateQueried)
	return idx.Highest, idx.Height, idx.Genesis, idx.Peers, nil
}

// Fetch requests the block identified by h.
func (p *Peer) Fetch(ctx context.Context, h hash.Hash) (blockMsg, error) {
	conn := p.Conn()
	if conn == nil {
		err := errors.New("peer has no connection")
		p.fail(err.Error())
		return blockMsg{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	env, err := conn.Request(ctx, newFetch(h))
	if err != nil {
		p.fail(errors.Wrap(err, "fetch").Error())
		return blockMsg{}, err
	}
	if env.Type == transport.TypeError {
		var e errorMsg
		_ = unmarshalEnvelope(env, &e)
		return blockMsg{}, errors.New(e.Message)
	}
	var bm blockMsg
	if err := unmarshalEnvelope(env, &bm); err != nil {
		p.fail(errors.Wrap(err, "decode block").Error())
		return blockMsg{}, err
	}
	return bm, nil
}

func portString(p int) string {
	return url.QueryEscape(itoa(p))
}
