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

// Package transport implements the bidirectional framed WebSocket wire
// protocol: each frame is a two-element JSON array `[seq, {"t": type,
// ...}]`. The initiator of a connection allocates even sequence numbers
// starting at 0; the acceptor allocates odd sequence numbers starting at
// 1. A response frame carries the seq of the request it answers, so
// either side can multiplex several outstanding requests over one
// connection without a correlation ID living inside the payload.
//
// The teacher's own RPC layer (rpc/jsonrpc) frames connections with
// sourcegraph/jsonrpc2, a dependency this module does not carry; the
// numbered-array framing here is a bespoke wire format layered directly
// on gorilla/websocket instead, following the same Upgrader/dial shape
// rpc/jsonrpc/websocket.go uses for the HTTP-to-WebSocket handoff.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/metric"
)

// MessageType names the payloads exchanged over a Conn.
type MessageType string

// The message types of the gossip wire protocol.
const (
	TypeQuery MessageType = "query"
	TypeIndex MessageType = "index"
	TypeFetch MessageType = "fetch"
	TypeBlock MessageType = "block"
	TypeTx    MessageType = "tx"
	TypeError MessageType = "error"
)

// Envelope is the decoded form of a frame's second element: every
// message type carries at least "t", and Raw holds the whole object so
// callers can re-unmarshal into a type-specific struct.
type Envelope struct {
	Type MessageType     `json:"t"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures both the discriminator and the raw object.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var head struct {
		Type MessageType `json:"t"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	e.Type = head.Type
	e.Raw = append([]byte(nil), data...)
	return nil
}

// frame is the two-element array on the wire.
type frame struct {
	Seq     uint64
	Payload json.RawMessage
}

// MarshalJSON renders frame as `[seq, payload]`.
func (f frame) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{f.Seq, f.Payload})
}

// UnmarshalJSON parses `[seq, payload]`.
func (f *frame) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &f.Seq); err != nil {
		return errors.Wrap(err, "frame: decode seq")
	}
	f.Payload = raw[1]
	return nil
}

// Conn wraps a *websocket.Conn with the seq/frame codec and per-request
// response routing. It is safe for concurrent use: Send, Reply and
// Request may be called from multiple goroutines while a single
// goroutine running ReadLoop reads incoming frames.
type Conn struct {
	ws        *websocket.Conn
	initiator bool

	writeMu sync.Mutex
	nextSeq uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan pendingResult
}

// pendingResult is what a Request's channel is fed: either a reply
// envelope, or the error that ended the wait (ReadLoop exiting because
// the connection closed).
type pendingResult struct {
	env Envelope
	err error
}

// New wraps ws. initiator must be true for the side that dialed the
// connection and false for the side that accepted it, so the two peers
// allocate disjoint sequence numbers.
func New(ws *websocket.Conn, initiator bool) *Conn {
	c := &Conn{
		ws:        ws,
		initiator: initiator,
		pending:   map[uint64]chan pendingResult{},
	}
	if !initiator {
		c.nextSeq = 1
	}
	return c
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.ws.Close() }

func (c *Conn) allocSeq() uint64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	seq := c.nextSeq
	c.nextSeq += 2
	return seq
}

func (c *Conn) writeFrame(seq uint64, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	metric.GossipBytesOut.Mark(int64(len(payload)))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(frame{Seq: seq, Payload: payload})
}

// Send writes v as a fire-and-forget frame (no reply expected), such as
// "block" or "tx".
func (c *Conn) Send(v interface{}) error {
	return c.writeFrame(c.allocSeq(), v)
}

// Reply answers the request carried in seq with v.
func (c *Conn) Reply(seq uint64, v interface{}) error {
	return c.writeFrame(seq, v)
}

// Request writes v and blocks until a reply frame with the same seq
// arrives, ctx is done, or the connection is closed by ReadLoop exiting.
func (c *Conn) Request(ctx context.Context, v interface{}) (Envelope, error) {
	seq := c.allocSeq()
	ch := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	c.pending[seq] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(seq, v); err != nil {
		return Envelope{}, err
	}
	select {
	case res := <-ch:
		return res.env, res.err
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Dispatch is invoked by ReadLoop for every frame that is not a reply to
// an outstanding Request: it receives the frame's seq (to Reply with)
// and the decoded envelope.
type Dispatch func(seq uint64, env Envelope)

// ReadLoop drains incoming frames until the connection errs or closes,
// routing replies to outstanding Request calls and everything else to
// handle. It returns the terminal read error.
func (c *Conn) ReadLoop(handle Dispatch) error {
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.failPending(err)
			return err
		}
		metric.GossipBytesIn.Mark(int64(len(f.Payload)))
		var env Envelope
		if err := json.Unmarshal(f.Payload, &env); err != nil {
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[f.Seq]
		if ok {
			delete(c.pending, f.Seq)
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- pendingResult{env: env}
			continue
		}
		handle(f.Seq, env)
	}
}

// failPending resolves every outstanding Request with ConnectionClosed,
// per §5: "any pending request-response promise is resolved with
// ConnectionClosed" when the connection drops before a reply arrives.
func (c *Conn) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	closedErr := errkind.Wrap(err, errkind.ConnectionClosed, "transport: connection closed")
	for seq, ch := range c.pending {
		ch <- pendingResult{err: closedErr}
		delete(c.pending, seq)
	}
}

// SetDeadlines applies read/write deadlines derived from timeout to the
// underlying connection; a zero timeout clears them.
func (c *Conn) SetDeadlines(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(deadline)
}
