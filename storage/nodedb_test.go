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

package storage

import (
	"fmt"
	"testing"
)

var nodeDSNSeq int

func newNodeStore(t *testing.T) *NodeStore {
	t.Helper()
	nodeDSNSeq++
	dsn := fmt.Sprintf("file:nodedb-test-%d?mode=memory&cache=shared", nodeDSNSeq)
	ns, err := OpenNodeStore(dsn)
	if err != nil {
		t.Fatalf("OpenNodeStore: %v", err)
	}
	return ns
}

func TestSaveAndLoadIdentityRoundTrips(t *testing.T) {
	ns := newNodeStore(t)

	want := Identity{
		PublicKey:   "abc123",
		PrivateKey:  "def456",
		UUID:        "node-uuid",
		GenesisSeed: "seed-value",
	}
	if err := ns.SaveIdentity(want); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	got, err := ns.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if got != want {
		t.Fatalf("LoadIdentity = %+v, want %+v", got, want)
	}
}

func TestLoadIdentityEmptyByDefault(t *testing.T) {
	ns := newNodeStore(t)

	id, err := ns.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if id != (Identity{}) {
		t.Fatalf("LoadIdentity on fresh store = %+v, want zero value", id)
	}
}

func TestPeersAddRemoveAndTruncate(t *testing.T) {
	ns := newNodeStore(t)

	if err := ns.AddPeer("ws://a:8338", "uuid-a"); err != nil {
		t.Fatalf("AddPeer a: %v", err)
	}
	if err := ns.AddPeer("ws://b:8338", "uuid-b"); err != nil {
		t.Fatalf("AddPeer b: %v", err)
	}

	peers, err := ns.Peers()
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("Peers = %v, want 2 entries", peers)
	}

	if err := ns.RemovePeer("ws://a:8338"); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}
	peers, err = ns.Peers()
	if err != nil {
		t.Fatalf("Peers after remove: %v", err)
	}
	if len(peers) != 1 || peers[0] != "ws://b:8338" {
		t.Fatalf("Peers after remove = %v, want [ws://b:8338]", peers)
	}

	if err := ns.SaveIdentity(Identity{UUID: "keep-me"}); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if err := ns.TruncatePeers(); err != nil {
		t.Fatalf("TruncatePeers: %v", err)
	}
	peers, err = ns.Peers()
	if err != nil {
		t.Fatalf("Peers after truncate: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("Peers after truncate = %v, want none", peers)
	}
	id, err := ns.LoadIdentity()
	if err != nil {
		t.Fatalf("LoadIdentity after truncate: %v", err)
	}
	if id.UUID != "keep-me" {
		t.Fatalf("TruncatePeers touched identity: got uuid %q", id.UUID)
	}
}

func TestAddPeerRefreshesUUID(t *testing.T) {
	ns := newNodeStore(t)

	if err := ns.AddPeer("ws://a:8338", "uuid-old"); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := ns.AddPeer("ws://a:8338", "uuid-new"); err != nil {
		t.Fatalf("AddPeer replace: %v", err)
	}
	peers, err := ns.Peers()
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("Peers = %v, want single deduped entry", peers)
	}
	var got string
	if err := ns.db.QueryRow(`SELECT uuid FROM peers WHERE addr = ?`, "ws://a:8338").Scan(&got); err != nil {
		t.Fatalf("read uuid: %v", err)
	}
	if got != "uuid-new" {
		t.Fatalf("uuid = %q, want uuid-new", got)
	}
}
