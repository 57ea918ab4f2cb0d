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
	"database/sql"

	"github.com/pkg/errors"
)

// Config keys stored in the node database's key/value table.
const (
	ConfigPublicKey   = "publicKey"
	ConfigPrivateKey  = "privateKey"
	ConfigUUID        = "uuid"
	ConfigGenesisSeed = "genesisSeed"
)

// NodeStore is the sqlite-backed store for everything that belongs to a
// node process rather than to the chain it follows: its own identity, and
// the addresses of peers it has heard of. It is kept in a separate file
// from Metadata so that --initialize can wipe chain state without losing
// the node's persisted identity, and so a node database can be reused
// across a chain resync.
type NodeStore struct {
	db *sql.DB
}

// OpenNodeStore opens (creating if necessary) the sqlite database at dsn
// and ensures the node schema exists.
func OpenNodeStore(dsn string) (*NodeStore, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open node database")
	}
	ns := &NodeStore{db: db}
	if err := ns.ensureSchema(); err != nil {
		return nil, err
	}
	return ns, nil
}

func (ns *NodeStore) ensureSchema() error {
	if _, err := ns.db.Exec(`CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value BLOB
	)`); err != nil {
		return errors.Wrap(err, "create config table")
	}
	_, err := ns.db.Exec(`CREATE TABLE IF NOT EXISTS peers (
		addr TEXT PRIMARY KEY,
		uuid TEXT
	)`)
	return errors.Wrap(err, "create peers table")
}

// GetConfig returns a config value and whether it was set.
func (ns *NodeStore) GetConfig(key string) (string, bool, error) {
	var value []byte
	err := ns.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(value), true, nil
}

// SetConfig sets a config value, overwriting any existing one.
func (ns *NodeStore) SetConfig(key, value string) error {
	_, err := ns.db.Exec(`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`, key, []byte(value))
	return err
}

// Identity bundles the node's persisted keypair, UUID, and genesis seed.
type Identity struct {
	PublicKey   string
	PrivateKey  string
	UUID        string
	GenesisSeed string
}

// LoadIdentity reads whatever identity fields have been persisted. Missing
// fields come back as empty strings; callers decide whether that means
// "generate a fresh identity" or "error".
func (ns *NodeStore) LoadIdentity() (Identity, error) {
	var id Identity
	var err error
	if id.PublicKey, _, err = ns.GetConfig(ConfigPublicKey); err != nil {
		return id, err
	}
	if id.PrivateKey, _, err = ns.GetConfig(ConfigPrivateKey); err != nil {
		return id, err
	}
	if id.UUID, _, err = ns.GetConfig(ConfigUUID); err != nil {
		return id, err
	}
	if id.GenesisSeed, _, err = ns.GetConfig(ConfigGenesisSeed); err != nil {
		return id, err
	}
	return id, nil
}

// SaveIdentity persists id, overwriting whatever was there before.
func (ns *NodeStore) SaveIdentity(id Identity) error {
	if err := ns.SetConfig(ConfigPublicKey, id.PublicKey); err != nil {
		return err
	}
	if err := ns.SetConfig(ConfigPrivateKey, id.PrivateKey); err != nil {
		return err
	}
	if err := ns.SetConfig(ConfigUUID, id.UUID); err != nil {
		return err
	}
	return ns.SetConfig(ConfigGenesisSeed, id.GenesisSeed)
}

// AddPeer records addr (and its uuid, if known) as a peer worth dialing on
// a future startup. Re-adding an existing addr refreshes its uuid.
func (ns *NodeStore) AddPeer(addr, uuid string) error {
	_, err := ns.db.Exec(`INSERT OR REPLACE INTO peers (addr, uuid) VALUES (?, ?)`, addr, uuid)
	return err
}

// RemovePeer forgets addr.
func (ns *NodeStore) RemovePeer(addr string) error {
	_, err := ns.db.Exec(`DELETE FROM peers WHERE addr = ?`, addr)
	return err
}

// Peers returns every persisted peer address.
func (ns *NodeStore) Peers() ([]string, error) {
	rows, err := ns.db.Query(`SELECT addr FROM peers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// TruncatePeers deletes every persisted peer, leaving identity untouched.
// This is what --initialize does to the node database: it resets network
// state without discarding the node's keypair or UUID.
func (ns *NodeStore) TruncatePeers() error {
	_, err := ns.db.Exec(`DELETE FROM peers`)
	return err
}
