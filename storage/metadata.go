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
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/grants"
	"github.com/Alalun/catena/sql/ast"
)

// ReservedTables names the metadata tables a transaction's declared
// privileges must never touch: mutating them is only possible through the
// executive's own dispatch paths (grant/revoke, createDatabase/dropDatabase,
// block application), never through ordinary user statements.
var ReservedTables = map[string]bool{
	"grants":    true,
	"databases": true,
	"counters":  true,
	"chainhead": true,
	"blocks":    true,
}

// Metadata is the sqlite-backed store for everything the executive and
// ledger need outside of user table data: grants, database ownership,
// per-invoker replay counters, chain head, and the block archive. It is
// the Catena analogue of the teacher's generic key/value Storage, given a
// fixed schema instead of an arbitrary key/value table.
type Metadata struct {
	db *sql.DB
}

// OpenMetadata opens (creating if necessary) the sqlite database at dsn and
// ensures the metadata schema exists.
func OpenMetadata(dsn string) (*Metadata, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open metadata database")
	}
	m := &Metadata{db: db}
	if err := m.ensureSchema(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metadata) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS grants (
			database TEXT NOT NULL,
			user TEXT,
			kind TEXT NOT NULL,
			tablename TEXT,
			templatehash TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS databases (
			name TEXT PRIMARY KEY,
			owner TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			invoker TEXT PRIMARY KEY,
			counter INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chainhead (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			head_index INTEGER NOT NULL,
			head_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			idx INTEGER PRIMARY KEY,
			hash TEXT NOT NULL,
			payload BLOB NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := m.db.Exec(s); err != nil {
			return errors.Wrap(err, "create metadata table")
		}
	}
	return nil
}

// DB exposes the underlying handle for the executive's savepoint-scoped
// statement execution.
func (m *Metadata) DB() *sql.DB { return m.db }

// Grants implements grants.Store.
func (m *Metadata) Grants(database string) ([]grants.Grant, error) {
	rows, err := m.db.Query(
		`SELECT user, kind, tablename, templatehash FROM grants WHERE database = ?`, database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grants.Grant
	for rows.Next() {
		var user, table, tmpl sql.NullString
		var kind string
		if err := rows.Scan(&user, &kind, &table, &tmpl); err != nil {
			return nil, err
		}
		g := grants.Grant{Database: database, Kind: ast.PrivilegeKind(kind)}
		if user.Valid {
			h, err := hash.FromString(user.String)
			if err != nil {
				return nil, err
			}
			g.User = h
		}
		if table.Valid {
			t := table.String
			g.Table = &t
		}
		if tmpl.Valid {
			h, err := hash.FromString(tmpl.String)
			if err != nil {
				return nil, err
			}
			g.TemplateHash = h
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// InsertGrant implements grants.Store.
func (m *Metadata) InsertGrant(g grants.Grant) error {
	var user, table, tmpl interface{}
	if g.User != nil {
		user = g.User.String()
	}
	if g.Table != nil {
		table = *g.Table
	}
	if g.TemplateHash != nil {
		tmpl = g.TemplateHash.String()
	}
	_, err := m.db.Exec(
		`INSERT INTO grants (database, user, kind, tablename, templatehash) VALUES (?, ?, ?, ?, ?)`,
		g.Database, user, string(g.Kind), table, tmpl)
	return err
}

// DeleteGrant implements grants.Store.
func (m *Metadata) DeleteGrant(database string, user *hash.Hash, priv ast.Privilege) error {
	var table interface{}
	if priv.Table != nil {
		table = priv.TableName()
	}
	if user == nil {
		_, err := m.db.Exec(
			`DELETE FROM grants WHERE database = ? AND user IS NULL AND kind = ? AND
			 ((tablename IS NULL AND ? IS NULL) OR tablename = ?)`,
			database, string(priv.Kind), table, table)
		return err
	}
	_, err := m.db.Exec(
		`DELETE FROM grants WHERE database = ? AND user = ? AND kind = ? AND
		 ((tablename IS NULL AND ? IS NULL) OR tablename = ?)`,
		database, user.String(), string(priv.Kind), table, table)
	return err
}

// DatabaseOwner reports the owning invoker hash for a database name, and
// whether the database has been created at all.
func (m *Metadata) DatabaseOwner(name string) (*hash.Hash, bool, error) {
	var owner string
	err := m.db.QueryRow(`SELECT owner FROM databases WHERE name = ?`, name).Scan(&owner)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	h, err := hash.FromString(owner)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// CreateDatabase records a new database's owner. Fails if the name is
// already taken.
func (m *Metadata) CreateDatabase(name string, owner hash.Hash) error {
	_, _, exists, err := m.databaseExists(name)
	if err != nil {
		return err
	}
	if exists {
		return errors.Errorf("storage: database %q already exists", name)
	}
	_, err = m.db.Exec(`INSERT INTO databases (name, owner) VALUES (?, ?)`, name, owner.String())
	return err
}

func (m *Metadata) databaseExists(name string) (string, bool, bool, error) {
	var owner string
	err := m.db.QueryRow(`SELECT owner FROM databases WHERE name = ?`, name).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, err
	}
	return owner, true, true, nil
}

// DropDatabase removes a database's ownership record. Callers are
// responsible for checking that no tables remain first.
func (m *Metadata) DropDatabase(name string) error {
	_, err := m.db.Exec(`DELETE FROM databases WHERE name = ?`, name)
	return err
}

// TableCount returns how many backend tables are mangled under the given
// database prefix, used by dropDatabase's "refuse if any tables remain"
// check.
func (m *Metadata) TableCount(database string) (int, error) {
	prefix := database + "$%"
	var n int
	err := m.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE ?`, prefix).Scan(&n)
	return n, err
}

// TableExists reports whether a table exists under its already-mangled
// backend name (e.g. "mydb$t"), for the static verifier, which runs after
// the backend visitor has renamed every table reference.
func (m *Metadata) TableExists(mangledTable string) (bool, error) {
	var n int
	err := m.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, mangledTable).Scan(&n)
	return n > 0, err
}

// ColumnExists reports whether column exists on the given already-mangled
// backend table name.
func (m *Metadata) ColumnExists(mangledTable, column string) (bool, error) {
	rows, err := m.db.Query(fmt.Sprintf(`PRAGMA table_info(%q)`, mangledTable))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if colName == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// LastCounter returns the last accepted transaction counter recorded for
// invoker, and whether one has been recorded yet.
func (m *Metadata) LastCounter(invoker hash.Hash) (uint64, bool, error) {
	var c uint64
	err := m.db.QueryRow(`SELECT counter FROM counters WHERE invoker = ?`, invoker.String()).Scan(&c)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return c, err == nil, err
}

// SetCounter records the last accepted transaction counter for invoker.
func (m *Metadata) SetCounter(invoker hash.Hash, counter uint64) error {
	_, err := m.db.Exec(
		`INSERT INTO counters (invoker, counter) VALUES (?, ?)
		 ON CONFLICT(invoker) DO UPDATE SET counter = excluded.counter`,
		invoker.String(), counter)
	return err
}

// Head returns the chain head recorded in metadata, and whether one has
// been recorded yet (false before the genesis block is applied).
func (m *Metadata) Head() (index uint64, h hash.Hash, ok bool, err error) {
	var hs string
	e := m.db.QueryRow(`SELECT head_index, head_hash FROM chainhead WHERE id = 0`).Scan(&index, &hs)
	if e == sql.ErrNoRows {
		return 0, hash.Hash{}, false, nil
	}
	if e != nil {
		return 0, hash.Hash{}, false, e
	}
	hp, e := hash.FromString(hs)
	if e != nil {
		return 0, hash.Hash{}, false, e
	}
	return index, *hp, true, nil
}

// SetHead records the new chain head after a block is applied.
func (m *Metadata) SetHead(index uint64, h hash.Hash) error {
	_, err := m.db.Exec(
		`INSERT INTO chainhead (id, head_index, head_hash) VALUES (0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET head_index = excluded.head_index, head_hash = excluded.head_hash`,
		index, h.String())
	return err
}

// AppendBlock archives b's JSON encoding, indexed by height and hash.
func (m *Metadata) AppendBlock(index uint64, h hash.Hash, b *block.Block) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(`INSERT INTO blocks (idx, hash, payload) VALUES (?, ?, ?)`, index, h.String(), payload)
	return err
}

// Blocks returns every archived block in ascending index order, for
// rebuilding a ledger from the permanent store on startup.
func (m *Metadata) Blocks() ([]*block.Block, error) {
	rows, err := m.db.Query(`SELECT payload FROM blocks ORDER BY idx ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*block.Block
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		b := &block.Block{}
		if err := json.Unmarshal(payload, b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Reset drops every table this metadata database holds — the fixed
// schema (grants/databases/counters/chainhead/blocks) and every mangled
// user backend table alike — then recreates the fixed schema empty. This
// is the sqlite equivalent of §4.9's "delete the permanent file, create a
// fresh one": it works the same way for a file-backed dsn and an
// in-memory shared-cache one, and does not disturb the openDB connection
// cache the way actually unlinking a file would.
func (m *Metadata) Reset() error {
	rows, err := m.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return errors.Wrap(err, "reset: list tables")
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return errors.Wrap(err, "reset: scan table name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "reset: list tables")
	}
	rows.Close()

	for _, name := range names {
		if _, err := m.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %q`, name)); err != nil {
			return errors.Wrapf(err, "reset: drop table %s", name)
		}
	}
	return m.ensureSchema()
}

// Savepoint opens a named SAVEPOINT on the metadata connection, mirroring
// the teacher's use of SQLite savepoints for nested rollback scopes (see
// xenomint's per-statement SAVEPOINT/ROLLBACK TO usage). Release commits
// it; Rollback discards everything since it was opened.
type Savepoint struct {
	db   *sql.DB
	name string
}

// Begin opens a new savepoint named name.
func (m *Metadata) Begin(name string) (*Savepoint, error) {
	if _, err := m.db.Exec(fmt.Sprintf(`SAVEPOINT %q`, name)); err != nil {
		return nil, errors.Wrapf(err, "open savepoint %s", name)
	}
	return &Savepoint{db: m.db, name: name}, nil
}

// Release commits the savepoint's changes into its parent scope.
func (s *Savepoint) Release() error {
	_, err := s.db.Exec(fmt.Sprintf(`RELEASE SAVEPOINT %q`, s.name))
	return err
}

// Rollback discards every change made since the savepoint was opened.
func (s *Savepoint) Rollback() error {
	_, err := s.db.Exec(fmt.Sprintf(`ROLLBACK TO SAVEPOINT %q`, s.name))
	return err
}
