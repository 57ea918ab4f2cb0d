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

package grants

import (
	"testing"

	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/sql/ast"
)

type memStore struct {
	rows []Grant
}

func (m *memStore) Grants(database string) ([]Grant, error) {
	var out []Grant
	for _, g := range m.rows {
		if g.Database == database {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) InsertGrant(g Grant) error {
	m.rows = append(m.rows, g)
	return nil
}

func (m *memStore) DeleteGrant(database string, user *hash.Hash, priv ast.Privilege) error {
	var kept []Grant
	for _, g := range m.rows {
		if g.matches(user, priv, database) {
			continue
		}
		kept = append(kept, g)
	}
	m.rows = kept
	return nil
}

func testUser(b byte) *hash.Hash {
	h := hash.Sum([]byte{b})
	return &h
}

func TestCheckRequiresEveryPrivilege(t *testing.T) {
	store := &memStore{}
	e := New(store)
	u := testUser(1)
	table := ast.Ident("t")

	if err := e.Grant("db", u, ast.TablePrivilege(ast.PrivilegeInsert, table)); err != nil {
		t.Fatal(err)
	}

	ok, err := e.Check(u, []ast.Privilege{
		ast.TablePrivilege(ast.PrivilegeInsert, table),
		ast.TablePrivilege(ast.PrivilegeUpdate, table),
	}, "db")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected Check to fail: update privilege was never granted")
	}

	if err := e.Grant("db", u, ast.TablePrivilege(ast.PrivilegeUpdate, table)); err != nil {
		t.Fatal(err)
	}
	ok, err = e.Check(u, []ast.Privilege{
		ast.TablePrivilege(ast.PrivilegeInsert, table),
		ast.TablePrivilege(ast.PrivilegeUpdate, table),
	}, "db")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Check to succeed once both privileges are granted")
	}
}

func TestCheckPublicGrantAppliesToAnyUser(t *testing.T) {
	store := &memStore{}
	e := New(store)
	table := ast.Ident("t")
	if err := e.Grant("db", nil, ast.TablePrivilege(ast.PrivilegeInsert, table)); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Check(testUser(9), []ast.Privilege{ast.TablePrivilege(ast.PrivilegeInsert, table)}, "db")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected public grant to satisfy any user")
	}
}

func TestNeverPrivilegeIsNeverSatisfied(t *testing.T) {
	store := &memStore{}
	e := New(store)
	table := ast.Ident("t")
	// even a public grant of the same kind cannot satisfy "never".
	if err := e.Grant("db", nil, ast.TablePrivilege(ast.PrivilegeNever, table)); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Check(testUser(1), []ast.Privilege{ast.TablePrivilege(ast.PrivilegeNever, table)}, "db")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected never-kind privilege to always fail Check")
	}
}

func TestRevokeRemovesGrant(t *testing.T) {
	store := &memStore{}
	e := New(store)
	u := testUser(1)
	table := ast.Ident("t")
	if err := e.Grant("db", u, ast.TablePrivilege(ast.PrivilegeDrop, table)); err != nil {
		t.Fatal(err)
	}
	if err := e.Revoke("db", u, ast.TablePrivilege(ast.PrivilegeDrop, table)); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Check(u, []ast.Privilege{ast.TablePrivilege(ast.PrivilegeDrop, table)}, "db")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected Check to fail after Revoke")
	}
}
