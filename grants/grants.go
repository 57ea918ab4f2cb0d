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

// Package grants implements the privilege lookup algorithm: given a user,
// a set of required privileges, and a database, decide whether every
// privilege has a matching grant row.
package grants

import (
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/sql/ast"
)

// Grant is one row of the grants metadata table. A nil User is a public
// grant ("any user"). A nil Table is a database-wide grant.
type Grant struct {
	Database     string
	User         *hash.Hash
	Kind         ast.PrivilegeKind
	Table        *string
	TemplateHash *hash.Hash
}

// matches reports whether g satisfies priv for the given user in the
// given database, per the lookup rule in the grants engine design notes.
func (g Grant) matches(user *hash.Hash, priv ast.Privilege, database string) bool {
	if g.Database != database {
		return false
	}
	if g.User != nil {
		if user == nil || !g.User.IsEqual(user) {
			return false
		}
	}
	switch priv.Kind {
	case ast.PrivilegeTemplate:
		if g.Kind != ast.PrivilegeTemplate || g.TemplateHash == nil || priv.TemplateHash == nil {
			return false
		}
		if !g.TemplateHash.IsEqual(priv.TemplateHash) {
			return false
		}
	default:
		if g.Kind != priv.Kind {
			return false
		}
	}
	if priv.Table == nil {
		return g.Table == nil
	}
	return g.Table != nil && *g.Table == string(*priv.Table)
}

// Store is the persistence boundary the grants engine reads through. The
// storage package provides the sqlite-backed implementation.
type Store interface {
	// Grants returns every grant row recorded for database.
	Grants(database string) ([]Grant, error)
	// InsertGrant records a new grant row.
	InsertGrant(g Grant) error
	// DeleteGrant removes a matching grant row, if any.
	DeleteGrant(database string, user *hash.Hash, priv ast.Privilege) error
}

// Engine answers privilege questions against a Store.
type Engine struct {
	store Store
}

// New builds an Engine backed by store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Check reports whether user holds every one of privileges within
// database. A nil user checks only public grants. The `never` kind is
// never satisfied by any grant row, regardless of what is stored.
func (e *Engine) Check(user *hash.Hash, privileges []ast.Privilege, database string) (bool, error) {
	if len(privileges) == 0 {
		return true, nil
	}
	for _, p := range privileges {
		if p.Kind == ast.PrivilegeNever {
			return false, nil
		}
	}
	grants, err := e.store.Grants(database)
	if err != nil {
		return false, err
	}
	for _, p := range privileges {
		if !anyMatches(grants, user, p, database) {
			return false, nil
		}
	}
	return true, nil
}

// CheckTemplate reports whether user holds a template grant for hash
// within database — used by the executive to test template short-circuit
// before falling back to per-statement privilege checks.
func (e *Engine) CheckTemplate(user *hash.Hash, templateHash hash.Hash, database string) (bool, error) {
	return e.Check(user, []ast.Privilege{ast.TemplatePrivilege(templateHash)}, database)
}

func anyMatches(grants []Grant, user *hash.Hash, priv ast.Privilege, database string) bool {
	for _, g := range grants {
		if g.matches(user, priv, database) {
			return true
		}
	}
	return false
}

// Grant inserts a new grant row.
func (e *Engine) Grant(database string, user *hash.Hash, priv ast.Privilege) error {
	return e.store.InsertGrant(Grant{
		Database: database,
		User:     user,
		Kind:     priv.Kind,
		Table:    tablePtr(priv),
	})
}

// Revoke removes a matching grant row, if any.
func (e *Engine) Revoke(database string, user *hash.Hash, priv ast.Privilege) error {
	return e.store.DeleteGrant(database, user, priv)
}

// List returns every grant recorded for database, for SHOW GRANTS.
func (e *Engine) List(database string) ([]Grant, error) {
	return e.store.Grants(database)
}

func tablePtr(priv ast.Privilege) *string {
	if priv.Table == nil {
		return nil
	}
	s := string(*priv.Table)
	return &s
}
