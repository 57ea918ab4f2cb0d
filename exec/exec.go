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

// Package exec is the SQL executive (spec §4.4): it authorizes a statement
// against the grants table, dispatches it inside a savepoint, and verifies
// the backend-rewritten form before handing it to the storage engine. It is
// grounded on the teacher's xenomint state machine (query authorization →
// SAVEPOINT-scoped execution → pool bookkeeping), generalized from
// xenomint's fixed read/write query shape to Catena's full statement AST.
package exec

import (
	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/grants"
	"github.com/Alalun/catena/sql/ast"
	"github.com/Alalun/catena/sql/dialect"
	"github.com/Alalun/catena/storage"
)

// Context is the execution context a statement runs under (spec §4.4):
// which database it targets, who invoked it, and the block it is being
// applied from.
type Context struct {
	Database string
	Invoker  *identity.PublicKey
	Block    *block.Block
}

// Executive ties the grants engine and the metadata/backend storage
// together into the authorize/dispatch/verify pipeline.
type Executive struct {
	grants *grants.Engine
	meta   *storage.Metadata
}

// New builds an Executive over meta's grants table and schema.
func New(meta *storage.Metadata) *Executive {
	return &Executive{grants: grants.New(meta), meta: meta}
}

// Reset wipes the executive's backend to an empty database, satisfying
// replay.Applier for §4.9's deep-rewind rebuild.
func (e *Executive) Reset() error {
	return e.meta.Reset()
}

// Result wraps a dispatched statement's effect, with the backend's
// $rowid/$oid/table-prefix mangling hidden from the caller.
type Result struct {
	Columns      []string
	Rows         [][]interface{}
	AffectedRows int64
	LastInsertID int64
}

// Authorize runs the four-step algorithm of spec §4.3/§4.4: database
// context requirement, template-grant short-circuit, per-privilege grants
// check, and the database-context-free fallback for createDatabase/
// dropDatabase. It returns the (possibly newly-true) templateGranted flag
// to thread into nested if/block dispatch.
func (e *Executive) Authorize(ctx *Context, stmt ast.Statement, templateGranted bool) (bool, error) {
	if stmt.RequiresDatabaseContext() && ctx.Database == "" {
		return templateGranted, errkind.New(errkind.RequiresDatabaseContext,
			"statement requires a database context")
	}

	invokerHash := ctx.Invoker.Hash()

	if !templateGranted {
		templateHash, err := dialect.TemplateHash(stmt)
		if err != nil {
			return templateGranted, err
		}
		granted, err := e.grants.CheckTemplate(&invokerHash, templateHash, ctx.Database)
		if err != nil {
			return templateGranted, err
		}
		templateGranted = granted
	}
	if templateGranted {
		return true, nil
	}

	if privs := stmt.RequiredPrivileges(); len(privs) > 0 {
		ok, err := e.grants.Check(&invokerHash, privs, ctx.Database)
		if err != nil {
			return templateGranted, err
		}
		if !ok {
			return templateGranted, errkind.New(errkind.PrivilegeRequired,
				"invoker lacks the required privileges")
		}
		return templateGranted, nil
	}

	// No privileges declared: permit, except for the two statements that
	// mutate outside any database context, which enforce ownership
	// themselves (spec §4.4 step 4).
	switch s := stmt.(type) {
	case *ast.CreateDatabaseStmt:
		_, exists, err := e.meta.DatabaseOwner(string(s.Name))
		if err != nil {
			return templateGranted, err
		}
		if exists {
			return templateGranted, errkind.New(errkind.AlreadyExists,
				"database "+string(s.Name)+" already exists")
		}
	case *ast.DropDatabaseStmt:
		owner, exists, err := e.meta.DatabaseOwner(string(s.Name))
		if err != nil {
			return templateGranted, err
		}
		if !exists {
			return templateGranted, errkind.New(errkind.DoesNotExist,
				"database "+string(s.Name)+" does not exist")
		}
		if !owner.IsEqual(&invokerHash) {
			return templateGranted, errkind.New(errkind.PrivilegeRequired,
				"only the database owner may drop it")
		}
	}
	return templateGranted, nil
}

// grantUserHash converts a GRANT/REVOKE statement's raw user bytes (a
// X'...' literal naming an invoker hash) to a *hash.Hash, or nil for a
// public grant.
func grantUserHash(raw []byte) (*hash.Hash, error) {
	if raw == nil {
		return nil, nil
	}
	return hash.New(raw)
}
