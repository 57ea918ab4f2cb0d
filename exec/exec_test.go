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

package exec

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/identity"
	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/grants"
	"github.com/Alalun/catena/sql/ast"
	"github.com/Alalun/catena/sql/parser"
	"github.com/Alalun/catena/storage"
	"github.com/Alalun/catena/txn"
)

var dsnSeq int

func newTestExecutive(t *testing.T) *Executive {
	t.Helper()
	dsnSeq++
	dsn := fmt.Sprintf("file:exec-test-%d?mode=memory&cache=shared", dsnSeq)
	meta, err := storage.OpenMetadata(dsn)
	require.NoError(t, err)
	return New(meta)
}

func newInvoker(t *testing.T) *identity.PublicKey {
	t.Helper()
	_, pub, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return pub
}

func parseStmt(t *testing.T, src string) ast.Statement {
	t.Helper()
	stmt, err := parser.Parse(src)
	require.NoError(t, err)
	return stmt
}

func genesisBlock(t *testing.T) *block.Block {
	t.Helper()
	b := &block.Block{Version: block.Version, GenesisSeed: "catena-exec-test"}
	require.NoError(t, block.Mine(b, 1, nil))
	return b
}

func TestAuthorizeCreateDatabaseAllowsFirstOwner(t *testing.T) {
	e := newTestExecutive(t)
	ctx := &Context{Invoker: newInvoker(t), Block: genesisBlock(t)}
	stmt := parseStmt(t, "CREATE DATABASE shop;")

	granted, err := e.Authorize(ctx, stmt, false)
	require.NoError(t, err)
	require.False(t, granted)
}

func TestAuthorizeCreateDatabaseRejectsExisting(t *testing.T) {
	e := newTestExecutive(t)
	owner := newInvoker(t)
	require.NoError(t, e.meta.CreateDatabase("shop", owner.Hash()))

	ctx := &Context{Invoker: newInvoker(t), Block: genesisBlock(t)}
	_, err := e.Authorize(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.AlreadyExists))
}

func TestAuthorizeDropDatabaseRequiresOwnership(t *testing.T) {
	e := newTestExecutive(t)
	owner := newInvoker(t)
	require.NoError(t, e.meta.CreateDatabase("shop", owner.Hash()))

	other := newInvoker(t)
	ctx := &Context{Invoker: other, Block: genesisBlock(t)}
	_, err := e.Authorize(ctx, parseStmt(t, "DROP DATABASE shop;"), false)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.PrivilegeRequired))

	ctx.Invoker = owner
	_, err = e.Authorize(ctx, parseStmt(t, "DROP DATABASE shop;"), false)
	require.NoError(t, err)
}

func TestAuthorizeRequiresDatabaseContext(t *testing.T) {
	e := newTestExecutive(t)
	ctx := &Context{Invoker: newInvoker(t), Block: genesisBlock(t)}
	_, err := e.Authorize(ctx, parseStmt(t, "SELECT 1;"), false)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.RequiresDatabaseContext))
}

func TestAuthorizeGrantedPrivilegeAllowsInsert(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Database: "shop", Invoker: invoker, Block: genesisBlock(t)}

	stmt := parseStmt(t, "INSERT INTO widgets(id) VALUES (1);")
	_, err := e.Authorize(ctx, stmt, false)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.PrivilegeRequired))

	invokerHash := invoker.Hash()
	table := "widgets"
	require.NoError(t, e.meta.InsertGrant(grants.Grant{
		Database: "shop",
		User:     &invokerHash,
		Kind:     ast.PrivilegeInsert,
		Table:    &table,
	}))
	granted, err := e.Authorize(ctx, stmt, false)
	require.NoError(t, err)
	require.False(t, granted)
}

func TestDispatchCreateAndDropDatabase(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Invoker: invoker, Block: genesisBlock(t)}

	_, err := e.Dispatch(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.NoError(t, err)

	owner, ok, err := e.meta.DatabaseOwner("shop")
	require.NoError(t, err)
	require.True(t, ok)
	invokerHash := invoker.Hash()
	require.True(t, owner.IsEqual(&invokerHash))

	_, err = e.Dispatch(ctx, parseStmt(t, "DROP DATABASE shop;"), false)
	require.NoError(t, err)
	_, ok, err = e.meta.DatabaseOwner("shop")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDispatchDropDatabaseRefusesWhenTablesRemain(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Database: "shop", Invoker: invoker, Block: genesisBlock(t)}

	_, err := e.Dispatch(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.NoError(t, err)
	_, err = e.Dispatch(ctx, parseStmt(t, "CREATE TABLE widgets(id INT);"), true)
	require.NoError(t, err)

	_, err = e.Dispatch(ctx, parseStmt(t, "DROP DATABASE shop;"), false)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.DatabaseNotEmpty))
}

func TestDispatchBackendCreateInsertSelect(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Database: "shop", Invoker: invoker, Block: genesisBlock(t)}

	_, err := e.Dispatch(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.NoError(t, err)
	_, err = e.Dispatch(ctx, parseStmt(t, "CREATE TABLE widgets(id INT, name TEXT);"), true)
	require.NoError(t, err)
	_, err = e.Dispatch(ctx, parseStmt(t, "INSERT INTO widgets(id, name) VALUES (1, 'sprocket');"), true)
	require.NoError(t, err)

	res, err := e.Dispatch(ctx, parseStmt(t, "SELECT id, name FROM widgets;"), true)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, res.Columns)
	require.Len(t, res.Rows, 1)
}

func TestDispatchBackendRejectsMissingTable(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Database: "shop", Invoker: invoker, Block: genesisBlock(t)}
	_, err := e.Dispatch(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.NoError(t, err)

	_, err = e.Dispatch(ctx, parseStmt(t, "SELECT id FROM widgets;"), true)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.DoesNotExist))
}

func TestDispatchIfPicksMatchingBranch(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Database: "shop", Invoker: invoker, Block: genesisBlock(t)}
	_, err := e.Dispatch(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.NoError(t, err)
	_, err = e.Dispatch(ctx, parseStmt(t, "CREATE TABLE widgets(id INT);"), true)
	require.NoError(t, err)

	stmt := parseStmt(t, `
		IF 1 = 1 THEN
			INSERT INTO widgets(id) VALUES (1)
		ELSE
			FAIL
		END;`)
	_, err = e.Dispatch(ctx, stmt, true)
	require.NoError(t, err)

	res, err := e.Dispatch(ctx, parseStmt(t, "SELECT id FROM widgets;"), true)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestDispatchIfFallsThroughToFail(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Database: "shop", Invoker: invoker, Block: genesisBlock(t)}
	_, err := e.Dispatch(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.NoError(t, err)
	_, err = e.Dispatch(ctx, parseStmt(t, "CREATE TABLE widgets(id INT);"), true)
	require.NoError(t, err)

	stmt := parseStmt(t, `
		IF 1 = 2 THEN
			INSERT INTO widgets(id) VALUES (1)
		ELSE
			FAIL
		END;`)
	_, err = e.Dispatch(ctx, stmt, true)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.ExecutionFailed))
}

func TestDispatchBlockRollsBackOnFailure(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Database: "shop", Invoker: invoker, Block: genesisBlock(t)}
	_, err := e.Dispatch(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.NoError(t, err)
	_, err = e.Dispatch(ctx, parseStmt(t, "CREATE TABLE widgets(id INT);"), true)
	require.NoError(t, err)

	stmt := parseStmt(t, `
		DO
			INSERT INTO widgets(id) VALUES (1);
			INSERT INTO nonexistent(id) VALUES (1);
		END;`)
	_, err = e.Dispatch(ctx, stmt, true)
	require.Error(t, err)

	res, err := e.Dispatch(ctx, parseStmt(t, "SELECT id FROM widgets;"), true)
	require.NoError(t, err)
	require.Empty(t, res.Rows)
}

func TestVerifyRejectsDuplicateInsertColumns(t *testing.T) {
	e := newTestExecutive(t)
	invoker := newInvoker(t)
	ctx := &Context{Database: "shop", Invoker: invoker, Block: genesisBlock(t)}
	_, err := e.Dispatch(ctx, parseStmt(t, "CREATE DATABASE shop;"), false)
	require.NoError(t, err)
	_, err = e.Dispatch(ctx, parseStmt(t, "CREATE TABLE widgets(id INT);"), true)
	require.NoError(t, err)

	rewritten, err := e.rewriteBackend(ctx, &ast.InsertStmt{
		Table:   ast.TableName{Name: "widgets"},
		Columns: []ast.Ident{"id", "id"},
		Rows:    [][]ast.Expr{{ast.LiteralInt{Value: 1}, ast.LiteralInt{Value: 1}}},
	})
	require.NoError(t, err)
	err = e.Verify(rewritten)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.InconsistentColumn))
}

func TestApplyBlockRejectsWrongIndex(t *testing.T) {
	e := newTestExecutive(t)
	b := &block.Block{Version: block.Version, Index: 5, GenesisSeed: "x"}
	require.NoError(t, block.Mine(b, 1, nil))
	// index 5 is not genesis (0), and there is no recorded head yet.
	err := e.ApplyBlock(b, 1, true)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.MetadataError))
}

func TestApplyBlockAcceptsGenesisThenExtends(t *testing.T) {
	e := newTestExecutive(t)
	gen := genesisBlock(t)
	require.NoError(t, e.ApplyBlock(gen, 1, true))

	genHash, err := gen.Hash()
	require.NoError(t, err)
	head, hh, ok, err := e.meta.Head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), head)
	require.True(t, hh.IsEqual(&genHash))

	next := &block.Block{Version: block.Version, Index: 1, Previous: genHash, Timestamp: 1}
	require.NoError(t, block.Mine(next, 1, nil))
	require.NoError(t, e.ApplyBlock(next, 1, true))

	head, _, ok, err = e.meta.Head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), head)
}

func TestApplyBlockRejectsTooManyTransactions(t *testing.T) {
	e := newTestExecutive(t)
	gen := genesisBlock(t)
	require.NoError(t, e.ApplyBlock(gen, 1, true))
	genHash, err := gen.Hash()
	require.NoError(t, err)

	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	txs := make([]*txn.Transaction, block.MaxTransactionsPerBlock+1)
	for i := range txs {
		stmt := parseStmt(t, "SELECT 1;")
		tx, err := txn.New(priv, "shop", uint64(i), stmt)
		require.NoError(t, err)
		txs[i] = tx
	}

	overfull := &block.Block{
		Version:      block.Version,
		Index:        1,
		Previous:     genHash,
		Timestamp:    1,
		Transactions: txs,
	}
	require.NoError(t, block.Mine(overfull, 1, nil))

	err = e.ApplyBlock(overfull, 1, true)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.TooManyTransactions))

	head, _, ok, err := e.meta.Head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), head, "rejected block must not advance the head")
}

func TestApplyBlockRejectsNonConsecutive(t *testing.T) {
	e := newTestExecutive(t)
	gen := genesisBlock(t)
	require.NoError(t, e.ApplyBlock(gen, 1, true))
	genHash, err := gen.Hash()
	require.NoError(t, err)

	skip := &block.Block{Version: block.Version, Index: 2, Previous: genHash, Timestamp: 1}
	require.NoError(t, block.Mine(skip, 1, nil))
	err = e.ApplyBlock(skip, 1, true)
	require.Error(t, err)
	require.True(t, errkind.Is(err, errkind.Inconsecutive))
}
