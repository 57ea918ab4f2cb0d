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
	"strings"

	"github.com/pkg/errors"

	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/metric"
	"github.com/Alalun/catena/sql/ast"
	"github.com/Alalun/catena/sql/dialect"
	"github.com/Alalun/catena/sql/visitor"
)

var savepointSeq uint64

func nextSavepointName(prefix string) string {
	savepointSeq++
	return fmt.Sprintf("%s%d", prefix, savepointSeq)
}

// Dispatch runs stmt to completion under ctx, per the dispatch table of
// spec §4.4. It assumes the caller has already authorized stmt (typically
// via Authorize). Only a DO block opens a nested savepoint of its own, so a
// failing member rolls back the whole block independently of whatever
// savepoint the caller holds; other statements run in the caller's savepoint.
func (e *Executive) Dispatch(ctx *Context, stmt ast.Statement, templateGranted bool) (*Result, error) {
	metric.StatementsRun.Mark(1)
	switch s := stmt.(type) {
	case *ast.FailStmt:
		return nil, errkind.New(errkind.ExecutionFailed, "FAIL statement executed")
	case *ast.IfStmt:
		return e.dispatchIf(ctx, s, templateGranted)
	case *ast.BlockStmt:
		return e.dispatchBlock(ctx, s, templateGranted)
	case *ast.CreateDatabaseStmt:
		return e.dispatchCreateDatabase(ctx, s)
	case *ast.DropDatabaseStmt:
		return e.dispatchDropDatabase(ctx, s)
	case *ast.GrantStmt:
		return e.dispatchGrant(ctx, s)
	case *ast.RevokeStmt:
		return e.dispatchRevoke(ctx, s)
	case *ast.ShowStmt:
		return e.dispatchShow(ctx, s)
	case *ast.DescribeStmt:
		return e.dispatchDescribe(ctx, s)
	default:
		return e.dispatchBackend(ctx, stmt)
	}
}

func (e *Executive) dispatchIf(ctx *Context, s *ast.IfStmt, templateGranted bool) (*Result, error) {
	for _, br := range s.Branches {
		if !br.Then.Mutating() {
			return nil, errkind.New(errkind.FormatError, "IF branches must be mutating statements")
		}
		truthy, err := e.evalCondition(ctx, br.Condition)
		if err != nil {
			return nil, err
		}
		if truthy {
			granted, err := e.Authorize(ctx, br.Then, templateGranted)
			if err != nil {
				return nil, err
			}
			return e.Dispatch(ctx, br.Then, granted)
		}
	}
	if s.Else != nil {
		granted, err := e.Authorize(ctx, s.Else, templateGranted)
		if err != nil {
			return nil, err
		}
		return e.Dispatch(ctx, s.Else, granted)
	}
	return nil, errkind.New(errkind.ExecutionFailed, "no IF branch matched and no ELSE present")
}

// evalCondition runs `SELECT CASE WHEN cond THEN 1 ELSE 0 END` through the
// backend visitor and reports whether the result was nonzero.
func (e *Executive) evalCondition(ctx *Context, cond ast.Expr) (bool, error) {
	probe := &ast.SelectStmt{
		Columns: []ast.SelectColumn{{Expr: ast.CaseExpr{
			Whens: []ast.WhenClause{{Condition: cond, Result: ast.LiteralInt{Value: 1}}},
			Else:  ast.LiteralInt{Value: 0},
		}}},
	}
	rewritten, err := e.rewriteBackend(ctx, probe)
	if err != nil {
		return false, err
	}
	text, err := dialect.Render(rewritten, dialect.Backend)
	if err != nil {
		return false, err
	}
	var result int64
	if err := e.meta.DB().QueryRow(text).Scan(&result); err != nil {
		return false, errors.Wrap(err, "evaluate IF condition")
	}
	return result != 0, nil
}

func (e *Executive) dispatchBlock(ctx *Context, s *ast.BlockStmt, templateGranted bool) (*Result, error) {
	sp, err := e.meta.Begin(nextSavepointName("blk"))
	if err != nil {
		return nil, err
	}
	var last *Result
	for _, sub := range s.Statements {
		granted, err := e.Authorize(ctx, sub, templateGranted)
		if err != nil {
			sp.Rollback()
			return nil, err
		}
		res, err := e.Dispatch(ctx, sub, granted)
		if err != nil {
			sp.Rollback()
			return nil, err
		}
		last = res
	}
	if err := sp.Release(); err != nil {
		return nil, err
	}
	return last, nil
}

func (e *Executive) dispatchCreateDatabase(ctx *Context, s *ast.CreateDatabaseStmt) (*Result, error) {
	if err := e.meta.CreateDatabase(string(s.Name), ctx.Invoker.Hash()); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Executive) dispatchDropDatabase(ctx *Context, s *ast.DropDatabaseStmt) (*Result, error) {
	n, err := e.meta.TableCount(string(s.Name))
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, errkind.New(errkind.DatabaseNotEmpty, "database "+string(s.Name)+" still has tables")
	}
	if err := e.meta.DropDatabase(string(s.Name)); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Executive) dispatchGrant(ctx *Context, s *ast.GrantStmt) (*Result, error) {
	user, err := grantUserHash(s.User)
	if err != nil {
		return nil, err
	}
	if err := e.grants.Grant(ctx.Database, user, s.Privilege); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Executive) dispatchRevoke(ctx *Context, s *ast.RevokeStmt) (*Result, error) {
	user, err := grantUserHash(s.User)
	if err != nil {
		return nil, err
	}
	if err := e.grants.Revoke(ctx.Database, user, s.Privilege); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Executive) dispatchShow(ctx *Context, s *ast.ShowStmt) (*Result, error) {
	switch s.Kind {
	case ast.ShowGrants:
		rows, err := e.grants.List(ctx.Database)
		if err != nil {
			return nil, err
		}
		out := &Result{Columns: []string{"user", "kind", "table"}}
		for _, g := range rows {
			user := "NULL"
			if g.User != nil {
				user = g.User.String()
			}
			table := ""
			if g.Table != nil {
				table = *g.Table
			}
			out.Rows = append(out.Rows, []interface{}{user, string(g.Kind), table})
		}
		return out, nil
	case ast.ShowTables:
		prefix := ctx.Database + "$"
		rows, err := e.meta.DB().Query(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ?`, prefix+"%")
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		out := &Result{Columns: []string{"table"}}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
			out.Rows = append(out.Rows, []interface{}{strings.TrimPrefix(name, prefix)})
		}
		return out, rows.Err()
	case ast.ShowDatabases:
		q := `SELECT name, owner FROM databases`
		var args []interface{}
		if s.ForUser != nil {
			q += ` WHERE owner = ?`
			h, err := grantUserHash(s.ForUser)
			if err != nil {
				return nil, err
			}
			args = append(args, h.String())
		}
		rows, err := e.meta.DB().Query(q, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		out := &Result{Columns: []string{"database", "owner"}}
		for rows.Next() {
			var name, owner string
			if err := rows.Scan(&name, &owner); err != nil {
				return nil, err
			}
			out.Rows = append(out.Rows, []interface{}{name, owner})
		}
		return out, rows.Err()
	default:
		return nil, errkind.New(errkind.FormatError, "unsupported SHOW variant")
	}
}

func (e *Executive) dispatchDescribe(ctx *Context, s *ast.DescribeStmt) (*Result, error) {
	mangled := ctx.Database + "$" + string(s.Table.Name)
	rows, err := e.meta.DB().Query(fmt.Sprintf(`PRAGMA table_info(%q)`, mangled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := &Result{Columns: []string{"column", "type", "primaryKey"}}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, []interface{}{unmangleColumn(name), colType, pk != 0})
	}
	if len(out.Rows) == 0 {
		return nil, errkind.New(errkind.DoesNotExist, "table "+string(s.Table.Name)+" does not exist")
	}
	return out, rows.Err()
}

func unmangleColumn(name string) string {
	switch name {
	case "$rowid":
		return "rowid"
	case "$oid":
		return "oid"
	default:
		return name
	}
}

// rewriteBackend runs the backend visitor over stmt using ctx's variables.
func (e *Executive) rewriteBackend(ctx *Context, stmt ast.Statement) (ast.Statement, error) {
	vars := contextVars{invoker: ctx.Invoker.Hash(), b: ctx.Block}
	return visitor.NewBackend(ctx.Database, vars).Rewrite(stmt)
}

func (e *Executive) dispatchBackend(ctx *Context, stmt ast.Statement) (*Result, error) {
	rewritten, err := e.rewriteBackend(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if err := e.Verify(rewritten); err != nil {
		return nil, err
	}
	text, err := dialect.Render(rewritten, dialect.Backend)
	if err != nil {
		return nil, err
	}

	if sel, ok := rewritten.(*ast.SelectStmt); ok {
		return e.runSelect(text, sel)
	}

	res, err := e.meta.DB().Exec(text)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.ExecutionFailed, "execute statement")
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return &Result{AffectedRows: affected, LastInsertID: lastID}, nil
}

func (e *Executive) runSelect(text string, sel *ast.SelectStmt) (*Result, error) {
	rows, err := e.meta.DB().Query(text)
	if err != nil {
		return nil, errkind.Wrap(err, errkind.ExecutionFailed, "execute query")
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Result{Columns: make([]string, len(names))}
	for i, n := range names {
		out.Columns[i] = unmangleColumn(n)
	}
	for rows.Next() {
		row := make([]interface{}, len(names))
		dest := make([]interface{}, len(names))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}
