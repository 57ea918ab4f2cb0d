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

package visitor

import (
	"strings"

	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/sql/ast"
)

// reservedColumnRenames maps SQLite's implicit row identifier aliases to
// collision-safe names so a user column can never shadow them.
var reservedColumnRenames = map[ast.Ident]ast.Ident{
	"rowid": "$rowid",
	"oid":   "$oid",
}

// backendFunctionWhitelist are the only function calls that survive into
// backend SQL; anything else (including unresolved version()/uuid() macros
// that should have been resolved by the frontend visitor) is rejected.
var backendFunctionWhitelist = map[ast.Ident]bool{
	"length": true,
	"abs":    true,
}

// VariableSource resolves a built-in $variable to its literal value for a
// given execution context. See the built-in variables list in the external
// interfaces section of the design notes: $invoker, $blockHeight,
// $blockSignature, $previousBlockSignature, $blockMiner, $blockTimestamp.
type VariableSource interface {
	Variable(name ast.Ident) (ast.Expr, bool)
}

// Backend runs at apply time. It binds $variables from the execution
// context, enforces that every ?parameter used in the statement was bound
// exactly once to a single consistent value, rewrites function calls
// through the backend whitelist, and mangles table/column names so a user
// schema can never alias the storage layer's own reserved names.
type Backend struct {
	vars     VariableSource
	database string

	boundValues map[ast.Ident]ast.Expr
	sawUnbound  []ast.Ident
	err         error
}

// NewBackend constructs a Backend visitor scoped to database and drawing
// $variables from vars.
func NewBackend(database string, vars VariableSource) *Backend {
	return &Backend{database: database, vars: vars, boundValues: map[ast.Ident]ast.Expr{}}
}

// Rewrite applies the backend transform throughout stmt.
func (b *Backend) Rewrite(stmt ast.Statement) (ast.Statement, error) {
	out, err := Walk(stmt, b, b)
	if err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	if len(b.sawUnbound) > 0 {
		return nil, errkind.New(errkind.UnboundParameter, string(b.sawUnbound[0]))
	}
	return out, nil
}

func exprEqual(a, b ast.Expr) bool {
	switch av := a.(type) {
	case ast.LiteralInt:
		bv, ok := b.(ast.LiteralInt)
		return ok && av.Value == bv.Value
	case ast.LiteralString:
		bv, ok := b.(ast.LiteralString)
		return ok && av.Value == bv.Value
	case ast.LiteralBlob:
		bv, ok := b.(ast.LiteralBlob)
		return ok && string(av.Value) == string(bv.Value)
	case ast.NullLiteral:
		_, ok := b.(ast.NullLiteral)
		return ok
	default:
		return false
	}
}

// RewriteExpr implements ExprRewriter.
func (b *Backend) RewriteExpr(e ast.Expr) (ast.Expr, error) {
	if b.err != nil {
		return e, nil
	}
	switch n := e.(type) {
	case ast.Variable:
		v, ok := b.vars.Variable(n.Name)
		if !ok {
			b.err = errkind.New(errkind.FormatError, "unknown variable $"+string(n.Name))
			return e, nil
		}
		return v, nil
	case ast.UnboundParameter:
		b.sawUnbound = append(b.sawUnbound, n.Name)
		return e, nil
	case ast.BoundParameter:
		if existing, ok := b.boundValues[n.Name]; ok {
			if !exprEqual(existing, n.Value) {
				b.err = errkind.New(errkind.InconsistentParameter, "parameter ?"+string(n.Name)+" bound to conflicting values")
				return e, nil
			}
		} else {
			b.boundValues[n.Name] = n.Value
		}
		return n.Value, nil
	case ast.CallExpr:
		if !backendFunctionWhitelist[ast.Ident(strings.ToLower(string(n.Name)))] {
			b.err = errkind.New(errkind.FormatError, "function "+string(n.Name)+" is not available in backend SQL")
			return e, nil
		}
		return n, nil
	case ast.ColumnRef:
		if renamed, ok := reservedColumnRenames[n.Name]; ok {
			n.Name = renamed
		}
		return n, nil
	case ast.ExistsExpr:
		if n.Subquery != nil {
			if _, err := b.RewriteStmt(n.Subquery); err != nil {
				return e, err
			}
		}
		return n, nil
	default:
		return e, nil
	}
}

// mangleTable renames a user table T to <database>$T, first escaping any
// name that already collides with the backend's own reserved prefix.
func (b *Backend) mangleTable(name ast.Ident) ast.Ident {
	n := string(name)
	if strings.HasPrefix(strings.ToLower(n), "sqlite_") {
		n = "esc_" + n
	}
	return ast.Ident(b.database + "$" + n)
}

// RewriteStmt implements StmtRewriter, mangling every table reference.
func (b *Backend) RewriteStmt(s ast.Statement) (ast.Statement, error) {
	if b.err != nil {
		return s, nil
	}
	switch st := s.(type) {
	case *ast.SelectStmt:
		if st.From != nil {
			st.From.Name = b.mangleTable(st.From.Name)
		}
		for i := range st.Joins {
			st.Joins[i].Table.Name = b.mangleTable(st.Joins[i].Table.Name)
		}
	case *ast.InsertStmt:
		st.Table.Name = b.mangleTable(st.Table.Name)
	case *ast.UpdateStmt:
		st.Table.Name = b.mangleTable(st.Table.Name)
	case *ast.DeleteStmt:
		st.Table.Name = b.mangleTable(st.Table.Name)
	case *ast.CreateTableStmt:
		st.Table.Name = b.mangleTable(st.Table.Name)
	case *ast.DropTableStmt:
		st.Table.Name = b.mangleTable(st.Table.Name)
	case *ast.CreateIndexStmt:
		st.Table.Name = b.mangleTable(st.Table.Name)
	case *ast.DescribeStmt:
		st.Table.Name = b.mangleTable(st.Table.Name)
	}
	return s, nil
}
