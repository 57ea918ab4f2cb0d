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

// Package visitor walks and rewrites the SQL AST. Two concrete visitors are
// built on top of the shared Walk machinery: the frontend visitor, which
// resolves client-side macros before a transaction is signed, and the
// backend visitor, which runs at apply time to bind variables and mangle
// identifiers before the statement reaches the storage layer.
package visitor

import "github.com/Alalun/catena/sql/ast"

// ExprRewriter is called bottom-up on every expression node Walk visits. It
// returns the (possibly replaced) node.
type ExprRewriter interface {
	RewriteExpr(e ast.Expr) (ast.Expr, error)
}

// StmtRewriter is called bottom-up on every statement node Walk visits,
// after its nested statements and expressions have already been rewritten.
type StmtRewriter interface {
	RewriteStmt(s ast.Statement) (ast.Statement, error)
}

// Walk rewrites stmt by recursively rewriting its expressions with er (if
// non-nil) and then its own and nested statements with sr (if non-nil),
// bottom-up: children are rewritten before their parent.
func Walk(stmt ast.Statement, er ExprRewriter, sr StmtRewriter) (ast.Statement, error) {
	rewritten, err := walkStmt(stmt, er, sr)
	if err != nil {
		return nil, err
	}
	return rewritten, nil
}

func walkExpr(e ast.Expr, er ExprRewriter) (ast.Expr, error) {
	if e == nil {
		return nil, nil
	}
	var err error
	switch n := e.(type) {
	case ast.BinaryExpr:
		if n.Left, err = walkExpr(n.Left, er); err != nil {
			return nil, err
		}
		if n.Right, err = walkExpr(n.Right, er); err != nil {
			return nil, err
		}
		e = n
	case ast.UnaryExpr:
		if n.Operand, err = walkExpr(n.Operand, er); err != nil {
			return nil, err
		}
		e = n
	case ast.IsNullExpr:
		if n.Operand, err = walkExpr(n.Operand, er); err != nil {
			return nil, err
		}
		e = n
	case ast.CallExpr:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			if args[i], err = walkExpr(a, er); err != nil {
				return nil, err
			}
		}
		n.Args = args
		e = n
	case ast.CaseExpr:
		whens := make([]ast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			if w.Condition, err = walkExpr(w.Condition, er); err != nil {
				return nil, err
			}
			if w.Result, err = walkExpr(w.Result, er); err != nil {
				return nil, err
			}
			whens[i] = w
		}
		n.Whens = whens
		if n.Else != nil {
			if n.Else, err = walkExpr(n.Else, er); err != nil {
				return nil, err
			}
		}
		e = n
	case ast.ExistsExpr:
		if n.Subquery != nil {
			rewritten, err := walkStmt(n.Subquery, er, nil)
			if err != nil {
				return nil, err
			}
			sub := rewritten.(*ast.SelectStmt)
			n.Subquery = sub
		}
		e = n
	default:
		// literals, ColumnRef, Variable, (Un)BoundParameter, AllColumnsExpr:
		// no children to recurse into.
	}
	if er != nil {
		return er.RewriteExpr(e)
	}
	return e, nil
}

func walkSelect(s *ast.SelectStmt, er ExprRewriter) (*ast.SelectStmt, error) {
	var err error
	cols := make([]ast.SelectColumn, len(s.Columns))
	for i, c := range s.Columns {
		if c.Expr != nil {
			if c.Expr, err = walkExpr(c.Expr, er); err != nil {
				return nil, err
			}
		}
		cols[i] = c
	}
	s.Columns = cols
	for i := range s.Joins {
		if s.Joins[i].On, err = walkExpr(s.Joins[i].On, er); err != nil {
			return nil, err
		}
	}
	if s.Where != nil {
		if s.Where, err = walkExpr(s.Where, er); err != nil {
			return nil, err
		}
	}
	for i := range s.OrderBy {
		if s.OrderBy[i].Expr, err = walkExpr(s.OrderBy[i].Expr, er); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func walkStmt(stmt ast.Statement, er ExprRewriter, sr StmtRewriter) (ast.Statement, error) {
	var err error
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		if s, err = walkSelect(s, er); err != nil {
			return nil, err
		}
		stmt = s
	case *ast.InsertStmt:
		rows := make([][]ast.Expr, len(s.Rows))
		for i, row := range s.Rows {
			r := make([]ast.Expr, len(row))
			for j, v := range row {
				if r[j], err = walkExpr(v, er); err != nil {
					return nil, err
				}
			}
			rows[i] = r
		}
		s.Rows = rows
		stmt = s
	case *ast.UpdateStmt:
		set := make([]ast.SetClause, len(s.Set))
		for i, c := range s.Set {
			if c.Value, err = walkExpr(c.Value, er); err != nil {
				return nil, err
			}
			set[i] = c
		}
		s.Set = set
		if s.Where != nil {
			if s.Where, err = walkExpr(s.Where, er); err != nil {
				return nil, err
			}
		}
		stmt = s
	case *ast.DeleteStmt:
		if s.Where != nil {
			if s.Where, err = walkExpr(s.Where, er); err != nil {
				return nil, err
			}
		}
		stmt = s
	case *ast.IfStmt:
		branches := make([]ast.IfBranch, len(s.Branches))
		for i, b := range s.Branches {
			if b.Condition, err = walkExpr(b.Condition, er); err != nil {
				return nil, err
			}
			if b.Then, err = walkStmt(b.Then, er, sr); err != nil {
				return nil, err
			}
			branches[i] = b
		}
		s.Branches = branches
		if s.Else != nil {
			if s.Else, err = walkStmt(s.Else, er, sr); err != nil {
				return nil, err
			}
		}
		stmt = s
	case *ast.BlockStmt:
		stmts := make([]ast.Statement, len(s.Statements))
		for i, sub := range s.Statements {
			if stmts[i], err = walkStmt(sub, er, sr); err != nil {
				return nil, err
			}
		}
		s.Statements = stmts
		stmt = s
	default:
		// CreateTable, DropTable, CreateDatabase, DropDatabase, CreateIndex,
		// Grant, Revoke, Show, Describe, Fail carry no expressions to walk.
	}
	if sr != nil {
		return sr.RewriteStmt(stmt)
	}
	return stmt, nil
}
