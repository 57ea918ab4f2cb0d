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
	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/sql/ast"
)

// Verify runs the static checks of spec §4.5 against a statement that has
// already passed through the backend visitor: every referenced table and
// column must exist, no variable/parameter node may remain, and INSERT's
// column list must have no duplicates. Subqueries are verified recursively
// under their own table context.
func (e *Executive) Verify(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		return e.verifySelect(s)
	case *ast.InsertStmt:
		return e.verifyInsert(s)
	case *ast.UpdateStmt:
		return e.verifyUpdate(s)
	case *ast.DeleteStmt:
		return e.verifyDelete(s)
	case *ast.IfStmt:
		for _, br := range s.Branches {
			if err := verifyNoUnresolved(br.Condition); err != nil {
				return err
			}
			if err := e.Verify(br.Then); err != nil {
				return err
			}
		}
		if s.Else != nil {
			return e.Verify(s.Else)
		}
		return nil
	case *ast.BlockStmt:
		for _, sub := range s.Statements {
			if err := e.Verify(sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func (e *Executive) mustTableExist(table ast.Ident) error {
	ok, err := e.meta.TableExists(string(table))
	if err != nil {
		return err
	}
	if !ok {
		return errkind.New(errkind.DoesNotExist, "table "+string(table)+" does not exist")
	}
	return nil
}

func (e *Executive) mustColumnExist(table, column ast.Ident) error {
	ok, err := e.meta.ColumnExists(string(table), string(column))
	if err != nil {
		return err
	}
	if !ok {
		return errkind.New(errkind.DoesNotExist,
			"column "+string(column)+" does not exist on "+string(table))
	}
	return nil
}

func (e *Executive) verifySelect(s *ast.SelectStmt) error {
	if s.From != nil {
		if err := e.mustTableExist(s.From.Name); err != nil {
			return err
		}
	}
	for _, j := range s.Joins {
		if err := e.mustTableExist(j.Table.Name); err != nil {
			return err
		}
		if err := verifyNoUnresolved(j.On); err != nil {
			return err
		}
	}
	for _, c := range s.Columns {
		if c.All {
			continue
		}
		if err := verifyNoUnresolved(c.Expr); err != nil {
			return err
		}
		if s.From != nil {
			if err := e.verifyColumnRefs(c.Expr, s.From.Name); err != nil {
				return err
			}
		}
	}
	if s.Where != nil {
		if err := verifyNoUnresolved(s.Where); err != nil {
			return err
		}
		if s.From != nil {
			if err := e.verifyColumnRefs(s.Where, s.From.Name); err != nil {
				return err
			}
		}
	}
	for _, ob := range s.OrderBy {
		if err := verifyNoUnresolved(ob.Expr); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executive) verifyInsert(s *ast.InsertStmt) error {
	if err := e.mustTableExist(s.Table.Name); err != nil {
		return err
	}
	seen := map[ast.Ident]bool{}
	for _, c := range s.Columns {
		if seen[c] {
			return errkind.New(errkind.InconsistentColumn, "duplicate column "+string(c)+" in INSERT")
		}
		seen[c] = true
		if err := e.mustColumnExist(s.Table.Name, c); err != nil {
			return err
		}
	}
	for _, row := range s.Rows {
		if len(row) != len(s.Columns) {
			return errkind.New(errkind.InconsistentColumn, "row has wrong number of values")
		}
		for _, v := range row {
			if err := verifyNoUnresolved(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executive) verifyUpdate(s *ast.UpdateStmt) error {
	if err := e.mustTableExist(s.Table.Name); err != nil {
		return err
	}
	for _, c := range s.Set {
		if err := e.mustColumnExist(s.Table.Name, c.Column); err != nil {
			return err
		}
		if err := verifyNoUnresolved(c.Value); err != nil {
			return err
		}
	}
	if s.Where != nil {
		if err := verifyNoUnresolved(s.Where); err != nil {
			return err
		}
		if err := e.verifyColumnRefs(s.Where, s.Table.Name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executive) verifyDelete(s *ast.DeleteStmt) error {
	if err := e.mustTableExist(s.Table.Name); err != nil {
		return err
	}
	if s.Where != nil {
		if err := verifyNoUnresolved(s.Where); err != nil {
			return err
		}
		if err := e.verifyColumnRefs(s.Where, s.Table.Name); err != nil {
			return err
		}
	}
	return nil
}

// verifyColumnRefs walks e checking that every unqualified or
// self-qualified column reference names a real column of table.
// Cross-table qualifiers (joins) are left to sqlite to reject at execution
// time, since the verifier does not track per-alias table bindings.
func (e *Executive) verifyColumnRefs(expr ast.Expr, table ast.Ident) error {
	switch n := expr.(type) {
	case ast.ColumnRef:
		if n.Table == "" || n.Table == table {
			return e.mustColumnExist(table, n.Name)
		}
		return nil
	case ast.UnaryExpr:
		return e.verifyColumnRefs(n.Operand, table)
	case ast.BinaryExpr:
		if err := e.verifyColumnRefs(n.Left, table); err != nil {
			return err
		}
		return e.verifyColumnRefs(n.Right, table)
	case ast.IsNullExpr:
		return e.verifyColumnRefs(n.Operand, table)
	case ast.CallExpr:
		for _, a := range n.Args {
			if err := e.verifyColumnRefs(a, table); err != nil {
				return err
			}
		}
		return nil
	case ast.CaseExpr:
		for _, w := range n.Whens {
			if err := e.verifyColumnRefs(w.Condition, table); err != nil {
				return err
			}
			if err := e.verifyColumnRefs(w.Result, table); err != nil {
				return err
			}
		}
		if n.Else != nil {
			return e.verifyColumnRefs(n.Else, table)
		}
		return nil
	case ast.ExistsExpr:
		return e.verifySelect(n.Subquery)
	default:
		return nil
	}
}

// verifyNoUnresolved reports an error if expr still contains a variable or
// parameter node, which should have been eliminated by the backend visitor
// before verification runs.
func verifyNoUnresolved(expr ast.Expr) error {
	switch n := expr.(type) {
	case ast.Variable:
		return errkind.New(errkind.FormatError, "unresolved variable $"+string(n.Name)+" survived rewriting")
	case ast.UnboundParameter:
		return errkind.New(errkind.UnboundParameter, string(n.Name))
	case ast.BoundParameter:
		return errkind.New(errkind.FormatError, "unresolved parameter ?"+string(n.Name)+" survived rewriting")
	case ast.UnaryExpr:
		return verifyNoUnresolved(n.Operand)
	case ast.BinaryExpr:
		if err := verifyNoUnresolved(n.Left); err != nil {
			return err
		}
		return verifyNoUnresolved(n.Right)
	case ast.IsNullExpr:
		return verifyNoUnresolved(n.Operand)
	case ast.CallExpr:
		for _, a := range n.Args {
			if err := verifyNoUnresolved(a); err != nil {
				return err
			}
		}
		return nil
	case ast.CaseExpr:
		for _, w := range n.Whens {
			if err := verifyNoUnresolved(w.Condition); err != nil {
				return err
			}
			if err := verifyNoUnresolved(w.Result); err != nil {
				return err
			}
		}
		if n.Else != nil {
			return verifyNoUnresolved(n.Else)
		}
		return nil
	case ast.ExistsExpr:
		if n.Subquery.Where != nil {
			return verifyNoUnresolved(n.Subquery.Where)
		}
		return nil
	default:
		return nil
	}
}
