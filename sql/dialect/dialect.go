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

// Package dialect renders the SQL AST back to text. Two dialects share one
// renderer: Standard, used for signing and template-hash computation, and
// Backend, used to hand a rewritten statement to the storage engine.
// Standard always renders parameters as `?name` regardless of binding, so
// that two invocations of the same template produce byte-identical text.
package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/sql/ast"
)

// Kind selects which rendering rules apply.
type Kind int

// Dialect kinds.
const (
	// Standard renders parameters unbound and identifiers unmangled; used
	// for signing and template equality.
	Standard Kind = iota
	// Backend renders a statement that has already passed through the
	// backend visitor, so parameters and variables must already be gone.
	Backend
)

// Render serializes stmt to canonical SQL text under the given dialect.
func Render(stmt ast.Statement, kind Kind) (string, error) {
	var b strings.Builder
	if err := renderStmt(&b, stmt, kind); err != nil {
		return "", err
	}
	return b.String(), nil
}

// TemplateHash returns the SHA-256 of stmt's canonical Standard-dialect
// text. The Standard dialect always renders a bound parameter as its bare
// `?name` form (see renderExpr), so two invocations of one stored template
// hash identically regardless of the values they were called with.
func TemplateHash(stmt ast.Statement) (hash.Hash, error) {
	text, err := Render(stmt, Standard)
	if err != nil {
		return hash.Hash{}, err
	}
	return hash.Sum([]byte(text)), nil
}

func renderStmt(b *strings.Builder, stmt ast.Statement, kind Kind) error {
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		return renderSelect(b, s, kind)
	case *ast.InsertStmt:
		return renderInsert(b, s, kind)
	case *ast.UpdateStmt:
		return renderUpdate(b, s, kind)
	case *ast.DeleteStmt:
		return renderDelete(b, s, kind)
	case *ast.CreateTableStmt:
		return renderCreateTable(b, s)
	case *ast.DropTableStmt:
		fmt.Fprintf(b, "DROP TABLE %s", s.Table.Name)
	case *ast.CreateDatabaseStmt:
		fmt.Fprintf(b, "CREATE DATABASE %s", s.Name)
	case *ast.DropDatabaseStmt:
		fmt.Fprintf(b, "DROP DATABASE %s", s.Name)
	case *ast.CreateIndexStmt:
		cols := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			cols[i] = string(c)
		}
		fmt.Fprintf(b, "CREATE INDEX %s ON %s(%s)", s.Name, s.Table.Name, strings.Join(cols, ", "))
	case *ast.GrantStmt:
		renderGrantLike(b, "GRANT", s.Privilege, s.User)
	case *ast.RevokeStmt:
		renderGrantLike(b, "REVOKE", s.Privilege, s.User)
	case *ast.ShowStmt:
		renderShow(b, s)
	case *ast.DescribeStmt:
		fmt.Fprintf(b, "DESCRIBE %s", s.Table.Name)
	case *ast.IfStmt:
		return renderIf(b, s, kind)
	case *ast.BlockStmt:
		return renderBlock(b, s, kind)
	case *ast.FailStmt:
		b.WriteString("FAIL")
	default:
		return fmt.Errorf("dialect: unrenderable statement type %T", stmt)
	}
	return nil
}

func renderSelect(b *strings.Builder, s *ast.SelectStmt, kind Kind) error {
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		var cb strings.Builder
		if c.All {
			if c.Table != "" {
				fmt.Fprintf(&cb, "%s.*", c.Table)
			} else {
				cb.WriteString("*")
			}
		} else {
			if err := renderExpr(&cb, c.Expr, kind); err != nil {
				return err
			}
			if c.Alias != "" {
				fmt.Fprintf(&cb, " AS %s", c.Alias)
			}
		}
		cols[i] = cb.String()
	}
	b.WriteString(strings.Join(cols, ", "))

	if s.From != nil {
		fmt.Fprintf(b, " FROM %s", s.From.Name)
		for _, j := range s.Joins {
			fmt.Fprintf(b, " LEFT JOIN %s ON ", j.Table.Name)
			if err := renderExpr(b, j.On, kind); err != nil {
				return err
			}
		}
	}
	if s.Where != nil {
		b.WriteString(" WHERE ")
		if err := renderExpr(b, s.Where, kind); err != nil {
			return err
		}
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		parts := make([]string, len(s.OrderBy))
		for i, ob := range s.OrderBy {
			var eb strings.Builder
			if err := renderExpr(&eb, ob.Expr, kind); err != nil {
				return err
			}
			if ob.Desc {
				eb.WriteString(" DESC")
			}
			parts[i] = eb.String()
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	if s.Limit != nil {
		fmt.Fprintf(b, " LIMIT %d", *s.Limit)
	}
	return nil
}

func renderInsert(b *strings.Builder, s *ast.InsertStmt, kind Kind) error {
	b.WriteString("INSERT ")
	if s.OrReplace {
		b.WriteString("OR REPLACE ")
	}
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = string(c)
	}
	fmt.Fprintf(b, "INTO %s(%s) VALUES ", s.Table.Name, strings.Join(cols, ", "))
	rows := make([]string, len(s.Rows))
	for i, row := range s.Rows {
		vals := make([]string, len(row))
		for j, v := range row {
			var vb strings.Builder
			if err := renderExpr(&vb, v, kind); err != nil {
				return err
			}
			vals[j] = vb.String()
		}
		rows[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	b.WriteString(strings.Join(rows, ", "))
	return nil
}

func renderUpdate(b *strings.Builder, s *ast.UpdateStmt, kind Kind) error {
	fmt.Fprintf(b, "UPDATE %s SET ", s.Table.Name)
	sets := make([]string, len(s.Set))
	for i, c := range s.Set {
		var vb strings.Builder
		if err := renderExpr(&vb, c.Value, kind); err != nil {
			return err
		}
		sets[i] = fmt.Sprintf("%s = %s", c.Column, vb.String())
	}
	b.WriteString(strings.Join(sets, ", "))
	if s.Where != nil {
		b.WriteString(" WHERE ")
		if err := renderExpr(b, s.Where, kind); err != nil {
			return err
		}
	}
	return nil
}

func renderDelete(b *strings.Builder, s *ast.DeleteStmt, kind Kind) error {
	fmt.Fprintf(b, "DELETE FROM %s", s.Table.Name)
	if s.Where != nil {
		b.WriteString(" WHERE ")
		if err := renderExpr(b, s.Where, kind); err != nil {
			return err
		}
	}
	return nil
}

func renderCreateTable(b *strings.Builder, s *ast.CreateTableStmt) error {
	fmt.Fprintf(b, "CREATE TABLE %s(", s.Table.Name)
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		col := fmt.Sprintf("%s %s", c.Name, c.Type)
		if c.PrimaryKey {
			col += " PRIMARY KEY"
		}
		cols[i] = col
	}
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(")")
	return nil
}

func renderGrantLike(b *strings.Builder, verb string, priv ast.Privilege, user []byte) {
	fmt.Fprintf(b, "%s %s", verb, priv.Kind)
	if priv.Table != nil {
		fmt.Fprintf(b, " ON %s", *priv.Table)
	}
	if user == nil {
		fmt.Fprintf(b, " TO NULL")
	} else {
		fmt.Fprintf(b, " TO X'%X'", user)
	}
}

func renderShow(b *strings.Builder, s *ast.ShowStmt) {
	switch s.Kind {
	case ast.ShowTables:
		b.WriteString("SHOW TABLES")
	case ast.ShowDatabases:
		b.WriteString("SHOW DATABASES")
		if s.ForUser != nil {
			fmt.Fprintf(b, " FOR X'%X'", s.ForUser)
		}
	case ast.ShowGrants:
		b.WriteString("SHOW GRANTS")
	case ast.ShowAll:
		b.WriteString("SHOW ALL")
	}
}

func renderIf(b *strings.Builder, s *ast.IfStmt, kind Kind) error {
	for i, br := range s.Branches {
		if i == 0 {
			b.WriteString("IF ")
		} else {
			b.WriteString(" ELSE IF ")
		}
		if err := renderExpr(b, br.Condition, kind); err != nil {
			return err
		}
		b.WriteString(" THEN ")
		if err := renderStmt(b, br.Then, kind); err != nil {
			return err
		}
	}
	if s.Else != nil {
		b.WriteString(" ELSE ")
		if err := renderStmt(b, s.Else, kind); err != nil {
			return err
		}
	}
	b.WriteString(" END")
	return nil
}

func renderBlock(b *strings.Builder, s *ast.BlockStmt, kind Kind) error {
	b.WriteString("DO ")
	for _, sub := range s.Statements {
		if err := renderStmt(b, sub, kind); err != nil {
			return err
		}
		b.WriteString("; ")
	}
	b.WriteString("END")
	return nil
}

func renderExpr(b *strings.Builder, e ast.Expr, kind Kind) error {
	switch n := e.(type) {
	case ast.LiteralInt:
		b.WriteString(strconv.FormatInt(n.Value, 10))
	case ast.LiteralString:
		b.WriteString("'" + strings.ReplaceAll(n.Value, "'", "''") + "'")
	case ast.LiteralBlob:
		fmt.Fprintf(b, "X'%X'", n.Value)
	case ast.NullLiteral:
		b.WriteString("NULL")
	case ast.ColumnRef:
		if n.Table != "" {
			fmt.Fprintf(b, "%s.%s", n.Table, n.Name)
		} else {
			b.WriteString(string(n.Name))
		}
	case ast.AllColumnsExpr:
		if n.Table != "" {
			fmt.Fprintf(b, "%s.*", n.Table)
		} else {
			b.WriteString("*")
		}
	case ast.Variable:
		fmt.Fprintf(b, "$%s", n.Name)
	case ast.UnboundParameter:
		fmt.Fprintf(b, "?%s", n.Name)
	case ast.BoundParameter:
		if kind == Standard {
			fmt.Fprintf(b, "?%s", n.Name)
		} else {
			return renderExpr(b, n.Value, kind)
		}
	case ast.UnaryExpr:
		fmt.Fprintf(b, "%s ", n.Op)
		return renderExpr(b, n.Operand, kind)
	case ast.BinaryExpr:
		b.WriteString("(")
		if err := renderExpr(b, n.Left, kind); err != nil {
			return err
		}
		fmt.Fprintf(b, " %s ", n.Op)
		if err := renderExpr(b, n.Right, kind); err != nil {
			return err
		}
		b.WriteString(")")
	case ast.IsNullExpr:
		if err := renderExpr(b, n.Operand, kind); err != nil {
			return err
		}
		if n.Not {
			b.WriteString(" IS NOT NULL")
		} else {
			b.WriteString(" IS NULL")
		}
	case ast.CallExpr:
		fmt.Fprintf(b, "%s(", n.Name)
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			var ab strings.Builder
			if err := renderExpr(&ab, a, kind); err != nil {
				return err
			}
			args[i] = ab.String()
		}
		b.WriteString(strings.Join(args, ", "))
		b.WriteString(")")
	case ast.CaseExpr:
		b.WriteString("CASE")
		for _, w := range n.Whens {
			b.WriteString(" WHEN ")
			if err := renderExpr(b, w.Condition, kind); err != nil {
				return err
			}
			b.WriteString(" THEN ")
			if err := renderExpr(b, w.Result, kind); err != nil {
				return err
			}
		}
		if n.Else != nil {
			b.WriteString(" ELSE ")
			if err := renderExpr(b, n.Else, kind); err != nil {
				return err
			}
		}
		b.WriteString(" END")
	case ast.ExistsExpr:
		b.WriteString("EXISTS(")
		if err := renderSelect(b, n.Subquery, kind); err != nil {
			return err
		}
		b.WriteString(")")
	default:
		return fmt.Errorf("dialect: unrenderable expression type %T", e)
	}
	return nil
}
