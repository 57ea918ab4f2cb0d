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

// Package parser implements a hand-written tokenizer and recursive-descent
// parser for Catena's restricted SQL dialect (see the external interfaces
// section of the design notes). The dialect adds $variables, ?parameters,
// and IF/DO/END control statements on top of a small relational core, none
// of which a standard-SQL parser can express, so the grammar is walked by
// hand rather than delegated to a third-party SQL front end.
package parser

import (
	"fmt"

	"github.com/Alalun/catena/errkind"
	"github.com/Alalun/catena/sql/ast"
)

// maxNestingDepth bounds subexpression-plus-substatement nesting.
const maxNestingDepth = 10

// Parse parses a single terminated statement from src.
func Parse(src string) (ast.Statement, error) {
	l := newLexer(src)
	if err := l.tokenize(); err != nil {
		return nil, err
	}
	p := &parser{toks: l.toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.errf("unexpected trailing input after statement")
	}
	return stmt, nil
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

func (p *parser) errf(format string, args ...interface{}) error {
	return errkind.New(errkind.Parse, fmt.Sprintf(format, args...))
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) eof() bool   { return p.cur().kind == tokEOF }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNestingDepth {
		return p.errf("nesting depth exceeds %d", maxNestingDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// kw reports whether the current token is the identifier keyword s
// (case-insensitive; the lexer already lowercases identifiers).
func (p *parser) kw(s string) bool {
	t := p.cur()
	return t.kind == tokIdent && t.text == s
}

func (p *parser) op(s string) bool {
	t := p.cur()
	return t.kind == tokOp && t.text == s
}

func (p *parser) expectKw(s string) error {
	if !p.kw(s) {
		return p.errf("expected %q, got %q", s, p.describeCur())
	}
	p.advance()
	return nil
}

func (p *parser) expectOp(s string) error {
	if !p.op(s) {
		return p.errf("expected %q, got %q", s, p.describeCur())
	}
	p.advance()
	return nil
}

func (p *parser) describeCur() string {
	t := p.cur()
	switch t.kind {
	case tokEOF:
		return "<eof>"
	case tokIdent:
		return t.text
	case tokOp:
		return t.text
	case tokInt:
		return fmt.Sprintf("%d", t.ival)
	case tokString:
		return t.sval
	default:
		return "<token>"
	}
}

func (p *parser) expectIdent() (ast.Ident, error) {
	if p.cur().kind != tokIdent {
		return "", p.errf("expected identifier, got %q", p.describeCur())
	}
	t := p.advance()
	return ast.Ident(t.text), nil
}

func (p *parser) parseTableName() (ast.TableName, error) {
	name, err := p.expectIdent()
	if err != nil {
		return ast.TableName{}, err
	}
	return ast.TableName{Name: name}, nil
}

// parseStatement dispatches on the leading keyword and consumes the
// trailing statement terminator ';'.
func (p *parser) parseStatement() (ast.Statement, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	stmt, err := p.parseStatementBody()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(";"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseStatementBody() (ast.Statement, error) {
	switch {
	case p.kw("select"):
		return p.parseSelect()
	case p.kw("insert"):
		return p.parseInsert()
	case p.kw("update"):
		return p.parseUpdate()
	case p.kw("delete"):
		return p.parseDelete()
	case p.kw("create"):
		return p.parseCreate()
	case p.kw("drop"):
		return p.parseDrop()
	case p.kw("grant"):
		return p.parseGrantOrRevoke(false)
	case p.kw("revoke"):
		return p.parseGrantOrRevoke(true)
	case p.kw("show"):
		return p.parseShow()
	case p.kw("describe"):
		return p.parseDescribe()
	case p.kw("if"):
		return p.parseIf()
	case p.kw("do"):
		return p.parseBlock()
	case p.kw("fail"):
		p.advance()
		return &ast.FailStmt{}, nil
	default:
		return nil, p.errf("unrecognized statement starting at %q", p.describeCur())
	}
}

// ---- SELECT --------------------------------------------------------------

func (p *parser) parseSelect() (*ast.SelectStmt, error) {
	p.advance() // SELECT
	stmt := &ast.SelectStmt{}
	if p.kw("distinct") {
		p.advance()
		stmt.Distinct = true
	}

	cols, err := p.parseSelectColumns()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if p.kw("from") {
		p.advance()
		from, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		stmt.From = &from

		for p.kw("left") {
			p.advance()
			if err := p.expectKw("join"); err != nil {
				return nil, err
			}
			t, err := p.parseTableName()
			if err != nil {
				return nil, err
			}
			if err := p.expectKw("on"); err != nil {
				return nil, err
			}
			on, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.Joins = append(stmt.Joins, ast.JoinClause{Table: t, On: on})
		}
	}

	if p.kw("where") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.kw("order") {
		p.advance()
		if err := p.expectKw("by"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			ob := ast.OrderByClause{Expr: e}
			if p.kw("asc") {
				p.advance()
			} else if p.kw("desc") {
				p.advance()
				ob.Desc = true
			}
			stmt.OrderBy = append(stmt.OrderBy, ob)
			if p.op(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if p.kw("limit") {
		p.advance()
		if p.cur().kind != tokInt {
			return nil, p.errf("expected integer after LIMIT")
		}
		n := p.advance().ival
		stmt.Limit = &n
	}

	return stmt, nil
}

func (p *parser) parseSelectColumns() ([]ast.SelectColumn, error) {
	var cols []ast.SelectColumn
	for {
		col, err := p.parseSelectColumn()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.op(",") {
			p.advance()
			continue
		}
		break
	}
	return cols, nil
}

func (p *parser) parseSelectColumn() (ast.SelectColumn, error) {
	if p.op("*") {
		p.advance()
		return ast.SelectColumn{All: true}, nil
	}
	// lookahead for "ident.*"
	if p.cur().kind == tokIdent && p.pos+2 < len(p.toks) &&
		p.toks[p.pos+1].kind == tokOp && p.toks[p.pos+1].text == "." &&
		p.toks[p.pos+2].kind == tokOp && p.toks[p.pos+2].text == "*" {
		table := p.advance().text
		p.advance() // .
		p.advance() // *
		return ast.SelectColumn{All: true, Table: ast.Ident(table)}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return ast.SelectColumn{}, err
	}
	col := ast.SelectColumn{Expr: e}
	if p.kw("as") {
		p.advance()
		alias, err := p.expectIdent()
		if err != nil {
			return ast.SelectColumn{}, err
		}
		col.Alias = alias
	}
	return col, nil
}

// ---- INSERT ---------------------------------------------------------------

func (p *parser) parseInsert() (*ast.InsertStmt, error) {
	p.advance() // INSERT
	stmt := &ast.InsertStmt{}
	if p.kw("or") {
		p.advance()
		if err := p.expectKw("replace"); err != nil {
			return nil, err
		}
		stmt.OrReplace = true
	}
	if err := p.expectKw("into"); err != nil {
		return nil, err
	}
	table, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	stmt.Table = table

	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	for {
		id, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, id)
		if p.op(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}

	if err := p.expectKw("values"); err != nil {
		return nil, err
	}
	for {
		row, err := p.parseValueRow()
		if err != nil {
			return nil, err
		}
		if len(row) != len(stmt.Columns) {
			return nil, p.errf("VALUES row has %d entries, expected %d", len(row), len(stmt.Columns))
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.op(",") {
			p.advance()
			continue
		}
		break
	}
	return stmt, nil
}

func (p *parser) parseValueRow() ([]ast.Expr, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var row []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		row = append(row, e)
		if p.op(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return row, nil
}

// ---- UPDATE / DELETE --------------------------------------------------

func (p *parser) parseUpdate() (*ast.UpdateStmt, error) {
	p.advance() // UPDATE
	table, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	stmt := &ast.UpdateStmt{Table: table}
	if err := p.expectKw("set"); err != nil {
		return nil, err
	}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, ast.SetClause{Column: col, Value: val})
		if p.op(",") {
			p.advance()
			continue
		}
		break
	}
	if p.kw("where") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	return stmt, nil
}

func (p *parser) parseDelete() (*ast.DeleteStmt, error) {
	p.advance() // DELETE
	if err := p.expectKw("from"); err != nil {
		return nil, err
	}
	table, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	stmt := &ast.DeleteStmt{Table: table}
	if p.kw("where") {
		p.advance()
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	return stmt, nil
}

// ---- CREATE / DROP ------------------------------------------------------

func (p *parser) parseCreate() (ast.Statement, error) {
	p.advance() // CREATE
	switch {
	case p.kw("table"):
		p.advance()
		return p.parseCreateTable()
	case p.kw("database"):
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &ast.CreateDatabaseStmt{Name: name}, nil
	case p.kw("index"):
		p.advance()
		return p.parseCreateIndex()
	default:
		return nil, p.errf("expected TABLE, DATABASE or INDEX after CREATE, got %q", p.describeCur())
	}
}

func (p *parser) parseCreateTable() (*ast.CreateTableStmt, error) {
	table, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	stmt := &ast.CreateTableStmt{Table: table}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		typ, err := p.parseColumnType()
		if err != nil {
			return nil, err
		}
		col := ast.ColumnDef{Name: name, Type: typ}
		if p.kw("primary") {
			p.advance()
			if err := p.expectKw("key"); err != nil {
				return nil, err
			}
			col.PrimaryKey = true
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.op(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseColumnType() (ast.ColumnType, error) {
	switch {
	case p.kw("text"):
		p.advance()
		return ast.TypeText, nil
	case p.kw("int"):
		p.advance()
		return ast.TypeInt, nil
	case p.kw("blob"):
		p.advance()
		return ast.TypeBlob, nil
	default:
		return 0, p.errf("expected column type TEXT/INT/BLOB, got %q", p.describeCur())
	}
}

func (p *parser) parseCreateIndex() (*ast.CreateIndexStmt, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKw("on"); err != nil {
		return nil, err
	}
	table, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	stmt := &ast.CreateIndexStmt{Name: name, Table: table}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.op(",") {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseDrop() (ast.Statement, error) {
	p.advance() // DROP
	switch {
	case p.kw("table"):
		p.advance()
		table, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		return &ast.DropTableStmt{Table: table}, nil
	case p.kw("database"):
		p.advance()
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &ast.DropDatabaseStmt{Name: name}, nil
	default:
		return nil, p.errf("expected TABLE or DATABASE after DROP, got %q", p.describeCur())
	}
}

// ---- GRANT / REVOKE -----------------------------------------------------

var grantableKinds = map[string]ast.PrivilegeKind{
	"create": ast.PrivilegeCreate,
	"delete": ast.PrivilegeDelete,
	"drop":   ast.PrivilegeDrop,
	"insert": ast.PrivilegeInsert,
	"update": ast.PrivilegeUpdate,
	"grant":  ast.PrivilegeGrant,
}

func (p *parser) parseGrantOrRevoke(revoke bool) (ast.Statement, error) {
	p.advance() // GRANT/REVOKE
	if p.cur().kind != tokIdent {
		return nil, p.errf("expected privilege name, got %q", p.describeCur())
	}
	kindTok := p.advance().text
	kind, ok := grantableKinds[kindTok]
	if !ok {
		return nil, p.errf("unknown privilege %q", kindTok)
	}
	priv := ast.Privilege{Kind: kind}
	if p.kw("on") {
		p.advance()
		table, err := p.parseTableName()
		if err != nil {
			return nil, err
		}
		priv.Table = &table.Name
	}
	if err := p.expectKw("to"); err != nil {
		return nil, err
	}
	var user []byte
	if p.kw("null") {
		p.advance()
	} else {
		if p.cur().kind != tokBlob {
			return nil, p.errf("expected X'hash' or NULL after TO, got %q", p.describeCur())
		}
		user = p.advance().bval
	}
	if revoke {
		return &ast.RevokeStmt{Privilege: priv, User: user}, nil
	}
	return &ast.GrantStmt{Privilege: priv, User: user}, nil
}

// ---- SHOW / DESCRIBE ------------------------------------------------------

func (p *parser) parseShow() (*ast.ShowStmt, error) {
	p.advance() // SHOW
	switch {
	case p.kw("tables"):
		p.advance()
		return &ast.ShowStmt{Kind: ast.ShowTables}, nil
	case p.kw("databases"):
		p.advance()
		stmt := &ast.ShowStmt{Kind: ast.ShowDatabases}
		if p.kw("for") {
			p.advance()
			if p.cur().kind != tokBlob {
				return nil, p.errf("expected X'hash' after FOR, got %q", p.describeCur())
			}
			stmt.ForUser = p.advance().bval
		}
		return stmt, nil
	case p.kw("grants"):
		p.advance()
		return &ast.ShowStmt{Kind: ast.ShowGrants}, nil
	case p.kw("all"):
		p.advance()
		return &ast.ShowStmt{Kind: ast.ShowAll}, nil
	default:
		return nil, p.errf("expected TABLES/DATABASES/GRANTS/ALL after SHOW, got %q", p.describeCur())
	}
}

func (p *parser) parseDescribe() (*ast.DescribeStmt, error) {
	p.advance() // DESCRIBE
	table, err := p.parseTableName()
	if err != nil {
		return nil, err
	}
	return &ast.DescribeStmt{Table: table}, nil
}

// ---- IF / DO / FAIL -------------------------------------------------------

func (p *parser) parseIf() (*ast.IfStmt, error) {
	stmt := &ast.IfStmt{}
	for {
		p.advance() // IF or ELSE-consumed IF
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("then"); err != nil {
			return nil, err
		}
		if err := p.enter(); err != nil {
			return nil, err
		}
		then, err := p.parseStatementBody()
		p.leave()
		if err != nil {
			return nil, err
		}
		if !then.Mutating() {
			return nil, p.errf("IF/ELSE branches must be mutating statements")
		}
		stmt.Branches = append(stmt.Branches, ast.IfBranch{Condition: cond, Then: then})

		if p.kw("else") && p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == tokIdent && p.toks[p.pos+1].text == "if" {
			p.advance() // ELSE, leaving IF for the next loop iteration
			continue
		}
		break
	}
	if p.kw("else") {
		p.advance()
		if err := p.enter(); err != nil {
			return nil, err
		}
		elseStmt, err := p.parseStatementBody()
		p.leave()
		if err != nil {
			return nil, err
		}
		if !elseStmt.Mutating() {
			return nil, p.errf("IF/ELSE branches must be mutating statements")
		}
		stmt.Else = elseStmt
	}
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseBlock() (*ast.BlockStmt, error) {
	p.advance() // DO
	stmt := &ast.BlockStmt{}
	for {
		if err := p.enter(); err != nil {
			return nil, err
		}
		s, err := p.parseStatementBody()
		p.leave()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(";"); err != nil {
			return nil, err
		}
		stmt.Statements = append(stmt.Statements, s)
		if p.kw("end") {
			p.advance()
			break
		}
	}
	return stmt, nil
}
