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

// Package ast defines the abstract syntax tree for Catena's SQL dialect
// (spec §6): the statement and expression node variants the parser
// produces and the visitor/rewriter/executive packages consume.
package ast

// Ident is a lowercased, case-folded SQL identifier.
type Ident string

// ColumnType enumerates the dialect's three column types.
type ColumnType int

// Column types.
const (
	TypeText ColumnType = iota
	TypeInt
	TypeBlob
)

func (t ColumnType) String() string {
	switch t {
	case TypeText:
		return "TEXT"
	case TypeInt:
		return "INT"
	case TypeBlob:
		return "BLOB"
	default:
		return "UNKNOWN"
	}
}

// Node is implemented by every AST node, statement or expression.
type Node interface {
	isNode()
}

// Statement is any top-level executable node.
type Statement interface {
	Node
	isStatement()
	// RequiredPrivileges lists the privileges the grants engine must find
	// before this statement may run. Read statements return nil.
	RequiredPrivileges() []Privilege
	// RequiresDatabaseContext reports whether the statement needs a
	// non-empty database name in its execution context.
	RequiresDatabaseContext() bool
	// Mutating reports whether the statement changes state (used to
	// validate that IF/ELSE branches are themselves mutating).
	Mutating() bool
}

// Expr is any expression node.
type Expr interface {
	Node
	isExpr()
}

// TableName names a table within the current database context.
type TableName struct {
	Name Ident
}

func (TableName) isNode() {}

// ColumnDef describes one column of a CREATE TABLE statement. Column
// definitions must render in declaration order (spec §9 "ordered maps").
type ColumnDef struct {
	Name       Ident
	Type       ColumnType
	PrimaryKey bool
}

func (ColumnDef) isNode() {}

// ---- Statements -------------------------------------------------------

// SelectColumn is either `*`, `t.*`, or a projected expression with an
// optional alias.
type SelectColumn struct {
	All   bool
	Table Ident // qualifier for All, e.g. "t.*"; empty for bare "*"
	Expr  Expr
	Alias Ident
}

// JoinClause is a `LEFT JOIN t ON e` clause.
type JoinClause struct {
	Table TableName
	On    Expr
}

// OrderByClause is one `expr [ASC|DESC]` term.
type OrderByClause struct {
	Expr Expr
	Desc bool
}

// SelectStmt is a SELECT statement.
type SelectStmt struct {
	Distinct bool
	Columns  []SelectColumn
	From     *TableName
	Joins    []JoinClause
	Where    Expr
	OrderBy  []OrderByClause
	Limit    *int64
}

func (*SelectStmt) isNode()      {}
func (*SelectStmt) isStatement() {}
func (*SelectStmt) RequiredPrivileges() []Privilege { return nil }
func (*SelectStmt) RequiresDatabaseContext() bool   { return true }
func (*SelectStmt) Mutating() bool                  { return false }

// InsertStmt is an INSERT [OR REPLACE] INTO t(cols) VALUES (...),... statement.
type InsertStmt struct {
	OrReplace bool
	Table     TableName
	Columns   []Ident
	Rows      [][]Expr
}

func (*InsertStmt) isNode()      {}
func (*InsertStmt) isStatement() {}
func (s *InsertStmt) RequiredPrivileges() []Privilege {
	return []Privilege{TablePrivilege(PrivilegeInsert, s.Table.Name)}
}
func (*InsertStmt) RequiresDatabaseContext() bool { return true }
func (*InsertStmt) Mutating() bool                { return true }

// SetClause is one `column = expr` pair of an UPDATE statement's SET list,
// held in an ordered slice rather than a map (spec §9).
type SetClause struct {
	Column Ident
	Value  Expr
}

// UpdateStmt is an UPDATE t SET ... [WHERE ...] statement.
type UpdateStmt struct {
	Table TableName
	Set   []SetClause
	Where Expr
}

func (*UpdateStmt) isNode()      {}
func (*UpdateStmt) isStatement() {}
func (s *UpdateStmt) RequiredPrivileges() []Privilege {
	return []Privilege{TablePrivilege(PrivilegeUpdate, s.Table.Name)}
}
func (*UpdateStmt) RequiresDatabaseContext() bool { return true }
func (*UpdateStmt) Mutating() bool                { return true }

// DeleteStmt is a DELETE FROM t [WHERE ...] statement.
type DeleteStmt struct {
	Table TableName
	Where Expr
}

func (*DeleteStmt) isNode()      {}
func (*DeleteStmt) isStatement() {}
func (s *DeleteStmt) RequiredPrivileges() []Privilege {
	return []Privilege{TablePrivilege(PrivilegeDelete, s.Table.Name)}
}
func (*DeleteStmt) RequiresDatabaseContext() bool { return true }
func (*DeleteStmt) Mutating() bool                { return true }

// CreateTableStmt is a CREATE TABLE t(...) statement.
type CreateTableStmt struct {
	Table   TableName
	Columns []ColumnDef
}

func (*CreateTableStmt) isNode()      {}
func (*CreateTableStmt) isStatement() {}
func (s *CreateTableStmt) RequiredPrivileges() []Privilege {
	return []Privilege{DatabasePrivilege(PrivilegeCreate)}
}
func (*CreateTableStmt) RequiresDatabaseContext() bool { return true }
func (*CreateTableStmt) Mutating() bool                { return true }

// DropTableStmt is a DROP TABLE t statement.
type DropTableStmt struct {
	Table TableName
}

func (*DropTableStmt) isNode()      {}
func (*DropTableStmt) isStatement() {}
func (s *DropTableStmt) RequiredPrivileges() []Privilege {
	return []Privilege{TablePrivilege(PrivilegeDrop, s.Table.Name)}
}
func (*DropTableStmt) RequiresDatabaseContext() bool { return true }
func (*DropTableStmt) Mutating() bool                { return true }

// CreateDatabaseStmt is a CREATE DATABASE d statement. It declares no
// privileges: the executive's fallback rule (spec §4.4 step 4) permits it
// only when no owner exists yet.
type CreateDatabaseStmt struct {
	Name Ident
}

func (*CreateDatabaseStmt) isNode()                        {}
func (*CreateDatabaseStmt) isStatement()                   {}
func (*CreateDatabaseStmt) RequiredPrivileges() []Privilege { return nil }
func (*CreateDatabaseStmt) RequiresDatabaseContext() bool   { return false }
func (*CreateDatabaseStmt) Mutating() bool                  { return true }

// DropDatabaseStmt is a DROP DATABASE d statement. Declares no privileges;
// the executive dispatch enforces ownership (spec §4.4 dispatch table).
type DropDatabaseStmt struct {
	Name Ident
}

func (*DropDatabaseStmt) isNode()                        {}
func (*DropDatabaseStmt) isStatement()                   {}
func (*DropDatabaseStmt) RequiredPrivileges() []Privilege { return nil }
func (*DropDatabaseStmt) RequiresDatabaseContext() bool   { return false }
func (*DropDatabaseStmt) Mutating() bool                  { return true }

// CreateIndexStmt is a CREATE INDEX statement. It is never directly
// user-executable (spec §4.3: the "never" privilege kind).
type CreateIndexStmt struct {
	Name    Ident
	Table   TableName
	Columns []Ident
}

func (*CreateIndexStmt) isNode()      {}
func (*CreateIndexStmt) isStatement() {}
func (s *CreateIndexStmt) RequiredPrivileges() []Privilege {
	return []Privilege{TablePrivilege(PrivilegeNever, s.Table.Name)}
}
func (*CreateIndexStmt) RequiresDatabaseContext() bool { return true }
func (*CreateIndexStmt) Mutating() bool                { return true }

// ShowKind enumerates the SHOW statement variants.
type ShowKind int

// Show kinds.
const (
	ShowTables ShowKind = iota
	ShowDatabases
	ShowGrants
	ShowAll
)

// ShowStmt is a SHOW {TABLES|DATABASES [FOR X'hash']|GRANTS|ALL} statement.
type ShowStmt struct {
	Kind ShowKind
	// ForUser is set for `SHOW DATABASES FOR X'hash'`; nil otherwise.
	ForUser []byte
}

func (*ShowStmt) isNode()                        {}
func (*ShowStmt) isStatement()                   {}
func (*ShowStmt) RequiredPrivileges() []Privilege { return nil }
func (s *ShowStmt) RequiresDatabaseContext() bool { return s.Kind == ShowTables }
func (*ShowStmt) Mutating() bool                  { return false }

// DescribeStmt is a DESCRIBE t statement.
type DescribeStmt struct {
	Table TableName
}

func (*DescribeStmt) isNode()                        {}
func (*DescribeStmt) isStatement()                   {}
func (*DescribeStmt) RequiredPrivileges() []Privilege { return nil }
func (*DescribeStmt) RequiresDatabaseContext() bool   { return true }
func (*DescribeStmt) Mutating() bool                  { return false }

// GrantStmt is a GRANT priv [ON t] TO [X'hash'|NULL] statement.
type GrantStmt struct {
	Privilege Privilege
	// User is nil for a public ("any user") grant.
	User []byte
}

func (*GrantStmt) isNode()      {}
func (*GrantStmt) isStatement() {}
func (s *GrantStmt) RequiredPrivileges() []Privilege {
	return []Privilege{Privilege{Kind: PrivilegeGrant, Table: s.Privilege.Table}}
}
func (*GrantStmt) RequiresDatabaseContext() bool { return true }
func (*GrantStmt) Mutating() bool                { return true }

// RevokeStmt is a REVOKE priv [ON t] TO [X'hash'|NULL] statement.
type RevokeStmt struct {
	Privilege Privilege
	User      []byte
}

func (*RevokeStmt) isNode()      {}
func (*RevokeStmt) isStatement() {}
func (s *RevokeStmt) RequiredPrivileges() []Privilege {
	return []Privilege{Privilege{Kind: PrivilegeGrant, Table: s.Privilege.Table}}
}
func (*RevokeStmt) RequiresDatabaseContext() bool { return true }
func (*RevokeStmt) Mutating() bool                { return true }

// IfBranch is one `IF e THEN s` or `ELSE IF e THEN s` arm of an IF statement.
type IfBranch struct {
	Condition Expr
	Then      Statement
}

// IfStmt is an IF e THEN s [ELSE IF e THEN s]... [ELSE s] END statement.
type IfStmt struct {
	Branches []IfBranch
	Else     Statement
}

func (*IfStmt) isNode()                        {}
func (*IfStmt) isStatement()                   {}
func (*IfStmt) RequiredPrivileges() []Privilege { return nil }
func (*IfStmt) RequiresDatabaseContext() bool   { return false }
func (*IfStmt) Mutating() bool                  { return true }

// BlockStmt is a DO s;s;...  END statement, executed in order.
type BlockStmt struct {
	Statements []Statement
}

func (*BlockStmt) isNode()                        {}
func (*BlockStmt) isStatement()                   {}
func (*BlockStmt) RequiredPrivileges() []Privilege { return nil }
func (*BlockStmt) RequiresDatabaseContext() bool   { return false }
func (*BlockStmt) Mutating() bool                  { return true }

// FailStmt always fails with ExecutionFailed when dispatched.
type FailStmt struct{}

func (*FailStmt) isNode()                        {}
func (*FailStmt) isStatement()                   {}
func (*FailStmt) RequiredPrivileges() []Privilege { return nil }
func (*FailStmt) RequiresDatabaseContext() bool   { return false }
func (*FailStmt) Mutating() bool                  { return true }

// ---- Expressions --------------------------------------------------------

// LiteralInt is an integer literal.
type LiteralInt struct{ Value int64 }

func (LiteralInt) isNode() {}
func (LiteralInt) isExpr() {}

// LiteralString is a 'string' literal.
type LiteralString struct{ Value string }

func (LiteralString) isNode() {}
func (LiteralString) isExpr() {}

// LiteralBlob is an X'hex' literal.
type LiteralBlob struct{ Value []byte }

func (LiteralBlob) isNode() {}
func (LiteralBlob) isExpr() {}

// NullLiteral is the NULL literal.
type NullLiteral struct{}

func (NullLiteral) isNode() {}
func (NullLiteral) isExpr() {}

// ColumnRef references a column, optionally qualified by a table alias.
type ColumnRef struct {
	Table Ident // empty if unqualified
	Name  Ident
}

func (ColumnRef) isNode() {}
func (ColumnRef) isExpr() {}

// AllColumnsExpr is the `*` or `t.*` projection marker used outside
// SelectColumn contexts (e.g. COUNT(*)).
type AllColumnsExpr struct{ Table Ident }

func (AllColumnsExpr) isNode() {}
func (AllColumnsExpr) isExpr() {}

// Variable is a `$name` built-in variable reference, resolved by the
// backend visitor from the execution context (spec §4.2, §6).
type Variable struct{ Name Ident }

func (Variable) isNode() {}
func (Variable) isExpr() {}

// UnboundParameter is a `?name` parameter with no bound value yet.
type UnboundParameter struct{ Name Ident }

func (UnboundParameter) isNode() {}
func (UnboundParameter) isExpr() {}

// BoundParameter is a `?name:value` parameter carrying its literal value.
type BoundParameter struct {
	Name  Ident
	Value Expr // a literal expression
}

func (BoundParameter) isNode() {}
func (BoundParameter) isExpr() {}

// UnaryExpr is a prefix operator applied to one operand: "-" or "NOT".
type UnaryExpr struct {
	Op      string
	Operand Expr
}

func (UnaryExpr) isNode() {}
func (UnaryExpr) isExpr() {}

// BinaryExpr is an infix operator applied to two operands.
type BinaryExpr struct {
	Op          string
	Left, Right Expr
}

func (BinaryExpr) isNode() {}
func (BinaryExpr) isExpr() {}

// IsNullExpr is `expr IS [NOT] NULL`.
type IsNullExpr struct {
	Operand Expr
	Not     bool
}

func (IsNullExpr) isNode() {}
func (IsNullExpr) isExpr() {}

// CallExpr is a function call, e.g. ABS(x) or LENGTH(x).
type CallExpr struct {
	Name Ident
	Args []Expr
}

func (CallExpr) isNode() {}
func (CallExpr) isExpr() {}

// WhenClause is one `WHEN cond THEN result` arm of a CASE expression.
type WhenClause struct {
	Condition Expr
	Result    Expr
}

// CaseExpr is a `CASE WHEN ... THEN ... ELSE ... END` expression.
type CaseExpr struct {
	Whens []WhenClause
	Else  Expr
}

func (CaseExpr) isNode() {}
func (CaseExpr) isExpr() {}

// ExistsExpr is `EXISTS(select)`.
type ExistsExpr struct {
	Subquery *SelectStmt
}

func (ExistsExpr) isNode() {}
func (ExistsExpr) isExpr() {}
