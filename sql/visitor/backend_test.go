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
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/Alalun/catena/sql/ast"
	"github.com/Alalun/catena/sql/parser"
)

type fakeVars map[ast.Ident]ast.Expr

func (f fakeVars) Variable(name ast.Ident) (ast.Expr, bool) {
	v, ok := f[name]
	return v, ok
}

func TestBackendVariableAndTableMangling(t *testing.T) {
	Convey("Given an UPDATE statement referencing $invoker", t, func() {
		stmt, err := parser.Parse(`UPDATE accounts SET owner = $invoker WHERE id = 1;`)
		So(err, ShouldBeNil)

		vars := fakeVars{"invoker": ast.LiteralBlob{Value: []byte{1, 2, 3}}}
		backend := NewBackend("mydb", vars)

		Convey("Rewrite substitutes the variable and mangles the table name", func() {
			out, err := backend.Rewrite(stmt)
			So(err, ShouldBeNil)

			upd, ok := out.(*ast.UpdateStmt)
			So(ok, ShouldBeTrue)
			So(string(upd.Table.Name), ShouldEqual, "mydb$accounts")

			blob, ok := upd.Set[0].Value.(ast.LiteralBlob)
			So(ok, ShouldBeTrue)
			So(blob.Value, ShouldResemble, []byte{1, 2, 3})
		})
	})
}

func TestBackendRejectsUnboundParameter(t *testing.T) {
	Convey("Given a statement with an unbound parameter", t, func() {
		stmt, err := parser.Parse(`DELETE FROM t WHERE id = ?id;`)
		So(err, ShouldBeNil)
		backend := NewBackend("db", fakeVars{})

		Convey("Rewrite fails", func() {
			_, err := backend.Rewrite(stmt)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestBackendRejectsInconsistentBoundParameter(t *testing.T) {
	Convey("Given a statement binding the same parameter to two different values", t, func() {
		stmt, err := parser.Parse(`INSERT INTO t(a, b) VALUES (?x:1, ?x:2);`)
		So(err, ShouldBeNil)
		backend := NewBackend("db", fakeVars{})

		Convey("Rewrite fails", func() {
			_, err := backend.Rewrite(stmt)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestBackendEscapesReservedTablePrefix(t *testing.T) {
	Convey("Given a table named with the backend's reserved prefix", t, func() {
		stmt, err := parser.Parse(`SELECT id FROM sqlite_shadow;`)
		So(err, ShouldBeNil)
		backend := NewBackend("db", fakeVars{})

		Convey("Rewrite escapes it before applying the database prefix", func() {
			out, err := backend.Rewrite(stmt)
			So(err, ShouldBeNil)
			sel := out.(*ast.SelectStmt)
			So(string(sel.From.Name), ShouldEqual, "db$esc_sqlite_shadow")
		})
	})
}

func TestBackendRejectsNonWhitelistedFunction(t *testing.T) {
	Convey("Given a call to a function outside the backend whitelist", t, func() {
		stmt, err := parser.Parse(`SELECT randomblob(4) FROM t;`)
		So(err, ShouldBeNil)
		backend := NewBackend("db", fakeVars{})

		Convey("Rewrite fails", func() {
			_, err := backend.Rewrite(stmt)
			So(err, ShouldNotBeNil)
		})
	})
}
