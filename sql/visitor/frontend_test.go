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

	"github.com/Alalun/catena/sql/ast"
	"github.com/Alalun/catena/sql/parser"
)

func TestFrontendResolvesVersionMacro(t *testing.T) {
	stmt, err := parser.Parse(`INSERT INTO t(v) VALUES (version());`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := NewFrontend().Rewrite(stmt)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	ins := out.(*ast.InsertStmt)
	lit, ok := ins.Rows[0][0].(ast.LiteralString)
	if !ok {
		t.Fatalf("expected literal string, got %T", ins.Rows[0][0])
	}
	if lit.Value != ProtocolVersion {
		t.Fatalf("expected %q, got %q", ProtocolVersion, lit.Value)
	}
}

func TestFrontendResolvesUUIDMacroToDistinctValues(t *testing.T) {
	stmt, err := parser.Parse(`INSERT INTO t(a, b) VALUES (uuid(), uuid());`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := NewFrontend().Rewrite(stmt)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	ins := out.(*ast.InsertStmt)
	a := ins.Rows[0][0].(ast.LiteralString).Value
	b := ins.Rows[0][1].(ast.LiteralString).Value
	if a == "" || b == "" || a == b {
		t.Fatalf("expected two distinct non-empty uuids, got %q and %q", a, b)
	}
}
