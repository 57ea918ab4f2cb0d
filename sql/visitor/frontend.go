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
	uuid "github.com/satori/go.uuid"

	"github.com/Alalun/catena/sql/ast"
)

// ProtocolVersion is substituted for a bare version() call.
const ProtocolVersion = "catena-1"

// Frontend resolves client-side macros — version() and uuid() — into
// literals before a statement is signed into a transaction. Resolution
// happens once, client-side; the literal it bakes in is what gets signed
// and is what every node subsequently replays, so replays stay
// deterministic even though uuid() itself is not.
type Frontend struct{}

// NewFrontend returns a Frontend visitor.
func NewFrontend() *Frontend { return &Frontend{} }

// Rewrite resolves macros throughout stmt.
func (f *Frontend) Rewrite(stmt ast.Statement) (ast.Statement, error) {
	return Walk(stmt, f, nil)
}

// RewriteExpr implements ExprRewriter.
func (f *Frontend) RewriteExpr(e ast.Expr) (ast.Expr, error) {
	call, ok := e.(ast.CallExpr)
	if !ok {
		return e, nil
	}
	switch call.Name {
	case "version":
		if len(call.Args) != 0 {
			return e, nil
		}
		return ast.LiteralString{Value: ProtocolVersion}, nil
	case "uuid":
		if len(call.Args) != 0 {
			return e, nil
		}
		id := uuid.NewV4()
		return ast.LiteralString{Value: id.String()}, nil
	default:
		return e, nil
	}
}
