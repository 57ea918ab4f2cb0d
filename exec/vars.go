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
	"github.com/Alalun/catena/block"
	"github.com/Alalun/catena/crypto/hash"
	"github.com/Alalun/catena/sql/ast"
)

// contextVars resolves the $variable built-ins the backend visitor
// substitutes at apply time (spec §4.2/§6): $invoker, $blockHeight,
// $blockSignature, $previousBlockSignature, $blockMiner, $blockTimestamp.
type contextVars struct {
	invoker hash.Hash
	b       *block.Block
}

// Variable implements visitor.VariableSource.
func (v contextVars) Variable(name ast.Ident) (ast.Expr, bool) {
	switch name {
	case "invoker":
		return ast.LiteralBlob{Value: v.invoker.CloneBytes()}, true
	case "blockHeight":
		return ast.LiteralInt{Value: int64(v.b.Index)}, true
	case "blockSignature":
		sig := v.b.Signature
		return ast.LiteralBlob{Value: sig.CloneBytes()}, true
	case "previousBlockSignature":
		prev := v.b.Previous
		return ast.LiteralBlob{Value: prev.CloneBytes()}, true
	case "blockMiner":
		miner := v.b.Miner
		return ast.LiteralBlob{Value: miner.CloneBytes()}, true
	case "blockTimestamp":
		return ast.LiteralInt{Value: int64(v.b.Timestamp)}, true
	default:
		return nil, false
	}
}
