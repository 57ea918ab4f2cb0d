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

package parser

import "github.com/Alalun/catena/sql/ast"

// Precedence climbing, lowest to highest: OR, AND, comparison, concat (||),
// additive, multiplicative. NOT and unary '-' bind tighter than everything
// but primaries. IS [NOT] NULL binds at comparison level, as a postfix.

var comparisonOps = map[string]bool{
	"=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true,
}

func (p *parser) parseExpr() (ast.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

func (p *parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.kw("or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.kw("and") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Expr, error) {
	if p.kw("not") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return ast.UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		if p.kw("is") {
			p.advance()
			not := false
			if p.kw("not") {
				p.advance()
				not = true
			}
			if err := p.expectKw("null"); err != nil {
				return nil, err
			}
			left = ast.IsNullExpr{Operand: left, Not: not}
			continue
		}
		if p.cur().kind == tokOp && comparisonOps[p.cur().text] {
			opTok := p.advance().text
			right, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			left = ast.BinaryExpr{Op: opTok, Left: left, Right: right}
			continue
		}
		break
	}
	return left, nil
}

func (p *parser) parseConcat() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.op("||") {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.op("+") || p.op("-") {
		opTok := p.advance().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: opTok, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.op("*") || p.op("/") {
		opTok := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: opTok, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.op("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(ast.LiteralInt); ok {
			return ast.LiteralInt{Value: -lit.Value}, nil
		}
		return ast.UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	t := p.cur()
	switch t.kind {
	case tokInt:
		p.advance()
		return ast.LiteralInt{Value: t.ival}, nil
	case tokString:
		p.advance()
		return ast.LiteralString{Value: t.sval}, nil
	case tokBlob:
		p.advance()
		return ast.LiteralBlob{Value: t.bval}, nil
	case tokVariable:
		p.advance()
		return ast.Variable{Name: ast.Ident(t.text)}, nil
	case tokParam:
		p.advance()
		name := ast.Ident(t.text)
		if p.op(":") {
			p.advance()
			val, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			return ast.BoundParameter{Name: name, Value: val}, nil
		}
		return ast.UnboundParameter{Name: name}, nil
	case tokOp:
		if t.text == "(" {
			p.advance()
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	case tokIdent:
		switch t.text {
		case "null":
			p.advance()
			return ast.NullLiteral{}, nil
		case "exists":
			return p.parseExists()
		case "case":
			return p.parseCase()
		}
		return p.parseIdentOrCall()
	}
	return nil, p.errf("unexpected token %q in expression", p.describeCur())
}

// parseLiteral parses the value half of a bound parameter, which the
// dialect restricts to a single literal (no expressions).
func (p *parser) parseLiteral() (ast.Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokInt:
		p.advance()
		return ast.LiteralInt{Value: t.ival}, nil
	case tokString:
		p.advance()
		return ast.LiteralString{Value: t.sval}, nil
	case tokBlob:
		p.advance()
		return ast.LiteralBlob{Value: t.bval}, nil
	case tokIdent:
		if t.text == "null" {
			p.advance()
			return ast.NullLiteral{}, nil
		}
	case tokOp:
		if t.text == "-" {
			p.advance()
			if p.cur().kind != tokInt {
				return nil, p.errf("expected integer after '-' in bound parameter value")
			}
			n := p.advance().ival
			return ast.LiteralInt{Value: -n}, nil
		}
	}
	return nil, p.errf("expected literal value after ':' in bound parameter, got %q", p.describeCur())
}

func (p *parser) parseIdentOrCall() (ast.Expr, error) {
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.op("(") {
		p.advance()
		var args []ast.Expr
		if !p.op(")") {
			for {
				if p.op("*") && len(args) == 0 {
					p.advance()
					args = append(args, ast.AllColumnsExpr{})
					break
				}
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.op(",") {
					p.advance()
					continue
				}
				break
			}
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return ast.CallExpr{Name: name, Args: args}, nil
	}
	if p.op(".") {
		p.advance()
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return ast.ColumnRef{Table: name, Name: col}, nil
	}
	return ast.ColumnRef{Name: name}, nil
}

func (p *parser) parseExists() (ast.Expr, error) {
	p.advance() // EXISTS
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	if !p.kw("select") {
		return nil, p.errf("expected SELECT inside EXISTS(...)")
	}
	sub, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return ast.ExistsExpr{Subquery: sub}, nil
}

func (p *parser) parseCase() (ast.Expr, error) {
	p.advance() // CASE
	expr := ast.CaseExpr{}
	for p.kw("when") {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKw("then"); err != nil {
			return nil, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Whens = append(expr.Whens, ast.WhenClause{Condition: cond, Result: result})
	}
	if len(expr.Whens) == 0 {
		return nil, p.errf("CASE requires at least one WHEN clause")
	}
	if p.kw("else") {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Else = e
	}
	if err := p.expectKw("end"); err != nil {
		return nil, err
	}
	return expr, nil
}
