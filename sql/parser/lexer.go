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

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Alalun/catena/errkind"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokString
	tokBlob
	tokVariable // $name
	tokParam    // ?name
	tokOp       // <> <= >= || and single-char operators/punctuation
)

type token struct {
	kind tokenKind
	text string // normalized text: lowercased for idents/keywords, raw for op
	ival int64
	sval string
	bval []byte
}

// lexer turns dialect source text into a token stream. Whitespace inside a
// single token (e.g. a split identifier) is impossible by construction:
// each token is read from a contiguous run of matching runes.
type lexer struct {
	src  string
	pos  int
	toks []token
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) errf(format string, args ...interface{}) error {
	return errkind.New(errkind.Parse, fmt.Sprintf(format, args...))
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// tokenize scans the entire source into l.toks, terminated by a tokEOF.
func (l *lexer) tokenize() error {
	for {
		l.skipWhitespaceAndComments()
		if l.pos >= len(l.src) {
			l.toks = append(l.toks, token{kind: tokEOF})
			return nil
		}
		c := l.src[l.pos]
		switch {
		case c == 'X' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'':
			t, err := l.lexBlob()
			if err != nil {
				return err
			}
			l.toks = append(l.toks, t)
		case isIdentStart(c):
			l.toks = append(l.toks, l.lexIdent())
		case c == '"':
			t, err := l.lexQuotedIdent()
			if err != nil {
				return err
			}
			l.toks = append(l.toks, t)
		case isDigit(c) || (c == '-' && l.peekIsDigitAfterMinus()):
			l.toks = append(l.toks, l.lexNumber())
		case c == '\'':
			t, err := l.lexString()
			if err != nil {
				return err
			}
			l.toks = append(l.toks, t)
		case c == '$':
			l.toks = append(l.toks, l.lexVariable())
		case c == '?':
			l.toks = append(l.toks, l.lexParam())
		default:
			t, err := l.lexOperator()
			if err != nil {
				return err
			}
			l.toks = append(l.toks, t)
		}
	}
}

// peekIsDigitAfterMinus disambiguates a leading '-' as a numeric literal
// sign versus the subtraction operator: only treated as a literal sign
// when immediately followed by a digit AND the previous token cannot end
// an expression (handled by the parser's unary-minus path instead). The
// lexer always emits '-' as an operator; unary numbers are folded by the
// parser, so this always returns false and '-' lexes as an operator.
func (l *lexer) peekIsDigitAfterMinus() bool {
	return false
}

func (l *lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.pos++
		case c == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '-':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) lexIdent() token {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return token{kind: tokIdent, text: strings.ToLower(l.src[start:l.pos])}
}

func (l *lexer) lexQuotedIdent() (token, error) {
	l.pos++ // consume opening quote
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '"' {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{}, l.errf("unterminated quoted identifier")
	}
	name := strings.ToLower(l.src[start:l.pos])
	l.pos++ // consume closing quote
	return token{kind: tokIdent, text: name}, nil
}

func (l *lexer) lexNumber() token {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	var v int64
	fmt.Sscanf(l.src[start:l.pos], "%d", &v)
	return token{kind: tokInt, ival: v}
}

func (l *lexer) lexString() (token, error) {
	l.pos++ // opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errf("unterminated string literal")
		}
		c := l.src[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			break
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{kind: tokString, sval: b.String()}, nil
}

func (l *lexer) lexBlob() (token, error) {
	l.pos += 2 // consume X'
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '\'' {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{}, l.errf("unterminated blob literal")
	}
	raw := l.src[start:l.pos]
	l.pos++ // closing quote
	b, err := hex.DecodeString(raw)
	if err != nil {
		return token{}, l.errf("invalid hex in blob literal: %v", err)
	}
	return token{kind: tokBlob, bval: b}, nil
}

func (l *lexer) lexVariable() token {
	l.pos++ // consume $
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return token{kind: tokVariable, text: l.src[start:l.pos]}
}

func (l *lexer) lexParam() token {
	l.pos++ // consume ?
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return token{kind: tokParam, text: l.src[start:l.pos]}
}

// multi-char operators, longest first.
var multiCharOps = []string{"<>", "<=", ">=", "||"}

func (l *lexer) lexOperator() (token, error) {
	rest := l.src[l.pos:]
	for _, op := range multiCharOps {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)
			return token{kind: tokOp, text: op}, nil
		}
	}
	c := l.src[l.pos]
	switch c {
	case '(', ')', ',', ';', '.', '=', '<', '>', '+', '-', '*', '/', ':':
		l.pos++
		return token{kind: tokOp, text: string(c)}, nil
	}
	return token{}, l.errf("unexpected character %q", c)
}
