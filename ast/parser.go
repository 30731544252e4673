// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/openstack-archive/congress-sub001/ast/internal/scanner"
	"github.com/openstack-archive/congress-sub001/ast/internal/tokens"
	"github.com/openstack-archive/congress-sub001/internal/levenshtein"
)

// placeholderPrefix marks variables generated for elided columns until the
// statement is complete and a unique prefix can be chosen.
const placeholderPrefix = "\x00"

type token struct {
	tok tokens.Token
	pos scanner.Position
	lit string
}

type parser struct {
	filename string
	bs       []byte
	schemas  ModuleSchemas
	toks     []token
	idx      int
	errors   Errors
	fresh    int
}

// ParseRules parses every statement in text. Syntax errors are collected for
// all statements; statements that parse successfully are returned even when
// other statements fail. Facts are returned as literals.
func ParseRules(filename, text string, schemas ModuleSchemas) ([]Formula, error) {
	p := newParser(filename, text, schemas)
	var result []Formula
	for !p.at(tokens.EOF) {
		if f := p.parseStatement(); f != nil {
			result = append(result, Normalize(f))
		}
	}
	if len(p.errors) > 0 {
		return result, p.errors
	}
	return result, nil
}

// ParseFormula parses text that contains exactly one statement.
func ParseFormula(text string, schemas ModuleSchemas) (Formula, error) {
	fs, err := ParseRules("", text, schemas)
	if err != nil {
		return nil, err
	}
	if len(fs) != 1 {
		return nil, Errors{NewError(ParseErr, nil, "expected exactly one statement but got %v", len(fs))}
	}
	return fs[0], nil
}

// ParseRule parses a single rule or fact and returns it as a rule.
func ParseRule(text string) (*Rule, error) {
	f, err := ParseFormula(text, nil)
	if err != nil {
		return nil, err
	}
	return AsRule(f), nil
}

// ParseLiteral parses a single literal.
func ParseLiteral(text string) (*Literal, error) {
	body, err := ParseQuery(text, nil)
	if err != nil {
		return nil, err
	}
	if len(body) != 1 {
		return nil, Errors{NewError(ParseErr, nil, "expected exactly one literal but got %v", len(body))}
	}
	return body[0], nil
}

// ParseQuery parses a comma separated conjunction of literals.
func ParseQuery(text string, schemas ModuleSchemas) (Body, error) {
	p := newParser("", text, schemas)
	body := p.parseLiterals()
	if body != nil {
		p.accept(tokens.Dot)
		if !p.at(tokens.EOF) {
			p.errorf(p.peek().pos, "unexpected %v token after query", p.peek().tok)
			body = nil
		}
	}
	if len(p.errors) > 0 {
		return nil, p.errors
	}
	if len(body) == 0 {
		return nil, Errors{NewError(ParseErr, nil, "empty query")}
	}
	p.resolvePlaceholders(nil, body)
	return body, nil
}

// MustParseRule returns a parsed rule. If an error occurs during parsing,
// panic.
func MustParseRule(text string) *Rule {
	r, err := ParseRule(text)
	if err != nil {
		panic(err)
	}
	return r
}

// MustParseLiteral returns a parsed literal. If an error occurs during
// parsing, panic.
func MustParseLiteral(text string) *Literal {
	l, err := ParseLiteral(text)
	if err != nil {
		panic(err)
	}
	return l
}

// MustParseQuery returns a parsed query. If an error occurs during parsing,
// panic.
func MustParseQuery(text string) Body {
	b, err := ParseQuery(text, nil)
	if err != nil {
		panic(err)
	}
	return b
}

// MustParseRules returns the parsed statements. If an error occurs during
// parsing, panic.
func MustParseRules(text string) []Formula {
	fs, err := ParseRules("", text, nil)
	if err != nil {
		panic(err)
	}
	return fs
}

func newParser(filename, text string, schemas ModuleSchemas) *parser {
	p := &parser{filename: filename, bs: []byte(text), schemas: schemas}
	s, err := scanner.New(bytes.NewReader(p.bs))
	if err != nil {
		p.errors = append(p.errors, NewError(ParseErr, nil, "%v", err))
		p.toks = []token{{tok: tokens.EOF}}
		return p
	}
	for {
		tok, pos, lit, errs := s.Scan()
		for _, e := range errs {
			p.errorf(e.Pos, "%v", e.Message)
		}
		if tok == tokens.Whitespace || tok == tokens.Comment {
			continue
		}
		p.toks = append(p.toks, token{tok: tok, pos: pos, lit: lit})
		if tok == tokens.EOF {
			return p
		}
	}
}

func (p *parser) peek() token {
	return p.toks[p.idx]
}

func (p *parser) peekN(n int) token {
	if p.idx+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.idx+n]
}

func (p *parser) at(tok tokens.Token) bool {
	return p.toks[p.idx].tok == tok
}

func (p *parser) next() token {
	t := p.toks[p.idx]
	if t.tok != tokens.EOF {
		p.idx++
	}
	return t
}

func (p *parser) accept(tok tokens.Token) bool {
	if p.at(tok) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(tok tokens.Token, what string) bool {
	if p.accept(tok) {
		return true
	}
	p.unexpected(what)
	return false
}

func (p *parser) unexpected(what string) {
	t := p.peek()
	if t.tok == tokens.Illegal {
		// the scanner has already reported the illegal character
		return
	}
	found := t.tok.String()
	if t.tok == tokens.Ident || t.tok == tokens.Number || t.tok == tokens.String {
		found = fmt.Sprintf("%v %v", t.tok, t.lit)
	}
	p.errorf(t.pos, "expected %v but found %v", what, found)
}

func (p *parser) errorf(pos scanner.Position, f string, a ...interface{}) {
	p.errors = append(p.errors, NewError(ParseErr, p.location(pos, pos), f, a...))
}

func (p *parser) location(start, end scanner.Position) *Location {
	loc := NewLocation(nil, p.filename, start.Row, start.Col)
	loc.Offset = start.Offset
	if end.End > start.Offset && end.End <= len(p.bs) {
		loc.Text = p.bs[start.Offset:end.End]
	}
	return loc
}

// recover skips tokens until the end of the broken statement: just past the
// next '.' or before the next token that starts a line.
func (p *parser) recover(start int) {
	if p.idx == start {
		p.next()
	}
	for !p.at(tokens.EOF) {
		t := p.peek()
		if t.tok == tokens.Dot {
			p.next()
			return
		}
		if t.pos.Col == 1 && t.pos.Row > p.toks[start].pos.Row {
			return
		}
		p.next()
	}
}

func (p *parser) parseStatement() Formula {
	start := p.idx
	nerrs := len(p.errors)
	p.fresh = 0

	heads := p.parseLiterals()
	if heads == nil {
		p.recover(start)
		return nil
	}

	var body Body
	if p.accept(tokens.If) {
		body = p.parseLiterals()
		if body == nil {
			p.recover(start)
			return nil
		}
	}

	if !p.accept(tokens.Dot) && !p.at(tokens.EOF) && p.peek().pos.Row == p.toks[p.idx-1].pos.Row {
		p.unexpected("'.' or end of statement")
		p.recover(start)
		return nil
	}

	for _, head := range heads {
		if head.Negated {
			p.errors = append(p.errors, NewError(ParseErr, head.Location, "rule head %v cannot be negated", head))
		}
	}
	if body == nil && len(heads) > 1 {
		p.errors = append(p.errors, NewError(ParseErr, heads[0].Location, "expected :- after multiple heads"))
	}
	if len(p.errors) > nerrs {
		return nil
	}

	rule := NewMultiHeadRule(heads, body)
	rule.Location = p.location(p.toks[start].pos, p.toks[p.idx-1].pos)
	p.resolvePlaceholders(heads, body)
	return rule
}

// parseLiterals returns nil on error.
func (p *parser) parseLiterals() Body {
	var lits Body
	for {
		lit := p.parseLiteral()
		if lit == nil {
			return nil
		}
		lits = append(lits, lit)
		if !p.accept(tokens.Comma) {
			return lits
		}
	}
}

type namedArg struct {
	column string
	term   *Term
	pos    scanner.Position
}

func (p *parser) parseLiteral() *Literal {
	start := p.peek()
	negated := p.accept(tokens.Not)

	table, ok := p.parseTable()
	if !ok {
		return nil
	}

	lit := &Literal{Table: table, Negated: negated}
	var named []namedArg

	if p.accept(tokens.LParen) {
		if !p.accept(tokens.RParen) {
			for {
				if p.at(tokens.Ident) && p.peekN(1).tok == tokens.Assign {
					col := p.next()
					p.next()
					term := p.parseTerm()
					if term == nil {
						return nil
					}
					named = append(named, namedArg{column: col.lit, term: term, pos: col.pos})
				} else {
					if len(named) > 0 {
						p.errorf(p.peek().pos, "positional argument follows named argument in %v", table)
						return nil
					}
					term := p.parseTerm()
					if term == nil {
						return nil
					}
					lit.Args = append(lit.Args, term)
				}
				if p.accept(tokens.Comma) {
					continue
				}
				if !p.expect(tokens.RParen, "',' or ')'") {
					return nil
				}
				break
			}
		}
	}

	lit.Location = p.location(start.pos, p.toks[p.idx-1].pos)

	if len(named) > 0 {
		if !p.resolveNamed(lit, named) {
			return nil
		}
	}
	return lit
}

func (p *parser) parseTable() (string, bool) {
	t := p.peek()
	if t.tok != tokens.Ident {
		p.unexpected("table name")
		return "", false
	}
	p.next()
	table := t.lit
	end := t.pos.End
	if p.at(tokens.Colon) && p.peekN(1).tok == tokens.Ident {
		p.next()
		name := p.next()
		table = table + ModuleSeparator + name.lit
		end = name.pos.End
	}
	if (p.at(tokens.Add) || p.at(tokens.Sub)) && p.peek().pos.Offset == end {
		if p.next().tok == tokens.Add {
			table += InsertSuffix
		} else {
			table += DeleteSuffix
		}
	}
	return table, true
}

func (p *parser) parseTerm() *Term {
	t := p.peek()
	switch t.tok {
	case tokens.Ident:
		p.next()
		return VarTerm(t.lit).SetLocation(p.location(t.pos, t.pos))
	case tokens.String:
		p.next()
		s, err := unquote(t.lit)
		if err != nil {
			p.errorf(t.pos, "invalid string literal %v", t.lit)
			return nil
		}
		return StringTerm(s).SetLocation(p.location(t.pos, t.pos))
	case tokens.Number:
		p.next()
		return p.parseNumber(t, "")
	case tokens.Sub:
		n := p.peekN(1)
		if n.tok == tokens.Number && n.pos.Offset == t.pos.End {
			p.next()
			p.next()
			return p.parseNumber(n, "-")
		}
	}
	p.unexpected("term")
	return nil
}

func (p *parser) parseNumber(t token, sign string) *Term {
	text := sign + t.lit
	loc := p.location(t.pos, t.pos)
	if !strings.ContainsAny(t.lit, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return IntTerm(i).SetLocation(loc)
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.errorf(t.pos, "invalid number %v", text)
		return nil
	}
	return FloatTerm(f).SetLocation(loc)
}

func unquote(s string) (string, error) {
	if strings.HasPrefix(s, "'") {
		inner := s[1 : len(s)-1]
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		return strconv.Unquote(`"` + inner + `"`)
	}
	return strconv.Unquote(s)
}

// resolveNamed rewrites named arguments into positions using the module
// schema. Columns not given are filled with placeholders.
func (p *parser) resolveNamed(lit *Literal, named []namedArg) bool {
	module, table := SplitTable(lit.Table)
	table = UpdateBase(table)
	ts, ok := p.schemas.Table(module, table)
	if !ok || len(ts.Columns) == 0 {
		p.errors = append(p.errors, NewError(SchemaErr, lit.Location,
			"named arguments require a schema for %v", lit.Table))
		return false
	}

	if len(lit.Args) > ts.Arity() {
		p.errors = append(p.errors, NewError(SchemaErr, lit.Location,
			"%v has arity %v but %v positional arguments were given", lit.Table, ts.Arity(), len(lit.Args)))
		return false
	}

	args := make([]*Term, ts.Arity())
	copy(args, lit.Args)
	nerrs := len(p.errors)

	for _, n := range named {
		idx, ok := ts.ColumnIndex(n.column)
		loc := p.location(n.pos, n.pos)
		switch {
		case !ok:
			p.errors = append(p.errors, NewError(UnknownColumnErr, loc,
				"unknown column %v in %v%v", n.column, lit.Table, levenshtein.Suggest(n.column, ts.Columns)))
		case idx < len(lit.Args):
			p.errors = append(p.errors, NewError(ColumnConflictErr, loc,
				"column %v of %v is already bound by position %v", n.column, lit.Table, idx))
		case args[idx] != nil:
			p.errors = append(p.errors, NewError(DuplicateColumnErr, loc,
				"column %v of %v is bound more than once", n.column, lit.Table))
		default:
			args[idx] = n.term
		}
	}

	if len(p.errors) > nerrs {
		return false
	}

	for i := range args {
		if args[i] == nil {
			args[i] = VarTerm(placeholderPrefix + strconv.Itoa(p.fresh))
			p.fresh++
		}
	}
	lit.Args = args
	return true
}

// resolvePlaceholders renames the variables generated for elided columns
// with a prefix that no other variable in the statement starts with.
func (p *parser) resolvePlaceholders(heads []*Literal, body Body) {
	if p.fresh == 0 {
		return
	}
	vars := NewVarSet()
	for _, lit := range heads {
		vars.Update(lit.Vars())
	}
	vars.Update(body.Vars())
	prefix := UnusedPrefix("_x", vars)
	for _, lits := range [][]*Literal{heads, body} {
		for _, lit := range lits {
			for i, arg := range lit.Args {
				if v, ok := arg.Value.(Var); ok && strings.HasPrefix(string(v), placeholderPrefix) {
					lit.Args[i] = VarTerm(prefix + strings.TrimPrefix(string(v), placeholderPrefix)).SetLocation(arg.Location)
				}
			}
		}
	}
	p.fresh = 0
}

// UnusedPrefix returns the shortest extension of prefix (by appending
// underscores) that no variable in vars starts with.
func UnusedPrefix(prefix string, vars VarSet) string {
	for {
		clash := false
		for v := range vars {
			if strings.HasPrefix(string(v), prefix) {
				clash = true
				break
			}
		}
		if !clash {
			return prefix
		}
		prefix += "_"
	}
}
