// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"
	"strings"

	"github.com/openstack-archive/congress-sub001/ast"
)

// bindings is one variable namespace. Every rule attempt gets a fresh
// namespace so that variables of the rule never collide with variables of
// the caller. A variable may be bound to a term of another namespace; plug
// follows such chains.
type bindings struct {
	id     uint64
	values map[ast.Var]value
}

type value struct {
	u *bindings
	v *ast.Term
}

func (v value) String() string {
	return fmt.Sprintf("(%v, %d)", v.v, v.u.id)
}

func newBindings(id uint64) *bindings {
	return &bindings{id: id, values: map[ast.Var]value{}}
}

// apply returns the term that a is bound to after following variable
// chains, together with the namespace the result belongs to.
func (u *bindings) apply(a *ast.Term) (*ast.Term, *bindings) {
	for {
		v, ok := a.Value.(ast.Var)
		if !ok || u == nil {
			return a, u
		}
		next, ok := u.values[v]
		if !ok {
			return a, u
		}
		a, u = next.v, next.u
	}
}

// Plug returns the term a with bindings applied. Unbound variables that
// belong to another namespace than u are renamed so that they cannot be
// confused with u's own variables.
func (u *bindings) Plug(a *ast.Term) *ast.Term {
	return u.plugNamespaced(a, u)
}

func (u *bindings) plugNamespaced(a *ast.Term, caller *bindings) *ast.Term {
	t, b := u.apply(a)
	if v, ok := t.Value.(ast.Var); ok && b != caller && b != nil {
		return ast.VarTerm(fmt.Sprintf("%v_%d", v, b.id))
	}
	return t
}

// PlugLiteral returns a copy of lit with every argument plugged.
func (u *bindings) PlugLiteral(lit *ast.Literal) *ast.Literal {
	return u.plugLiteralNamespaced(lit, u)
}

func (u *bindings) plugLiteralNamespaced(lit *ast.Literal, caller *bindings) *ast.Literal {
	cpy := &ast.Literal{
		Table:    lit.Table,
		Negated:  lit.Negated,
		Location: lit.Location,
		Args:     make([]*ast.Term, len(lit.Args)),
	}
	for i := range lit.Args {
		cpy.Args[i] = u.plugNamespaced(lit.Args[i], caller)
	}
	return cpy
}

func (u *bindings) bind(a *ast.Term, b *ast.Term, other *bindings, und *undo) *undo {
	v := a.Value.(ast.Var)
	u.values[v] = value{u: other, v: b}
	return &undo{k: v, u: u, next: und}
}

func (u *bindings) delete(v ast.Var) {
	delete(u.values, v)
}

func (u *bindings) String() string {
	if u == nil {
		return "()"
	}
	buf := make([]string, 0, len(u.values))
	for _, k := range ast.VarSet(varKeys(u.values)).Sorted() {
		buf = append(buf, fmt.Sprintf("%v: %v", k, u.values[k]))
	}
	return fmt.Sprintf("({%v}, %d)", strings.Join(buf, ", "), u.id)
}

func varKeys(m map[ast.Var]value) map[ast.Var]struct{} {
	keys := make(map[ast.Var]struct{}, len(m))
	for k := range m {
		keys[k] = struct{}{}
	}
	return keys
}

// undo records a binding so it can be removed on backtracking. Undo records
// form a linked list in binding order.
type undo struct {
	k    ast.Var
	u    *bindings
	next *undo
}

// Undo removes every binding recorded by the list.
func (u *undo) Undo() {
	for ; u != nil; u = u.next {
		u.u.delete(u.k)
	}
}

// unify unifies terms a and b in namespaces ua and ub. On success the new
// bindings are prepended to und and the extended list is returned.
func unify(a *ast.Term, ua *bindings, b *ast.Term, ub *bindings, und *undo) (*undo, bool) {
	a, ua = ua.apply(a)
	b, ub = ub.apply(b)

	_, aVar := a.Value.(ast.Var)
	_, bVar := b.Value.(ast.Var)

	switch {
	case aVar && bVar:
		if ua == ub && a.Value.Equal(b.Value) {
			return und, true
		}
		return ua.bind(a, b, ub, und), true
	case aVar:
		return ua.bind(a, b, ub, und), true
	case bVar:
		return ub.bind(b, a, ua, und), true
	}

	return und, a.Value.Equal(b.Value)
}

// unifyLiterals unifies the tables and arguments of a and b. On failure any
// partial bindings are undone and nil is returned.
func unifyLiterals(a *ast.Literal, ua *bindings, b *ast.Literal, ub *bindings) (*undo, bool) {
	if len(a.Args) != len(b.Args) {
		return nil, false
	}
	var und *undo
	var ok bool
	for i := range a.Args {
		und, ok = unify(a.Args[i], ua, b.Args[i], ub, und)
		if !ok {
			und.Undo()
			return nil, false
		}
	}
	return und, true
}
