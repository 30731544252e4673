// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"context"

	"github.com/openstack-archive/congress-sub001/ast"
)

// Source supplies the facts and rules of one theory to the evaluator.
type Source interface {
	// Name returns the theory name. Literals qualified with this name are
	// resolved locally.
	Name() string

	// Facts calls iter with each stored fact of table that may unify with
	// lit. Implementations may use the ground arguments of lit to narrow the
	// candidates. Iteration stops as soon as iter returns true, in which case
	// Facts returns true.
	Facts(table string, lit *ast.Literal, iter func(*ast.Literal) bool) bool

	// Rules returns the rules that have a head on table.
	Rules(table string) []*ast.Rule

	// Includes returns the sources whose facts and rules are visible from
	// this source.
	Includes() []Source
}

// Resolver resolves the module qualifier of a literal.
type Resolver interface {
	// Theory returns the source of a registered theory.
	Theory(name string) (Source, bool)

	// IsDataSource returns true if name is a data source. Tables of data
	// sources are mirrored into every theory that uses them and are looked up
	// locally under their qualified name.
	IsDataSource(name string) bool
}

// maxDepth bounds the nesting of proof attempts.
const maxDepth = 10000

type saveEntry struct {
	lit *ast.Literal
	b   *bindings
}

type eval struct {
	ctx      context.Context
	resolver Resolver
	tracer   Tracer
	save     func(*ast.Literal) bool
	bctx     BuiltinContext
	ids      *uint64
	depth    int
	saved    []saveEntry
	explain  bool
	frames   []frame
	err      error
}

// frame is a rule application on the current proof path.
type frame struct {
	rule *ast.Rule
	head *ast.Literal
	b    *bindings
}

func (f frame) plug() *ast.Rule {
	body := make(ast.Body, len(f.rule.Body))
	for i := range f.rule.Body {
		body[i] = f.b.PlugLiteral(f.rule.Body[i])
	}
	return ast.NewRule(f.b.PlugLiteral(f.head), body)
}

func (e *eval) newBindings() *bindings {
	*e.ids++
	return newBindings(*e.ids)
}

// child returns an evaluator for a negation sub-search. The sub-search
// never saves literals.
func (e *eval) child() *eval {
	return &eval{
		ctx:      e.ctx,
		resolver: e.resolver,
		tracer:   e.tracer,
		bctx:     e.bctx,
		ids:      e.ids,
		depth:    e.depth + 1,
	}
}

func (e *eval) traceEnabled() bool {
	return e.tracer != nil && e.tracer.Enabled()
}

func (e *eval) traceLiteral(op Op, lit *ast.Literal, b *bindings) {
	if !e.traceEnabled() {
		return
	}
	e.tracer.Trace(&Event{Op: op, Table: lit.Table, Node: b.PlugLiteral(lit), Depth: e.depth})
}

// note reports a non-fatal evaluation error. The literal fails.
func (e *eval) note(lit *ast.Literal, f string, a ...interface{}) {
	if !e.traceEnabled() {
		return
	}
	err := newError(EvalErr, lit.Location, f, a...)
	e.tracer.Trace(&Event{Op: NoteOp, Table: lit.Table, Node: lit, Depth: e.depth, Message: err.Error()})
}

// evalBody proves the literals of body in order. It returns true if the
// search must stop: the continuation asked for it or an error occurred.
func (e *eval) evalBody(src Source, body ast.Body, b *bindings, k func() bool) bool {
	if len(body) == 0 {
		return k()
	}
	return e.evalLiteral(src, body[0], b, func() bool {
		return e.evalBody(src, body[1:], b, k)
	})
}

func (e *eval) evalLiteral(src Source, lit *ast.Literal, b *bindings, k func() bool) bool {
	if e.err != nil {
		return true
	}

	if e.save != nil {
		plugged := b.PlugLiteral(lit)
		if e.save(plugged) {
			e.traceLiteral(SaveOp, lit, b)
			e.saved = append(e.saved, saveEntry{lit: lit, b: b})
			stop := k()
			e.saved = e.saved[:len(e.saved)-1]
			return stop
		}
	}

	if len(lit.Args) == 0 {
		switch lit.Table {
		case ast.TrueTable:
			if lit.Negated {
				return false
			}
			return k()
		case ast.FalseTable:
			if lit.Negated {
				return k()
			}
			return false
		}
	}

	if lit.Negated {
		return e.evalNot(src, lit, b, k)
	}

	if decl, ok := ast.LookupBuiltin(lit); ok {
		return e.evalBuiltin(decl, lit, b, k)
	}

	target, table, ok := e.resolve(src, lit)
	if !ok {
		return true
	}

	return e.evalTable(target, table, lit, b, k)
}

// resolve returns the source and table name that lit refers to.
func (e *eval) resolve(src Source, lit *ast.Literal) (Source, string, bool) {
	module, table := ast.SplitTable(lit.Table)
	if module == "" || module == src.Name() {
		return src, table, true
	}
	if e.resolver == nil {
		return src, lit.Table, true
	}
	if s, ok := e.resolver.Theory(module); ok {
		return s, table, true
	}
	if e.resolver.IsDataSource(module) {
		return src, lit.Table, true
	}
	e.err = newError(NotFoundErr, lit.Location, "unknown policy %v referenced by %v", module, lit)
	return nil, "", false
}

func (e *eval) evalNot(src Source, lit *ast.Literal, b *bindings, k func() bool) bool {
	plugged := b.PlugLiteral(lit)
	if !plugged.IsGround() {
		e.note(lit, "negated literal %v is not ground", plugged)
		return false
	}

	child := e.child()
	found := false
	child.evalLiteral(src, plugged.Complement(), child.newBindings(), func() bool {
		found = true
		return true
	})

	if child.err != nil {
		e.err = child.err
		return true
	}

	if found {
		e.traceLiteral(FailOp, lit, b)
		return false
	}

	e.traceLiteral(ExitOp, lit, b)
	return k()
}

func (e *eval) evalBuiltin(decl *ast.Builtin, lit *ast.Literal, b *bindings, k func() bool) bool {
	f := GetBuiltin(decl)
	if f == nil {
		e.err = newError(InternalErr, lit.Location, "unsupported built-in %v", decl.Key())
		return true
	}

	inputs := make([]ast.Value, decl.NumInputs)
	for i, arg := range decl.Inputs(lit) {
		t := b.Plug(arg)
		if !t.IsGround() {
			e.note(lit, "input %v of built-in %v is unbound", arg, lit)
			return false
		}
		inputs[i] = t.Value
	}

	bctx := e.bctx
	bctx.Location = lit.Location
	outputs, ok, err := f(bctx, inputs)
	if err != nil {
		e.note(lit, "%v", err)
		return false
	}
	if !ok {
		e.traceLiteral(FailOp, lit, b)
		return false
	}

	var und *undo
	for i, arg := range decl.Outputs(lit) {
		und, ok = unify(arg, b, ast.NewTerm(outputs[i]), nil, und)
		if !ok {
			und.Undo()
			e.traceLiteral(FailOp, lit, b)
			return false
		}
	}

	e.traceLiteral(ExitOp, lit, b)
	stop := k()
	und.Undo()
	return stop
}

// evalTable proves lit against the facts and rules of table visible from
// target. Rule bodies are evaluated in target so that they observe the
// facts of the including theory.
func (e *eval) evalTable(target Source, table string, lit *ast.Literal, b *bindings, k func() bool) bool {
	if e.depth > maxDepth {
		e.err = newError(InternalErr, lit.Location, "maximum proof depth exceeded at %v", lit)
		return true
	}

	e.traceLiteral(CallOp, lit, b)
	plugged := b.PlugLiteral(lit)
	redo := false

	for _, s := range closure(target) {

		stop := s.Facts(table, plugged, func(fact *ast.Literal) bool {
			und, ok := unifyLiterals(lit, b, fact, nil)
			if !ok {
				return false
			}
			if redo {
				e.traceLiteral(RedoOp, lit, b)
			}
			redo = true
			e.traceLiteral(ExitOp, lit, b)
			stop := k()
			und.Undo()
			return stop
		})

		if stop {
			return true
		}

		for _, rule := range s.Rules(table) {
			if err := e.ctx.Err(); err != nil {
				e.err = newError(CancelErr, lit.Location, "caller cancelled query execution: %v", err)
				return true
			}
			for _, head := range rule.Heads {
				if _, name := ast.SplitTable(head.Table); name != table && head.Table != table {
					continue
				}
				rb := e.newBindings()
				und, ok := unifyLiterals(lit, b, head, rb)
				if !ok {
					continue
				}
				if redo {
					e.traceLiteral(RedoOp, lit, b)
				}
				redo = true
				if e.explain {
					e.frames = append(e.frames, frame{rule: rule, head: head, b: rb})
				}
				e.depth++
				stop := e.evalBody(target, rule.Body, rb, func() bool {
					e.depth--
					e.traceLiteral(ExitOp, lit, b)
					stop := k()
					e.depth++
					return stop
				})
				e.depth--
				if e.explain {
					e.frames = e.frames[:len(e.frames)-1]
				}
				und.Undo()
				if stop {
					return true
				}
			}
		}
	}

	e.traceLiteral(FailOp, lit, b)
	return false
}

// closure returns src followed by everything it includes, transitively,
// without duplicates.
func closure(src Source) []Source {
	result := []Source{src}
	seen := map[Source]struct{}{src: {}}
	for i := 0; i < len(result); i++ {
		for _, inc := range result[i].Includes() {
			if _, ok := seen[inc]; ok {
				continue
			}
			seen[inc] = struct{}{}
			result = append(result, inc)
		}
	}
	return result
}
