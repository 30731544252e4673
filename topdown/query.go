// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"context"
	"time"

	"github.com/openstack-archive/congress-sub001/ast"
)

// Query provides a configurable interface for performing query evaluation.
type Query struct {
	source   Source
	resolver Resolver
	tracer   Tracer
	body     ast.Body
	findAll  bool
	save     func(*ast.Literal) bool
	time     time.Time
}

// NewQuery returns a new Query object that can be run.
func NewQuery(body ast.Body) *Query {
	return &Query{body: body}
}

// WithSource sets the theory the query is evaluated in.
func (q *Query) WithSource(src Source) *Query {
	q.source = src
	return q
}

// WithResolver sets the resolver used for qualified literals. Without a
// resolver qualified tables are looked up in the source itself.
func (q *Query) WithResolver(r Resolver) *Query {
	q.resolver = r
	return q
}

// WithTracer sets the query tracer to use during evaluation. This is optional.
func (q *Query) WithTracer(tracer Tracer) *Query {
	q.tracer = tracer
	return q
}

// WithFindAll controls whether evaluation stops at the first result.
func (q *Query) WithFindAll(yes bool) *Query {
	q.findAll = yes
	return q
}

// WithSave sets the predicate that selects literals to assume rather than
// prove during abduction.
func (q *Query) WithSave(f func(*ast.Literal) bool) *Query {
	q.save = f
	return q
}

// WithTime sets the time reported by the now built-in.
func (q *Query) WithTime(t time.Time) *Query {
	q.time = t
	return q
}

func (q *Query) newEval(ctx context.Context) *eval {
	var ids uint64
	t := q.time
	if t.IsZero() {
		t = time.Now()
	}
	return &eval{
		ctx:      ctx,
		resolver: q.resolver,
		tracer:   q.tracer,
		save:     q.save,
		bctx:     BuiltinContext{Context: ctx, Time: t},
		ids:      &ids,
	}
}

// Run evaluates the query and returns the ground instances of the query
// body that hold. Duplicates are removed. Unless FindAll is set, at most one
// instance is returned.
func (q *Query) Run(ctx context.Context) ([]ast.Body, error) {
	e := q.newEval(ctx)
	b := e.newBindings()
	body := ast.ReorderForSafety(q.body)

	var result []ast.Body
	seen := map[string]struct{}{}

	e.evalBody(q.source, body, b, func() bool {
		plugged := make(ast.Body, len(q.body))
		for i := range q.body {
			plugged[i] = b.PlugLiteral(q.body[i])
		}
		key := plugged.String()
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			result = append(result, plugged)
		}
		return !q.findAll
	})

	if e.err != nil {
		return nil, e.err
	}

	return result, nil
}

// Abduce evaluates the query while assuming every literal selected by the
// save predicate. For each proof it returns a rule whose heads are the
// plugged query literals and whose body is the assumed literals.
func (q *Query) Abduce(ctx context.Context) ([]*ast.Rule, error) {
	e := q.newEval(ctx)
	b := e.newBindings()
	body := ast.ReorderForSafety(q.body)

	var result []*ast.Rule
	seen := map[string]struct{}{}

	e.evalBody(q.source, body, b, func() bool {
		heads := make([]*ast.Literal, len(q.body))
		for i := range q.body {
			heads[i] = b.PlugLiteral(q.body[i])
		}
		assumed := make(ast.Body, len(e.saved))
		for i, s := range e.saved {
			assumed[i] = s.b.plugLiteralNamespaced(s.lit, b)
		}
		rule := ast.NewMultiHeadRule(heads, assumed)
		key := rule.Key()
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			result = append(result, rule)
		}
		return !q.findAll
	})

	if e.err != nil {
		return nil, e.err
	}

	return result, nil
}

// Explain evaluates the query and returns, for each proof, the ground
// instances of the rules the proof used. Facts are not included.
func (q *Query) Explain(ctx context.Context) ([][]*ast.Rule, error) {
	e := q.newEval(ctx)
	e.explain = true
	b := e.newBindings()
	body := ast.ReorderForSafety(q.body)

	var result [][]*ast.Rule
	seen := map[string]struct{}{}

	e.evalBody(q.source, body, b, func() bool {
		proof := make([]*ast.Rule, 0, len(e.frames))
		key := ""
		for _, f := range e.frames {
			rule := f.plug()
			proof = append(proof, rule)
			key += rule.Key() + "\n"
		}
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			result = append(result, proof)
		}
		return !q.findAll
	})

	if e.err != nil {
		return nil, e.err
	}

	return result, nil
}

// Select returns the instances of query that hold in src.
func Select(ctx context.Context, src Source, resolver Resolver, query ast.Body, findAll bool) ([]ast.Body, error) {
	return NewQuery(query).
		WithSource(src).
		WithResolver(resolver).
		WithFindAll(findAll).
		Run(ctx)
}

// Abduce returns rules that explain how query could hold if the literals of
// the named tables were true.
func Abduce(ctx context.Context, src Source, resolver Resolver, query ast.Body, tables []string, findAll bool) ([]*ast.Rule, error) {
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[t] = struct{}{}
	}
	return NewQuery(query).
		WithSource(src).
		WithResolver(resolver).
		WithFindAll(findAll).
		WithSave(func(lit *ast.Literal) bool {
			_, ok := set[lit.Table]
			return ok
		}).
		Abduce(ctx)
}

// Explain returns the rule instances used by the proofs of query.
func Explain(ctx context.Context, src Source, resolver Resolver, query ast.Body, findAll bool) ([][]*ast.Rule, error) {
	return NewQuery(query).
		WithSource(src).
		WithResolver(resolver).
		WithFindAll(findAll).
		Explain(ctx)
}
