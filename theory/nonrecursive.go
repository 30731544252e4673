// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"context"
	"strings"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/storage"
	"github.com/openstack-archive/congress-sub001/topdown"
)

// Nonrecursive is a theory whose rules are evaluated top-down on every
// query. Its rules must not be recursive. The same implementation serves
// action theories, whose rules may define update tables, and database
// theories, which hold facts only.
type Nonrecursive struct {
	name     string
	kind     Kind
	rules    *storage.RuleSet
	parent   *masked
	includes []topdown.Source
	schemas  ast.ModuleSchemas
	resolver topdown.Resolver
	logger   logging.Logger
}

// NewNonrecursive returns an empty nonrecursive theory.
func NewNonrecursive(name string, params Params) *Nonrecursive {
	return newNonrecursive(name, NonrecursiveKind, params)
}

// NewAction returns an empty action theory.
func NewAction(name string, params Params) *Nonrecursive {
	return newNonrecursive(name, ActionKind, params)
}

func newNonrecursive(name string, kind Kind, params Params) *Nonrecursive {
	logger := params.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Nonrecursive{
		name:     name,
		kind:     kind,
		rules:    storage.NewRuleSet(),
		schemas:  params.Schemas,
		resolver: params.Resolver,
		logger:   logger,
	}
}

// Name returns the theory name.
func (t *Nonrecursive) Name() string {
	return t.name
}

// Kind returns the theory kind.
func (t *Nonrecursive) Kind() Kind {
	return t.kind
}

// Schemas returns the schemas formulas are checked against.
func (t *Nonrecursive) Schemas() ast.ModuleSchemas {
	return t.schemas
}

// SetResolver sets the resolver for qualified literals.
func (t *Nonrecursive) SetResolver(r topdown.Resolver) {
	t.resolver = r
}

// Include makes the facts and rules of srcs visible to queries on t.
func (t *Nonrecursive) Include(srcs ...topdown.Source) {
	t.includes = append(t.includes, srcs...)
}

// Facts implements topdown.Source.
func (t *Nonrecursive) Facts(table string, lit *ast.Literal, iter func(*ast.Literal) bool) bool {
	return t.rules.Facts(table, lit, iter)
}

// Rules implements topdown.Source.
func (t *Nonrecursive) Rules(table string) []*ast.Rule {
	return t.rules.Rules(table)
}

// Includes implements topdown.Source. A fork includes the masked view of the
// theory it was forked from.
func (t *Nonrecursive) Includes() []topdown.Source {
	if t.parent == nil {
		return t.includes
	}
	return append([]topdown.Source{t.parent}, t.includes...)
}

// visibleFacts iterates over the facts of t and of the theories it was
// forked from.
func (t *Nonrecursive) visibleFacts(table string, lit *ast.Literal, iter func(*ast.Literal) bool) bool {
	if t.rules.Facts(table, lit, iter) {
		return true
	}
	return t.parent != nil && t.parent.Facts(table, lit, iter)
}

func (t *Nonrecursive) visibleRules(table string) []*ast.Rule {
	rules := t.rules.Rules(table)
	if t.parent == nil {
		return rules
	}
	return append(append([]*ast.Rule(nil), rules...), t.parent.Rules(table)...)
}

func (t *Nonrecursive) visibleIncludes() []topdown.Source {
	if t.parent == nil {
		return t.includes
	}
	return append(append([]topdown.Source(nil), t.includes...), t.parent.Includes()...)
}

// Insert adds f to the theory.
func (t *Nonrecursive) Insert(f ast.Formula) (bool, error) {
	f = prepare(t.name, f)
	if t.parent != nil {
		if t.rules.Contains(f) {
			return false, nil
		}
		if t.parent.masks(f) {
			t.parent.unmask(f)
			return true, nil
		}
		if t.parent.contains(f) {
			return false, nil
		}
	}
	return t.rules.Add(f)
}

// Delete removes f from the theory.
func (t *Nonrecursive) Delete(f ast.Formula) (bool, error) {
	f = prepare(t.name, f)
	if t.rules.Remove(f) {
		return true, nil
	}
	if t.parent != nil && t.parent.contains(f) {
		t.parent.mask(f)
		return true, nil
	}
	return false, nil
}

// Contains returns true if f is in the theory.
func (t *Nonrecursive) Contains(f ast.Formula) bool {
	f = prepare(t.name, f)
	if t.rules.Contains(f) {
		return true
	}
	return t.parent != nil && t.parent.contains(f)
}

// view returns the formulas of the theory in one rule set. Theories that are
// not forks return their own rule set, which must not be modified.
func (t *Nonrecursive) view() *storage.RuleSet {
	if t.parent == nil {
		return t.rules
	}
	rs := storage.NewRuleSet()
	for _, f := range t.parent.formulas() {
		rs.Add(f)
	}
	for _, f := range t.rules.Formulas() {
		rs.Add(f)
	}
	return rs
}

// Formulas returns the facts and rules of the theory.
func (t *Nonrecursive) Formulas() []ast.Formula {
	return t.view().Formulas()
}

// Content returns the rules of the theory.
func (t *Nonrecursive) Content() []*ast.Rule {
	return t.view().AllRules()
}

// Tables returns the tables of the theory.
func (t *Nonrecursive) Tables() []string {
	return t.view().Tables()
}

// Arity returns the arity of table.
func (t *Nonrecursive) Arity(table string) (int, bool) {
	if n, ok := t.schemas[t.name].Arity(table); ok {
		return n, true
	}
	return arityOf(table, t.Formulas())
}

// UpdateWouldCauseErrors returns the errors applying events would cause.
func (t *Nonrecursive) UpdateWouldCauseErrors(events []Event) ast.Errors {
	opts := ast.CheckOptions{Schemas: t.schemas, Action: t.kind == ActionKind}
	rules := map[string]*ast.Rule{}
	for _, r := range t.Content() {
		rules[r.Key()] = r
	}

	var errs ast.Errors

	for _, e := range events {
		if err := eventTarget(t.name, e); err != nil {
			errs = append(errs, ast.NewError(ast.CompileErr, nil, "%v", err))
			continue
		}
		f := prepare(t.name, e.Formula)
		switch f := f.(type) {
		case *ast.Literal:
			if e.Insert {
				errs = append(errs, ast.LiteralErrors(f, opts)...)
			}
		case *ast.Rule:
			if e.Insert {
				if t.kind == DatabaseKind {
					errs = append(errs, databaseRuleError(t.name, f))
					continue
				}
				errs = append(errs, ast.RuleErrors(f, opts)...)
				rules[f.Key()] = f
			} else {
				delete(rules, f.Key())
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}

	all := make([]*ast.Rule, 0, len(rules))
	for _, r := range rules {
		all = append(all, r)
	}
	if cycle := ast.RecursionCycle(all); cycle != nil {
		var loc *ast.Location
		for _, e := range events {
			if e.Insert {
				loc = ast.AsRule(e.Formula).Location
			}
		}
		errs = append(errs, ast.NewError(ast.RecursionErr, loc,
			"rules are recursive: %v", strings.Join(cycle, " -> ")))
	}

	return errs
}

// Update validates events and applies them in order.
func (t *Nonrecursive) Update(events []Event) ([]Event, error) {
	if errs := t.UpdateWouldCauseErrors(events); len(errs) > 0 {
		return nil, errs
	}
	var changes []Event
	for _, e := range events {
		var changed bool
		var err error
		if e.Insert {
			changed, err = t.Insert(e.Formula)
		} else {
			changed, err = t.Delete(e.Formula)
		}
		if err != nil {
			return changes, err
		}
		if changed {
			changes = append(changes, Event{Formula: prepare(t.name, e.Formula), Insert: e.Insert, Target: t.name})
		}
	}
	t.logger.Debug("Applied %d of %d events.", len(changes), len(events))
	return changes, nil
}

func (t *Nonrecursive) query(body ast.Body, opts QueryOptions) *topdown.Query {
	return topdown.NewQuery(body).
		WithSource(t).
		WithResolver(t.resolver).
		WithTracer(opts.Tracer).
		WithFindAll(opts.FindAll).
		WithTime(opts.Time)
}

// Select returns the instances of query that hold.
func (t *Nonrecursive) Select(ctx context.Context, query ast.Body, opts QueryOptions) ([]ast.Body, error) {
	return t.query(query, opts).Run(ctx)
}

// Explain returns the rule instances used by each proof of query.
func (t *Nonrecursive) Explain(ctx context.Context, query ast.Body, opts QueryOptions) ([][]*ast.Rule, error) {
	return t.query(query, opts).Explain(ctx)
}

// Abduce returns the assumptions on tables that make query hold.
func (t *Nonrecursive) Abduce(ctx context.Context, query ast.Body, tables []string, opts QueryOptions) ([]*ast.Rule, error) {
	return t.query(query, opts).WithSave(saveTables(tables)).Abduce(ctx)
}

// Fork returns an overlay of t. The fork sees the formulas of t through a
// mask that hides the formulas deleted from the fork.
func (t *Nonrecursive) Fork() Theory {
	return &Nonrecursive{
		name:     t.name,
		kind:     t.kind,
		rules:    storage.NewRuleSet(),
		parent:   &masked{base: t, hidden: storage.NewRuleSet()},
		schemas:  t.schemas,
		resolver: t.resolver,
		logger:   t.logger,
	}
}

func saveTables(tables []string) func(*ast.Literal) bool {
	set := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		set[table] = struct{}{}
	}
	return func(lit *ast.Literal) bool {
		_, ok := set[lit.Table]
		return ok
	}
}

// masked exposes the formulas of a base theory except the hidden ones.
type masked struct {
	base   *Nonrecursive
	hidden *storage.RuleSet
}

func (m *masked) Name() string {
	return m.base.Name()
}

func (m *masked) Facts(table string, lit *ast.Literal, iter func(*ast.Literal) bool) bool {
	if len(m.hidden.TableFacts(table)) == 0 {
		return m.base.visibleFacts(table, lit, iter)
	}
	return m.base.visibleFacts(table, lit, func(fact *ast.Literal) bool {
		if m.hidden.Contains(fact) {
			return false
		}
		return iter(fact)
	})
}

func (m *masked) Rules(table string) []*ast.Rule {
	rules := m.base.visibleRules(table)
	if len(m.hidden.Rules(table)) == 0 {
		return rules
	}
	result := make([]*ast.Rule, 0, len(rules))
	for _, r := range rules {
		if !m.hidden.Contains(r) {
			result = append(result, r)
		}
	}
	return result
}

func (m *masked) Includes() []topdown.Source {
	return m.base.visibleIncludes()
}

func (m *masked) contains(f ast.Formula) bool {
	return m.base.Contains(f) && !m.hidden.Contains(f)
}

func (m *masked) masks(f ast.Formula) bool {
	return m.hidden.Contains(f)
}

func (m *masked) mask(f ast.Formula) {
	m.hidden.Add(f)
}

func (m *masked) unmask(f ast.Formula) {
	m.hidden.Remove(f)
}

func (m *masked) formulas() []ast.Formula {
	all := m.base.Formulas()
	result := make([]ast.Formula, 0, len(all))
	for _, f := range all {
		if !m.hidden.Contains(f) {
			result = append(result, f)
		}
	}
	return result
}
