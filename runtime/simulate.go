// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/theory"
	"github.com/openstack-archive/congress-sub001/topdown"
)

// SimulateRequest describes a query evaluated after a hypothetical sequence
// of updates and actions.
type SimulateRequest struct {
	// Policy is the policy the query is evaluated against.
	Policy string `json:"policy"`

	// Query is the query to evaluate.
	Query string `json:"query"`

	// Sequence lists the statements to apply in order. Facts of update
	// tables (p+, p-) insert and delete facts. Facts of tables declared as
	// actions are projected through the rules of the action policy. Other
	// facts and rules are inserted.
	Sequence string `json:"sequence"`

	// ActionPolicy names the policy holding the action rules. It defaults
	// to the configured action policy.
	ActionPolicy string `json:"action_policy,omitempty"`

	// Delta requests the change of the query answers instead of the
	// answers.
	Delta bool `json:"delta,omitempty"`

	// Trace requests the evaluation trace of the query.
	Trace bool `json:"trace,omitempty"`
}

// SimulateResult holds the outcome of a simulation.
type SimulateResult struct {
	// Answers are the instances of the query that hold after the
	// sequence.
	Answers []ast.Body `json:"answers"`

	// Delta holds the atoms of the query that became true, with a +
	// suffix on the table, and those that became false, with a - suffix.
	// It is set if the request asked for it.
	Delta []*ast.Literal `json:"delta,omitempty"`

	// Trace holds the evaluation events of the query.
	Trace []*topdown.Event `json:"trace,omitempty"`
}

// Simulate evaluates a query after applying a sequence of updates and
// actions to a copy of the policies involved. The policies of the runtime
// never change.
func (r *Runtime) Simulate(ctx context.Context, req SimulateRequest) (SimulateResult, error) {
	ctx, span := r.startSpan(ctx, "Simulate", attribute.String("policy", req.Policy), attribute.String("query", req.Query))

	var result SimulateResult
	err := metrics.Timed(r.metrics, metrics.PolicySimulate, func() error {
		r.mtx.RLock()
		defer r.mtx.RUnlock()
		var err error
		result, err = r.simulate(ctx, req)
		return err
	})

	endSpan(span, err)
	return result, err
}

func (r *Runtime) simulate(ctx context.Context, req SimulateRequest) (SimulateResult, error) {
	base, body, err := r.prepareQuery(req.Policy, req.Query)
	if err != nil {
		return SimulateResult{}, err
	}

	sequence, err := ast.ParseRules("", req.Sequence, r.schemas)
	if err != nil {
		return SimulateResult{}, invalidError(err, "sequence")
	}

	var tracer *topdown.BufferTracer
	if req.Trace {
		if tracer, err = topdown.NewBufferTracer(r.config.Trace.Patterns...); err != nil {
			return SimulateResult{}, invalidError(err, "trace")
		}
	}

	o := newOverlay(r)
	defer o.discard()

	target, err := o.fork(req.Policy)
	if err != nil {
		return SimulateResult{}, err
	}

	actionPolicy := req.ActionPolicy
	if actionPolicy == "" {
		actionPolicy = r.config.ActionPolicy
	}
	if err := o.prepareActions(ctx, actionPolicy, target); err != nil {
		return SimulateResult{}, err
	}

	for _, f := range sequence {
		lit, ok := f.(*ast.Literal)
		switch {
		case ok && lit.IsUpdate():
			err = o.applyUpdates(req.Policy, []*ast.Literal{lit})
		case ok && o.isAction(lit.Table):
			err = o.project(ctx, req.Policy, lit)
		default:
			err = o.apply(req.Policy, theory.NewInsert(req.Policy, f))
		}
		if err != nil {
			return SimulateResult{}, err
		}
	}

	if err := o.syncMirrors(ctx); err != nil {
		return SimulateResult{}, err
	}

	opts := theory.QueryOptions{FindAll: true}
	if tracer != nil {
		opts.Tracer = tracer
	}

	var result SimulateResult
	if result.Answers, err = target.Select(ctx, body, opts); err != nil {
		return SimulateResult{}, err
	}
	if tracer != nil {
		result.Trace = tracer.Events()
	}

	if req.Delta {
		before, err := base.Select(ctx, body, theory.QueryOptions{FindAll: true})
		if err != nil {
			return SimulateResult{}, err
		}
		result.Delta = answerDelta(before, result.Answers)
	}

	return result, nil
}

// overlay holds forks of the theories changed by a simulation and resolves
// references to them. Theories that were not forked resolve to the
// runtime's theories.
type overlay struct {
	rt       *Runtime
	forks    map[string]theory.Theory
	actions  *theory.Nonrecursive
	declared map[string]struct{}
}

func newOverlay(rt *Runtime) *overlay {
	return &overlay{rt: rt, forks: map[string]theory.Theory{}}
}

func (o *overlay) Theory(name string) (topdown.Source, bool) {
	th, ok := o.lookup(name)
	if !ok {
		return nil, false
	}
	return th, true
}

func (o *overlay) IsDataSource(name string) bool {
	_, ok := o.rt.sources[name]
	return ok
}

func (o *overlay) lookup(name string) (theory.Theory, bool) {
	if f, ok := o.forks[name]; ok {
		return f, true
	}
	return o.rt.lookup(name)
}

// fork returns the fork of the named theory, creating it on first use.
func (o *overlay) fork(name string) (theory.Theory, error) {
	if f, ok := o.forks[name]; ok {
		return f, nil
	}
	base, ok := o.rt.lookup(name)
	if !ok {
		return nil, notFoundError("policy %v does not exist", name)
	}
	f := base.Fork()
	f.SetResolver(o)
	o.forks[name] = f
	return f, nil
}

// discard drops the forks. Nothing of the simulation survives it.
func (o *overlay) discard() {
	o.rt.logger.Debug("Discarded simulation of %d policies.", len(o.forks))
	o.forks = nil
	o.actions = nil
	o.declared = nil
}

// prepareActions forks the action policy and makes the content of target
// visible to its rules.
func (o *overlay) prepareActions(ctx context.Context, name string, target theory.Theory) error {
	base, ok := o.rt.theories[name]
	if !ok {
		return nil
	}
	actions, ok := base.Fork().(*theory.Nonrecursive)
	if !ok {
		return invalidError(nil, "action policy %v must not be %v", name, base.Kind())
	}
	actions.SetResolver(o)
	actions.Include(target)

	rows, err := selectRows(ctx, actions, actionTable, 1)
	if err != nil {
		return err
	}
	o.actions = actions
	o.declared = map[string]struct{}{}
	for _, row := range rows {
		if s, ok := row[0].(ast.String); ok {
			o.declared[string(s)] = struct{}{}
		}
	}
	return nil
}

func (o *overlay) isAction(table string) bool {
	_, ok := o.declared[table]
	return ok
}

// project computes the updates that the action atom lit causes through the
// rules of the action policy and applies them. The atom itself is not
// kept.
func (o *overlay) project(ctx context.Context, policy string, lit *ast.Literal) error {
	if _, err := o.actions.Insert(lit); err != nil {
		return invalidError(err, "action %v", lit)
	}

	var updates []*ast.Literal
	var err error
	for _, rule := range o.actions.Content() {
		if !references(rule, lit.Table) {
			continue
		}
		var answers []ast.Body
		answers, err = o.actions.Select(ctx, rule.Body, theory.QueryOptions{FindAll: true})
		if err != nil {
			break
		}
		for _, answer := range answers {
			binding := map[ast.Var]ast.Value{}
			for i := range rule.Body {
				bind(rule.Body[i], answer[i], binding)
			}
			for _, head := range rule.Heads {
				if ast.IsUpdateTable(head.Table) {
					updates = append(updates, plug(head, binding))
				}
			}
		}
	}

	if _, derr := o.actions.Delete(lit); err == nil && derr != nil {
		err = derr
	}
	if err != nil {
		return err
	}
	return o.applyUpdates(policy, resolveConflicts(updates))
}

// resolveConflicts drops duplicate updates and the deletions of facts that
// the same updates also insert.
func resolveConflicts(updates []*ast.Literal) []*ast.Literal {
	inserted := map[string]struct{}{}
	for _, u := range updates {
		if u.IsInsert() {
			inserted[u.WithTable(ast.UpdateBase(u.Table)).Key()] = struct{}{}
		}
	}
	seen := map[string]struct{}{}
	result := make([]*ast.Literal, 0, len(updates))
	for _, u := range updates {
		if _, ok := seen[u.Key()]; ok {
			continue
		}
		seen[u.Key()] = struct{}{}
		if !u.IsInsert() {
			if _, ok := inserted[u.WithTable(ast.UpdateBase(u.Table)).Key()]; ok {
				continue
			}
		}
		result = append(result, u)
	}
	return result
}

// applyUpdates inserts the facts of insert tables and deletes the facts of
// delete tables. Unqualified tables belong to policy.
func (o *overlay) applyUpdates(policy string, updates []*ast.Literal) error {
	for _, u := range updates {
		module, table := ast.SplitTable(ast.UpdateBase(u.Table))
		if module == "" {
			module = policy
		}
		fact := u.WithTable(table)
		var e theory.Event
		if u.IsInsert() {
			e = theory.NewInsert(module, fact)
		} else {
			e = theory.NewDelete(module, fact)
		}
		if err := o.apply(module, e); err != nil {
			return err
		}
	}
	return nil
}

// apply validates and applies e to the fork of the named theory.
func (o *overlay) apply(name string, e theory.Event) error {
	f, err := o.fork(name)
	if err != nil {
		return err
	}
	events := []theory.Event{e}
	if errs := f.UpdateWouldCauseErrors(events); len(errs) > 0 {
		return invalidError(errs, "simulated %v", e)
	}
	if _, err := f.Update(events); err != nil {
		return invalidError(err, "simulated %v", e)
	}
	return nil
}

// syncMirrors brings the mirrors of forked materialized theories up to date
// with the overlay.
func (o *overlay) syncMirrors(ctx context.Context) error {
	names := make([]string, 0, len(o.forks))
	for name := range o.forks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m, ok := o.forks[name].(*theory.Materialized)
		if !ok {
			continue
		}
		for _, ref := range m.MirroredTables() {
			if _, err := syncMirror(ctx, m, ref, o.lookup); err != nil {
				return err
			}
		}
	}
	return nil
}

func references(rule *ast.Rule, table string) bool {
	for _, lit := range rule.Body {
		if lit.Table == table {
			return true
		}
	}
	return false
}

// bind records the values that ground takes for the variables of pattern.
func bind(pattern, ground *ast.Literal, binding map[ast.Var]ast.Value) {
	for i, arg := range pattern.Args {
		if v, ok := arg.Value.(ast.Var); ok {
			binding[v] = ground.Args[i].Value
		}
	}
}

func plug(lit *ast.Literal, binding map[ast.Var]ast.Value) *ast.Literal {
	cpy := lit.Copy()
	for i, arg := range cpy.Args {
		if v, ok := arg.Value.(ast.Var); ok {
			if x, ok := binding[v]; ok {
				cpy.Args[i] = ast.NewTerm(x)
			}
		}
	}
	return cpy
}

// answerDelta returns the atoms of after missing from before, tagged with
// the insert suffix, and the atoms of before missing from after, tagged with
// the delete suffix.
func answerDelta(before, after []ast.Body) []*ast.Literal {
	b, a := atoms(before), atoms(after)
	result := []*ast.Literal{}
	for k, lit := range b {
		if _, ok := a[k]; !ok {
			result = append(result, lit.WithTable(lit.Table+ast.DeleteSuffix))
		}
	}
	for k, lit := range a {
		if _, ok := b[k]; !ok {
			result = append(result, lit.WithTable(lit.Table+ast.InsertSuffix))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Compare(result[j]) < 0 })
	return result
}

func atoms(answers []ast.Body) map[string]*ast.Literal {
	result := map[string]*ast.Literal{}
	for _, body := range answers {
		for _, lit := range body {
			if lit.Negated {
				continue
			}
			if _, ok := ast.LookupBuiltin(lit); ok {
				continue
			}
			result[lit.Key()] = lit
		}
	}
	return result
}
