// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"context"
	"fmt"
	"sort"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/storage"
	"github.com/openstack-archive/congress-sub001/topdown"
)

// Materialized is a theory that stores every tuple its rules derive. Each
// tuple carries the set of proofs that support it: the base proof of an
// inserted fact and one proof per rule instance that derives it. Inserting
// or deleting facts and rules updates the proofs incrementally. A tuple is
// removed when it has no proof left.
//
// Literals qualified with the name of another module are read from local
// mirror tables. The owner of the theory keeps the mirrors in sync by
// inserting and deleting qualified facts.
type Materialized struct {
	name      string
	rules     *storage.RuleSet
	byKey     map[string]*ast.Rule
	db        *storage.Database
	delta     *DeltaTheory
	strata    map[string]int
	recursive map[string]struct{}
	queue     changeQueue
	suspects  map[string]*ast.Literal
	schemas   ast.ModuleSchemas
	resolver  topdown.Resolver
	logger    logging.Logger
}

// NewMaterialized returns an empty materialized theory.
func NewMaterialized(name string, params Params) *Materialized {
	logger := params.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Materialized{
		name:      name,
		rules:     storage.NewRuleSet(),
		byKey:     map[string]*ast.Rule{},
		db:        storage.NewDatabase(),
		delta:     NewDeltaTheory(),
		strata:    map[string]int{},
		recursive: map[string]struct{}{},
		suspects:  map[string]*ast.Literal{},
		schemas:   params.Schemas,
		resolver:  params.Resolver,
		logger:    logger,
	}
}

// Name returns the theory name.
func (t *Materialized) Name() string {
	return t.name
}

// Kind returns MaterializedKind.
func (t *Materialized) Kind() Kind {
	return MaterializedKind
}

// Schemas returns the schemas formulas are checked against.
func (t *Materialized) Schemas() ast.ModuleSchemas {
	return t.schemas
}

// SetResolver sets the resolver used by queries. Maintenance never uses the
// resolver: qualified literals are read from the mirrors.
func (t *Materialized) SetResolver(r topdown.Resolver) {
	t.resolver = r
}

// Facts implements topdown.Source. Base and derived tuples are both facts.
func (t *Materialized) Facts(table string, lit *ast.Literal, iter func(*ast.Literal) bool) bool {
	return t.db.Facts(table, lit, iter)
}

// Rules implements topdown.Source. Every rule is materialized, so there is
// nothing left to evaluate top-down.
func (*Materialized) Rules(string) []*ast.Rule {
	return nil
}

// Includes implements topdown.Source.
func (*Materialized) Includes() []topdown.Source {
	return nil
}

// Proofs returns the proofs of the ground literal lit.
func (t *Materialized) Proofs(lit *ast.Literal) []storage.Proof {
	return t.db.Proofs(localize(t.name, lit).(*ast.Literal))
}

// Insert adds a fact or a rule. Inserting a rule that would make negation
// unstratified fails without changing the theory.
func (t *Materialized) Insert(f ast.Formula) (bool, error) {
	switch f := prepare(t.name, f).(type) {
	case *ast.Literal:
		if err := checkFact(f); err != nil {
			return false, err
		}
		if t.db.HasProof(f, storage.Proof{}) {
			return false, nil
		}
		t.enqueue(f, storage.Proof{}, true)
	case *ast.Rule:
		if t.rules.Contains(f) {
			return false, nil
		}
		if errs := ast.StratificationErrors(append(t.rules.AllRules(), f)); len(errs) > 0 {
			return false, errs
		}
		t.rules.AddRule(f)
		t.byKey[f.Key()] = f
		t.delta.Insert(f)
		t.restratify()
		instances, err := t.instances(f, -1, map[ast.Var]ast.Value{})
		if err != nil {
			return false, err
		}
		for _, binding := range instances {
			t.enqueueHeads(f, binding, true)
		}
		t.logger.Debug("Inserted rule %v with %d instances.", f, len(instances))
	}
	return true, t.run()
}

// Delete removes a fact or a rule. The tuples that lose their last proof
// are removed with it.
func (t *Materialized) Delete(f ast.Formula) (bool, error) {
	switch f := prepare(t.name, f).(type) {
	case *ast.Literal:
		if !t.db.HasProof(f, storage.Proof{}) {
			return false, nil
		}
		t.enqueue(f, storage.Proof{}, false)
	case *ast.Rule:
		if !t.rules.Contains(f) {
			return false, nil
		}
		key := f.Key()
		rule := t.byKey[key]
		t.rules.RemoveRule(rule)
		delete(t.byKey, key)
		t.delta.Delete(rule)
		for _, head := range rule.Heads {
			for _, tuple := range t.db.Table(head.Table) {
				for _, proof := range t.db.Proofs(tuple) {
					if proof.Rule == key {
						t.enqueue(tuple, proof, false)
					}
				}
			}
		}
		if err := t.run(); err != nil {
			return true, err
		}
		t.restratify()
		t.logger.Debug("Deleted rule %v.", rule)
		return true, nil
	}
	return true, t.run()
}

func checkFact(lit *ast.Literal) error {
	if lit.Negated || !lit.IsGround() {
		return fmt.Errorf("fact %v must be positive and ground", lit)
	}
	return nil
}

func (t *Materialized) restratify() {
	rules := t.rules.AllRules()
	if strata, ok := ast.Stratification(rules); ok {
		t.strata = strata
	}
	t.recursive = ast.RecursiveTables(rules)
}

func (t *Materialized) enqueue(lit *ast.Literal, proof storage.Proof, insert bool) {
	t.queue.push(&change{lit: lit, proof: proof, insert: insert, stratum: t.strata[lit.Table]})
}

// enqueueHeads adds or removes the proof of the rule instance under binding
// for every head of rule.
func (t *Materialized) enqueueHeads(rule *ast.Rule, binding map[ast.Var]ast.Value, insert bool) {
	proof := storage.NewProof(rule, binding)
	for _, head := range rule.Heads {
		t.enqueue(substitute(head, binding), proof, insert)
	}
}

// instances evaluates the body of rule, without the literal at skip, under
// the seed bindings. It returns the bindings of every rule variable for each
// instance that holds.
func (t *Materialized) instances(rule *ast.Rule, skip int, seed map[ast.Var]ast.Value) ([]map[ast.Var]ast.Value, error) {
	body := make(ast.Body, 0, len(rule.Body))
	for i, lit := range rule.Body {
		if i != skip {
			body = append(body, substitute(lit, seed))
		}
	}

	if len(body) == 0 {
		return []map[ast.Var]ast.Value{copyBinding(seed)}, nil
	}

	results, err := topdown.NewQuery(body).
		WithSource(t).
		WithFindAll(true).
		Run(context.Background())
	if err != nil {
		return nil, err
	}

	instances := make([]map[ast.Var]ast.Value, 0, len(results))
	for _, result := range results {
		binding := copyBinding(seed)
		for j, lit := range body {
			for k, arg := range lit.Args {
				if v, ok := arg.Value.(ast.Var); ok {
					binding[v] = result[j].Args[k].Value
				}
			}
		}
		instances = append(instances, binding)
	}
	return instances, nil
}

func copyBinding(b map[ast.Var]ast.Value) map[ast.Var]ast.Value {
	cpy := make(map[ast.Var]ast.Value, len(b))
	for k, v := range b {
		cpy[k] = v
	}
	return cpy
}

// fire enqueues the proof changes caused by tuple appearing or disappearing.
// Triggers on positive literals are evaluated when negated is false and
// triggers on negated literals otherwise. The proofs found are added if
// insert is true and removed otherwise.
func (t *Materialized) fire(tuple *ast.Literal, negated, insert bool) error {
	for _, tr := range t.delta.Triggers(tuple.Table) {
		lit := tr.Literal()
		if lit.Negated != negated {
			continue
		}
		seed := map[ast.Var]ast.Value{}
		if !match(lit, tuple, seed) {
			continue
		}
		instances, err := t.instances(tr.Rule, tr.Index, seed)
		if err != nil {
			return err
		}
		for _, binding := range instances {
			t.enqueueHeads(tr.Rule, binding, insert)
		}
	}
	return nil
}

// apply processes one change. Changes that do not add or remove a tuple
// only update its proof set.
func (t *Materialized) apply(c *change) error {
	if c.insert {
		if t.db.HasProof(c.lit, c.proof) {
			return nil
		}
		// The proof was found before the changes ahead of it in the queue.
		// Those may have retracted its support.
		if ok, err := t.holds(c.proof); err != nil || !ok {
			return err
		}
		if t.db.Contains(c.lit) {
			t.db.Insert(c.lit, c.proof)
			return nil
		}
		// Instances that relied on the absence of the tuple no longer hold.
		if err := t.fire(c.lit, true, false); err != nil {
			return err
		}
		t.db.Insert(c.lit, c.proof)
		return t.fire(c.lit, false, true)
	}

	if !t.db.HasProof(c.lit, c.proof) {
		return nil
	}
	if len(t.db.Proofs(c.lit)) > 1 {
		t.db.Delete(c.lit, c.proof)
		if _, ok := t.recursive[c.lit.Table]; ok {
			t.suspects[c.lit.Key()] = c.lit
		}
		return nil
	}
	return t.remove(c.lit, func() { t.db.Delete(c.lit, c.proof) })
}

// holds returns true if the rule instance recorded by proof is satisfied by
// the current tuples. The base proof always holds.
func (t *Materialized) holds(proof storage.Proof) (bool, error) {
	if proof.IsBase() {
		return true, nil
	}
	rule, ok := t.byKey[proof.Rule]
	if !ok {
		return false, nil
	}
	binding := make(map[ast.Var]ast.Value, len(proof.Binding))
	for _, b := range proof.Binding {
		binding[b.Var] = b.Value
	}
	instances, err := t.instances(rule, -1, binding)
	if err != nil {
		return false, err
	}
	return len(instances) > 0, nil
}

// remove takes a tuple out of the database with del and propagates the
// removal.
func (t *Materialized) remove(tuple *ast.Literal, del func()) error {
	if err := t.fire(tuple, false, false); err != nil {
		return err
	}
	del()
	return t.fire(tuple, true, true)
}

func (t *Materialized) drain() error {
	for t.queue.Len() > 0 {
		if err := t.apply(t.queue.pop()); err != nil {
			t.queue = changeQueue{}
			return err
		}
	}
	return nil
}

// run processes queued changes until the theory is consistent again.
func (t *Materialized) run() error {
	for {
		if err := t.drain(); err != nil {
			return err
		}
		if len(t.suspects) == 0 {
			return nil
		}
		if err := t.rederive(); err != nil {
			return err
		}
	}
}

type overdeleted struct {
	lit  *ast.Literal
	base bool
}

// rederive removes the cyclic support of recursive tuples. Tuples that lost
// a proof but kept others are deleted together with everything that depends
// on them. Then each deleted tuple is derived again from the rules and the
// remaining tuples. Insertion propagates from the tuples that come back.
func (t *Materialized) rederive() error {
	var deleted []overdeleted

	for len(t.suspects) > 0 {
		keys := make([]string, 0, len(t.suspects))
		for k := range t.suspects {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		batch := make([]*ast.Literal, len(keys))
		for i, k := range keys {
			batch[i] = t.suspects[k]
		}
		t.suspects = map[string]*ast.Literal{}

		for _, lit := range batch {
			if !t.db.Contains(lit) {
				continue
			}
			base := t.db.HasProof(lit, storage.Proof{})
			if err := t.remove(lit, func() { t.db.DeleteAll(lit) }); err != nil {
				return err
			}
			deleted = append(deleted, overdeleted{lit: lit, base: base})
		}

		if err := t.drain(); err != nil {
			return err
		}
	}

	sort.SliceStable(deleted, func(i, j int) bool {
		return t.strata[deleted[i].lit.Table] < t.strata[deleted[j].lit.Table]
	})

	for _, od := range deleted {
		if od.base {
			t.enqueue(od.lit, storage.Proof{}, true)
		}
		for _, rule := range t.rules.Rules(od.lit.Table) {
			for _, head := range rule.Heads {
				if head.Table != od.lit.Table {
					continue
				}
				seed := map[ast.Var]ast.Value{}
				if !match(head, od.lit, seed) {
					continue
				}
				instances, err := t.instances(rule, -1, seed)
				if err != nil {
					return err
				}
				for _, binding := range instances {
					t.enqueueHeads(rule, binding, true)
				}
			}
		}
		if err := t.drain(); err != nil {
			return err
		}
	}

	t.logger.Debug("Re-derived %d over-deleted tuples.", len(deleted))
	return nil
}

// Contains returns true if f is an inserted fact or rule. Derived tuples
// are not contained.
func (t *Materialized) Contains(f ast.Formula) bool {
	switch f := prepare(t.name, f).(type) {
	case *ast.Literal:
		return t.db.HasProof(f, storage.Proof{})
	case *ast.Rule:
		return t.rules.Contains(f)
	}
	return false
}

// Formulas returns the inserted facts and rules. Mirrored tables are not
// included.
func (t *Materialized) Formulas() []ast.Formula {
	var result []ast.Formula
	for _, table := range t.db.Tables() {
		if isQualified(table) {
			continue
		}
		lits := t.db.Table(table)
		sort.Slice(lits, func(i, j int) bool { return lits[i].Compare(lits[j]) < 0 })
		for _, lit := range lits {
			if t.db.HasProof(lit, storage.Proof{}) {
				result = append(result, lit)
			}
		}
	}
	for _, r := range t.rules.AllRules() {
		result = append(result, r)
	}
	return result
}

// Content returns the inserted rules.
func (t *Materialized) Content() []*ast.Rule {
	return t.rules.AllRules()
}

// Tables returns the tables that hold tuples or are defined by rules.
func (t *Materialized) Tables() []string {
	set := map[string]struct{}{}
	for _, table := range t.db.Tables() {
		set[table] = struct{}{}
	}
	for _, table := range t.rules.Tables() {
		set[table] = struct{}{}
	}
	result := make([]string, 0, len(set))
	for table := range set {
		result = append(result, table)
	}
	sort.Strings(result)
	return result
}

// Arity returns the arity of table.
func (t *Materialized) Arity(table string) (int, bool) {
	if n, ok := t.schemas[t.name].Arity(table); ok {
		return n, true
	}
	if lits := t.db.Table(table); len(lits) > 0 {
		return lits[0].Arity(), true
	}
	return arityOf(table, t.Formulas())
}

// TableRef names a table and its arity.
type TableRef struct {
	Table string
	Arity int
}

// MirroredTables returns the qualified tables that the rules reference.
func (t *Materialized) MirroredTables() []TableRef {
	seen := map[TableRef]struct{}{}
	var result []TableRef
	for _, r := range t.rules.AllRules() {
		for _, lit := range r.Body {
			if !isQualified(lit.Table) {
				continue
			}
			ref := TableRef{Table: lit.Table, Arity: lit.Arity()}
			if _, ok := seen[ref]; !ok {
				seen[ref] = struct{}{}
				result = append(result, ref)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Table != result[j].Table {
			return result[i].Table < result[j].Table
		}
		return result[i].Arity < result[j].Arity
	})
	return result
}

// Mirror returns the tuples of the mirror of a qualified table.
func (t *Materialized) Mirror(table string) []*ast.Literal {
	return t.db.Table(table)
}

func isQualified(table string) bool {
	theory, _ := ast.SplitTable(table)
	return theory != ""
}

// UpdateWouldCauseErrors returns the errors applying events would cause.
func (t *Materialized) UpdateWouldCauseErrors(events []Event) ast.Errors {
	opts := ast.CheckOptions{Schemas: t.schemas}
	rules := map[string]*ast.Rule{}
	for _, r := range t.rules.AllRules() {
		rules[r.Key()] = r
	}

	var errs ast.Errors

	for _, e := range events {
		if err := eventTarget(t.name, e); err != nil {
			errs = append(errs, ast.NewError(ast.CompileErr, nil, "%v", err))
			continue
		}
		switch f := prepare(t.name, e.Formula).(type) {
		case *ast.Literal:
			if e.Insert {
				errs = append(errs, ast.LiteralErrors(f, opts)...)
			}
		case *ast.Rule:
			if e.Insert {
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

	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	all := make([]*ast.Rule, len(keys))
	for i, k := range keys {
		all[i] = rules[k]
	}
	return ast.StratificationErrors(all)
}

// Update validates events and applies them in order.
func (t *Materialized) Update(events []Event) ([]Event, error) {
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

func (t *Materialized) query(body ast.Body, opts QueryOptions) *topdown.Query {
	return topdown.NewQuery(body).
		WithSource(t).
		WithResolver(t.resolver).
		WithTracer(opts.Tracer).
		WithFindAll(opts.FindAll).
		WithTime(opts.Time)
}

// Select returns the instances of query that hold in the database.
func (t *Materialized) Select(ctx context.Context, query ast.Body, opts QueryOptions) ([]ast.Body, error) {
	return t.query(query, opts).Run(ctx)
}

// Explain returns one rule instance per proof of each tuple that answers
// query. Base facts have no rule instance and are omitted.
func (t *Materialized) Explain(ctx context.Context, query ast.Body, opts QueryOptions) ([][]*ast.Rule, error) {
	answers, err := t.Select(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var result [][]*ast.Rule
	seen := map[string]struct{}{}
	for _, answer := range answers {
		for _, lit := range answer {
			if lit.Negated {
				continue
			}
			if _, ok := ast.LookupBuiltin(lit); ok {
				continue
			}
			for _, proof := range t.Proofs(lit) {
				if proof.IsBase() {
					continue
				}
				rule, ok := t.byKey[proof.Rule]
				if !ok {
					continue
				}
				instance := t.instance(rule, proof)
				if _, ok := seen[instance.Key()]; ok {
					continue
				}
				seen[instance.Key()] = struct{}{}
				result = append(result, []*ast.Rule{instance})
			}
		}
	}
	return result, nil
}

// instance returns rule with its variables replaced by the values of proof.
func (*Materialized) instance(rule *ast.Rule, proof storage.Proof) *ast.Rule {
	binding := make(map[ast.Var]ast.Value, len(proof.Binding))
	for _, b := range proof.Binding {
		binding[b.Var] = b.Value
	}
	heads := make([]*ast.Literal, len(rule.Heads))
	for i := range rule.Heads {
		heads[i] = substitute(rule.Heads[i], binding)
	}
	body := make(ast.Body, len(rule.Body))
	for i := range rule.Body {
		body[i] = substitute(rule.Body[i], binding)
	}
	return ast.NewMultiHeadRule(heads, body)
}

// Abduce returns the assumptions on tables that make query hold. Derived
// tables are read from the database like any other table.
func (t *Materialized) Abduce(ctx context.Context, query ast.Body, tables []string, opts QueryOptions) ([]*ast.Rule, error) {
	return t.query(query, opts).WithSave(saveTables(tables)).Abduce(ctx)
}

// Fork returns a copy of the theory.
func (t *Materialized) Fork() Theory {
	cpy := NewMaterialized(t.name, Params{Schemas: t.schemas, Resolver: t.resolver, Logger: t.logger})
	cpy.rules = t.rules.Copy()
	for k, r := range t.byKey {
		cpy.byKey[k] = r
	}
	cpy.db = t.db.Copy()
	cpy.delta = t.delta.Copy()
	for k, v := range t.strata {
		cpy.strata[k] = v
	}
	for k := range t.recursive {
		cpy.recursive[k] = struct{}{}
	}
	return cpy
}
