// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package storage contains the containers that hold the facts and rules of a
// theory.
package storage

import (
	"sort"

	"github.com/openstack-archive/congress-sub001/ast"
)

// RuleSet stores facts and rules indexed by the table they define. Facts are
// kept in column-indexed tuple sets. A rule with several heads is stored
// under each of its head tables. Tables without formulas are removed.
type RuleSet struct {
	facts map[string]*tupleSet
	rules map[string][]*ast.Rule
	keys  map[string]*ast.Rule
}

// NewRuleSet returns an empty RuleSet.
func NewRuleSet() *RuleSet {
	return &RuleSet{
		facts: map[string]*tupleSet{},
		rules: map[string][]*ast.Rule{},
		keys:  map[string]*ast.Rule{},
	}
}

// Add inserts f. Rules with a single head and an empty body are stored as
// facts. Add returns true if the set changed and an error if f is a fact
// that is not ground or negated.
func (rs *RuleSet) Add(f ast.Formula) (bool, error) {
	switch f := ast.Normalize(f).(type) {
	case *ast.Literal:
		if f.Negated {
			return false, invalidError("fact %v must not be negated", f)
		}
		if !f.IsGround() {
			return false, invalidError("fact %v must be ground", f)
		}
		return rs.AddFact(f), nil
	case *ast.Rule:
		return rs.AddRule(f), nil
	}
	return false, internalError("unexpected formula %T", f)
}

// Remove deletes f and returns true if the set changed.
func (rs *RuleSet) Remove(f ast.Formula) bool {
	switch f := ast.Normalize(f).(type) {
	case *ast.Literal:
		return rs.RemoveFact(f)
	case *ast.Rule:
		return rs.RemoveRule(f)
	}
	return false
}

// Contains returns true if f is stored.
func (rs *RuleSet) Contains(f ast.Formula) bool {
	switch f := ast.Normalize(f).(type) {
	case *ast.Literal:
		ts, ok := rs.facts[f.Table]
		return ok && ts.get(f) != nil
	case *ast.Rule:
		_, ok := rs.keys[f.Key()]
		return ok
	}
	return false
}

// AddFact inserts a ground literal.
func (rs *RuleSet) AddFact(lit *ast.Literal) bool {
	ts, ok := rs.facts[lit.Table]
	if !ok {
		ts = newTupleSet()
		rs.facts[lit.Table] = ts
	}
	_, added := ts.add(lit)
	return added
}

// RemoveFact deletes a ground literal.
func (rs *RuleSet) RemoveFact(lit *ast.Literal) bool {
	ts, ok := rs.facts[lit.Table]
	if !ok {
		return false
	}
	removed := ts.remove(lit)
	if ts.size == 0 {
		delete(rs.facts, lit.Table)
	}
	return removed
}

// AddRule inserts a rule under each of its head tables.
func (rs *RuleSet) AddRule(rule *ast.Rule) bool {
	key := rule.Key()
	if _, ok := rs.keys[key]; ok {
		return false
	}
	rs.keys[key] = rule
	for _, table := range headTables(rule) {
		rs.rules[table] = append(rs.rules[table], rule)
	}
	return true
}

// RemoveRule deletes a rule. Rules are matched structurally.
func (rs *RuleSet) RemoveRule(rule *ast.Rule) bool {
	key := rule.Key()
	stored, ok := rs.keys[key]
	if !ok {
		return false
	}
	delete(rs.keys, key)
	for _, table := range headTables(stored) {
		old := rs.rules[table]
		updated := make([]*ast.Rule, 0, len(old))
		for _, r := range old {
			if r != stored {
				updated = append(updated, r)
			}
		}
		if len(updated) == 0 {
			delete(rs.rules, table)
		} else {
			rs.rules[table] = updated
		}
	}
	return true
}

// Facts calls iter with the facts of table that may unify with lit. It
// returns true if iter stopped the iteration.
func (rs *RuleSet) Facts(table string, lit *ast.Literal, iter func(*ast.Literal) bool) bool {
	ts, ok := rs.facts[table]
	if !ok {
		return false
	}
	for _, node := range ts.candidates(lit) {
		if iter(node.lit) {
			return true
		}
	}
	return false
}

// TableFacts returns the facts of table in insertion order.
func (rs *RuleSet) TableFacts(table string) []*ast.Literal {
	ts, ok := rs.facts[table]
	if !ok {
		return nil
	}
	return ts.literals()
}

// Rules returns the rules with a head on table. The returned slice must not
// be modified.
func (rs *RuleSet) Rules(table string) []*ast.Rule {
	return rs.rules[table]
}

// AllRules returns every rule ordered by key.
func (rs *RuleSet) AllRules() []*ast.Rule {
	keys := make([]string, 0, len(rs.keys))
	for k := range rs.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]*ast.Rule, len(keys))
	for i, k := range keys {
		result[i] = rs.keys[k]
	}
	return result
}

// Formulas returns the facts ordered by table and value followed by the
// rules ordered by key.
func (rs *RuleSet) Formulas() []ast.Formula {
	var result []ast.Formula
	for _, table := range sortedKeys(rs.facts) {
		lits := rs.facts[table].literals()
		sort.Slice(lits, func(i, j int) bool { return lits[i].Compare(lits[j]) < 0 })
		for _, lit := range lits {
			result = append(result, lit)
		}
	}
	for _, rule := range rs.AllRules() {
		result = append(result, rule)
	}
	return result
}

// Tables returns the tables with at least one fact or rule.
func (rs *RuleSet) Tables() []string {
	set := map[string]struct{}{}
	for t := range rs.facts {
		set[t] = struct{}{}
	}
	for t := range rs.rules {
		set[t] = struct{}{}
	}
	return sortedKeys(set)
}

// HasTable returns true if table has at least one fact or rule.
func (rs *RuleSet) HasTable(table string) bool {
	_, facts := rs.facts[table]
	_, rules := rs.rules[table]
	return facts || rules
}

// Len returns the number of stored facts and rules.
func (rs *RuleSet) Len() int {
	n := len(rs.keys)
	for _, ts := range rs.facts {
		n += ts.size
	}
	return n
}

// Copy returns a copy of the set. Formulas are shared.
func (rs *RuleSet) Copy() *RuleSet {
	cpy := NewRuleSet()
	for _, ts := range rs.facts {
		for node := ts.first; node != nil; node = node.next {
			cpy.AddFact(node.lit)
		}
	}
	for _, rule := range rs.AllRules() {
		cpy.AddRule(rule)
	}
	return cpy
}

// Clear removes every formula.
func (rs *RuleSet) Clear() {
	rs.facts = map[string]*tupleSet{}
	rs.rules = map[string][]*ast.Rule{}
	rs.keys = map[string]*ast.Rule{}
}

func headTables(rule *ast.Rule) []string {
	var result []string
	seen := map[string]struct{}{}
	for _, head := range rule.Heads {
		if _, ok := seen[head.Table]; ok {
			continue
		}
		seen[head.Table] = struct{}{}
		result = append(result, head.Table)
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
