// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"sort"
	"strings"

	"github.com/openstack-archive/congress-sub001/util"
)

// CheckOptions controls the static checks applied to a rule.
type CheckOptions struct {
	// Schemas are used to check references to qualified tables.
	Schemas ModuleSchemas

	// Action permits rule heads on update tables (p+, nova:servers-) and
	// qualified update heads. Action theories check rules this way.
	Action bool
}

// RuleErrors returns the static errors of rule: head safety, negation
// safety, builtin safety and schema consistency. The checks run
// independently so that every problem is reported at once.
func RuleErrors(rule *Rule, opts CheckOptions) Errors {
	var errs Errors
	errs = append(errs, checkHeads(rule, opts)...)
	errs = append(errs, checkHeadSafety(rule)...)
	errs = append(errs, checkNegationSafety(rule)...)
	errs = append(errs, checkBuiltinSafety(rule)...)
	errs = append(errs, checkSchemas(rule, opts)...)
	return errs
}

// LiteralErrors returns the errors of a fact inserted directly into a
// theory.
func LiteralErrors(lit *Literal, opts CheckOptions) Errors {
	var errs Errors
	if lit.Negated {
		errs = append(errs, NewError(CompileErr, lit.Location, "fact %v must not be negated", lit))
	}
	if !lit.IsGround() {
		errs = append(errs, NewError(UnsafeVarErr, lit.Location, "fact %v must not contain variables %v", lit, lit.Vars()))
	}
	if _, ok := LookupBuiltin(lit); ok {
		errs = append(errs, NewError(CompileErr, lit.Location, "cannot insert facts into built-in table %v", lit.Table))
	}
	if opts.Schemas != nil {
		if err := opts.Schemas.checkLiteral(lit); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func checkHeads(rule *Rule, opts CheckOptions) Errors {
	var errs Errors
	for _, head := range rule.Heads {
		if head.Negated {
			errs = append(errs, NewError(CompileErr, head.Location, "rule head %v must not be negated", head))
		}
		if _, ok := LookupBuiltin(head); ok {
			errs = append(errs, NewError(CompileErr, head.Location, "rule head %v redefines a built-in", head))
		}
		if rule.IsFact() {
			continue
		}
		if head.Theory() != "" && !(opts.Action && head.IsUpdate()) {
			errs = append(errs, NewError(SchemaErr, head.Location, "rule head %v must not reference another module", head))
		}
		if head.IsUpdate() && !opts.Action {
			errs = append(errs, NewError(CompileErr, head.Location, "rule head %v defines an update outside of an action theory", head))
		}
	}
	return errs
}

// checkHeadSafety requires every head variable to occur in a positive body
// literal.
func checkHeadSafety(rule *Rule) Errors {
	bound := positiveVars(rule.Body, nil)
	var errs Errors
	for _, head := range rule.Heads {
		for _, v := range head.Vars().Diff(bound).Sorted() {
			errs = append(errs, NewError(UnsafeVarErr, head.Location, "var %v in rule head %v is unsafe: it does not appear in a positive body literal", v, head))
		}
	}
	return errs
}

// checkNegationSafety requires every variable of a negated literal to occur
// in a positive body literal.
func checkNegationSafety(rule *Rule) Errors {
	bound := positiveVars(rule.Body, nil)
	var errs Errors
	for _, lit := range rule.Body {
		if !lit.Negated {
			continue
		}
		for _, v := range lit.Vars().Diff(bound).Sorted() {
			errs = append(errs, NewError(UnsafeVarErr, lit.Location, "var %v in negated literal %v is unsafe: it does not appear in a positive body literal", v, lit))
		}
	}
	return errs
}

// checkBuiltinSafety requires the input variables of each builtin literal to
// be bound by the other positive literals of the body.
func checkBuiltinSafety(rule *Rule) Errors {
	var errs Errors
	for _, lit := range rule.Body {
		b, ok := LookupBuiltin(lit)
		if !ok {
			continue
		}
		bound := positiveVars(rule.Body, lit)
		for _, v := range termVars(b.Inputs(lit)).Diff(bound).Sorted() {
			errs = append(errs, NewError(UnsafeVarErr, lit.Location, "var %v in built-in literal %v is unsafe: input arguments must be bound by other positive literals", v, lit))
		}
	}
	return errs
}

func checkSchemas(rule *Rule, opts CheckOptions) Errors {
	if opts.Schemas == nil {
		return nil
	}
	var errs Errors
	for _, head := range rule.Heads {
		if opts.Action && head.IsUpdate() {
			if _, ok := opts.Schemas[head.Theory()]; !ok {
				continue
			}
		}
		if err := opts.Schemas.checkLiteral(head); err != nil {
			errs = append(errs, err)
		}
	}
	for _, lit := range rule.Body {
		if err := opts.Schemas.checkLiteral(lit); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// positiveVars returns the variables of the positive literals of body other
// than skip.
func positiveVars(body Body, skip *Literal) VarSet {
	vs := NewVarSet()
	for _, lit := range body {
		if lit == skip || lit.Negated {
			continue
		}
		vs.Update(lit.Vars())
	}
	return vs
}

func termVars(terms []*Term) VarSet {
	vs := NewVarSet()
	for _, t := range terms {
		if v, ok := t.Value.(Var); ok {
			vs.Add(v)
		}
	}
	return vs
}

// ReorderForSafety returns a copy of body in which every negated and builtin
// literal follows the literals that bind its variables. The relative order
// of positive literals is preserved. Literals that can never become safe are
// appended in their original order.
func ReorderForSafety(body Body) Body {
	reordered := make(Body, 0, len(body))
	remaining := make(Body, len(body))
	copy(remaining, body)
	bound := NewVarSet()

	for len(remaining) > 0 {
		placed := -1
		for i, lit := range remaining {
			if safeGiven(lit, bound) {
				placed = i
				break
			}
		}
		if placed < 0 {
			reordered = append(reordered, remaining...)
			break
		}
		lit := remaining[placed]
		reordered = append(reordered, lit)
		if !lit.Negated {
			bound.Update(lit.Vars())
		}
		remaining = append(remaining[:placed:placed], remaining[placed+1:]...)
	}

	return reordered
}

func safeGiven(lit *Literal, bound VarSet) bool {
	if lit.Negated {
		return len(lit.Vars().Diff(bound)) == 0
	}
	if b, ok := LookupBuiltin(lit); ok {
		return len(termVars(b.Inputs(lit)).Diff(bound)) == 0
	}
	return true
}

// ReorderRule returns a copy of rule with its body reordered for safety.
func ReorderRule(rule *Rule) *Rule {
	cpy := rule.Copy()
	cpy.Body = ReorderForSafety(cpy.Body)
	return cpy
}

// tableGraph returns the head-to-body dependency edges of rules. Builtin
// literals do not contribute edges.
func tableGraph(rules []*Rule) map[string][]string {
	edges := map[string][]string{}
	seen := map[[2]string]struct{}{}
	for _, rule := range rules {
		for _, head := range rule.Heads {
			if _, ok := edges[head.Table]; !ok {
				edges[head.Table] = nil
			}
			for _, lit := range rule.Body {
				if _, ok := LookupBuiltin(lit); ok {
					continue
				}
				k := [2]string{head.Table, lit.Table}
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				edges[head.Table] = append(edges[head.Table], lit.Table)
			}
		}
	}
	for k := range edges {
		sort.Strings(edges[k])
	}
	return edges
}

// RecursionCycle returns a cycle of tables through the rules, or nil if the
// rules are not recursive.
func RecursionCycle(rules []*Rule) []string {
	edges := tableGraph(rules)
	for _, scc := range util.StronglyConnectedComponents(edges) {
		if len(scc) > 1 {
			return scc
		}
		for _, to := range edges[scc[0]] {
			if to == scc[0] {
				return scc
			}
		}
	}
	return nil
}

// IsRecursive returns true if some table depends on itself through the rules.
func IsRecursive(rules []*Rule) bool {
	return RecursionCycle(rules) != nil
}

// RecursiveTables returns the set of tables that belong to a cycle of the
// dependency graph of rules.
func RecursiveTables(rules []*Rule) map[string]struct{} {
	edges := tableGraph(rules)
	result := map[string]struct{}{}
	for _, scc := range util.StronglyConnectedComponents(edges) {
		recursive := len(scc) > 1
		if !recursive {
			for _, to := range edges[scc[0]] {
				if to == scc[0] {
					recursive = true
				}
			}
		}
		if recursive {
			for _, t := range scc {
				result[t] = struct{}{}
			}
		}
	}
	return result
}

// Stratification assigns a stratum to every table referenced by rules. A
// head's stratum is at least the stratum of each positive body table and
// strictly greater than the stratum of each negated body table. The second
// return value is false if no such assignment exists, that is, some table
// depends on itself through negation.
func Stratification(rules []*Rule) (map[string]int, bool) {
	strata := map[string]int{}
	for _, rule := range rules {
		for _, head := range rule.Heads {
			strata[head.Table] = 0
		}
		for _, lit := range rule.Body {
			if _, ok := LookupBuiltin(lit); !ok {
				strata[lit.Table] = 0
			}
		}
	}

	limit := len(strata)

	for changed := true; changed; {
		changed = false
		for _, rule := range rules {
			for _, head := range rule.Heads {
				for _, lit := range rule.Body {
					if _, ok := LookupBuiltin(lit); ok {
						continue
					}
					s := strata[lit.Table]
					if lit.Negated {
						s++
					}
					if s > strata[head.Table] {
						strata[head.Table] = s
						if s > limit {
							return nil, false
						}
						changed = true
					}
				}
			}
		}
	}

	return strata, true
}

// StratificationErrors returns a StratificationErr if rules are not
// stratified.
func StratificationErrors(rules []*Rule) Errors {
	if _, ok := Stratification(rules); ok {
		return nil
	}
	var loc *Location
	if len(rules) > 0 {
		loc = rules[len(rules)-1].Location
	}
	return Errors{NewError(StratificationErr, loc, "rules are not stratified: recursion through negation among %v", strings.Join(negatedCycleTables(rules), ", "))}
}

// negatedCycleTables returns the tables of cycles that contain a negated
// edge.
func negatedCycleTables(rules []*Rule) []string {
	edges := tableGraph(rules)
	negated := map[[2]string]struct{}{}
	for _, rule := range rules {
		for _, head := range rule.Heads {
			for _, lit := range rule.Body {
				if lit.Negated {
					negated[[2]string{head.Table, lit.Table}] = struct{}{}
				}
			}
		}
	}
	var result []string
	for _, scc := range util.StronglyConnectedComponents(edges) {
		members := map[string]struct{}{}
		for _, t := range scc {
			members[t] = struct{}{}
		}
		found := false
		for k := range negated {
			_, a := members[k[0]]
			_, b := members[k[1]]
			if a && b {
				found = true
			}
		}
		if found {
			result = append(result, scc...)
		}
	}
	sort.Strings(result)
	return result
}
