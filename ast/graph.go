// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"sort"
	"strings"

	"github.com/openstack-archive/congress-sub001/util"
)

// DependencyGraph tracks table dependencies across every theory of a
// runtime. Nodes are qualified tables ("theory:table"); there is an edge from
// each head of a rule to each non-builtin table in its body. Edges are
// counted so that deleting one of two rules that induce the same edge keeps
// the edge.
type DependencyGraph struct {
	edges map[string]map[string]int
	rules map[string]*Rule
}

// GraphChange is one staged rule insertion or deletion.
type GraphChange struct {
	Theory string
	Rule   *Rule
	Insert bool
}

// GraphUndo records the changes applied to a graph so they can be rolled
// back.
type GraphUndo struct {
	applied []GraphChange
}

// NewDependencyGraph returns an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		edges: map[string]map[string]int{},
		rules: map[string]*Rule{},
	}
}

func ruleKey(theory string, rule *Rule) string {
	return theory + "|" + rule.Key()
}

// Contains returns true if rule is tracked for theory.
func (g *DependencyGraph) Contains(theory string, rule *Rule) bool {
	_, ok := g.rules[ruleKey(theory, rule)]
	return ok
}

// Apply applies changes in order. Inserting a tracked rule or deleting an
// untracked rule has no effect. The returned undo reverts exactly the
// effective changes.
func (g *DependencyGraph) Apply(changes []GraphChange) *GraphUndo {
	undo := &GraphUndo{}
	for _, c := range changes {
		if g.apply(c) {
			undo.applied = append(undo.applied, c)
		}
	}
	return undo
}

// Rollback reverts the changes recorded by undo.
func (g *DependencyGraph) Rollback(undo *GraphUndo) {
	if undo == nil {
		return
	}
	for i := len(undo.applied) - 1; i >= 0; i-- {
		c := undo.applied[i]
		c.Insert = !c.Insert
		g.apply(c)
	}
	undo.applied = nil
}

func (g *DependencyGraph) apply(c GraphChange) bool {
	key := ruleKey(c.Theory, c.Rule)
	_, tracked := g.rules[key]
	if c.Insert == tracked {
		return false
	}
	delta := 1
	if c.Insert {
		g.rules[key] = c.Rule
	} else {
		delete(g.rules, key)
		delta = -1
	}
	for _, head := range c.Rule.Heads {
		from := QualifyTable(c.Theory, head.Table)
		if _, ok := g.edges[from]; !ok {
			g.edges[from] = map[string]int{}
		}
		for _, lit := range c.Rule.Body {
			if _, ok := LookupBuiltin(lit); ok {
				continue
			}
			to := QualifyTable(c.Theory, lit.Table)
			g.edges[from][to] += delta
			if g.edges[from][to] <= 0 {
				delete(g.edges[from], to)
			}
		}
		if len(g.edges[from]) == 0 {
			delete(g.edges, from)
		}
	}
	return true
}

// DeleteTheory removes every rule tracked for theory.
func (g *DependencyGraph) DeleteTheory(theory string) *GraphUndo {
	var changes []GraphChange
	prefix := theory + "|"
	keys := make([]string, 0)
	for k := range g.rules {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		changes = append(changes, GraphChange{Theory: theory, Rule: g.rules[k]})
	}
	return g.Apply(changes)
}

// EdgeCount returns the number of rules inducing the edge from -> to.
func (g *DependencyGraph) EdgeCount(from, to string) int {
	return g.edges[from][to]
}

// Dependencies returns the qualified tables that table depends on, directly
// or transitively.
func (g *DependencyGraph) Dependencies(table string) []string {
	t := util.NewTraversal(func(n util.T) []util.T {
		var result []util.T
		for _, to := range g.sortedEdges(n.(string)) {
			result = append(result, to)
		}
		return result
	})
	var deps []string
	util.DFS(t, func(n util.T) bool {
		if s := n.(string); s != table {
			deps = append(deps, s)
		}
		return false
	}, table)
	sort.Strings(deps)
	return deps
}

// TheoriesReferencing returns the theories whose rules mention table in a
// body.
func (g *DependencyGraph) TheoriesReferencing(table string) []string {
	seen := map[string]struct{}{}
	for from, tos := range g.edges {
		if _, ok := tos[table]; ok {
			theory, _ := SplitTable(from)
			seen[theory] = struct{}{}
		}
	}
	result := make([]string, 0, len(seen))
	for t := range seen {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// DependentTheories returns theories together with every theory whose rules
// reference a table of one of them, directly or through other theories.
func (g *DependencyGraph) DependentTheories(theories ...string) []string {
	set := make(map[string]struct{}, len(theories))
	for _, t := range theories {
		set[t] = struct{}{}
	}
	for grown := true; grown; {
		grown = false
		for from, tos := range g.edges {
			theory, _ := SplitTable(from)
			if _, ok := set[theory]; ok {
				continue
			}
			for to := range tos {
				if module, _ := SplitTable(to); module != "" {
					if _, ok := set[module]; ok {
						set[theory] = struct{}{}
						grown = true
						break
					}
				}
			}
		}
	}
	result := make([]string, 0, len(set))
	for t := range set {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// CrossTheoryCycles returns the cycles of the graph that involve tables of
// more than one theory. Cycles local to one theory are the concern of that
// theory's own checks.
func (g *DependencyGraph) CrossTheoryCycles() [][]string {
	edges := make(map[string][]string, len(g.edges))
	for from := range g.edges {
		edges[from] = g.sortedEdges(from)
	}
	var result [][]string
	for _, scc := range util.StronglyConnectedComponents(edges) {
		if len(scc) < 2 {
			continue
		}
		theories := map[string]struct{}{}
		for _, n := range scc {
			theory, _ := SplitTable(n)
			theories[theory] = struct{}{}
		}
		if len(theories) > 1 {
			result = append(result, scc)
		}
	}
	return result
}

// CycleErrors returns a RecursionErr for each cross-theory cycle.
func (g *DependencyGraph) CycleErrors() Errors {
	var errs Errors
	for _, cycle := range g.CrossTheoryCycles() {
		errs = append(errs, NewError(RecursionErr, nil, "rules are recursive across theories: %v", strings.Join(cycle, ", ")))
	}
	return errs
}

func (g *DependencyGraph) sortedEdges(from string) []string {
	tos := make([]string, 0, len(g.edges[from]))
	for to := range g.edges[from] {
		tos = append(tos, to)
	}
	sort.Strings(tos)
	return tos
}
