// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package theory

import (
	"container/heap"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/storage"
)

// Trigger is a body literal of a rule. A change to a tuple of the trigger's
// table may change the instances of the rule that hold.
type Trigger struct {
	Rule  *ast.Rule
	Index int
}

// Literal returns the body literal of the trigger.
func (tr Trigger) Literal() *ast.Literal {
	return tr.Rule.Body[tr.Index]
}

// DeltaTheory indexes rules by the tables of their body literals. Builtin
// literals are not indexed since builtins hold no tuples.
type DeltaTheory struct {
	triggers map[string][]Trigger
}

// NewDeltaTheory returns an empty index.
func NewDeltaTheory() *DeltaTheory {
	return &DeltaTheory{triggers: map[string][]Trigger{}}
}

// Insert indexes every non-builtin body literal of rule.
func (d *DeltaTheory) Insert(rule *ast.Rule) {
	for i, lit := range rule.Body {
		if _, ok := ast.LookupBuiltin(lit); ok {
			continue
		}
		d.triggers[lit.Table] = append(d.triggers[lit.Table], Trigger{Rule: rule, Index: i})
	}
}

// Delete removes the triggers of rule.
func (d *DeltaTheory) Delete(rule *ast.Rule) {
	key := rule.Key()
	for _, table := range rule.Body.Tables() {
		current := d.triggers[table]
		kept := make([]Trigger, 0, len(current))
		for _, tr := range current {
			if tr.Rule.Key() != key {
				kept = append(kept, tr)
			}
		}
		if len(kept) == 0 {
			delete(d.triggers, table)
		} else {
			d.triggers[table] = kept
		}
	}
}

// Triggers returns the triggers on table.
func (d *DeltaTheory) Triggers(table string) []Trigger {
	return d.triggers[table]
}

// Copy returns a copy of the index that can be modified independently.
func (d *DeltaTheory) Copy() *DeltaTheory {
	cpy := NewDeltaTheory()
	for table, trs := range d.triggers {
		cpy.triggers[table] = append([]Trigger(nil), trs...)
	}
	return cpy
}

// change adds or removes one proof of a tuple.
type change struct {
	lit     *ast.Literal
	proof   storage.Proof
	insert  bool
	stratum int
	seq     uint64
}

// changeQueue orders changes by the stratum of their table. Changes within
// a stratum keep their insertion order.
type changeQueue struct {
	items []*change
	seq   uint64
}

func (q *changeQueue) Len() int { return len(q.items) }

func (q *changeQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.stratum != b.stratum {
		return a.stratum < b.stratum
	}
	return a.seq < b.seq
}

func (q *changeQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *changeQueue) Push(x any) { q.items = append(q.items, x.(*change)) }

func (q *changeQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return item
}

func (q *changeQueue) push(c *change) {
	q.seq++
	c.seq = q.seq
	heap.Push(q, c)
}

func (q *changeQueue) pop() *change {
	return heap.Pop(q).(*change)
}

// match unifies the arguments of pattern with the ground tuple and extends
// binding. It returns false if they do not unify.
func match(pattern, tuple *ast.Literal, binding map[ast.Var]ast.Value) bool {
	if len(pattern.Args) != len(tuple.Args) {
		return false
	}
	for i, arg := range pattern.Args {
		val := tuple.Args[i].Value
		if v, ok := arg.Value.(ast.Var); ok {
			if x, ok := binding[v]; ok {
				if !x.Equal(val) {
					return false
				}
				continue
			}
			binding[v] = val
			continue
		}
		if !arg.Value.Equal(val) {
			return false
		}
	}
	return true
}

// substitute replaces the variables of lit bound in binding.
func substitute(lit *ast.Literal, binding map[ast.Var]ast.Value) *ast.Literal {
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
