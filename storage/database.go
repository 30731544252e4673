// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"sort"
	"strings"

	"github.com/openstack-archive/congress-sub001/ast"
)

// ProofBinding records the value of one rule variable in a proof.
type ProofBinding struct {
	Var   ast.Var
	Value ast.Value
}

// Proof records why a tuple holds. The base proof of an inserted fact has
// an empty rule. Derived proofs name the rule and the values its variables
// took.
type Proof struct {
	Rule    string
	Binding []ProofBinding
}

// NewProof returns the proof of rule under the variable values in binding.
// Bindings are sorted by variable so that equal proofs have equal keys.
func NewProof(rule *ast.Rule, binding map[ast.Var]ast.Value) Proof {
	p := Proof{Rule: rule.Key(), Binding: make([]ProofBinding, 0, len(binding))}
	for v, x := range binding {
		p.Binding = append(p.Binding, ProofBinding{Var: v, Value: x})
	}
	sort.Slice(p.Binding, func(i, j int) bool { return p.Binding[i].Var < p.Binding[j].Var })
	return p
}

// IsBase returns true if p is the proof of an inserted fact.
func (p Proof) IsBase() bool {
	return p.Rule == ""
}

// Key returns the canonical form of the proof.
func (p Proof) Key() string {
	if p.IsBase() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(p.Rule)
	for _, b := range p.Binding {
		sb.WriteString("; ")
		sb.WriteString(string(b.Var))
		sb.WriteString("=")
		sb.WriteString(b.Value.String())
	}
	return sb.String()
}

// Lookup returns the value of v in the proof.
func (p Proof) Lookup(v ast.Var) (ast.Value, bool) {
	for _, b := range p.Binding {
		if b.Var == v {
			return b.Value, true
		}
	}
	return nil, false
}

func (p Proof) String() string {
	if p.IsBase() {
		return "<fact>"
	}
	return p.Key()
}

// Database stores ground tuples together with the set of proofs that
// support each of them. A tuple exists as long as it has at least one
// proof.
type Database struct {
	tables map[string]*tupleSet
}

// NewDatabase returns an empty Database.
func NewDatabase() *Database {
	return &Database{tables: map[string]*tupleSet{}}
}

// Insert adds proof to the proof set of lit. It returns true if lit was not
// in the database before.
func (db *Database) Insert(lit *ast.Literal, proof Proof) bool {
	ts, ok := db.tables[lit.Table]
	if !ok {
		ts = newTupleSet()
		db.tables[lit.Table] = ts
	}
	node, added := ts.add(lit)
	if node.proofs == nil {
		node.proofs = map[string]Proof{}
	}
	node.proofs[proof.Key()] = proof
	return added
}

// Delete removes proof from the proof set of lit. It returns true if lit
// lost its last proof and was removed.
func (db *Database) Delete(lit *ast.Literal, proof Proof) bool {
	ts, ok := db.tables[lit.Table]
	if !ok {
		return false
	}
	node := ts.get(lit)
	if node == nil {
		return false
	}
	delete(node.proofs, proof.Key())
	if len(node.proofs) > 0 {
		return false
	}
	db.drop(ts, lit)
	return true
}

// DeleteAll removes lit regardless of its proofs. It returns true if lit was
// present.
func (db *Database) DeleteAll(lit *ast.Literal) bool {
	ts, ok := db.tables[lit.Table]
	if !ok || ts.get(lit) == nil {
		return false
	}
	db.drop(ts, lit)
	return true
}

func (db *Database) drop(ts *tupleSet, lit *ast.Literal) {
	ts.remove(lit)
	if ts.size == 0 {
		delete(db.tables, lit.Table)
	}
}

// Contains returns true if lit is in the database.
func (db *Database) Contains(lit *ast.Literal) bool {
	ts, ok := db.tables[lit.Table]
	return ok && ts.get(lit) != nil
}

// HasProof returns true if proof supports lit.
func (db *Database) HasProof(lit *ast.Literal, proof Proof) bool {
	ts, ok := db.tables[lit.Table]
	if !ok {
		return false
	}
	node := ts.get(lit)
	if node == nil {
		return false
	}
	_, ok = node.proofs[proof.Key()]
	return ok
}

// Proofs returns the proofs of lit ordered by key.
func (db *Database) Proofs(lit *ast.Literal) []Proof {
	ts, ok := db.tables[lit.Table]
	if !ok {
		return nil
	}
	node := ts.get(lit)
	if node == nil {
		return nil
	}
	result := make([]Proof, 0, len(node.proofs))
	for _, k := range sortedKeys(node.proofs) {
		result = append(result, node.proofs[k])
	}
	return result
}

// Facts calls iter with the tuples of table that may unify with lit. It
// returns true if iter stopped the iteration.
func (db *Database) Facts(table string, lit *ast.Literal, iter func(*ast.Literal) bool) bool {
	ts, ok := db.tables[table]
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

// Table returns the tuples of table in insertion order.
func (db *Database) Table(table string) []*ast.Literal {
	ts, ok := db.tables[table]
	if !ok {
		return nil
	}
	return ts.literals()
}

// Tables returns the tables with at least one tuple.
func (db *Database) Tables() []string {
	return sortedKeys(db.tables)
}

// Len returns the number of tuples.
func (db *Database) Len() int {
	n := 0
	for _, ts := range db.tables {
		n += ts.size
	}
	return n
}

// Copy returns a deep copy of the proof sets. Literals are shared.
func (db *Database) Copy() *Database {
	cpy := NewDatabase()
	for _, ts := range db.tables {
		for node := ts.first; node != nil; node = node.next {
			for _, p := range node.proofs {
				cpy.Insert(node.lit, p)
			}
		}
	}
	return cpy
}

// Clear removes every tuple.
func (db *Database) Clear() {
	db.tables = map[string]*tupleSet{}
}

func (db *Database) String() string {
	buf := make([]string, 0, len(db.tables))
	for _, t := range db.Tables() {
		buf = append(buf, t+": "+db.tables[t].String())
	}
	return strings.Join(buf, "\n")
}
