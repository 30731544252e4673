// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Update table suffixes. A rule whose head is "p+" describes an insertion
// into "p" and "p-" a deletion.
const (
	InsertSuffix = "+"
	DeleteSuffix = "-"
)

// ModuleSeparator separates the theory (or data source) name from the table
// name in a qualified table reference.
const ModuleSeparator = ":"

var literalIDs uint64

// Formula is either a *Rule or a *Literal (a fact, or a rule with an empty
// body).
type Formula interface {
	String() string

	// Key returns a canonical string for the formula. Two formulas are equal
	// iff their keys are equal.
	Key() string

	// HeadTables returns the tables defined by the formula.
	HeadTables() []string

	isFormula()
}

// Literal represents a possibly negated atom: a table name applied to a
// sequence of terms.
type Literal struct {
	Table    string    `json:"table"`
	Args     []*Term   `json:"args"`
	Negated  bool      `json:"negated,omitempty"`
	Location *Location `json:"-"`

	id uint64
}

// NewLiteral returns a new positive literal.
func NewLiteral(table string, args ...*Term) *Literal {
	return &Literal{Table: table, Args: args}
}

// ID returns the synthetic identity of this literal instance. Identity is
// never considered by Equal.
func (lit *Literal) ID() uint64 {
	if id := atomic.LoadUint64(&lit.id); id != 0 {
		return id
	}
	atomic.CompareAndSwapUint64(&lit.id, 0, atomic.AddUint64(&literalIDs, 1))
	return atomic.LoadUint64(&lit.id)
}

func (*Literal) isFormula() {}

// Arity returns the number of arguments.
func (lit *Literal) Arity() int {
	return len(lit.Args)
}

// Equal returns true if lit and other have the same table, negation and
// arguments. Location is ignored.
func (lit *Literal) Equal(other *Literal) bool {
	if lit == nil || other == nil {
		return lit == other
	}
	if lit.Table != other.Table || lit.Negated != other.Negated || len(lit.Args) != len(other.Args) {
		return false
	}
	for i := range lit.Args {
		if !lit.Args[i].Equal(other.Args[i]) {
			return false
		}
	}
	return true
}

// Compare orders literals by table, arguments and finally negation.
func (lit *Literal) Compare(other *Literal) int {
	if c := strings.Compare(lit.Table, other.Table); c != 0 {
		return c
	}
	n := len(lit.Args)
	if len(other.Args) < n {
		n = len(other.Args)
	}
	for i := 0; i < n; i++ {
		if c := lit.Args[i].Value.Compare(other.Args[i].Value); c != 0 {
			return c
		}
	}
	if len(lit.Args) != len(other.Args) {
		return len(lit.Args) - len(other.Args)
	}
	switch {
	case lit.Negated == other.Negated:
		return 0
	case lit.Negated:
		return 1
	}
	return -1
}

// Hash returns the hash code of the literal.
func (lit *Literal) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(lit.Table)
	if lit.Negated {
		_, _ = d.Write([]byte{1})
	}
	var buf [8]byte
	for _, arg := range lit.Args {
		h := arg.Hash()
		for i := 0; i < 8; i++ {
			buf[i] = byte(h >> (8 * i))
		}
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// IsGround returns true if all arguments are constants.
func (lit *Literal) IsGround() bool {
	for _, arg := range lit.Args {
		if !arg.IsGround() {
			return false
		}
	}
	return true
}

// Theory returns the theory qualifier of the table, or the empty string if
// the table is unqualified.
func (lit *Literal) Theory() string {
	theory, _ := SplitTable(lit.Table)
	return theory
}

// TableName returns the table without its theory qualifier.
func (lit *Literal) TableName() string {
	_, table := SplitTable(lit.Table)
	return table
}

// IsUpdate returns true if the table carries an update suffix.
func (lit *Literal) IsUpdate() bool {
	return IsUpdateTable(lit.Table)
}

// IsInsert returns true if the table carries the insert suffix.
func (lit *Literal) IsInsert() bool {
	return strings.HasSuffix(lit.Table, InsertSuffix)
}

// Copy returns a deep copy of the literal. The copy has a new identity.
func (lit *Literal) Copy() *Literal {
	cpy := &Literal{
		Table:    lit.Table,
		Negated:  lit.Negated,
		Location: lit.Location,
		Args:     make([]*Term, len(lit.Args)),
	}
	for i := range lit.Args {
		cpy.Args[i] = lit.Args[i].Copy()
	}
	return cpy
}

// WithTable returns a copy of the literal applied to table.
func (lit *Literal) WithTable(table string) *Literal {
	cpy := lit.Copy()
	cpy.Table = table
	return cpy
}

// Complement returns a copy of the literal with its negation flipped.
func (lit *Literal) Complement() *Literal {
	cpy := lit.Copy()
	cpy.Negated = !cpy.Negated
	return cpy
}

// Vars returns the set of variables in the literal.
func (lit *Literal) Vars() VarSet {
	vs := NewVarSet()
	for _, arg := range lit.Args {
		if v, ok := arg.Value.(Var); ok {
			vs.Add(v)
		}
	}
	return vs
}

// Key returns the canonical form of the literal.
func (lit *Literal) Key() string {
	return lit.String()
}

// HeadTables returns the literal's table.
func (lit *Literal) HeadTables() []string {
	return []string{lit.Table}
}

func (lit *Literal) String() string {
	var sb strings.Builder
	if lit.Negated {
		sb.WriteString("not ")
	}
	sb.WriteString(lit.Table)
	sb.WriteByte('(')
	for i, arg := range lit.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(arg.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Body represents one or more literals contained inside a rule.
type Body []*Literal

// NewBody returns a new Body containing the given literals.
func NewBody(lits ...*Literal) Body {
	return Body(lits)
}

// Equal returns true if body and other contain equal literals in the same order.
func (body Body) Equal(other Body) bool {
	if len(body) != len(other) {
		return false
	}
	for i := range body {
		if !body[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of body.
func (body Body) Copy() Body {
	cpy := make(Body, len(body))
	for i := range body {
		cpy[i] = body[i].Copy()
	}
	return cpy
}

// Vars returns the set of variables in the body.
func (body Body) Vars() VarSet {
	vs := NewVarSet()
	for _, lit := range body {
		vs.Update(lit.Vars())
	}
	return vs
}

// Tables returns the tables referenced by the body, in order of first use.
func (body Body) Tables() []string {
	seen := map[string]struct{}{}
	var tables []string
	for _, lit := range body {
		if _, ok := seen[lit.Table]; !ok {
			seen[lit.Table] = struct{}{}
			tables = append(tables, lit.Table)
		}
	}
	return tables
}

func (body Body) String() string {
	buf := make([]string, len(body))
	for i := range body {
		buf[i] = body[i].String()
	}
	return strings.Join(buf, ", ")
}

// Rule represents a rule: one or more head literals implied by a conjunction
// of body literals.
type Rule struct {
	Heads    []*Literal `json:"heads"`
	Body     Body       `json:"body"`
	Location *Location  `json:"-"`

	id uuid.UUID
}

// NewRule returns a new rule with a fresh identifier.
func NewRule(head *Literal, body Body) *Rule {
	return &Rule{Heads: []*Literal{head}, Body: body, id: uuid.New()}
}

// NewMultiHeadRule returns a new rule with several heads.
func NewMultiHeadRule(heads []*Literal, body Body) *Rule {
	return &Rule{Heads: heads, Body: body, id: uuid.New()}
}

// ID returns the rule's synthetic identifier. Identifiers distinguish rule
// instances in explanations and are never considered by Equal. Rules built
// without NewRule receive an identifier on first use.
func (rule *Rule) ID() uuid.UUID {
	if rule.id == uuid.Nil {
		rule.id = uuid.New()
	}
	return rule.id
}

func (*Rule) isFormula() {}

// Head returns the first head of the rule.
func (rule *Rule) Head() *Literal {
	return rule.Heads[0]
}

// IsRegular returns true if the rule has exactly one head.
func (rule *Rule) IsRegular() bool {
	return len(rule.Heads) == 1
}

// IsFact returns true if the rule has an empty body.
func (rule *Rule) IsFact() bool {
	return len(rule.Body) == 0
}

// Equal returns true if rule and other have equal heads and bodies.
func (rule *Rule) Equal(other *Rule) bool {
	if rule == nil || other == nil {
		return rule == other
	}
	if len(rule.Heads) != len(other.Heads) {
		return false
	}
	for i := range rule.Heads {
		if !rule.Heads[i].Equal(other.Heads[i]) {
			return false
		}
	}
	return rule.Body.Equal(other.Body)
}

// Copy returns a deep copy of the rule that shares its identifier.
func (rule *Rule) Copy() *Rule {
	cpy := &Rule{
		Heads:    make([]*Literal, len(rule.Heads)),
		Body:     rule.Body.Copy(),
		Location: rule.Location,
		id:       rule.id,
	}
	for i := range rule.Heads {
		cpy.Heads[i] = rule.Heads[i].Copy()
	}
	return cpy
}

// HeadVars returns the variables in the rule heads.
func (rule *Rule) HeadVars() VarSet {
	vs := NewVarSet()
	for _, head := range rule.Heads {
		vs.Update(head.Vars())
	}
	return vs
}

// Vars returns every variable in the rule.
func (rule *Rule) Vars() VarSet {
	vs := rule.HeadVars()
	vs.Update(rule.Body.Vars())
	return vs
}

// HeadTables returns the tables defined by the rule.
func (rule *Rule) HeadTables() []string {
	tables := make([]string, 0, len(rule.Heads))
	for _, head := range rule.Heads {
		tables = append(tables, head.Table)
	}
	return tables
}

// Key returns the canonical form of the rule.
func (rule *Rule) Key() string {
	return rule.String()
}

func (rule *Rule) String() string {
	heads := make([]string, len(rule.Heads))
	for i := range rule.Heads {
		heads[i] = rule.Heads[i].String()
	}
	s := strings.Join(heads, ", ")
	if len(rule.Body) == 0 {
		return s
	}
	return s + " :- " + rule.Body.String()
}

// AsRule returns f as a rule. Literals become rules with an empty body.
func AsRule(f Formula) *Rule {
	switch f := f.(type) {
	case *Rule:
		return f
	case *Literal:
		return &Rule{Heads: []*Literal{f}, Location: f.Location}
	}
	panic("unreachable")
}

// Normalize returns the literal for a single-headed rule with an empty body
// and the rule itself otherwise.
func Normalize(f Formula) Formula {
	if r, ok := f.(*Rule); ok && r.IsRegular() && r.IsFact() {
		return r.Heads[0]
	}
	return f
}

// SplitTable splits a possibly qualified table into its theory and table
// name.
func SplitTable(table string) (string, string) {
	if i := strings.Index(table, ModuleSeparator); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// QualifyTable returns theory:table unless table is already qualified.
func QualifyTable(theory, table string) string {
	if strings.Contains(table, ModuleSeparator) || theory == "" {
		return table
	}
	return theory + ModuleSeparator + table
}

// IsUpdateTable returns true if table carries an update suffix.
func IsUpdateTable(table string) bool {
	return strings.HasSuffix(table, InsertSuffix) || strings.HasSuffix(table, DeleteSuffix)
}

// UpdateBase strips an update suffix from table.
func UpdateBase(table string) string {
	if IsUpdateTable(table) {
		return table[:len(table)-1]
	}
	return table
}

// VarSet represents a set of variables.
type VarSet map[Var]struct{}

// NewVarSet returns a new VarSet containing the specified variables.
func NewVarSet(vs ...Var) VarSet {
	s := VarSet{}
	for _, v := range vs {
		s.Add(v)
	}
	return s
}

// Add updates the set to include the variable "v".
func (s VarSet) Add(v Var) {
	s[v] = struct{}{}
}

// Contains returns true if the set contains the variable "v".
func (s VarSet) Contains(v Var) bool {
	_, ok := s[v]
	return ok
}

// Diff returns a VarSet containing variables in s that are not in vs.
func (s VarSet) Diff(vs VarSet) VarSet {
	r := VarSet{}
	for v := range s {
		if !vs.Contains(v) {
			r.Add(v)
		}
	}
	return r
}

// Update merges the other VarSet into this VarSet.
func (s VarSet) Update(vs VarSet) {
	for v := range vs {
		s.Add(v)
	}
}

// Sorted returns the variables in lexical order.
func (s VarSet) Sorted() []Var {
	sorted := make([]Var, 0, len(s))
	for v := range s {
		sorted = append(sorted, v)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

func (s VarSet) String() string {
	vs := s.Sorted()
	buf := make([]string, len(vs))
	for i := range vs {
		buf[i] = string(vs[i])
	}
	return "{" + strings.Join(buf, ", ") + "}"
}
