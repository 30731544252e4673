// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package theory implements the named collections of facts and rules that
// queries are evaluated against.
package theory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/logging"
	"github.com/openstack-archive/congress-sub001/topdown"
)

// Kind identifies a theory implementation.
type Kind string

const (
	// NonrecursiveKind theories evaluate rules top-down and reject
	// recursion.
	NonrecursiveKind Kind = "nonrecursive"

	// ActionKind theories are nonrecursive theories whose rules may define
	// update tables (p+, p-).
	ActionKind Kind = "action"

	// MaterializedKind theories keep every derived tuple up to date as facts
	// and rules change. Recursion is allowed as long as negation is
	// stratified.
	MaterializedKind Kind = "materialized"

	// DatabaseKind theories store facts only.
	DatabaseKind Kind = "database"
)

// Kinds returns every supported kind.
func Kinds() []Kind {
	return []Kind{NonrecursiveKind, ActionKind, MaterializedKind, DatabaseKind}
}

// ParseKind returns the kind named s. The empty string means nonrecursive.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case "":
		return NonrecursiveKind, nil
	case NonrecursiveKind, ActionKind, MaterializedKind, DatabaseKind:
		return k, nil
	}
	return "", fmt.Errorf("unknown policy kind %q", s)
}

// Event is a requested insertion or deletion of a formula in the theory
// named by Target.
type Event struct {
	Formula ast.Formula
	Insert  bool
	Target  string
}

// NewInsert returns an insertion event.
func NewInsert(target string, f ast.Formula) Event {
	return Event{Formula: f, Insert: true, Target: target}
}

// NewDelete returns a deletion event.
func NewDelete(target string, f ast.Formula) Event {
	return Event{Formula: f, Target: target}
}

func (e Event) String() string {
	op := "insert"
	if !e.Insert {
		op = "delete"
	}
	if e.Target == "" {
		return fmt.Sprintf("%v[%v]", op, e.Formula)
	}
	return fmt.Sprintf("%v[%v:%v]", op, e.Target, e.Formula)
}

// QueryOptions control Select, Explain and Abduce.
type QueryOptions struct {
	// FindAll returns every answer instead of the first.
	FindAll bool

	// Tracer receives evaluation events.
	Tracer topdown.Tracer

	// Time is reported by the now built-in. The zero value means the
	// current time.
	Time time.Time
}

// Theory is a named collection of facts and rules.
type Theory interface {
	topdown.Source

	// Kind returns the implementation kind.
	Kind() Kind

	// Schemas returns the module schemas used to check formulas.
	Schemas() ast.ModuleSchemas

	// SetResolver sets the resolver used to evaluate literals qualified with
	// other theory names.
	SetResolver(topdown.Resolver)

	// Insert adds a formula. It returns false if the formula was already
	// present. Insert does not validate the formula.
	Insert(f ast.Formula) (bool, error)

	// Delete removes a formula. It returns false if the formula was absent.
	Delete(f ast.Formula) (bool, error)

	// Update validates and applies events in order and returns the events
	// that changed the theory.
	Update(events []Event) ([]Event, error)

	// UpdateWouldCauseErrors returns the errors that applying events in
	// order would cause. It does not modify the theory.
	UpdateWouldCauseErrors(events []Event) ast.Errors

	// Select returns the instances of query that hold.
	Select(ctx context.Context, query ast.Body, opts QueryOptions) ([]ast.Body, error)

	// Explain returns, for each proof of query, the rule instances it used.
	Explain(ctx context.Context, query ast.Body, opts QueryOptions) ([][]*ast.Rule, error)

	// Abduce returns rules that state which literals of tables would make
	// query hold.
	Abduce(ctx context.Context, query ast.Body, tables []string, opts QueryOptions) ([]*ast.Rule, error)

	// Contains returns true if the formula was inserted.
	Contains(f ast.Formula) bool

	// Formulas returns the inserted facts and rules.
	Formulas() []ast.Formula

	// Content returns the inserted rules.
	Content() []*ast.Rule

	// Tables returns the tables that hold facts or are defined by rules.
	Tables() []string

	// Arity returns the arity of table, from the schema or from the stored
	// formulas.
	Arity(table string) (int, bool)

	// Fork returns a theory that starts with the content of this one. Changes
	// to the fork never affect this theory.
	Fork() Theory
}

// Params configure a new theory.
type Params struct {
	// Schemas are the schemas of the modules that rules may reference.
	Schemas ast.ModuleSchemas

	// Resolver resolves qualified literals during evaluation.
	Resolver topdown.Resolver

	// Logger receives maintenance messages. Defaults to a no-op logger.
	Logger logging.Logger
}

// New returns an empty theory of the given kind.
func New(name string, kind Kind, params Params) (Theory, error) {
	if params.Logger == nil {
		params.Logger = logging.NewNoOpLogger()
	}
	params.Logger = params.Logger.WithFields(map[string]any{"policy": name})

	switch kind {
	case NonrecursiveKind, "":
		return NewNonrecursive(name, params), nil
	case ActionKind:
		return NewAction(name, params), nil
	case DatabaseKind:
		return NewDatabase(name, params), nil
	case MaterializedKind:
		return NewMaterialized(name, params), nil
	}
	return nil, fmt.Errorf("unknown policy kind %q", kind)
}

// localize strips the self-qualification of the formula's literals so that
// "name:p" and "p" refer to the same table of the theory called name.
func localize(name string, f ast.Formula) ast.Formula {
	prefix := name + ast.ModuleSeparator
	needs := func(lit *ast.Literal) bool {
		return strings.HasPrefix(lit.Table, prefix)
	}
	strip := func(lit *ast.Literal) *ast.Literal {
		if !needs(lit) {
			return lit
		}
		return lit.WithTable(strings.TrimPrefix(lit.Table, prefix))
	}
	switch f := f.(type) {
	case *ast.Literal:
		return strip(f)
	case *ast.Rule:
		changed := false
		for _, lit := range f.Heads {
			changed = changed || needs(lit)
		}
		for _, lit := range f.Body {
			changed = changed || needs(lit)
		}
		if !changed {
			return f
		}
		cpy := f.Copy()
		for i := range cpy.Heads {
			cpy.Heads[i] = strip(cpy.Heads[i])
		}
		for i := range cpy.Body {
			cpy.Body[i] = strip(cpy.Body[i])
		}
		return cpy
	}
	return f
}

// prepare returns the form in which f is stored: self-qualification is
// removed, empty-body rules become facts and rule bodies are ordered for
// safety.
func prepare(name string, f ast.Formula) ast.Formula {
	f = ast.Normalize(localize(name, f))
	if r, ok := f.(*ast.Rule); ok && !r.IsFact() {
		return ast.ReorderRule(r)
	}
	return f
}

// Canonical returns the form in which the theory called name stores f.
// Formulas with equal canonical forms are the same formula of the theory.
func Canonical(name string, f ast.Formula) ast.Formula {
	return prepare(name, f)
}

// eventTarget checks that e addresses the theory called name.
func eventTarget(name string, e Event) error {
	if e.Target != "" && e.Target != name {
		return fmt.Errorf("event %v is addressed to policy %v, not %v", e, e.Target, name)
	}
	if e.Formula == nil {
		return fmt.Errorf("event has no formula")
	}
	return nil
}

// arityOf returns the arity of table found among the literals of formulas.
func arityOf(table string, formulas []ast.Formula) (int, bool) {
	for _, f := range formulas {
		r := ast.AsRule(f)
		for _, lit := range r.Heads {
			if lit.Table == table {
				return lit.Arity(), true
			}
		}
		for _, lit := range r.Body {
			if lit.Table == table {
				return lit.Arity(), true
			}
		}
	}
	return 0, false
}
