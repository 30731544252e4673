// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"fmt"
	"sort"
	"sync"
)

// Builtin represents a built-in table. Built-in tables are not stored; they
// are computed by the evaluator. The first NumInputs arguments are inputs and
// must be ground when the literal is evaluated; the remaining arguments are
// outputs.
type Builtin struct {
	Name        string `json:"name"`
	Arity       int    `json:"arity"`
	NumInputs   int    `json:"num_inputs"`
	Description string `json:"description,omitempty"`
}

// Key returns the registry key of the builtin.
func (b *Builtin) Key() string {
	return BuiltinKey(b.Name, b.Arity)
}

// Inputs returns the input arguments of lit.
func (b *Builtin) Inputs(lit *Literal) []*Term {
	return lit.Args[:b.NumInputs]
}

// Outputs returns the output arguments of lit.
func (b *Builtin) Outputs(lit *Literal) []*Term {
	return lit.Args[b.NumInputs:]
}

// BuiltinKey returns the key of the builtin name/arity pair.
func BuiltinKey(name string, arity int) string {
	return fmt.Sprintf("%v/%v", name, arity)
}

var builtinsMu sync.RWMutex

// BuiltinMap provides a convenient mapping of built-in keys to built-in
// definitions.
var BuiltinMap = map[string]*Builtin{}

// Builtins is the registry of built-in tables supported by the evaluator.
var Builtins []*Builtin

// RegisterBuiltin adds a new built-in table to the registry.
func RegisterBuiltin(b *Builtin) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	if _, ok := BuiltinMap[b.Key()]; !ok {
		Builtins = append(Builtins, b)
	}
	BuiltinMap[b.Key()] = b
}

// LookupBuiltin returns the built-in applicable to lit, if any.
func LookupBuiltin(lit *Literal) (*Builtin, bool) {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	b, ok := BuiltinMap[BuiltinKey(lit.Table, len(lit.Args))]
	return b, ok
}

// IsBuiltinTable returns true if any built-in is named table.
func IsBuiltinTable(table string) bool {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	for _, b := range Builtins {
		if b.Name == table {
			return true
		}
	}
	return false
}

// SortedBuiltins returns the registered built-ins ordered by key.
func SortedBuiltins() []*Builtin {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	cpy := make([]*Builtin, len(Builtins))
	copy(cpy, Builtins)
	sort.Slice(cpy, func(i, j int) bool { return cpy[i].Key() < cpy[j].Key() })
	return cpy
}

// DefaultBuiltins is the catalog of built-in tables. Implementations are
// registered by the evaluator.
var DefaultBuiltins = [...]*Builtin{
	// comparison
	{Name: "lt", Arity: 2, NumInputs: 2},
	{Name: "lteq", Arity: 2, NumInputs: 2},
	{Name: "equal", Arity: 2, NumInputs: 2},
	{Name: "gt", Arity: 2, NumInputs: 2},
	{Name: "gteq", Arity: 2, NumInputs: 2},
	{Name: "max", Arity: 3, NumInputs: 2},

	// arithmetic
	{Name: "plus", Arity: 3, NumInputs: 2},
	{Name: "minus", Arity: 3, NumInputs: 2},
	{Name: "mul", Arity: 3, NumInputs: 2},
	{Name: "div", Arity: 3, NumInputs: 2},
	{Name: "float", Arity: 2, NumInputs: 1},
	{Name: "int", Arity: 2, NumInputs: 1},

	// string
	{Name: "concat", Arity: 3, NumInputs: 2},
	{Name: "len", Arity: 2, NumInputs: 1},

	// datetime
	{Name: "now", Arity: 1, NumInputs: 0},
	{Name: "datetime_lt", Arity: 2, NumInputs: 2},
	{Name: "datetime_lteq", Arity: 2, NumInputs: 2},
	{Name: "datetime_gt", Arity: 2, NumInputs: 2},
	{Name: "datetime_gteq", Arity: 2, NumInputs: 2},
	{Name: "datetime_equal", Arity: 2, NumInputs: 2},
	{Name: "datetime_plus", Arity: 3, NumInputs: 2},
	{Name: "datetime_minus", Arity: 3, NumInputs: 2},
	{Name: "datetime_to_seconds", Arity: 2, NumInputs: 1},
	{Name: "extract_time", Arity: 2, NumInputs: 1},
	{Name: "extract_date", Arity: 2, NumInputs: 1},
	{Name: "pack_datetime", Arity: 7, NumInputs: 6},
	{Name: "pack_date", Arity: 4, NumInputs: 3},
	{Name: "pack_time", Arity: 4, NumInputs: 3},
	{Name: "unpack_datetime", Arity: 7, NumInputs: 1},
	{Name: "unpack_date", Arity: 4, NumInputs: 1},
	{Name: "unpack_time", Arity: 4, NumInputs: 1},
}

// Constant truth tables.
const (
	TrueTable  = "true"
	FalseTable = "false"
)

func init() {
	for _, b := range DefaultBuiltins {
		RegisterBuiltin(b)
	}
}
