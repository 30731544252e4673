// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package ast

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Value declares the common interface for all Term values. Every kind of Term value
// in the language is represented as a type that implements this interface:
//
// - Variables
// - String, Int, Float constants
type Value interface {
	// Equal returns true if this value equals the other value.
	Equal(other Value) bool

	// Compare returns <0, 0, or >0 if this value is less than, equal to, or
	// greater than the other value.
	Compare(other Value) int

	// IsGround returns true if this value is not a variable.
	IsGround() bool

	// String returns a human readable string representation of the value.
	String() string

	// Hash returns the hash code of the value.
	Hash() uint64
}

// ValueType names the type of a constant.
type ValueType string

// Constant types.
const (
	StringType  ValueType = "STRING"
	IntegerType ValueType = "INTEGER"
	FloatType   ValueType = "FLOAT"
	VarType     ValueType = "VAR"
)

// TypeOf returns the type of v.
func TypeOf(v Value) ValueType {
	switch v.(type) {
	case String:
		return StringType
	case Int:
		return IntegerType
	case Float:
		return FloatType
	default:
		return VarType
	}
}

// Term is an argument to a literal.
type Term struct {
	Value    Value     `json:"value"` // the value of the Term as represented in Go
	Location *Location `json:"-"`     // the location of the Term in the source
}

// NewTerm returns a new Term object.
func NewTerm(v Value) *Term {
	return &Term{Value: v}
}

// SetLocation updates the term's Location and returns the term itself.
func (term *Term) SetLocation(loc *Location) *Term {
	term.Location = loc
	return term
}

// Equal returns true if this term equals the other term. Location is not
// considered.
func (term *Term) Equal(other *Term) bool {
	if term == nil || other == nil {
		return term == other
	}
	if term == other {
		return true
	}
	return term.Value.Equal(other.Value)
}

// Hash returns the hash code of the Term's value.
func (term *Term) Hash() uint64 {
	return term.Value.Hash()
}

// IsGround returns true if this term's Value is ground.
func (term *Term) IsGround() bool {
	return term.Value.IsGround()
}

// Copy returns a copy of the term.
func (term *Term) Copy() *Term {
	return &Term{Value: term.Value, Location: term.Location}
}

func (term *Term) String() string {
	return term.Value.String()
}

// Var represents a variable as defined by the policy language.
type Var string

// VarTerm creates a new Term with a Variable value.
func VarTerm(v string) *Term {
	return &Term{Value: Var(v)}
}

// Equal returns true if the other Value is a Variable and has the same value
// (name).
func (v Var) Equal(other Value) bool {
	o, ok := other.(Var)
	return ok && v == o
}

// Compare compares v to other.
func (v Var) Compare(other Value) int {
	return compareValues(v, other)
}

// Hash returns the hash code for the Value.
func (v Var) Hash() uint64 {
	return hashTagged('v', []byte(v))
}

// IsGround always returns false.
func (Var) IsGround() bool {
	return false
}

// IsWildcard returns true if the variable is a don't-care variable generated
// for an elided column.
func (v Var) IsWildcard() bool {
	return strings.HasPrefix(string(v), "_")
}

func (v Var) String() string {
	return string(v)
}

// String represents a string constant.
type String string

// StringTerm creates a new Term with a String value.
func StringTerm(s string) *Term {
	return &Term{Value: String(s)}
}

// Equal returns true if the other Value is a String and is equal.
func (str String) Equal(other Value) bool {
	o, ok := other.(String)
	return ok && str == o
}

// Compare compares str to other.
func (str String) Compare(other Value) int {
	return compareValues(str, other)
}

// Hash returns the hash code for the Value.
func (str String) Hash() uint64 {
	return hashTagged('s', []byte(str))
}

// IsGround always returns true.
func (String) IsGround() bool {
	return true
}

func (str String) String() string {
	return strconv.Quote(string(str))
}

// Int represents an integer constant.
type Int int64

// IntTerm creates a new Term with an Int value.
func IntTerm(i int64) *Term {
	return &Term{Value: Int(i)}
}

// Equal returns true if the other Value is an Int and is equal.
func (i Int) Equal(other Value) bool {
	o, ok := other.(Int)
	return ok && i == o
}

// Compare compares i to other.
func (i Int) Compare(other Value) int {
	return compareValues(i, other)
}

// Hash returns the hash code for the Value.
func (i Int) Hash() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(i))
	return hashTagged('i', buf[:])
}

// IsGround always returns true.
func (Int) IsGround() bool {
	return true
}

func (i Int) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// Float represents a floating point constant.
type Float float64

// FloatTerm creates a new Term with a Float value.
func FloatTerm(f float64) *Term {
	return &Term{Value: Float(f)}
}

// Equal returns true if the other Value is a Float and is equal.
func (f Float) Equal(other Value) bool {
	o, ok := other.(Float)
	return ok && f == o
}

// Compare compares f to other.
func (f Float) Compare(other Value) int {
	return compareValues(f, other)
}

// Hash returns the hash code for the Value.
func (f Float) Hash() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(float64(f)))
	return hashTagged('f', buf[:])
}

// IsGround always returns true.
func (Float) IsGround() bool {
	return true
}

func (f Float) String() string {
	s := strconv.FormatFloat(float64(f), 'f', -1, 64)
	if math.IsInf(float64(f), 0) || math.IsNaN(float64(f)) {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// ValueFromInterface converts a native Go value into a Value. It is used when
// tuples arrive from data sources.
func ValueFromInterface(x interface{}) (Value, error) {
	switch x := x.(type) {
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case []byte:
		return String(x), nil
	case int:
		return Int(x), nil
	case int8:
		return Int(x), nil
	case int16:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(x), nil
	case uint16:
		return Int(x), nil
	case uint32:
		return Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Float(x), nil
		}
		return Int(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case bool:
		return String(strconv.FormatBool(x)), nil
	case nil:
		return String("None"), nil
	case fmt.Stringer:
		return String(x.String()), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", x)
	}
}

// ValueToInterface converts a constant to its native Go form.
func ValueToInterface(v Value) interface{} {
	switch v := v.(type) {
	case String:
		return string(v)
	case Int:
		return int64(v)
	case Float:
		return float64(v)
	default:
		return v.String()
	}
}

func hashTagged(tag byte, bs []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write([]byte{tag})
	_, _ = d.Write(bs)
	return d.Sum64()
}

func sortOrder(v Value) int {
	switch v.(type) {
	case Var:
		return 0
	case Int, Float:
		return 1
	case String:
		return 2
	}
	return 3
}

func compareValues(a, b Value) int {
	oa, ob := sortOrder(a), sortOrder(b)
	if oa != ob {
		return oa - ob
	}
	switch a := a.(type) {
	case Var:
		return strings.Compare(string(a), string(b.(Var)))
	case String:
		return strings.Compare(string(a), string(b.(String)))
	case Int:
		switch b := b.(type) {
		case Int:
			return compareInts(int64(a), int64(b))
		case Float:
			if c := compareFloats(float64(a), float64(b)); c != 0 {
				return c
			}
			return -1
		}
	case Float:
		switch b := b.(type) {
		case Float:
			return compareFloats(float64(a), float64(b))
		case Int:
			if c := compareFloats(float64(a), float64(b)); c != 0 {
				return c
			}
			return 1
		}
	}
	return 0
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
