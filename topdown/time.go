// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/topdown/builtins"
)

// Canonical layouts of datetime, date and time strings.
const (
	DatetimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
)

var parseLayouts = []string{
	DatetimeLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	DateLayout,
	TimeLayout,
}

// ParseDatetime parses s in the canonical form or any form understood by
// cast.StringToDate, such as RFC 3339 or "02 Jan 2006". Times without a zone
// are UTC.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	t, err := cast.StringToDateInDefaultLocation(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse datetime %q", s)
	}
	return t.UTC(), nil
}

func datetimeOperand(x ast.Value, pos int) (time.Time, error) {
	s, err := builtins.StringOperand(x, pos)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseDatetime(string(s))
	if err != nil {
		return time.Time{}, builtins.NewOperandErr(pos, "%v", err)
	}
	return t, nil
}

// durationOperand accepts a number of seconds, an "HH:MM:SS" string or a Go
// duration string such as "1h30m".
func durationOperand(x ast.Value, pos int) (time.Duration, error) {
	switch v := x.(type) {
	case ast.Int:
		return time.Duration(v) * time.Second, nil
	case ast.Float:
		return time.Duration(float64(v) * float64(time.Second)), nil
	case ast.String:
		s := strings.TrimSpace(string(v))
		if parts := strings.Split(s, ":"); len(parts) == 3 {
			var total time.Duration
			units := []time.Duration{time.Hour, time.Minute, time.Second}
			for i, p := range parts {
				n, err := strconv.ParseFloat(p, 64)
				if err != nil {
					return 0, builtins.NewOperandErr(pos, "invalid interval %q", s)
				}
				total += time.Duration(n * float64(units[i]))
			}
			return total, nil
		}
		d, err := cast.ToDurationE(s)
		if err != nil {
			return 0, builtins.NewOperandErr(pos, "invalid interval %q", s)
		}
		return d, nil
	}
	return 0, builtins.NewOperandTypeErr(pos, x, "number", "string")
}

func formatDatetime(t time.Time) ast.Value {
	return ast.String(t.Format(DatetimeLayout))
}

func builtinNow(bctx BuiltinContext, _ []ast.Value) ([]ast.Value, bool, error) {
	now := bctx.Time
	if now.IsZero() {
		now = time.Now()
	}
	return []ast.Value{formatDatetime(now.UTC())}, true, nil
}

func datetimeCompare(cmp compareFunc) PredicateBuiltin2 {
	return func(a, b ast.Value) (bool, error) {
		x, err := datetimeOperand(a, 1)
		if err != nil {
			return false, err
		}
		y, err := datetimeOperand(b, 2)
		if err != nil {
			return false, err
		}
		return cmp(x.Compare(y)), nil
	}
}

func datetimeArith(sign time.Duration) FunctionalBuiltin2 {
	return func(a, b ast.Value) (ast.Value, error) {
		t, err := datetimeOperand(a, 1)
		if err != nil {
			return nil, err
		}
		d, err := durationOperand(b, 2)
		if err != nil {
			return nil, err
		}
		return formatDatetime(t.Add(sign * d)), nil
	}
}

// builtinDatetimeToSeconds returns seconds since the Unix epoch.
func builtinDatetimeToSeconds(a ast.Value) (ast.Value, error) {
	t, err := datetimeOperand(a, 1)
	if err != nil {
		return nil, err
	}
	return ast.Int(t.Unix()), nil
}

func builtinExtractTime(a ast.Value) (ast.Value, error) {
	t, err := datetimeOperand(a, 1)
	if err != nil {
		return nil, err
	}
	return ast.String(t.Format(TimeLayout)), nil
}

func builtinExtractDate(a ast.Value) (ast.Value, error) {
	t, err := datetimeOperand(a, 1)
	if err != nil {
		return nil, err
	}
	return ast.String(t.Format(DateLayout)), nil
}

func intOperands(inputs []ast.Value) ([]int, error) {
	result := make([]int, len(inputs))
	for i := range inputs {
		n, err := builtins.IntOperand(inputs[i], i+1)
		if err != nil {
			return nil, err
		}
		result[i] = n
	}
	return result, nil
}

func builtinPackDatetime(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
	n, err := intOperands(inputs)
	if err != nil {
		return nil, false, err
	}
	t := time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], 0, time.UTC)
	return []ast.Value{formatDatetime(t)}, true, nil
}

func builtinPackDate(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
	n, err := intOperands(inputs)
	if err != nil {
		return nil, false, err
	}
	t := time.Date(n[0], time.Month(n[1]), n[2], 0, 0, 0, 0, time.UTC)
	return []ast.Value{ast.String(t.Format(DateLayout))}, true, nil
}

func builtinPackTime(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
	n, err := intOperands(inputs)
	if err != nil {
		return nil, false, err
	}
	t := time.Date(0, 1, 1, n[0], n[1], n[2], 0, time.UTC)
	return []ast.Value{ast.String(t.Format(TimeLayout))}, true, nil
}

func builtinUnpackDatetime(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
	t, err := datetimeOperand(inputs[0], 1)
	if err != nil {
		return nil, false, err
	}
	return []ast.Value{
		ast.Int(t.Year()), ast.Int(t.Month()), ast.Int(t.Day()),
		ast.Int(t.Hour()), ast.Int(t.Minute()), ast.Int(t.Second()),
	}, true, nil
}

func builtinUnpackDate(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
	t, err := datetimeOperand(inputs[0], 1)
	if err != nil {
		return nil, false, err
	}
	return []ast.Value{ast.Int(t.Year()), ast.Int(t.Month()), ast.Int(t.Day())}, true, nil
}

func builtinUnpackTime(_ BuiltinContext, inputs []ast.Value) ([]ast.Value, bool, error) {
	t, err := datetimeOperand(inputs[0], 1)
	if err != nil {
		return nil, false, err
	}
	return []ast.Value{ast.Int(t.Hour()), ast.Int(t.Minute()), ast.Int(t.Second())}, true, nil
}

func init() {
	RegisterBuiltinFunc(declOf("now"), builtinNow)
	RegisterPredicateBuiltin2(declOf("datetime_lt"), datetimeCompare(compareLessThan))
	RegisterPredicateBuiltin2(declOf("datetime_lteq"), datetimeCompare(compareLessThanEq))
	RegisterPredicateBuiltin2(declOf("datetime_gt"), datetimeCompare(compareGreaterThan))
	RegisterPredicateBuiltin2(declOf("datetime_gteq"), datetimeCompare(compareGreaterThanEq))
	RegisterPredicateBuiltin2(declOf("datetime_equal"), datetimeCompare(compareEqual))
	RegisterFunctionalBuiltin2(declOf("datetime_plus"), datetimeArith(1))
	RegisterFunctionalBuiltin2(declOf("datetime_minus"), datetimeArith(-1))
	RegisterFunctionalBuiltin1(declOf("datetime_to_seconds"), builtinDatetimeToSeconds)
	RegisterFunctionalBuiltin1(declOf("extract_time"), builtinExtractTime)
	RegisterFunctionalBuiltin1(declOf("extract_date"), builtinExtractDate)
	RegisterBuiltinFunc(declOf("pack_datetime"), builtinPackDatetime)
	RegisterBuiltinFunc(declOf("pack_date"), builtinPackDate)
	RegisterBuiltinFunc(declOf("pack_time"), builtinPackTime)
	RegisterBuiltinFunc(declOf("unpack_datetime"), builtinUnpackDatetime)
	RegisterBuiltinFunc(declOf("unpack_date"), builtinUnpackDate)
	RegisterBuiltinFunc(declOf("unpack_time"), builtinUnpackTime)
}
