// Copyright 2025 The OPA Authors
// SPDX-License-Identifier: Apache-2.0

// Package levenshtein finds near misses for unknown table and column names.
package levenshtein

import (
	"iter"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ClosestStrings returns the candidates at the smallest edit distance from a
// that does not exceed maxDistance.
func ClosestStrings(maxDistance int, a string, candidates iter.Seq[string]) []string {
	closest := []string{}
	best := maxDistance + 1
	for c := range candidates {
		d := levenshtein.ComputeDistance(a, c)
		switch {
		case d < best:
			closest = []string{c}
			best = d
		case d == best:
			closest = append(closest, c)
		}
	}
	slices.Sort(closest)
	return closest
}

// Suggest returns a " (did you mean ...?)" hint for a, or the empty string
// when no candidate is close. The allowed distance grows with the length of a.
func Suggest(a string, candidates []string) string {
	maxDistance := len(a) / 3
	if maxDistance < 1 {
		maxDistance = 1
	}
	closest := ClosestStrings(maxDistance, a, slices.Values(candidates))
	if len(closest) == 0 {
		return ""
	}
	return " (did you mean " + strings.Join(closest, " or ") + "?)"
}
