// Copyright 2025 The OPA Authors
// SPDX-License-Identifier: Apache-2.0

package levenshtein

import (
	"slices"
	"testing"
)

func TestClosestStrings(t *testing.T) {
	tests := []struct {
		note       string
		input      string
		candidates []string
		max        int
		exp        []string
	}{
		{
			note:       "single match",
			input:      "servrs",
			candidates: []string{"servers", "networks", "ports"},
			max:        2,
			exp:        []string{"servers"},
		},
		{
			note:       "ties sorted",
			input:      "bat",
			candidates: []string{"cat", "bar", "dog"},
			max:        1,
			exp:        []string{"bar", "cat"},
		},
		{
			note:       "too far",
			input:      "xyz",
			candidates: []string{"servers"},
			max:        2,
			exp:        []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			result := ClosestStrings(tc.max, tc.input, slices.Values(tc.candidates))
			if !slices.Equal(result, tc.exp) {
				t.Fatalf("expected %v but got %v", tc.exp, result)
			}
		})
	}
}

func TestSuggest(t *testing.T) {
	if s := Suggest("nme", []string{"name", "id"}); s != " (did you mean name?)" {
		t.Fatalf("unexpected suggestion: %q", s)
	}
	if s := Suggest("q", []string{"status"}); s != "" {
		t.Fatalf("expected no suggestion but got %q", s)
	}
}
