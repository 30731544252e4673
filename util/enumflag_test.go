// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

import (
	"testing"
)

func TestEnumFlag(t *testing.T) {
	flag := NewEnumFlag("pretty", []string{"pretty", "json", "raw"})

	if flag.IsSet() || flag.String() != "pretty" {
		t.Fatalf("Expected default value but got %v", flag.String())
	}

	if err := flag.Set("json"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !flag.IsSet() || flag.String() != "json" {
		t.Fatalf("Expected json but got %v", flag.String())
	}

	if err := flag.Set("yaml"); err == nil || err.Error() != "must be one of {pretty,json,raw}" {
		t.Fatalf("Expected enum error but got %v", err)
	}
	if flag.String() != "json" {
		t.Fatalf("Expected value to be unchanged but got %v", flag.String())
	}
}
