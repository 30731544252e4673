// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package disk

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openstack-archive/congress-sub001/logging/test"
	"github.com/openstack-archive/congress-sub001/storage"
)

func TestPolicies(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)

	names, err := s.ListPolicies(ctx)
	if err != nil {
		t.Fatal(err)
	} else if len(names) > 0 {
		t.Fatalf("unexpected policies found: %v", names)
	}

	if _, err := s.GetPolicy(ctx, "classification"); !storage.IsNotFound(err) {
		t.Fatalf("expected not found error but got: %v", err)
	}
	if err := s.DeletePolicy(ctx, "classification"); !storage.IsNotFound(err) {
		t.Fatalf("expected not found error but got: %v", err)
	}

	exp := Policy{Name: "classification", Kind: "nonrecursive", Text: "p(x) :-\n    q(x)\nq(1)\n"}
	if err := s.UpsertPolicy(ctx, exp); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertPolicy(ctx, Policy{Name: "action", Kind: "action"}); err != nil {
		t.Fatal(err)
	}

	names, err = s.ListPolicies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]string{"action", "classification"}, names); d != "" {
		t.Fatalf("unexpected policies (-want, +got):\n%v", d)
	}

	got, err := s.GetPolicy(ctx, "classification")
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(exp, got); d != "" {
		t.Fatalf("unexpected policy (-want, +got):\n%v", d)
	}

	if err := s.DeletePolicy(ctx, "classification"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetPolicy(ctx, "classification"); !storage.IsNotFound(err) {
		t.Fatalf("expected not found error but got: %v", err)
	}
}

func TestReplacePolicies(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Options{InMemory: true, Logger: test.New()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)

	for _, name := range []string{"a", "b", "c"} {
		if err := s.UpsertPolicy(ctx, Policy{Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.ReplacePolicies(ctx, []Policy{{Name: "b", Kind: "materialized"}, {Name: "d"}}); err != nil {
		t.Fatal(err)
	}

	names, err := s.ListPolicies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]string{"b", "d"}, names); d != "" {
		t.Fatalf("unexpected policies (-want, +got):\n%v", d)
	}
	if p, err := s.GetPolicy(ctx, "b"); err != nil || p.Kind != "materialized" {
		t.Fatalf("unexpected policy %v (err: %v)", p, err)
	}
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(ctx, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertPolicy(ctx, Policy{Name: "p", Kind: "nonrecursive", Text: "q(1)\n"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	s, err = New(ctx, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)

	p, err := s.GetPolicy(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if p.Text != "q(1)\n" {
		t.Fatalf("unexpected policy text %q", p.Text)
	}
}
