// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/format"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/storage/disk"
	"github.com/openstack-archive/congress-sub001/theory"
)

// Dump writes the facts and rules of policy to w in the form the parser
// reads back.
func (r *Runtime) Dump(w io.Writer, policy string) error {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	th, ok := r.theories[policy]
	if !ok {
		return notFoundError("policy %v does not exist", policy)
	}
	return format.Theory(w, th.Formulas())
}

// Load reads statements from rd and inserts them into policy in one update.
func (r *Runtime) Load(ctx context.Context, rd io.Reader, policy string) (Result, error) {
	bs, err := io.ReadAll(rd)
	if err != nil {
		return Result{}, err
	}
	return r.InsertText(ctx, policy, string(bs))
}

// Save writes every policy to the store, replacing what the store held.
// Data sources are not saved.
func (r *Runtime) Save(ctx context.Context) error {
	ctx, span := r.startSpan(ctx, "Save")

	err := r.save(ctx)

	endSpan(span, err)
	return err
}

func (r *Runtime) save(ctx context.Context) error {
	if r.store == nil {
		return invalidError(nil, "no store configured")
	}

	r.mtx.RLock()
	policies := make([]disk.Policy, 0, len(r.theories))
	for name, th := range r.theories {
		var buf bytes.Buffer
		if err := format.Theory(&buf, th.Formulas()); err != nil {
			r.mtx.RUnlock()
			return err
		}
		policies = append(policies, disk.Policy{Name: name, Kind: string(th.Kind()), Text: buf.String()})
	}
	r.mtx.RUnlock()

	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	if err := r.store.ReplacePolicies(ctx, policies); err != nil {
		return err
	}
	r.logger.WithFields(map[string]interface{}{"policies": len(policies)}).Info("Saved policies.")
	return nil
}

// Restore creates the policies held by the store and inserts their
// statements. Every policy is created before any statement is inserted so
// that policies may reference each other. Policies that exist already keep
// their content and receive the stored statements on top. Data sources the
// policies reference must be registered first.
func (r *Runtime) Restore(ctx context.Context) error {
	ctx, span := r.startSpan(ctx, "Restore")

	err := r.restore(ctx)

	endSpan(span, err)
	return err
}

func (r *Runtime) restore(ctx context.Context) error {
	if r.store == nil {
		return invalidError(nil, "no store configured")
	}

	names, err := r.store.ListPolicies(ctx)
	if err != nil {
		return err
	}

	policies := make([]disk.Policy, 0, len(names))
	for _, name := range names {
		p, err := r.store.GetPolicy(ctx, name)
		if err != nil {
			return err
		}
		kind, err := theory.ParseKind(p.Kind)
		if err != nil {
			return fmt.Errorf("policy %v: %w", name, err)
		}
		if err := r.CreatePolicy(ctx, name, kind); err != nil && !IsAlreadyExists(err) {
			return err
		}
		policies = append(policies, p)
	}

	for _, p := range policies {
		result, err := r.InsertText(ctx, p.Name, p.Text)
		if err != nil {
			return fmt.Errorf("policy %v: %w", p.Name, err)
		}
		if !result.Permitted {
			return fmt.Errorf("policy %v: %w", p.Name, result.Errors)
		}
	}

	r.logger.WithFields(map[string]interface{}{"policies": len(policies)}).Info("Restored policies.")
	return nil
}

// Replace makes the statements of text the content of policy in one update:
// statements the policy holds but text lacks are deleted, the others are
// inserted.
func (r *Runtime) Replace(ctx context.Context, policy, text string) (Result, error) {
	ctx, span := r.startSpan(ctx, "Replace", attribute.String("policy", policy))

	var result Result
	var out outbox
	err := metrics.Timed(r.metrics, metrics.PolicyUpdate, func() error {
		r.mtx.Lock()
		defer r.mtx.Unlock()
		var err error
		result, err = r.replace(ctx, policy, text, &out)
		return err
	})

	r.deliver(ctx, out)
	endSpan(span, err)
	return result, err
}

func (r *Runtime) replace(ctx context.Context, policy, text string, out *outbox) (Result, error) {
	th, ok := r.theories[policy]
	if !ok {
		return Result{}, notFoundError("policy %v does not exist", policy)
	}

	fs, err := ast.ParseRules(policy, text, r.schemas)
	if err != nil {
		if errs, ok := err.(ast.Errors); ok {
			return Result{Errors: errs}, nil
		}
		return Result{}, invalidError(err, "policy %v", policy)
	}

	wanted := make(map[string]struct{}, len(fs))
	for _, f := range fs {
		wanted[theory.Canonical(policy, f).Key()] = struct{}{}
	}

	var events []theory.Event
	held := map[string]struct{}{}
	for _, f := range th.Formulas() {
		key := theory.Canonical(policy, f).Key()
		held[key] = struct{}{}
		if _, ok := wanted[key]; !ok {
			events = append(events, theory.NewDelete(policy, f))
		}
	}
	for _, f := range fs {
		if _, ok := held[theory.Canonical(policy, f).Key()]; !ok {
			events = append(events, theory.NewInsert(policy, f))
		}
	}

	if len(events) == 0 {
		return Result{Permitted: true}, nil
	}
	return r.update(ctx, events, out)
}
