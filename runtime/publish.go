// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/datasource"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/theory"
)

// actionTable is the table of the action policy that declares action
// names.
const actionTable = "action"

type publication struct {
	policy string
	table  string
	data   datasource.TableData
}

type execution struct {
	policy string
	action string
	args   datasource.Row
}

// outbox collects the notifications produced while the lock is held. They
// are delivered after the lock is released so that publishers and executors
// may call back into the runtime.
type outbox struct {
	publications []publication
	executions   []execution
}

func (o *outbox) publish(policy, table string, data datasource.TableData) {
	if o != nil {
		o.publications = append(o.publications, publication{policy, table, data})
	}
}

func (o *outbox) execute(policy, action string, args datasource.Row) {
	if o != nil {
		o.executions = append(o.executions, execution{policy, action, args})
	}
}

func (r *Runtime) deliver(ctx context.Context, out outbox) {
	for _, p := range out.publications {
		r.metrics.Counter(metrics.TablesPublished).Incr()
		if r.publisher == nil {
			continue
		}
		if err := r.publisher.Publish(ctx, p.policy, p.table, p.data); err != nil {
			r.logger.WithFields(map[string]interface{}{"policy": p.policy, "table": p.table}).Error("Publish failed: %v.", err)
		}
	}
	for _, e := range out.executions {
		r.metrics.Counter(metrics.ActionsDispatched).Incr()
		if r.executor == nil {
			continue
		}
		if err := r.executor.Execute(ctx, e.policy, e.action, e.args); err != nil {
			r.logger.WithFields(map[string]interface{}{"policy": e.policy, "action": e.action}).Error("Action failed: %v.", err)
		}
	}
}

func subscriptionKey(policy, table string) string {
	return ast.QualifyTable(policy, table)
}

// Subscribe publishes table of policy, or of a data source, to the
// publisher. The current content is published as a snapshot right away;
// every later change is published as a delta.
func (r *Runtime) Subscribe(ctx context.Context, policy, table string) error {
	ctx, span := r.startSpan(ctx, "Subscribe", attribute.String("policy", policy), attribute.String("table", table))

	var out outbox
	r.mtx.Lock()
	err := r.subscribe(ctx, policy, table, &out)
	r.mtx.Unlock()

	r.deliver(ctx, out)
	endSpan(span, err)
	return err
}

func (r *Runtime) subscribe(ctx context.Context, policy, table string, out *outbox) error {
	th, ok := r.lookup(policy)
	if !ok {
		return notFoundError("policy %v does not exist", policy)
	}
	rows, err := selectTable(ctx, th, table)
	if err != nil {
		return err
	}
	r.subs[subscriptionKey(policy, table)] = &subscription{policy: policy, table: table, rows: rows}
	out.publish(policy, table, datasource.NewSnapshot(rows))
	return nil
}

// Unsubscribe stops publishing table of policy.
func (r *Runtime) Unsubscribe(policy, table string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	key := subscriptionKey(policy, table)
	if _, ok := r.subs[key]; !ok {
		return notFoundError("no subscription to %v", key)
	}
	delete(r.subs, key)
	return nil
}

// GetSnapshot returns the current rows of table in policy or in a data
// source.
func (r *Runtime) GetSnapshot(ctx context.Context, policy, table string) ([]datasource.Row, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	th, ok := r.lookup(policy)
	if !ok {
		return nil, notFoundError("policy %v does not exist", policy)
	}
	return selectTable(ctx, th, table)
}

// refreshSubscriptions publishes the changes of the subscribed tables of
// the affected theories.
func (r *Runtime) refreshSubscriptions(ctx context.Context, affected []string, out *outbox) error {
	set := stringSet(affected)
	keys := make([]string, 0, len(r.subs))
	for key, sub := range r.subs {
		if _, ok := set[sub.policy]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		sub := r.subs[key]
		th, ok := r.lookup(sub.policy)
		if !ok {
			continue
		}
		rows, err := selectTable(ctx, th, sub.table)
		if err != nil {
			return err
		}
		added, removed := datasource.Diff(sub.rows, rows)
		sub.rows = rows
		if len(added) > 0 || len(removed) > 0 {
			out.publish(sub.policy, sub.table, datasource.NewDelta(added, removed))
		}
	}
	return nil
}

// declaredActions returns the action names declared by action("name") facts
// in the action policy.
func (r *Runtime) declaredActions(ctx context.Context) ([]string, error) {
	th, ok := r.theories[r.config.ActionPolicy]
	if !ok {
		return nil, nil
	}
	rows, err := selectRows(ctx, th, actionTable, 1)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, row := range rows {
		if s, ok := row[0].(ast.String); ok {
			names = append(names, string(s))
		}
	}
	return names, nil
}

// dispatchActions hands the atoms of action tables that became true in the
// affected policies to the executor. Atoms that are no longer true are
// forgotten, so they are dispatched again when they become true again. When
// the action policy itself is affected every policy is checked.
func (r *Runtime) dispatchActions(ctx context.Context, affected []string, out *outbox) error {
	actions, err := r.declaredActions(ctx)
	if err != nil {
		return err
	}

	candidates := affected
	if _, ok := stringSet(affected)[r.config.ActionPolicy]; ok {
		candidates = make([]string, 0, len(r.theories))
		for name := range r.theories {
			candidates = append(candidates, name)
		}
		sort.Strings(candidates)
	}

	for _, name := range candidates {
		th, ok := r.theories[name]
		if !ok || name == r.config.ActionPolicy {
			continue
		}
		switch th.Kind() {
		case theory.ActionKind, theory.DatabaseKind:
			continue
		}

		declared := stringSet(actions)
		for key := range r.dispatched {
			if module, action := ast.SplitTable(key); module == name {
				if _, ok := declared[action]; !ok {
					delete(r.dispatched, key)
				}
			}
		}

		for _, action := range actions {
			rows, err := selectTable(ctx, th, action)
			if err != nil {
				return err
			}
			key := ast.QualifyTable(name, action)
			prev := r.dispatched[key]
			next := make(map[string]datasource.Row, len(rows))
			for _, row := range rows {
				k := row.Key()
				next[k] = row
				if _, ok := prev[k]; !ok {
					out.execute(name, action, row)
				}
			}
			if len(next) == 0 {
				delete(r.dispatched, key)
			} else {
				r.dispatched[key] = next
			}
		}
	}
	return nil
}

func stringSet(xs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		set[x] = struct{}{}
	}
	return set
}
