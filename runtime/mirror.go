// Copyright 2017 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package runtime

import (
	"context"
	"sort"

	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/openstack-archive/congress-sub001/ast"
	"github.com/openstack-archive/congress-sub001/metrics"
	"github.com/openstack-archive/congress-sub001/theory"
)

// mirror is a qualified table mirrored by a materialized policy.
type mirror struct {
	policy string
	ref    theory.TableRef
}

// mirrorSet maps the policies that mirror one table to the arities they
// use.
type mirrorSet map[string]map[int]struct{}

// mirrorIndex finds the materialized policies that mirror the tables of a
// theory. Keys are qualified table names, so the mirrors of theory x are the
// subtree under "x:".
type mirrorIndex struct {
	trie   *patricia.Trie
	tables map[string][]theory.TableRef
}

func newMirrorIndex() *mirrorIndex {
	return &mirrorIndex{
		trie:   patricia.NewTrie(),
		tables: map[string][]theory.TableRef{},
	}
}

// update replaces the tables mirrored by policy.
func (idx *mirrorIndex) update(policy string, refs []theory.TableRef) {
	idx.remove(policy)
	for _, ref := range refs {
		key := patricia.Prefix(ref.Table)
		set, ok := idx.trie.Get(key).(mirrorSet)
		if !ok {
			set = mirrorSet{}
			idx.trie.Set(key, set)
		}
		if set[policy] == nil {
			set[policy] = map[int]struct{}{}
		}
		set[policy][ref.Arity] = struct{}{}
	}
	if len(refs) > 0 {
		idx.tables[policy] = refs
	}
}

func (idx *mirrorIndex) remove(policy string) {
	for _, ref := range idx.tables[policy] {
		key := patricia.Prefix(ref.Table)
		if set, ok := idx.trie.Get(key).(mirrorSet); ok {
			delete(set, policy)
			if len(set) == 0 {
				idx.trie.Delete(key)
			}
		}
	}
	delete(idx.tables, policy)
}

// mirrorsOf returns the mirrors of the tables of module.
func (idx *mirrorIndex) mirrorsOf(module string) []mirror {
	var result []mirror
	_ = idx.trie.VisitSubtree(patricia.Prefix(module+ast.ModuleSeparator), func(prefix patricia.Prefix, item patricia.Item) error {
		for policy, arities := range item.(mirrorSet) {
			for arity := range arities {
				result = append(result, mirror{policy: policy, ref: theory.TableRef{Table: string(prefix), Arity: arity}})
			}
		}
		return nil
	})
	return result
}

// syncMirrors brings the mirrors of the tables of the affected theories up to
// date. Policies listed in rules had their rules changed: their index entries
// are rebuilt and mirrors no longer referenced are emptied. Syncing a mirror
// changes the materialized policy that holds it, so syncing repeats until
// nothing changes.
func (r *Runtime) syncMirrors(ctx context.Context, affected, rules []string) error {
	seen := map[mirror]struct{}{}
	var pending []mirror
	add := func(ms ...mirror) {
		for _, m := range ms {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				pending = append(pending, m)
			}
		}
	}

	for _, name := range rules {
		m, ok := r.theories[name].(*theory.Materialized)
		if !ok {
			continue
		}
		refs := m.MirroredTables()
		r.mirrors.update(name, refs)
		if _, err := dropStaleMirrors(m, refs); err != nil {
			return err
		}
		for _, ref := range refs {
			add(mirror{policy: name, ref: ref})
		}
	}

	for _, name := range affected {
		add(r.mirrors.mirrorsOf(name)...)
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].policy != pending[j].policy {
			return pending[i].policy < pending[j].policy
		}
		if pending[i].ref.Table != pending[j].ref.Table {
			return pending[i].ref.Table < pending[j].ref.Table
		}
		return pending[i].ref.Arity < pending[j].ref.Arity
	})

	for round := 0; len(pending) > 0; round++ {
		changed := false
		for _, p := range pending {
			m, ok := r.theories[p.policy].(*theory.Materialized)
			if !ok {
				continue
			}
			c, err := syncMirror(ctx, m, p.ref, r.lookup)
			if err != nil {
				return err
			}
			if c {
				r.metrics.Counter(metrics.MaterializedChange).Incr()
			}
			changed = changed || c
		}
		if !changed {
			break
		}
		if round > len(r.theories) {
			r.logger.Warn("Mirrors did not settle after %d rounds.", round)
			break
		}
	}
	return nil
}

// syncMirror makes the mirror of ref in m hold the rows of the referenced
// table. A table of a theory that does not exist is empty.
func syncMirror(ctx context.Context, m *theory.Materialized, ref theory.TableRef, lookup func(string) (theory.Theory, bool)) (bool, error) {
	module, table := ast.SplitTable(ref.Table)

	want := map[string]*ast.Literal{}
	if src, ok := lookup(module); ok {
		rows, err := selectRows(ctx, src, table, ref.Arity)
		if err != nil {
			return false, err
		}
		for _, row := range rows {
			lit := row.Literal(ref.Table)
			want[lit.Key()] = lit
		}
	}

	changed := false
	for _, lit := range m.Mirror(ref.Table) {
		if lit.Arity() != ref.Arity {
			continue
		}
		if _, ok := want[lit.Key()]; ok {
			delete(want, lit.Key())
			continue
		}
		if _, err := m.Delete(lit); err != nil {
			return changed, err
		}
		changed = true
	}

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := m.Insert(want[k]); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

// dropStaleMirrors empties the mirrors of m that its rules no longer
// reference.
func dropStaleMirrors(m *theory.Materialized, refs []theory.TableRef) (bool, error) {
	used := map[theory.TableRef]struct{}{}
	for _, ref := range refs {
		used[ref] = struct{}{}
	}
	changed := false
	for _, table := range m.Tables() {
		if module, _ := ast.SplitTable(table); module == "" {
			continue
		}
		for _, lit := range m.Mirror(table) {
			if _, ok := used[theory.TableRef{Table: table, Arity: lit.Arity()}]; ok {
				continue
			}
			if _, err := m.Delete(lit); err != nil {
				return changed, err
			}
			changed = true
		}
	}
	return changed, nil
}
