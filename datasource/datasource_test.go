// Copyright 2018 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package datasource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"

	"github.com/openstack-archive/congress-sub001/config"
	"github.com/openstack-archive/congress-sub001/metrics"
)

func keys(rows []Row) []string {
	var result []string
	for _, r := range rows {
		result = append(result, r.Key())
	}
	return result
}

func TestDiff(t *testing.T) {
	tests := []struct {
		note    string
		prev    []Row
		next    []Row
		added   []string
		removed []string
	}{
		{
			note:  "from empty",
			next:  []Row{NewRow(1, "a"), NewRow(2, "b")},
			added: []string{`1, "a"`, `2, "b"`},
		},
		{
			note:    "to empty",
			prev:    []Row{NewRow(1)},
			removed: []string{"1"},
		},
		{
			note:    "mixed",
			prev:    []Row{NewRow(1), NewRow(2)},
			next:    []Row{NewRow(2), NewRow(3), NewRow(3)},
			added:   []string{"3"},
			removed: []string{"1"},
		},
		{
			note: "types are distinct",
			prev: []Row{NewRow(1)},
			next: []Row{NewRow(1.0)},
			added: []string{
				"1.0",
			},
			removed: []string{"1"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			added, removed := Diff(tc.prev, tc.next)
			if d := cmp.Diff(tc.added, keys(added)); d != "" {
				t.Fatalf("unexpected added rows (-want, +got):\n%v", d)
			}
			if d := cmp.Diff(tc.removed, keys(removed)); d != "" {
				t.Fatalf("unexpected removed rows (-want, +got):\n%v", d)
			}
		})
	}
}

func TestApply(t *testing.T) {
	prev := []Row{NewRow(1), NewRow(2)}
	result := Apply(prev, NewDelta([]Row{NewRow(3), NewRow(1)}, []Row{NewRow(2)}))
	if d := cmp.Diff([]string{"1", "3"}, keys(result)); d != "" {
		t.Fatalf("unexpected rows (-want, +got):\n%v", d)
	}

	result = Apply(prev, NewSnapshot([]Row{NewRow(9)}))
	if d := cmp.Diff([]string{"9"}, keys(result)); d != "" {
		t.Fatalf("unexpected rows (-want, +got):\n%v", d)
	}
}

func TestRowLiteral(t *testing.T) {
	lit := NewRow("vm1", 2).Literal("nova:servers")
	if lit.String() != `nova:servers("vm1", 2)` {
		t.Fatalf("unexpected literal %v", lit)
	}
	if RowOf(lit).Key() != `"vm1", 2` {
		t.Fatalf("unexpected row %v", RowOf(lit))
	}
}

type fakeDriver struct {
	mtx    sync.Mutex
	tables map[string][]Row
	err    error
	calls  int
}

func (d *fakeDriver) Tables() []string {
	return []string{"servers", "flavors"}
}

func (d *fakeDriver) Poll(context.Context) (map[string][]Row, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.tables, nil
}

type update struct {
	publisher, table string
	data             TableData
}

type fakeReceiver struct {
	mtx     sync.Mutex
	updates []update
}

func (r *fakeReceiver) ReceiveData(_ context.Context, publisher, table string, data TableData) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.updates = append(r.updates, update{publisher, table, data})
	return nil
}

func (r *fakeReceiver) tables() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var result []string
	for _, u := range r.updates {
		result = append(result, u.publisher+":"+u.table)
	}
	return result
}

func TestPollerPoll(t *testing.T) {
	driver := &fakeDriver{tables: map[string][]Row{
		"servers": {NewRow("vm1")},
		"flavors": {NewRow("small", 1)},
	}}
	recv := &fakeReceiver{}
	m := metrics.New()
	p := NewPoller(config.DataSourceConfig{Name: "nova"}, driver, recv).WithMetrics(m)

	if err := p.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if d := cmp.Diff([]string{"nova:flavors", "nova:servers"}, recv.tables()); d != "" {
		t.Fatalf("unexpected updates (-want, +got):\n%v", d)
	}
	if !recv.updates[0].data.Snapshot {
		t.Fatal("Expected snapshot")
	}
	if _, ok := m.All()["histogram_datasource_poll"]; !ok {
		t.Fatalf("Expected poll histogram in %v", m.All())
	}
}

func TestPollerLoop(t *testing.T) {
	defer leaktest.Check(t)()

	driver := &fakeDriver{tables: map[string][]Row{"servers": {NewRow("vm1")}}}
	recv := &fakeReceiver{}
	polled := make(chan struct{}, 1)

	c := config.DataSourceConfig{Name: "nova", Rate: 1000}
	p := NewPoller(c, driver, recv).withPolled(polled)
	p.interval = time.Millisecond

	ctx := context.Background()
	p.Start(ctx)

	for i := 0; i < 3; i++ {
		select {
		case <-polled:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for poll")
		}
	}

	p.Stop(ctx)

	if len(recv.tables()) < 3 {
		t.Fatalf("Expected at least 3 updates but got %v", recv.tables())
	}
}

func TestPollerBackoff(t *testing.T) {
	defer leaktest.Check(t)()

	driver := &fakeDriver{err: errors.New("connection refused")}
	recv := &fakeReceiver{}
	polled := make(chan struct{}, 1)
	m := metrics.New()

	p := NewPoller(config.DataSourceConfig{Name: "nova", Rate: 1000}, driver, recv).
		WithMetrics(m).
		withPolled(polled)

	ctx := context.Background()
	p.Start(ctx)

	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for poll")
	}

	p.Stop(ctx)

	if len(recv.tables()) != 0 {
		t.Fatalf("Expected no updates but got %v", recv.tables())
	}
	if m.Counter(metrics.DataSourceErrors).Value().(uint64) == 0 {
		t.Fatal("Expected error counter to be incremented")
	}
}
