// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package topdown

import (
	"fmt"
	"io"
	"strings"

	"github.com/gobwas/glob"

	"github.com/openstack-archive/congress-sub001/ast"
)

// Op defines the types of tracing events.
type Op string

const (
	// CallOp is emitted when a literal is about to be resolved.
	CallOp Op = "Call"

	// ExitOp is emitted when a literal has been proven.
	ExitOp Op = "Exit"

	// FailOp is emitted when a literal has no (more) proofs.
	FailOp Op = "Fail"

	// RedoOp is emitted when a literal is re-evaluated to find another proof.
	RedoOp Op = "Redo"

	// SaveOp is emitted when a literal is assumed during abduction.
	SaveOp Op = "Save"

	// NoteOp is emitted for diagnostics such as evaluation errors.
	NoteOp Op = "Note"
)

// Event contains state associated with a tracing event.
type Event struct {
	Op      Op           // Identifies type of event.
	Table   string       // The table of the literal the event is about.
	Node    *ast.Literal // The literal, plugged with the current bindings.
	Depth   int          // Nesting depth of the proof attempt.
	Message string       // Contains message for Note events.
}

func (evt *Event) String() string {
	if evt.Op == NoteOp {
		return fmt.Sprintf("%v %v", evt.Op, evt.Message)
	}
	return fmt.Sprintf("%v %v", evt.Op, evt.Node)
}

// Tracer defines the interface for tracing in the top-down evaluation engine.
type Tracer interface {
	Enabled() bool
	Trace(evt *Event)
}

// BufferTracer implements the Tracer interface by simply buffering all
// events received. Events for tables that match none of its patterns are
// dropped.
type BufferTracer struct {
	events   []*Event
	patterns []glob.Glob
	all      bool
}

// NewBufferTracer returns a new BufferTracer. Patterns are globs over table
// names, for example "nova:*". No patterns or the pattern "*" trace every
// table.
func NewBufferTracer(patterns ...string) (*BufferTracer, error) {
	t := &BufferTracer{all: len(patterns) == 0}
	for _, p := range patterns {
		if p == "*" {
			t.all = true
			continue
		}
		g, err := glob.Compile(p, ':')
		if err != nil {
			return nil, fmt.Errorf("invalid trace pattern %q: %w", p, err)
		}
		t.patterns = append(t.patterns, g)
	}
	return t, nil
}

// Enabled always returns true.
func (b *BufferTracer) Enabled() bool {
	return b != nil
}

// Trace adds the event to the buffer if its table is traced.
func (b *BufferTracer) Trace(evt *Event) {
	if b.matches(evt.Table) {
		b.events = append(b.events, evt)
	}
}

// Events returns the buffered events.
func (b *BufferTracer) Events() []*Event {
	return b.events
}

func (b *BufferTracer) matches(table string) bool {
	if b.all || table == "" {
		return true
	}
	for _, g := range b.patterns {
		if g.Match(table) {
			return true
		}
	}
	return false
}

// PrettyTrace pretty prints the trace to the writer.
func PrettyTrace(w io.Writer, trace []*Event) {
	for _, evt := range trace {
		fmt.Fprintf(w, "%v%v\n", strings.Repeat("| ", evt.Depth), evt)
	}
}
