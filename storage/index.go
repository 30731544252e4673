// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package storage

import (
	"fmt"
	"strings"

	"github.com/openstack-archive/congress-sub001/ast"
)

// tupleSet holds the ground literals of one table.
//
//	+--------+------------------------------------+
//	| hash1  | tuple-1 -> tuple-2 -> ...          |  (collision chain)
//	+--------+------------------------------------+
//	| hash2  | ...                                |
//	+--------+------------------------------------+
//
// Tuples are additionally linked in insertion order and indexed per column
// by the hash of the value in that column.
type tupleSet struct {
	table   map[uint64]*tupleNode
	columns []map[uint64]map[*tupleNode]struct{}
	first   *tupleNode
	last    *tupleNode
	size    int
}

type tupleNode struct {
	lit    *ast.Literal
	proofs map[string]Proof
	chain  *tupleNode
	prev   *tupleNode
	next   *tupleNode
}

func newTupleSet() *tupleSet {
	return &tupleSet{
		table: map[uint64]*tupleNode{},
	}
}

func (s *tupleSet) get(lit *ast.Literal) *tupleNode {
	for node := s.table[lit.Hash()]; node != nil; node = node.chain {
		if node.lit.Equal(lit) {
			return node
		}
	}
	return nil
}

// add returns the node for lit, creating it if necessary. The second return
// value is true if the node was created.
func (s *tupleSet) add(lit *ast.Literal) (*tupleNode, bool) {
	if node := s.get(lit); node != nil {
		return node, false
	}

	hash := lit.Hash()
	node := &tupleNode{lit: lit, chain: s.table[hash], prev: s.last}
	s.table[hash] = node

	if s.last != nil {
		s.last.next = node
	} else {
		s.first = node
	}
	s.last = node

	for len(s.columns) < len(lit.Args) {
		s.columns = append(s.columns, map[uint64]map[*tupleNode]struct{}{})
	}
	for i, arg := range lit.Args {
		h := arg.Value.Hash()
		bucket, ok := s.columns[i][h]
		if !ok {
			bucket = map[*tupleNode]struct{}{}
			s.columns[i][h] = bucket
		}
		bucket[node] = struct{}{}
	}

	s.size++
	return node, true
}

func (s *tupleSet) remove(lit *ast.Literal) bool {
	hash := lit.Hash()
	var prev *tupleNode
	for node := s.table[hash]; node != nil; node = node.chain {
		if !node.lit.Equal(lit) {
			prev = node
			continue
		}
		if prev == nil {
			if node.chain == nil {
				delete(s.table, hash)
			} else {
				s.table[hash] = node.chain
			}
		} else {
			prev.chain = node.chain
		}
		s.unlink(node)
		return true
	}
	return false
}

func (s *tupleSet) unlink(node *tupleNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		s.first = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		s.last = node.prev
	}

	for i, arg := range node.lit.Args {
		h := arg.Value.Hash()
		bucket := s.columns[i][h]
		delete(bucket, node)
		if len(bucket) == 0 {
			delete(s.columns[i], h)
		}
	}

	s.size--
}

// candidates returns the tuples that may unify with lit. The ground
// arguments of lit select the smallest column bucket. If lit has no ground
// arguments every tuple is returned in insertion order.
func (s *tupleSet) candidates(lit *ast.Literal) []*tupleNode {
	var best map[*tupleNode]struct{}
	indexed := false

	if lit != nil {
		for i, arg := range lit.Args {
			if !arg.IsGround() {
				continue
			}
			if i >= len(s.columns) {
				return nil
			}
			bucket, ok := s.columns[i][arg.Value.Hash()]
			if !ok {
				return nil
			}
			if !indexed || len(bucket) < len(best) {
				best = bucket
				indexed = true
			}
		}
	}

	if !indexed {
		result := make([]*tupleNode, 0, s.size)
		for node := s.first; node != nil; node = node.next {
			result = append(result, node)
		}
		return result
	}

	result := make([]*tupleNode, 0, len(best))
	for node := range best {
		result = append(result, node)
	}
	return result
}

func (s *tupleSet) literals() []*ast.Literal {
	result := make([]*ast.Literal, 0, s.size)
	for node := s.first; node != nil; node = node.next {
		result = append(result, node.lit)
	}
	return result
}

func (s *tupleSet) String() string {
	buf := make([]string, 0, s.size)
	for node := s.first; node != nil; node = node.next {
		buf = append(buf, fmt.Sprint(node.lit))
	}
	return "{" + strings.Join(buf, ", ") + "}"
}
