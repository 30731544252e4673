// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package util

import "sort"

// T is a concise way to refer to T.
type T interface{}

// Traversal defines a basic interface to perform traversals.
type Traversal interface {

	// Edges should return the neighbours of node "u".
	Edges(u T) []T

	// Visited should return true if node "u" has already been visited in this
	// traversal. If the same traversal is used multiple times, the state that
	// tracks visited nodes should be reset.
	Visited(u T) bool
}

// NewTraversal returns a Traversal over the edges function that visits each
// node at most once.
func NewTraversal(edges func(u T) []T) Traversal {
	return &funcTraversal{edges: edges, visited: map[T]struct{}{}}
}

type funcTraversal struct {
	edges   func(u T) []T
	visited map[T]struct{}
}

func (t *funcTraversal) Edges(u T) []T {
	return t.edges(u)
}

func (t *funcTraversal) Visited(u T) bool {
	if _, ok := t.visited[u]; ok {
		return true
	}
	t.visited[u] = struct{}{}
	return false
}

// Equals should return true if node "u" equals node "v".
type Equals func(u T, v T) bool

// Iter should return true to indicate stop.
type Iter func(u T) bool

// DFS performs a depth first traversal calling f for each node starting from u.
// If f returns true, traversal stops and DFS returns true.
func DFS(t Traversal, f Iter, u T) bool {
	lifo := []T{u}
	for len(lifo) > 0 {
		next := lifo[len(lifo)-1]
		lifo = lifo[:len(lifo)-1]
		if t.Visited(next) {
			continue
		}
		if f(next) {
			return true
		}
		lifo = append(lifo, t.Edges(next)...)
	}
	return false
}

// DFSPath returns a path from node a to node z found by performing
// a depth first traversal. If no path is found, an empty slice is returned.
func DFSPath(t Traversal, eq Equals, a, z T) []T {
	p := dfsRecursive(t, eq, a, z, []T{})
	for i := len(p)/2 - 1; i >= 0; i-- {
		o := len(p) - i - 1
		p[i], p[o] = p[o], p[i]
	}
	return p
}

func dfsRecursive(t Traversal, eq Equals, u, z T, path []T) []T {
	if t.Visited(u) {
		return path
	}
	for _, v := range t.Edges(u) {
		if eq(v, z) {
			path = append(path, z)
			path = append(path, u)
			return path
		}
		if p := dfsRecursive(t, eq, v, z, path); len(p) > 0 {
			path = append(p, u)
			return path
		}
	}
	return path
}

// StronglyConnectedComponents returns the strongly connected components of
// the directed graph described by edges. Components and their members are
// sorted so the result is deterministic.
func StronglyConnectedComponents(edges map[string][]string) [][]string {
	nodes := make([]string, 0, len(edges))
	seen := map[string]struct{}{}
	add := func(n string) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			nodes = append(nodes, n)
		}
	}
	for u, vs := range edges {
		add(u)
		for _, v := range vs {
			add(v)
		}
	}
	sort.Strings(nodes)

	index := map[string]int{}
	low := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var result [][]string
	next := 0

	var strongConnect func(u string)
	strongConnect = func(u string) {
		index[u] = next
		low[u] = next
		next++
		stack = append(stack, u)
		onStack[u] = true

		for _, v := range edges[u] {
			if _, ok := index[v]; !ok {
				strongConnect(v)
				if low[v] < low[u] {
					low[u] = low[v]
				}
			} else if onStack[v] && index[v] < low[u] {
				low[u] = index[v]
			}
		}

		if low[u] == index[u] {
			var component []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == u {
					break
				}
			}
			sort.Strings(component)
			result = append(result, component)
		}
	}

	for _, n := range nodes {
		if _, ok := index[n]; !ok {
			strongConnect(n)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i][0] < result[j][0] })
	return result
}
