// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

// Package depgraph derives reference-dependency structure from the schema
// catalog: the reverse-dependency map, closures of dependents, and the
// post-order sequences that make bulk deletion safe.
package depgraph

import (
	"sort"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/schema"
)

// Graph holds the reverse-dependency map for a catalog snapshot.
//
// reverse[B] is the set of entity types holding a hard reference to B: the
// exact transpose of all reference edges. Soft references never enter the
// graph; they are repaired, not blocking.
type Graph struct {
	reverse map[string]map[string]bool
	forward map[string]map[string]bool
}

// Build constructs the graph from every persistent entity in the catalog,
// including excluded ones, so that references held by framework-owned
// tables are visible to the deletion planner.
func Build(catalog *schema.Catalog) *Graph {
	g := &Graph{
		reverse: make(map[string]map[string]bool),
		forward: make(map[string]map[string]bool),
	}
	for _, e := range catalog.AllEntityTypes() {
		from := e.QualifiedName()
		for _, f := range e.ReferenceFields(false) {
			g.addEdge(from, f.Target)
		}
	}
	return g
}

func (g *Graph) addEdge(from, to string) {
	if g.reverse[to] == nil {
		g.reverse[to] = make(map[string]bool)
	}
	g.reverse[to][from] = true
	if g.forward[from] == nil {
		g.forward[from] = make(map[string]bool)
	}
	g.forward[from][to] = true
}

// Dependents returns the entity types holding a hard reference to the given
// entity, sorted by qualified name. A self-reference does not make an entity
// its own dependent.
func (g *Graph) Dependents(entity string) []string {
	var out []string
	for dep := range g.reverse[entity] {
		if dep == entity {
			continue
		}
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// Closure computes the closure of dependents of the seed set: the smallest
// superset also containing every entity reachable over reverse-dependency
// edges. This is the "if I delete B, anything referencing B must go too"
// expansion.
func (g *Graph) Closure(seed []string) map[string]bool {
	set := make(map[string]bool, len(seed))
	queue := make([]string, 0, len(seed))
	for _, s := range seed {
		if !set[s] {
			set[s] = true
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dep := range g.reverse[cur] {
			if !set[dep] {
				set[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return set
}

// PostOrder returns a deletion-safe ordering of the given set: an entity is
// emitted only after every one of its dependents within the set has been
// emitted, so nothing still alive references it when its turn comes.
//
// Self-edges never block a node. Genuine cycles between distinct entities
// cannot be ordered; members of a cycle are emitted in name order once all
// their acyclic dependents are out, and the planner breaks the cycle by
// nulling the cyclic reference fields before deleting.
func (g *Graph) PostOrder(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		white = 0 // unvisited
		grey  = 1 // on stack
		black = 2 // emitted
	)
	state := make(map[string]int, len(set))
	order := make([]string, 0, len(set))

	var visit func(string)
	visit = func(node string) {
		if state[node] != white {
			return
		}
		state[node] = grey
		deps := make([]string, 0, len(g.reverse[node]))
		for dep := range g.reverse[node] {
			if dep == node || !set[dep] {
				continue
			}
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			if state[dep] == grey {
				// Cycle back-edge; broken by field nulling at execution.
				continue
			}
			visit(dep)
		}
		state[node] = black
		order = append(order, node)
	}

	for _, name := range names {
		visit(name)
	}
	return order
}

// Cycles returns every genuine reference cycle (two or more distinct
// entities) within the given set. Each cycle is reported once, as the sorted
// list of its member entity names.
func (g *Graph) Cycles(set map[string]bool) [][]string {
	// Tarjan strongly connected components over forward edges restricted
	// to the set; SCCs of size >= 2 are genuine cycles. Self-loops alone
	// are by policy not cycles.
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var cycles [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		targets := make([]string, 0, len(g.forward[v]))
		for w := range g.forward[v] {
			if w == v || !set[w] {
				continue
			}
			targets = append(targets, w)
		}
		sort.Strings(targets)
		for _, w := range targets {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indices[w] < lowlink[v] {
				lowlink[v] = indices[w]
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) >= 2 {
				sort.Strings(scc)
				cycles = append(cycles, scc)
			}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, seen := indices[name]; !seen {
			strongconnect(name)
		}
	}
	return cycles
}

// CyclicFields returns, for every cycle within the set, the reference fields
// that close the cycles: fields on a cycle member targeting another member
// of the same cycle. The planner nulls these before deleting.
func CyclicFields(catalog *schema.Catalog, cycles [][]string) map[string][]string {
	members := make(map[string]map[string]bool)
	for i, cycle := range cycles {
		for _, name := range cycle {
			if members[name] == nil {
				members[name] = make(map[string]bool)
			}
			for _, other := range cycles[i] {
				if other != name {
					members[name][other] = true
				}
			}
		}
	}

	out := make(map[string][]string)
	for name, peers := range members {
		e, err := catalog.Lookup(name)
		if err != nil {
			continue
		}
		for _, f := range e.ReferenceFields(false) {
			if peers[f.Target] {
				out[name] = append(out[name], f.Name)
			}
		}
		sort.Strings(out[name])
	}
	return out
}
