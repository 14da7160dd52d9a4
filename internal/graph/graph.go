// Package graph holds the in-memory view of one user's goal graph and the
// pure algorithms run over it: edge validation, status propagation and
// read-path traversals. Nothing here touches storage.
package graph

import (
	"github.com/aimi/goalgraph/internal/goal"
)

// Graph is an arena of goals addressed by dense index, with adjacency lists
// over requires edges and a pair set over edges of every type.
type Graph struct {
	ids   []string
	index map[string]int
	goals []goal.Goal

	// out[p] lists dependents d with a requires edge p -> d; in[d] lists parents.
	out [][]int
	in  [][]int

	pairs map[[2]int]goal.DependencyType
}

// New builds a graph from a user's goals and the edges between them.
// Edges referring to goals outside the set are ignored.
func New(goals []goal.Goal, deps []goal.Dependency) *Graph {
	g := &Graph{
		ids:   make([]string, len(goals)),
		index: make(map[string]int, len(goals)),
		goals: make([]goal.Goal, len(goals)),
		out:   make([][]int, len(goals)),
		in:    make([][]int, len(goals)),
		pairs: make(map[[2]int]goal.DependencyType, len(deps)),
	}
	for i, gl := range goals {
		g.ids[i] = gl.ID
		g.index[gl.ID] = i
		g.goals[i] = gl
	}
	for _, d := range deps {
		g.AddEdge(d.ParentID, d.DependentID, d.Type)
	}
	return g
}

// Len returns the number of goals.
func (g *Graph) Len() int { return len(g.ids) }

// Has reports whether id is a goal of this graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Goal returns the goal with id, or nil.
// The pointer aliases the arena: status changes made by Propagate are visible through it.
func (g *Graph) Goal(id string) *goal.Goal {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return &g.goals[i]
}

// AddGoal appends a goal to the arena. Adding an existing id is a no-op.
func (g *Graph) AddGoal(gl goal.Goal) {
	if g.Has(gl.ID) {
		return
	}
	g.index[gl.ID] = len(g.ids)
	g.ids = append(g.ids, gl.ID)
	g.goals = append(g.goals, gl)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
}

// AddEdge records parent -> dependent. Only requires edges enter the adjacency lists.
func (g *Graph) AddEdge(parentID, dependentID string, typ goal.DependencyType) {
	p, ok1 := g.index[parentID]
	d, ok2 := g.index[dependentID]
	if !ok1 || !ok2 {
		return
	}
	key := [2]int{p, d}
	if _, exists := g.pairs[key]; exists {
		return
	}
	g.pairs[key] = typ
	if typ.Gates() {
		g.out[p] = append(g.out[p], d)
		g.in[d] = append(g.in[d], p)
	}
}

// RemoveEdge deletes parent -> dependent if present.
func (g *Graph) RemoveEdge(parentID, dependentID string) {
	p, ok1 := g.index[parentID]
	d, ok2 := g.index[dependentID]
	if !ok1 || !ok2 {
		return
	}
	key := [2]int{p, d}
	typ, exists := g.pairs[key]
	if !exists {
		return
	}
	delete(g.pairs, key)
	if typ.Gates() {
		g.out[p] = removeIndex(g.out[p], d)
		g.in[d] = removeIndex(g.in[d], p)
	}
}

// Edge returns the type of parent -> dependent, if the edge exists.
func (g *Graph) Edge(parentID, dependentID string) (goal.DependencyType, bool) {
	p, ok1 := g.index[parentID]
	d, ok2 := g.index[dependentID]
	if !ok1 || !ok2 {
		return "", false
	}
	typ, ok := g.pairs[[2]int{p, d}]
	return typ, ok
}

// Parents returns the requires-parents of id.
func (g *Graph) Parents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.in[i])
}

// Dependents returns the requires-dependents of id.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.out[i])
}

// RequiresEdges returns every requires edge as (parent, dependent) pairs.
func (g *Graph) RequiresEdges() [][2]string {
	var edges [][2]string
	for p, ds := range g.out {
		for _, d := range ds {
			edges = append(edges, [2]string{g.ids[p], g.ids[d]})
		}
	}
	return edges
}

func (g *Graph) idsOf(idx []int) []string {
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = g.ids[n]
	}
	return out
}

// bfs walks adj from start. order lists reached nodes (start excluded) in
// discovery order; prev maps each of them to its BFS predecessor.
func bfs(adj [][]int, start int) (order []int, prev map[int]int) {
	prev = map[int]int{start: -1}
	queue := []int{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range adj[n] {
			if _, seen := prev[m]; seen {
				continue
			}
			prev[m] = n
			order = append(order, m)
			queue = append(queue, m)
		}
	}
	delete(prev, start)
	return order, prev
}

// pathTo rebuilds the BFS path from start to end using prev.
func (g *Graph) pathTo(prev map[int]int, start, end int) []string {
	var rev []int
	for n := end; n != start; n = prev[n] {
		rev = append(rev, n)
	}
	rev = append(rev, start)
	path := make([]string, len(rev))
	for i, n := range rev {
		path[len(rev)-1-i] = g.ids[n]
	}
	return path
}

func removeIndex(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			return append(s[:i:i], s[i+1:]...)
		}
	}
	return s
}
