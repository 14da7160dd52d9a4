package graph

import (
	"sort"

	"github.com/aimi/goalgraph/internal/goal"
)

// Reach is a goal found by a traversal and its distance from the start,
// measured as the longest requires path between them.
type Reach struct {
	ID    string `json:"goal_id"`
	Depth int    `json:"depth"`
}

// Prerequisites returns every goal id must wait for: its requires-ancestors,
// nearest first. Ordering by longest-path depth makes the list a reverse
// topological order; ties go to higher priority, then id.
func Prerequisites(g *Graph, id string) []Reach {
	return g.layered(id, g.in, g.out)
}

// Impact returns every goal that transitively waits for id: its
// requires-descendants, ordered like Prerequisites.
func Impact(g *Graph, id string) []Reach {
	return g.layered(id, g.out, g.in)
}

// layered walks forward from start along fwd and assigns each reached node
// its longest distance. back is the reverse of fwd.
func (g *Graph) layered(id string, fwd, back [][]int) []Reach {
	start, ok := g.index[id]
	if !ok {
		return nil
	}
	order, _ := bfs(fwd, start)
	if len(order) == 0 {
		return nil
	}

	inSet := make(map[int]bool, len(order)+1)
	inSet[start] = true
	for _, n := range order {
		inSet[n] = true
	}

	// pending[n] counts edges into n from inside the set not yet relaxed.
	pending := make(map[int]int, len(order))
	for _, n := range order {
		for _, m := range back[n] {
			if inSet[m] {
				pending[n]++
			}
		}
	}

	depth := map[int]int{start: 0}
	queue := []int{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range fwd[n] {
			if depth[n]+1 > depth[m] {
				depth[m] = depth[n] + 1
			}
			pending[m]--
			if pending[m] == 0 {
				queue = append(queue, m)
			}
		}
	}

	out := make([]Reach, 0, len(order))
	for _, n := range order {
		out = append(out, Reach{ID: g.ids[n], Depth: depth[n]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		pi, pj := g.Goal(out[i].ID).Priority, g.Goal(out[j].ID).Priority
		if pi != pj {
			return pi > pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CriticalPathResult is the heaviest chain of open goals.
type CriticalPathResult struct {
	GoalIDs           []string `json:"goal_ids"`
	TotalDurationDays int      `json:"total_duration_days"`
}

// CriticalPath finds the chain of open (todo or blocked), non-archived goals
// linked by requires edges with the largest summed estimated duration.
// Goals without an estimate weigh zero. Ties prefer the longer chain, then
// the lexically smaller end goal.
func CriticalPath(g *Graph) CriticalPathResult {
	open := make([]bool, len(g.ids))
	indeg := make([]int, len(g.ids))
	for i := range g.goals {
		open[i] = Open(&g.goals[i])
	}
	for i := range g.goals {
		if !open[i] {
			continue
		}
		for _, p := range g.in[i] {
			if open[p] {
				indeg[i]++
			}
		}
	}

	// Kahn's algorithm with a sorted ready set keeps the order deterministic.
	var ready []int
	for i := range g.goals {
		if open[i] && indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	best := make([]int, len(g.ids))
	length := make([]int, len(g.ids))
	prev := make([]int, len(g.ids))
	for i := range prev {
		prev[i] = -1
	}
	end := -1
	better := func(a, b int) bool { // is node a a better chain end than node b
		if b < 0 {
			return true
		}
		if best[a] != best[b] {
			return best[a] > best[b]
		}
		if length[a] != length[b] {
			return length[a] > length[b]
		}
		return g.ids[a] < g.ids[b]
	}

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return g.ids[ready[i]] < g.ids[ready[j]] })
		n := ready[0]
		ready = ready[1:]

		best[n] += g.goals[n].Duration()
		length[n]++
		if better(n, end) {
			end = n
		}
		for _, m := range g.out[n] {
			if !open[m] {
				continue
			}
			if prev[m] < 0 || better(n, prev[m]) {
				prev[m] = n
				best[m] = best[n]
				length[m] = length[n]
			}
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}

	if end < 0 {
		return CriticalPathResult{GoalIDs: []string{}}
	}
	var rev []string
	for n := end; n >= 0; n = prev[n] {
		rev = append(rev, g.ids[n])
	}
	ids := make([]string, len(rev))
	for i, id := range rev {
		ids[len(rev)-1-i] = id
	}
	return CriticalPathResult{GoalIDs: ids, TotalDurationDays: best[end]}
}

// TopoOrder returns the requires graph in topological order, or false if it
// contains a cycle.
func TopoOrder(g *Graph) ([]string, bool) {
	indeg := make([]int, len(g.ids))
	for i := range g.in {
		indeg[i] = len(g.in[i])
	}
	var queue []int
	for i, d := range indeg {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, g.ids[n])
		for _, m := range g.out[n] {
			indeg[m]--
			if indeg[m] == 0 {
				queue = append(queue, m)
			}
		}
	}
	return order, len(order) == len(g.ids)
}

// RedundantEdges lists requires edges implied by another path of length >= 2.
// Empty for a transitively reduced graph.
func RedundantEdges(g *Graph) [][2]string {
	var redundant [][2]string
	for p := range g.out {
		for _, d := range g.out[p] {
			// Walk from every other child of p looking for d.
			for _, c := range g.out[p] {
				if c == d {
					continue
				}
				_, reached := bfs(g.out, c)
				if _, ok := reached[d]; ok {
					redundant = append(redundant, [2]string{g.ids[p], g.ids[d]})
					break
				}
			}
		}
	}
	return redundant
}

// Open reports whether a goal still needs work.
func Open(gl *goal.Goal) bool {
	return !gl.Archived() && !gl.Status.Terminal()
}
