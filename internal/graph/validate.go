package graph

import (
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
)

// Validate decides whether parent -> dependent of type typ may be added to g.
// It returns nil to accept, or a GraphError whose Details["reason"] names the
// rejected invariant. Checks run in a fixed order: self, endpoints, duplicate
// pair, then for requires edges cycle, redundancy, and superseding.
func Validate(g *Graph, parentID, dependentID string, typ goal.DependencyType) error {
	if parentID == dependentID {
		return errors.NewSelfDependency(parentID)
	}
	for _, id := range []string{parentID, dependentID} {
		if err := CheckLive(g, id); err != nil {
			return err
		}
	}
	if _, exists := g.Edge(parentID, dependentID); exists {
		return errors.NewDuplicateEdge(parentID, dependentID)
	}
	if !typ.Gates() {
		return nil
	}

	p, d := g.index[parentID], g.index[dependentID]

	// A path dependent -> ... -> parent plus the new edge closes a cycle.
	_, fromDependent := bfs(g.out, d)
	if _, ok := fromDependent[p]; ok {
		return errors.NewCycleDetected(parentID, dependentID, g.pathTo(fromDependent, d, p))
	}

	// No direct requires edge exists, so any path parent -> dependent has length >= 2.
	_, fromParent := bfs(g.out, p)
	if _, ok := fromParent[d]; ok {
		return errors.NewRedundantEdge(parentID, dependentID, g.pathTo(fromParent, p, d))
	}

	// An existing edge a -> b with a reaching parent and dependent reaching b
	// would become implied by a -> parent -> dependent -> b.
	if a, b, ok := superseded(g, p, d, fromDependent); ok {
		return errors.NewSupersedesEdge(parentID, dependentID, g.ids[a], g.ids[b])
	}
	return nil
}

// CheckLive returns UNKNOWN_GOAL for ids missing from g or archived by a merge.
func CheckLive(g *Graph, id string) error {
	gl := g.Goal(id)
	if gl == nil {
		return errors.NewUnknownGoal(id)
	}
	if gl.Archived() {
		return errors.NewArchivedGoal(id, gl.MergedInto())
	}
	return nil
}

func superseded(g *Graph, p, d int, fromDependent map[int]int) (int, int, bool) {
	below := func(n int) bool {
		if n == d {
			return true
		}
		_, ok := fromDependent[n]
		return ok
	}

	ancestors, _ := bfs(g.in, p)
	for _, a := range append([]int{p}, ancestors...) {
		for _, b := range g.out[a] {
			if below(b) {
				return a, b, true
			}
		}
	}
	return 0, 0, false
}
