package graph

import (
	"github.com/aimi/goalgraph/internal/goal"
)

// expected returns the status the AND rule assigns to goal i: todo when
// every gating parent is done, blocked otherwise. A canceled parent never
// satisfies the rule. Terminal goals keep their status.
func (g *Graph) expected(i int) goal.Status {
	if g.goals[i].Status.Terminal() {
		return g.goals[i].Status
	}
	for _, p := range g.in[i] {
		if g.goals[p].Status != goal.StatusDone {
			return goal.StatusBlocked
		}
	}
	return goal.StatusTodo
}

// SetStatus overwrites a goal's status in the arena without propagating.
func (g *Graph) SetStatus(id string, status goal.Status) {
	if i, ok := g.index[id]; ok {
		g.goals[i].Status = status
	}
}

// Propagate re-evaluates the seed goals with the AND rule and cascades
// breadth-first to the dependents of every goal whose status changed.
// It updates the arena and returns the changes in the order they were made.
// Terminal and archived goals are never changed.
func Propagate(g *Graph, seeds ...string) []goal.StatusChange {
	queued := make([]bool, len(g.ids))
	var queue []int
	push := func(i int) {
		if !queued[i] {
			queued[i] = true
			queue = append(queue, i)
		}
	}
	for _, id := range seeds {
		if i, ok := g.index[id]; ok {
			push(i)
		}
	}

	var changes []goal.StatusChange
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		queued[i] = false

		gl := &g.goals[i]
		if gl.Archived() || gl.Status.Terminal() {
			continue
		}
		want := g.expected(i)
		if want == gl.Status {
			continue
		}
		changes = append(changes, goal.StatusChange{GoalID: gl.ID, OldStatus: gl.Status, NewStatus: want})
		gl.Status = want
		for _, d := range g.out[i] {
			push(d)
		}
	}
	return changes
}

// Finish moves a goal to a terminal status and cascades to its dependents.
// The first change is the goal's own transition; setting the status it
// already has yields no changes.
func Finish(g *Graph, id string, status goal.Status) []goal.StatusChange {
	gl := g.Goal(id)
	if gl == nil || gl.Status == status {
		return nil
	}
	changes := []goal.StatusChange{{GoalID: id, OldStatus: gl.Status, NewStatus: status}}
	gl.Status = status
	return append(changes, Propagate(g, g.Dependents(id)...)...)
}

// Violations lists non-terminal, non-archived goals whose status disagrees
// with the AND rule. Empty for a consistent graph.
func Violations(g *Graph) []string {
	var bad []string
	for i := range g.goals {
		gl := &g.goals[i]
		if gl.Archived() || gl.Status.Terminal() {
			continue
		}
		if g.expected(i) != gl.Status {
			bad = append(bad, gl.ID)
		}
	}
	return bad
}
