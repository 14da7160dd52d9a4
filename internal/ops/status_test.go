package ops

import (
	"context"
	"testing"

	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
)

func TestSetTerminalStatus_Cascade(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustCreate(t, e, "A")
	b := mustCreate(t, e, "B")
	c := mustCreate(t, e, "C")
	d := mustCreate(t, e, "D")
	// a -> b -> d and c -> d: d waits for both.
	mustDepend(t, e, a.ID, b.ID)
	mustDepend(t, e, b.ID, d.ID)
	mustDepend(t, e, c.ID, d.ID)

	out, err := e.SetTerminalStatus(ctx, a.ID, goal.StatusDone)
	if err != nil {
		t.Fatalf("SetTerminalStatus(a) failed: %v", err)
	}
	want := []goal.StatusChange{
		{GoalID: a.ID, OldStatus: goal.StatusTodo, NewStatus: goal.StatusDone},
		{GoalID: b.ID, OldStatus: goal.StatusBlocked, NewStatus: goal.StatusTodo},
	}
	if len(out.Changes) != len(want) {
		t.Fatalf("Changes = %v, want %v", out.Changes, want)
	}
	for i := range want {
		if out.Changes[i] != want[i] {
			t.Errorf("Changes[%d] = %v, want %v", i, out.Changes[i], want[i])
		}
	}

	if _, err := e.SetTerminalStatus(ctx, b.ID, goal.StatusDone); err != nil {
		t.Fatal(err)
	}
	if got := statusOf(t, e, d.ID); got != goal.StatusBlocked {
		t.Errorf("D = %s, want blocked until C is done", got)
	}
	out, err = e.SetTerminalStatus(ctx, c.ID, goal.StatusDone)
	if err != nil {
		t.Fatal(err)
	}
	if got := statusOf(t, e, d.ID); got != goal.StatusTodo {
		t.Errorf("D = %s, want todo", got)
	}
	if len(out.Changes) != 2 {
		t.Errorf("Changes = %v, want C done and D todo", out.Changes)
	}

	// Same status again changes nothing.
	out, err = e.SetTerminalStatus(ctx, c.ID, goal.StatusDone)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Changes) != 0 {
		t.Errorf("repeat Changes = %v, want none", out.Changes)
	}
}

func TestSetTerminalStatus_CanceledParentKeepsBlocked(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustCreate(t, e, "A")
	b := mustCreate(t, e, "B")
	mustDepend(t, e, a.ID, b.ID)

	out, err := e.SetTerminalStatus(ctx, a.ID, goal.StatusCanceled)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != goal.StatusCanceled || len(out.Changes) != 1 {
		t.Errorf("out = %+v, want only A canceled", out)
	}
	if got := statusOf(t, e, b.ID); got != goal.StatusBlocked {
		t.Errorf("B = %s, want blocked", got)
	}

	// done overrides canceled; manual terminal moves are always allowed.
	if _, err := e.SetTerminalStatus(ctx, a.ID, goal.StatusDone); err != nil {
		t.Fatal(err)
	}
	if got := statusOf(t, e, b.ID); got != goal.StatusTodo {
		t.Errorf("B = %s, want todo", got)
	}
}

func TestSetTerminalStatus_Invalid(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustCreate(t, e, "A")

	_, err := e.SetTerminalStatus(ctx, a.ID, goal.StatusTodo)
	wantCode(t, err, errors.ErrInvalidRequest)

	_, err = e.SetTerminalStatus(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", goal.StatusDone)
	wantCode(t, err, errors.ErrUnknownGoal)
}

func TestSetStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	a := mustCreate(t, e, "A")
	b := mustCreate(t, e, "B")
	mustDepend(t, e, a.ID, b.ID)

	// A blocked goal asked to become todo stays what the rule says.
	out, err := e.SetStatus(ctx, b.ID, goal.StatusTodo)
	if err != nil {
		t.Fatalf("SetStatus(todo) failed: %v", err)
	}
	if out.Status != goal.StatusBlocked || len(out.Changes) != 0 {
		t.Errorf("SetStatus(todo) = %+v, want blocked with no changes", out)
	}

	// A goal without parents cannot be forced to blocked.
	out, err = e.SetStatus(ctx, a.ID, goal.StatusBlocked)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != goal.StatusTodo {
		t.Errorf("SetStatus(blocked) = %s, want todo", out.Status)
	}

	out, err = e.SetStatus(ctx, a.ID, goal.StatusDone)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != goal.StatusDone || len(out.Changes) != 2 {
		t.Errorf("SetStatus(done) = %+v, want A done and B todo", out)
	}

	_, err = e.SetStatus(ctx, a.ID, goal.StatusTodo)
	wantCode(t, err, errors.ErrInvalidRequest)

	_, err = e.SetStatus(ctx, a.ID, goal.Status("paused"))
	wantCode(t, err, errors.ErrInvalidRequest)
}

func TestResolveAndCriticalPath(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	create := func(title string, days int) *goal.Goal {
		g, err := e.CreateGoal(ctx, CreateGoalInput{UserID: testUser, ChatID: testChat, Title: title, EstimatedDurationDays: intPtr(days)})
		if err != nil {
			t.Fatal(err)
		}
		return g
	}
	basics := create("Basics", 10)
	syntax := create("Syntax", 3)
	project := create("Project", 20)
	deploy := create("Deploy", 2)
	mustDepend(t, e, basics.ID, project.ID)
	mustDepend(t, e, syntax.ID, project.ID)
	mustDepend(t, e, project.ID, deploy.ID)

	prereqs, err := e.ResolvePrerequisites(ctx, deploy.ID)
	if err != nil {
		t.Fatalf("ResolvePrerequisites failed: %v", err)
	}
	if len(prereqs) != 3 || prereqs[0].Goal.ID != project.ID || prereqs[0].Depth != 1 {
		t.Fatalf("prerequisites = %v, want project first", prereqs)
	}
	for _, p := range prereqs[1:] {
		if p.Depth != 2 {
			t.Errorf("%s depth = %d, want 2", p.Goal.Title, p.Depth)
		}
	}

	impact, err := e.ResolveImpact(ctx, basics.ID)
	if err != nil {
		t.Fatalf("ResolveImpact failed: %v", err)
	}
	if len(impact) != 2 || impact[0].Goal.ID != project.ID || impact[1].Goal.ID != deploy.ID {
		t.Errorf("impact = %v, want [project deploy]", impact)
	}

	none, err := e.ResolvePrerequisites(ctx, basics.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("prerequisites of a root = %v, want empty", none)
	}

	cp, err := e.CriticalPath(ctx, testUser)
	if err != nil {
		t.Fatalf("CriticalPath failed: %v", err)
	}
	if cp.TotalDurationDays != 32 || len(cp.Goals) != 3 || cp.Goals[0].ID != basics.ID || cp.Goals[2].ID != deploy.ID {
		t.Errorf("CriticalPath = %d days %v, want 32 days basics -> project -> deploy", cp.TotalDurationDays, cp.Goals)
	}

	// Finished goals drop out of the critical path.
	if _, err := e.SetTerminalStatus(ctx, basics.ID, goal.StatusDone); err != nil {
		t.Fatal(err)
	}
	cp, err = e.CriticalPath(ctx, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if cp.TotalDurationDays != 25 || cp.Goals[0].ID != syntax.ID {
		t.Errorf("CriticalPath after basics done = %d days starting %s, want 25 from syntax", cp.TotalDurationDays, cp.Goals[0].Title)
	}

	_, err = e.ResolveImpact(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	wantCode(t, err, errors.ErrUnknownGoal)
}
