package ops

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/graph"
)

// Reasons a duplicate's edge is not carried over to the primary.
const (
	DropBetweenMerged = "between_merged_goals"
	DropDuplicate     = "duplicate_edge"
	DropRedundant     = "redundant_transitive_edge"
)

// MergeInput contains parameters for the Merge operation.
type MergeInput struct {
	PrimaryID   string `json:"primary_goal_id" validate:"required"`
	DuplicateID string `json:"duplicate_goal_id" validate:"required"`
}

// DroppedEdge is an edge of the duplicate that was not rewired.
type DroppedEdge struct {
	ParentID    string              `json:"parent_goal_id"`
	DependentID string              `json:"dependent_goal_id"`
	Type        goal.DependencyType `json:"dependency_type"`
	Reason      string              `json:"reason"`
}

// MergeOutput contains the result of the Merge operation.
type MergeOutput struct {
	Primary     goal.Goal `json:"primary"`
	DuplicateID string    `json:"duplicate_goal_id"`

	// AlreadyMerged is true when the duplicate had been merged into the
	// primary before; nothing changed.
	AlreadyMerged bool `json:"already_merged"`

	Rewired []goal.Dependency `json:"rewired"`
	Dropped []DroppedEdge     `json:"dropped"`

	// Superseded lists primary edges removed because a rewired edge made
	// them implied.
	Superseded []goal.Dependency   `json:"superseded"`
	Changes    []goal.StatusChange `json:"status_changes"`

	// EmbeddingPending is true when consolidating the summary or embedding
	// it failed. The structural merge stands; the consolidation stays
	// recorded and is retried by the refresh workers and the reindex sweep.
	EmbeddingPending bool `json:"embedding_pending"`
}

// Merge folds duplicate into primary. In one unit of work it moves the
// duplicate's edges onto the primary, validating each against the evolving
// graph, then cancels and archives the duplicate. A rewired edge that would
// close a cycle aborts the merge with nothing changed. The duplicate's text
// is recorded on the primary in the same unit of work; after commit, and
// outside the lock, the summaries are consolidated and the primary
// re-embedded. Merging a duplicate into the same primary again is a no-op.
func (e *Engine) Merge(ctx context.Context, input MergeInput) (*MergeOutput, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.PrimaryID == input.DuplicateID {
		return nil, errors.NewInvalidRequest("cannot merge a goal into itself")
	}
	userID, err := e.sameOwner(ctx, input.PrimaryID, input.DuplicateID)
	if err != nil {
		return nil, err
	}

	out := &MergeOutput{
		DuplicateID: input.DuplicateID,
		Rewired:     []goal.Dependency{},
		Dropped:     []DroppedEdge{},
		Superseded:  []goal.Dependency{},
	}

	u, err := e.mutate(ctx, "merge", userID, func(ctx context.Context, u *unitOfWork) error {
		// Reset state left over from a retried attempt.
		out.Rewired, out.Dropped, out.Superseded = out.Rewired[:0], out.Dropped[:0], out.Superseded[:0]
		out.AlreadyMerged = false

		dup := u.graph.Goal(input.DuplicateID)
		if dup.Archived() {
			if dup.MergedInto() == input.PrimaryID {
				out.AlreadyMerged = true
				return nil
			}
			return errors.NewArchivedGoal(dup.ID, dup.MergedInto())
		}
		if err := graph.CheckLive(u.graph, input.PrimaryID); err != nil {
			return err
		}
		if err := e.mergeEdges(ctx, u, input.PrimaryID, input.DuplicateID, out); err != nil {
			return err
		}
		return recordMergedText(ctx, u, input.PrimaryID, dup)
	})
	if err != nil {
		return nil, err
	}

	out.Changes = nonNil(u.changes)
	if !out.AlreadyMerged {
		e.log.Info("goals merged",
			zap.String("user_id", userID),
			zap.String("goal_id", input.PrimaryID),
			zap.String("duplicate_id", input.DuplicateID),
			zap.Int("rewired", len(out.Rewired)),
			zap.Int("dropped", len(out.Dropped)))

		if e.embedder != nil {
			if _, err := e.RefreshEmbedding(ctx, input.PrimaryID); err != nil {
				e.log.Warn("merge embedding refresh deferred", zap.String("goal_id", input.PrimaryID), zap.Error(err))
				out.EmbeddingPending = true
				e.scheduleRefresh(input.PrimaryID)
			}
		}
	}

	primary, err := db.GetGoal(ctx, e.db, input.PrimaryID)
	if err != nil {
		return nil, err
	}
	out.Primary = *primary
	return out, nil
}

// mergeEdges rewires every edge of dup onto primary inside u and archives dup.
func (e *Engine) mergeEdges(ctx context.Context, u *unitOfWork, primaryID, dupID string, out *MergeOutput) error {
	edges, err := db.ListGoalDependencies(ctx, u.tx, dupID)
	if err != nil {
		return err
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	// Detach the duplicate first so validation sees the graph without it.
	seeds := []string{primaryID}
	for _, d := range edges {
		if err := db.DeleteDependencyByID(ctx, u.tx, d.ID); err != nil {
			return err
		}
		u.graph.RemoveEdge(d.ParentID, d.DependentID)
		if d.ParentID == dupID {
			seeds = append(seeds, d.DependentID)
		}
	}

	for _, d := range edges {
		parent, dependent := d.ParentID, d.DependentID
		if parent == dupID {
			parent = primaryID
		}
		if dependent == dupID {
			dependent = primaryID
		}
		dropped := DroppedEdge{ParentID: parent, DependentID: dependent, Type: d.Type}
		if parent == dependent {
			dropped.Reason = DropBetweenMerged
			out.Dropped = append(out.Dropped, dropped)
			continue
		}

		before := len(out.Superseded)
		accepted, err := e.rewire(ctx, u, parent, dependent, d.Type, out)
		if err != nil {
			return err
		}
		// A goal that lost a superseded parent edge is re-evaluated too.
		for _, s := range out.Superseded[before:] {
			seeds = append(seeds, s.DependentID)
		}
		if !accepted {
			if _, exists := u.graph.Edge(parent, dependent); exists {
				dropped.Reason = DropDuplicate
			} else {
				dropped.Reason = DropRedundant
			}
			out.Dropped = append(out.Dropped, dropped)
			continue
		}

		id, err := generateULID()
		if err != nil {
			return errors.NewInternal(err)
		}
		nd := goal.Dependency{
			ID:          id,
			ParentID:    parent,
			DependentID: dependent,
			Type:        d.Type,
			Strength:    d.Strength,
			Notes:       d.Notes,
			CreatedAt:   u.now,
		}
		if err := db.InsertDependency(ctx, u.tx, &nd); err != nil {
			return err
		}
		u.graph.AddEdge(parent, dependent, d.Type)
		out.Rewired = append(out.Rewired, nd)
		seeds = append(seeds, dependent)
	}

	dup := u.graph.Goal(dupID)
	if dup.Status != goal.StatusCanceled {
		u.changes = append(u.changes, goal.StatusChange{GoalID: dupID, OldStatus: dup.Status, NewStatus: goal.StatusCanceled})
	}
	if err := db.ArchiveGoal(ctx, u.tx, dupID, primaryID, u.now); err != nil {
		return err
	}
	dup.Status = goal.StatusCanceled
	dup.ArchivedAt = &u.now
	dup.MergedIntoID = &primaryID
	if _, err := db.DeactivateEmbeddings(ctx, u.tx, dupID); err != nil {
		return err
	}

	return u.propagate(ctx, seeds...)
}

// rewire decides whether parent -> dependent can be carried over. Cycles
// abort the merge. Edges implied by existing paths, or already present, are
// dropped. Existing edges the new one would make implied are removed and
// reported, so the result stays transitively reduced.
func (e *Engine) rewire(ctx context.Context, u *unitOfWork, parent, dependent string, typ goal.DependencyType, out *MergeOutput) (bool, error) {
	for {
		err := graph.Validate(u.graph, parent, dependent, typ)
		if err == nil {
			return true, nil
		}
		gerr, ok := errors.As(err)
		if !ok {
			return false, err
		}
		switch gerr.Code {
		case errors.ErrDuplicateEdge:
			return false, nil
		case errors.ErrRedundantEdge:
			pair, ok := gerr.Details["supersedes"].([]string)
			if !ok {
				return false, nil
			}
			removed, err := db.DeleteDependency(ctx, u.tx, pair[0], pair[1])
			if err != nil {
				return false, err
			}
			u.graph.RemoveEdge(pair[0], pair[1])
			out.Superseded = append(out.Superseded, *removed)
		default:
			return false, err
		}
	}
}

// recordMergedText appends the duplicate's text, and anything merged into
// the duplicate earlier, to the primary's pending consolidation.
func recordMergedText(ctx context.Context, u *unitOfWork, primaryID string, dup *goal.Goal) error {
	text := goal.SummaryText(dup)
	prior, _, err := db.GetMergedSummary(ctx, u.tx, dup.ID)
	if err != nil {
		return err
	}
	if prior != "" {
		text += "\n\n" + prior
	}
	return db.AppendMergedSummary(ctx, u.tx, primaryID, text, u.now)
}
