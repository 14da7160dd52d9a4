package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/graph"
)

// maxImportLine bounds a single JSONL line.
const maxImportLine = 1 << 20

// ImportInput contains parameters for the ImportGraph operation.
type ImportInput struct {
	Path string `json:"path"`

	// UserID receives the goals; empty means the user named in the header.
	UserID string `json:"user_id"`
}

// ImportOutput contains the result of the ImportGraph operation.
type ImportOutput struct {
	Goals        int `json:"goals"`
	Dependencies int `json:"dependencies"`

	// Skipped counts archived goals and the edges that pointed at them.
	Skipped int `json:"skipped"`

	// IDs maps exported goal ids to the ids assigned on import.
	IDs map[string]string `json:"ids,omitempty"`

	Errors []ImportError `json:"errors,omitempty"`
}

// ImportError describes a record rejected before anything was written.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type importedGoal struct {
	line int
	goal goal.Goal
}

type importedDependency struct {
	line int
	dep  goal.Dependency
}

type importFile struct {
	header ExportHeader
	goals  []importedGoal
	deps   []importedDependency
	errs   []ImportError
}

// ImportGraph loads an export file into a user's graph under fresh ids.
// The import is atomic: any malformed record is reported in Errors and
// nothing is written, and an edge the validator rejects aborts the whole
// import with that rejection. Done and canceled goals keep their status;
// the others are recomputed from their imported parents.
func (e *Engine) ImportGraph(ctx context.Context, input ImportInput) (*ImportOutput, error) {
	path, err := ValidatePath(input.Path, PathCheckRead, e.cfg)
	if err != nil {
		return nil, err
	}
	file, err := openNoFollow(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parsed, err := parseImportFile(file)
	if err != nil {
		return nil, err
	}

	userID := input.UserID
	if userID == "" {
		userID = parsed.header.UserID
	}
	if err := requireUserID(userID); err != nil {
		return nil, err
	}

	out := &ImportOutput{IDs: make(map[string]string)}
	var live []importedGoal
	for _, rec := range parsed.goals {
		if rec.goal.Archived() {
			out.Skipped++
			continue
		}
		if _, dup := out.IDs[rec.goal.ID]; dup {
			parsed.errs = append(parsed.errs, ImportError{
				Line: rec.line, ID: rec.goal.ID, Code: string(errors.ErrInvalidRequest), Message: "duplicate goal id",
			})
			continue
		}
		g, err := checkImportedGoal(rec.goal, userID)
		if err != nil {
			gerr, _ := errors.As(err)
			parsed.errs = append(parsed.errs, ImportError{
				Line: rec.line, ID: rec.goal.ID, Code: string(gerr.Code), Message: gerr.Message,
			})
			continue
		}
		id, err := generateULID()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out.IDs[rec.goal.ID] = id
		g.ID = id
		live = append(live, importedGoal{line: rec.line, goal: *g})
	}
	if len(parsed.errs) > 0 {
		return &ImportOutput{Errors: parsed.errs}, nil
	}

	var edgeIDs []string
	for range parsed.deps {
		id, err := generateULID()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		edgeIDs = append(edgeIDs, id)
	}

	archived := out.Skipped
	_, err = e.mutate(ctx, "import_graph", userID, func(ctx context.Context, u *unitOfWork) error {
		out.Goals, out.Dependencies = 0, 0
		skipped := archived
		var seeds []string

		for _, rec := range live {
			g := rec.goal
			if g.CreatedAt == 0 {
				g.CreatedAt = u.now
			}
			g.UpdatedAt = u.now
			if err := db.InsertGoal(ctx, u.tx, &g); err != nil {
				return err
			}
			u.graph.AddGoal(g)
			if !g.Status.Terminal() {
				seeds = append(seeds, g.ID)
			}
			out.Goals++
		}

		for i, rec := range parsed.deps {
			parentID, ok1 := out.IDs[rec.dep.ParentID]
			dependentID, ok2 := out.IDs[rec.dep.DependentID]
			if !ok1 || !ok2 {
				skipped++
				continue
			}
			dep := goal.Dependency{
				ID:          edgeIDs[i],
				ParentID:    parentID,
				DependentID: dependentID,
				Type:        rec.dep.Type,
				Strength:    rec.dep.Strength,
				Notes:       cleanOptional(rec.dep.Notes),
				CreatedAt:   u.now,
			}
			if err := graph.Validate(u.graph, dep.ParentID, dep.DependentID, dep.Type); err != nil {
				return atLine(err, rec.line)
			}
			if err := db.InsertDependency(ctx, u.tx, &dep); err != nil {
				return err
			}
			u.graph.AddEdge(dep.ParentID, dep.DependentID, dep.Type)
			out.Dependencies++
		}

		out.Skipped = skipped
		return u.propagate(ctx, seeds...)
	})
	if err != nil {
		return nil, err
	}

	for _, rec := range live {
		e.scheduleRefresh(rec.goal.ID)
	}
	e.log.Info("graph imported",
		zap.String("user_id", userID),
		zap.Int("goals", out.Goals),
		zap.Int("dependencies", out.Dependencies),
		zap.Int("skipped", out.Skipped))
	return out, nil
}

// parseImportFile reads the header and every record. Malformed records are
// collected; a missing or foreign header fails the whole file.
func parseImportFile(r io.Reader) (*importFile, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to read import file: %v", err))
		}
		return nil, errors.NewInvalidRequest("import file is empty")
	}
	parsed := &importFile{}
	if err := json.Unmarshal(scanner.Bytes(), &parsed.header); err != nil || !parsed.header.GoalGraphExport {
		return nil, errors.NewInvalidRequest("not a goalgraph export: missing header line")
	}
	if parsed.header.SchemaVersion != ExportSchemaVersion {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported export schema version %q", parsed.header.SchemaVersion))
	}

	line := 1
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec ExportRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			parsed.errs = append(parsed.errs, ImportError{Line: line, Code: "PARSE_ERROR", Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		switch {
		case rec.Kind == RecordGoal && rec.Goal != nil:
			parsed.goals = append(parsed.goals, importedGoal{line: line, goal: *rec.Goal})
		case rec.Kind == RecordDependency && rec.Dependency != nil:
			parsed.deps = append(parsed.deps, importedDependency{line: line, dep: *rec.Dependency})
		default:
			parsed.errs = append(parsed.errs, ImportError{Line: line, Code: "PARSE_ERROR", Message: fmt.Sprintf("unknown record kind %q", rec.Kind)})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to read import file: %v", err))
	}

	for i, rec := range parsed.deps {
		typ, err := goal.ParseDependencyType(string(rec.dep.Type))
		if err == nil && rec.dep.Strength == 0 {
			parsed.deps[i].dep.Strength = goal.DefaultStrength
		} else if err == nil && (rec.dep.Strength < 1 || rec.dep.Strength > 5) {
			err = fmt.Errorf("strength must be between 1 and 5")
		}
		if err != nil {
			parsed.errs = append(parsed.errs, ImportError{Line: rec.line, ID: rec.dep.ID, Code: string(errors.ErrInvalidRequest), Message: err.Error()})
			continue
		}
		parsed.deps[i].dep.Type = typ
	}
	return parsed, nil
}

// checkImportedGoal applies the CreateGoal field rules to an exported goal
// and returns the goal as it will be stored for userID.
func checkImportedGoal(src goal.Goal, userID string) (*goal.Goal, error) {
	in := CreateGoalInput{
		UserID:                userID,
		ChatID:                src.ChatID,
		Title:                 goal.CleanTitle(src.Title),
		Priority:              src.Priority,
		EstimatedDurationDays: src.EstimatedDurationDays,
		DifficultyLevel:       src.DifficultyLevel,
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	status, err := goal.ParseStatus(string(src.Status))
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	var category *goal.Category
	if src.Category != nil {
		if category, err = optionalCategory(string(*src.Category)); err != nil {
			return nil, err
		}
	}
	var deadline *string
	if src.Deadline != nil {
		if deadline, err = optionalDeadline(*src.Deadline); err != nil {
			return nil, err
		}
	}
	if in.Priority == 0 {
		in.Priority = goal.DefaultPriority
	}
	if !status.Terminal() {
		status = goal.StatusTodo
	}

	return &goal.Goal{
		UserID:                userID,
		ChatID:                in.ChatID,
		Title:                 in.Title,
		Description:           cleanOptional(src.Description),
		Status:                status,
		Category:              category,
		Priority:              in.Priority,
		Deadline:              deadline,
		EstimatedDurationDays: src.EstimatedDurationDays,
		DifficultyLevel:       src.DifficultyLevel,
		Motivation:            cleanOptional(src.Motivation),
		SuccessCriteria:       cleanOptional(src.SuccessCriteria),
		CreatedAt:             src.CreatedAt,
	}, nil
}

// atLine records the export file line on a validator rejection.
func atLine(err error, line int) error {
	gerr, ok := errors.As(err)
	if !ok {
		return err
	}
	if gerr.Details == nil {
		gerr.Details = map[string]any{}
	}
	gerr.Details["line"] = line
	return gerr
}
