package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
)

// ExportSchemaVersion is written into every export header.
const ExportSchemaVersion = "1"

// Record kinds of an export file.
const (
	RecordGoal       = "goal"
	RecordDependency = "dependency"
)

// ExportHeader is the first line of a graph export file.
type ExportHeader struct {
	GoalGraphExport bool   `json:"_goalgraph_export"`
	SchemaVersion   string `json:"schema_version"`
	UserID          string `json:"user_id"`
	ExportedAt      int64  `json:"exported_at"`
}

// ExportRecord is one goal or dependency line of an export file.
type ExportRecord struct {
	Kind       string           `json:"kind"`
	Goal       *goal.Goal       `json:"goal,omitempty"`
	Dependency *goal.Dependency `json:"dependency,omitempty"`
}

// ExportInput contains parameters for the ExportGraph operation.
type ExportInput struct {
	UserID string `json:"user_id"`

	// Path defaults to ~/.goalgraph/exports/<user>-<timestamp>.jsonl.
	Path string `json:"path"`

	IncludeArchived bool `json:"include_archived"`
}

// ExportOutput contains the result of the ExportGraph operation.
type ExportOutput struct {
	Path         string `json:"path"`
	Goals        int    `json:"goals"`
	Dependencies int    `json:"dependencies"`
	ExportedAt   int64  `json:"exported_at"`
}

// ExportGraph writes a user's goals and edges to a JSONL file: a header
// line, then goals, then dependencies. The file is written to a temp name
// and renamed into place, so an existing file survives a failed export.
func (e *Engine) ExportGraph(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	if err := requireUserID(input.UserID); err != nil {
		return nil, err
	}
	now := e.now()

	target := input.Path
	if target == "" {
		dir, err := DefaultExportsDir()
		if err != nil {
			return nil, err
		}
		target = filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", input.UserID, now.UTC().Format("2006-01-02T150405")))
	}
	path, err := ValidatePath(target, PathCheckWrite, e.cfg)
	if err != nil {
		return nil, err
	}

	goals, deps, err := e.readGraph(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, errors.NewInternal(err)
	}
	tempPath := path + "." + hex.EncodeToString(suffix) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !committed {
			os.Remove(tempPath)
		}
	}()

	out := &ExportOutput{Path: path, ExportedAt: now.Unix()}
	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	if err := enc.Encode(ExportHeader{
		GoalGraphExport: true,
		SchemaVersion:   ExportSchemaVersion,
		UserID:          input.UserID,
		ExportedAt:      out.ExportedAt,
	}); err != nil {
		return nil, errors.NewInternal(err)
	}

	for i := range goals {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternal(err)
		}
		if goals[i].Archived() && !input.IncludeArchived {
			continue
		}
		if err := enc.Encode(ExportRecord{Kind: RecordGoal, Goal: &goals[i]}); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Goals++
	}
	for i := range deps {
		if err := enc.Encode(ExportRecord{Kind: RecordDependency, Dependency: &deps[i]}); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Dependencies++
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before the rename; Windows cannot rename an open file.
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("path must not be a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	committed = true

	e.log.Info("graph exported",
		zap.String("user_id", input.UserID),
		zap.String("path", path),
		zap.Int("goals", out.Goals),
		zap.Int("dependencies", out.Dependencies))
	return out, nil
}

// readGraph reads a user's goals and edges in one transaction.
func (e *Engine) readGraph(ctx context.Context, userID string) ([]goal.Goal, []goal.Dependency, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, db.MapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	goals, err := db.ListUserGoals(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	deps, err := db.ListUserDependencies(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	return goals, deps, nil
}
