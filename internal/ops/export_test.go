package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aimi/goalgraph/internal/errors"
)

// withExportDir allows export and import files in dir.
func withExportDir(dir string) func(*Options) {
	return func(o *Options) { o.Config.AllowedPaths = []string{dir} }
}

// readExport returns the decoded lines of an export file.
func readExport(t *testing.T, path string) (ExportHeader, []ExportRecord) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("export file is empty")
	}
	var header ExportHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	var records []ExportRecord
	for scanner.Scan() {
		var rec ExportRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("record: %v", err)
		}
		records = append(records, rec)
	}
	return header, records
}

func TestExportGraph(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, withExportDir(dir))
	ctx := context.Background()

	a := mustCreate(t, e, "Learn Go")
	b := mustCreate(t, e, "Write a CLI")
	mustDepend(t, e, a.ID, b.ID)
	mustCreateFor(t, e, otherUser, "Not mine")

	path := filepath.Join(dir, "graph.jsonl")
	out, err := e.ExportGraph(ctx, ExportInput{UserID: testUser, Path: path})
	if err != nil {
		t.Fatalf("ExportGraph failed: %v", err)
	}
	if out.Goals != 2 || out.Dependencies != 1 || out.Path != path {
		t.Errorf("output = %+v, want 2 goals and 1 dependency at %s", out, path)
	}

	header, records := readExport(t, path)
	if !header.GoalGraphExport || header.SchemaVersion != ExportSchemaVersion || header.UserID != testUser {
		t.Errorf("header = %+v", header)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].Kind != RecordGoal || records[0].Goal.ID != a.ID {
		t.Errorf("first record = %+v, want goal %s", records[0], a.ID)
	}
	if records[2].Kind != RecordDependency || records[2].Dependency.ParentID != a.ID {
		t.Errorf("last record = %+v, want edge from %s", records[2], a.ID)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestExportGraph_Archived(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, withExportDir(dir))
	ctx := context.Background()

	primary := mustCreate(t, e, "Run a marathon")
	dup := mustCreate(t, e, "Marathon training")
	if _, err := e.Merge(ctx, MergeInput{PrimaryID: primary.ID, DuplicateID: dup.ID}); err != nil {
		t.Fatal(err)
	}

	out, err := e.ExportGraph(ctx, ExportInput{UserID: testUser, Path: filepath.Join(dir, "live.jsonl")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Goals != 1 {
		t.Errorf("goals = %d, want 1 without archived", out.Goals)
	}

	out, err = e.ExportGraph(ctx, ExportInput{UserID: testUser, Path: filepath.Join(dir, "all.jsonl"), IncludeArchived: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Goals != 2 {
		t.Errorf("goals = %d, want 2 with archived", out.Goals)
	}
}

func TestExportGraph_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, withExportDir(dir))
	path := filepath.Join(dir, "graph.jsonl")
	if err := os.WriteFile(path, []byte("old\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, e, "Fresh goal")

	if _, err := e.ExportGraph(context.Background(), ExportInput{UserID: testUser, Path: path}); err != nil {
		t.Fatal(err)
	}
	_, records := readExport(t, path)
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
}

func TestExportGraph_Validation(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, withExportDir(dir))
	ctx := context.Background()

	tests := []struct {
		name  string
		input ExportInput
	}{
		{"bad user", ExportInput{UserID: "bob", Path: filepath.Join(dir, "x.jsonl")}},
		{"wrong extension", ExportInput{UserID: testUser, Path: filepath.Join(dir, "x.json")}},
		{"outside allowed dirs", ExportInput{UserID: testUser, Path: filepath.Join(t.TempDir(), "x.jsonl")}},
		{"traversal", ExportInput{UserID: testUser, Path: dir + "/../x.jsonl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ExportGraph(ctx, tt.input)
			wantCode(t, err, errors.ErrInvalidRequest)
		})
	}
}

func TestExportGraph_EmptyUser(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, withExportDir(dir))

	out, err := e.ExportGraph(context.Background(), ExportInput{UserID: testUser, Path: filepath.Join(dir, "empty.jsonl")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Goals != 0 || out.Dependencies != 0 {
		t.Errorf("output = %+v, want empty", out)
	}
	header, records := readExport(t, out.Path)
	if !header.GoalGraphExport || len(records) != 0 {
		t.Errorf("header = %+v, records = %d", header, len(records))
	}
}
