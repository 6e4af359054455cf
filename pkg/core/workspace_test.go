package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"polyfit/pkg/common"
	"polyfit/pkg/config"
	"polyfit/pkg/model"
	"polyfit/pkg/pointset"
	"polyfit/pkg/storage"
)

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Storage.Path = dir
	cfg.Storage.CheckpointIntervalMs = 60000 // checkpoints only when asked
	cfg.Storage.BatchSize = 1000
	cfg.Limits.MaxPoints = 8
	return cfg
}

func openTestWorkspace(t *testing.T, dir string) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(testConfig(dir), nil)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	return ws
}

func addAll(t *testing.T, ws *Workspace, name string, points ...common.Point) {
	t.Helper()
	for _, p := range points {
		if _, err := ws.AddPoint(name, p); err != nil {
			t.Fatalf("add %v: %v", p, err)
		}
	}
}

func TestSolveAndEvaluate(t *testing.T) {
	ws := openTestWorkspace(t, t.TempDir())
	t.Cleanup(ws.Close)
	ctx := context.Background()

	addAll(t, ws, DefaultSet, common.Point{X: 0, Y: 1}, common.Point{X: 1, Y: 2}, common.Point{X: 2, Y: 5})

	sol, err := ws.Solve(ctx, DefaultSet)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Degree != 2 || len(sol.Coefficients) != 3 {
		t.Fatalf("expected degree 2 with 3 coefficients, got %+v", sol)
	}
	if sol.Equation != "f(x) = x^2 + 1" {
		t.Fatalf("unexpected equation %q", sol.Equation)
	}

	y, _, err := ws.Evaluate(ctx, DefaultSet, 3)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(y-10) > 1e-9 {
		t.Fatalf("expected f(3)=10, got %v", y)
	}

	lo, hi, ok, err := ws.Bounds(DefaultSet)
	if err != nil || !ok || lo != 0 || hi != 2 {
		t.Fatalf("expected bounds [0, 2], got [%v, %v] ok=%v err=%v", lo, hi, ok, err)
	}
	if _, _, _, err := ws.Bounds("nope"); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("expected ErrSetNotFound, got %v", err)
	}
}

func TestSolveErrors(t *testing.T) {
	ws := openTestWorkspace(t, t.TempDir())
	t.Cleanup(ws.Close)
	ctx := context.Background()

	if _, err := ws.Solve(ctx, "nope"); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("expected set not found, got %v", err)
	}

	addAll(t, ws, "s", common.Point{X: 1, Y: 5})
	_, err := ws.Solve(ctx, "s")
	var ipe *model.InsufficientPointsError
	if !errors.As(err, &ipe) || ipe.Missing() != 1 {
		t.Fatalf("expected need 1 more point, got %v", err)
	}

	addAll(t, ws, "s", common.Point{X: 1, Y: 7})
	if _, err := ws.Solve(ctx, "s"); !errors.Is(err, model.ErrDegenerateInput) {
		t.Fatalf("expected degenerate input, got %v", err)
	}
	dups, err := ws.Duplicates("s")
	if err != nil || len(dups) != 1 {
		t.Fatalf("expected one collision, got %v err=%v", dups, err)
	}

	solves, rejects, _, _ := ws.Stats().Counts()
	if solves != 0 || rejects != 2 {
		t.Fatalf("expected 0 solves and 2 rejects, got %d/%d", solves, rejects)
	}
}

func TestInterpolateStatelessRespectsLimit(t *testing.T) {
	ws := openTestWorkspace(t, t.TempDir())
	t.Cleanup(ws.Close)

	points := make([]common.Point, 9)
	for i := range points {
		points[i] = common.Point{X: float64(i), Y: float64(i * i)}
	}
	if _, err := ws.Interpolate(context.Background(), points); !errors.Is(err, ErrTooManyPoints) {
		t.Fatalf("expected too many points, got %v", err)
	}
	sol, err := ws.Interpolate(context.Background(), points[:3])
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if sol.Equation != "f(x) = x^2" {
		t.Fatalf("unexpected equation %q", sol.Equation)
	}
	if len(ws.Sets()) != 0 {
		t.Fatalf("stateless interpolation must not create sets")
	}
}

func TestAddPointLimit(t *testing.T) {
	ws := openTestWorkspace(t, t.TempDir())
	t.Cleanup(ws.Close)
	for i := 0; i < 8; i++ {
		addAll(t, ws, "s", common.Point{X: float64(i)})
	}
	if _, err := ws.AddPoint("s", common.Point{X: 100}); !errors.Is(err, ErrTooManyPoints) {
		t.Fatalf("expected too many points, got %v", err)
	}
	if _, err := ws.AddPoint("", common.Point{}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
}

func TestRemoveResetDelete(t *testing.T) {
	ws := openTestWorkspace(t, t.TempDir())
	t.Cleanup(ws.Close)

	addAll(t, ws, "s", common.Point{X: 0, Y: 0}, common.Point{X: 1, Y: 1}, common.Point{X: 2, Y: 4})
	p, err := ws.RemovePoint("s", 1)
	if err != nil || p != (common.Point{X: 1, Y: 1}) {
		t.Fatalf("remove: got %v err=%v", p, err)
	}
	if _, err := ws.RemovePoint("s", 5); !errors.Is(err, pointset.ErrIndexOutOfRange) {
		t.Fatalf("expected index out of range, got %v", err)
	}
	points, _ := ws.Points("s")
	if len(points) != 2 || points[1].X != 2 {
		t.Fatalf("unexpected points after remove: %v", points)
	}

	if err := ws.Reset("s"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if points, _ := ws.Points("s"); len(points) != 0 {
		t.Fatalf("expected empty set after reset, got %v", points)
	}

	if err := ws.DeleteSet("s"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ws.Points("s"); !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("expected set gone, got %v", err)
	}
}

func TestImportExport(t *testing.T) {
	ws := openTestWorkspace(t, t.TempDir())
	t.Cleanup(ws.Close)

	n, err := ws.Import("imported", strings.NewReader(`[{"x":0,"y":1},{"x":1,"y":2},{"x":2,"y":5}]`))
	if err != nil || n != 3 {
		t.Fatalf("import: n=%d err=%v", n, err)
	}
	var buf bytes.Buffer
	if err := ws.Export("imported", &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	points, err := pointset.Decode(&buf)
	if err != nil || len(points) != 3 || points[2] != (common.Point{X: 2, Y: 5}) {
		t.Fatalf("round trip: %v err=%v", points, err)
	}

	if _, err := ws.Import("imported", strings.NewReader(`{"x":1}`)); !errors.Is(err, pointset.ErrNotArray) {
		t.Fatalf("expected not-array error, got %v", err)
	}
	if points, _ := ws.Points("imported"); len(points) != 3 {
		t.Fatalf("rejected import must not change the set, got %v", points)
	}
}

func TestCheckpointPersistsAndTruncatesJournal(t *testing.T) {
	dir := t.TempDir()
	ws := openTestWorkspace(t, dir)

	addAll(t, ws, "a", common.Point{X: 0, Y: 1}, common.Point{X: 1, Y: 3})
	if size, _ := ws.journal.Size(); size == 0 {
		t.Fatalf("expected journal entries before checkpoint")
	}
	if err := ws.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if size, _ := ws.journal.Size(); size != 0 {
		t.Fatalf("expected empty journal after checkpoint, got %d bytes", size)
	}
	ws.Close()

	b, err := storage.NewSQLiteBackend(filepath.Join(dir, "polyfit.db"), nil)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer b.Close()
	points, ok, err := b.LoadSet("a")
	if err != nil || !ok || len(points) != 2 {
		t.Fatalf("expected 2 persisted points, got %v ok=%v err=%v", points, ok, err)
	}
}

func TestRecoveryReplaysJournal(t *testing.T) {
	dir := t.TempDir()

	// write journal entries without a checkpoint, as after a crash
	j, err := storage.OpenJournal(filepath.Join(dir, "polyfit.journal"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	for _, e := range []storage.Entry{
		{LSN: 1, Op: storage.OpAdd, Set: "crash", Point: common.Point{X: 0, Y: 1}},
		{LSN: 2, Op: storage.OpAdd, Set: "crash", Point: common.Point{X: 9, Y: 9}},
		{LSN: 3, Op: storage.OpAdd, Set: "crash", Point: common.Point{X: 1, Y: 2}},
		{LSN: 4, Op: storage.OpRemove, Set: "crash", Index: 1},
		{LSN: 5, Op: storage.OpAdd, Set: "crash", Point: common.Point{X: 2, Y: 5}},
		{LSN: 6, Op: storage.OpRemove, Set: "ghost", Index: 0}, // skipped
	} {
		if err := j.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	j.Close()

	ws := openTestWorkspace(t, dir)
	t.Cleanup(ws.Close)

	sol, err := ws.Solve(context.Background(), "crash")
	if err != nil {
		t.Fatalf("solve recovered set: %v", err)
	}
	if sol.Equation != "f(x) = x^2 + 1" {
		t.Fatalf("unexpected recovered equation %q", sol.Equation)
	}
	if size, _ := ws.journal.Size(); size != 0 {
		t.Fatalf("expected startup checkpoint to truncate journal, got %d bytes", size)
	}
}

func TestRecoverySkipsCheckpointedEntries(t *testing.T) {
	dir := t.TempDir()
	quad := []common.Point{{X: 0, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 5}}

	// crash between the backend commit and the journal truncate: the backend
	// already holds LSN 1..3 and the journal still has them, plus one more
	b, err := storage.NewSQLiteBackend(filepath.Join(dir, "polyfit.db"), nil)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	if err := b.Checkpoint(map[string][]common.Point{"s": quad}, nil, 3); err != nil {
		t.Fatalf("seed backend: %v", err)
	}
	b.Close()

	j, err := storage.OpenJournal(filepath.Join(dir, "polyfit.journal"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	for i, p := range quad {
		if err := j.Append(storage.Entry{LSN: uint64(i + 1), Op: storage.OpAdd, Set: "s", Point: p}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Append(storage.Entry{LSN: 4, Op: storage.OpAdd, Set: "s", Point: common.Point{X: 3, Y: 10}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	j.Close()

	ws := openTestWorkspace(t, dir)
	points, err := ws.Points("s")
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if len(points) != 4 || points[3] != (common.Point{X: 3, Y: 10}) {
		t.Fatalf("expected the 3 checkpointed points plus 1 replayed, got %v", points)
	}
	sol, err := ws.Solve(context.Background(), "s")
	if err != nil || sol.Equation != "f(x) = x^2 + 1" {
		t.Fatalf("unexpected solution after recovery: %+v err=%v", sol, err)
	}
	if size, _ := ws.journal.Size(); size != 0 {
		t.Fatalf("expected journal truncated after recovery, got %d bytes", size)
	}

	// new mutations continue after the highest LSN seen, so a second
	// recovery from the same files is stable
	addAll(t, ws, "s", common.Point{X: 4, Y: 17})
	ws.Close()

	ws2 := openTestWorkspace(t, dir)
	t.Cleanup(ws2.Close)
	points, _ = ws2.Points("s")
	if len(points) != 5 {
		t.Fatalf("expected 5 points after second recovery, got %v", points)
	}
}

func TestReplayTwiceIsStable(t *testing.T) {
	dir := t.TempDir()
	ws := openTestWorkspace(t, dir)
	addAll(t, ws, "s", common.Point{X: 0, Y: 1}, common.Point{X: 1, Y: 2}, common.Point{X: 2, Y: 5})

	// keep a copy of the journal, checkpoint, then put the copy back as if
	// the truncate had never happened
	data, err := os.ReadFile(filepath.Join(dir, "polyfit.journal"))
	if err != nil || len(data) == 0 {
		t.Fatalf("read journal: %d bytes err=%v", len(data), err)
	}
	if err := ws.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	ws.Close()
	if err := os.WriteFile(filepath.Join(dir, "polyfit.journal"), data, 0644); err != nil {
		t.Fatalf("restore journal: %v", err)
	}

	ws2 := openTestWorkspace(t, dir)
	t.Cleanup(ws2.Close)
	if points, _ := ws2.Points("s"); len(points) != 3 {
		t.Fatalf("expected 3 points, replay duplicated them: %v", points)
	}
	if _, err := ws2.Solve(context.Background(), "s"); err != nil {
		t.Fatalf("solve after replay: %v", err)
	}
}

func TestMutationsAreJournaledWithLSN(t *testing.T) {
	ws := openTestWorkspace(t, t.TempDir())
	t.Cleanup(ws.Close)

	addAll(t, ws, "s", common.Point{X: 0, Y: 1}, common.Point{X: 1, Y: 2})
	if err := ws.ReplacePoints("s", []common.Point{{X: 5, Y: 5}}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	it, err := ws.journal.NewIterator()
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()
	var ops []byte
	for want := uint64(1); ; want++ {
		e, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if e.LSN != want {
			t.Fatalf("expected lsn %d, got %d", want, e.LSN)
		}
		ops = append(ops, e.Op)
	}
	want := []byte{storage.OpAdd, storage.OpAdd, storage.OpReset, storage.OpAdd}
	if !bytes.Equal(ops, want) {
		t.Fatalf("expected ops %v, got %v", want, ops)
	}
}

func TestReopenKeepsSets(t *testing.T) {
	dir := t.TempDir()
	ws := openTestWorkspace(t, dir)
	addAll(t, ws, "keep", common.Point{X: -1, Y: -1}, common.Point{X: 3, Y: 7})
	addAll(t, ws, "drop", common.Point{X: 1, Y: 1})
	if err := ws.DeleteSet("drop"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ws.Close()

	ws2 := openTestWorkspace(t, dir)
	t.Cleanup(ws2.Close)
	if got := ws2.Sets(); len(got) != 1 || got[0] != "keep" {
		t.Fatalf("expected only set keep after reopen, got %v", got)
	}
	sol, err := ws2.Solve(context.Background(), "keep")
	if err != nil || sol.Equation != "f(x) = 2x + 1" {
		t.Fatalf("unexpected solution after reopen: %+v err=%v", sol, err)
	}
}

func TestClosedWorkspaceRejectsMutations(t *testing.T) {
	ws := openTestWorkspace(t, t.TempDir())
	ws.Close()
	ws.Close()
	if _, err := ws.AddPoint("s", common.Point{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}
